// Package pipeline orchestrates the two-stage document analysis flow:
// entitlement gate, type classification, then schema-directed extraction
// with fallback parsing of the model's output.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/docscan-ai/docscan/internal/entitlement"
	"github.com/docscan-ai/docscan/internal/model"
	"github.com/docscan-ai/docscan/internal/store"
	"github.com/docscan-ai/docscan/internal/template"
	"github.com/docscan-ai/docscan/pkg/vision"
)

// Config selects the models for each stage.
type Config struct {
	// ClassifyModel runs Stage 1; a small fast model is enough for a
	// ten-way label.
	ClassifyModel string
	// ExtractModel runs Stage 2.
	ExtractModel string
	// MaxExtractTokens is the Stage 2 output budget. Extraction payloads
	// vary widely in size, so this should be generous.
	MaxExtractTokens int64
}

// Pipeline runs document scans end to end.
type Pipeline struct {
	ledger *entitlement.Ledger
	client vision.Client
	store  store.Store
	cfg    Config
}

// New creates a Pipeline.
func New(ledger *entitlement.Ledger, client vision.Client, st store.Store, cfg Config) *Pipeline {
	if cfg.MaxExtractTokens <= 0 {
		cfg.MaxExtractTokens = 8192
	}
	return &Pipeline{ledger: ledger, client: client, store: st, cfg: cfg}
}

// Analyze performs one scan for the given user.
//
// Request lifecycle: entitlement gate → classify → extract → parse. The
// gate rejects before any model call so a denied request costs nothing.
// Usage is recorded once an extraction response was received, whether or
// not its JSON parsed; a garbled-but-received response still consumed
// upstream tokens.
func (p *Pipeline) Analyze(ctx context.Context, userEmail string, req model.ScanRequest) (*model.ScanResult, error) {
	if req.ImageBase64 == "" || req.MimeType == "" {
		return nil, eris.New("pipeline: image payload and MIME type are required")
	}

	ent, err := p.ledger.GetOrCreate(ctx, userEmail)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load entitlement")
	}

	ent, err = p.ledger.RolloverIfDue(ctx, ent)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: cycle rollover")
	}

	if d := p.ledger.CheckPermission(ent); !d.Allowed {
		zap.L().Info("scan rejected at entitlement gate",
			zap.String("user", userEmail),
			zap.String("plan", string(d.Plan)),
			zap.Int("used", d.Used),
			zap.Int("limit", d.Limit),
		)
		return nil, &LimitError{Plan: d.Plan, Used: d.Used, Limit: d.Limit}
	}

	docType := p.classify(ctx, req)
	tmpl := template.Get(docType)

	resp, err := p.client.CreateMessage(ctx, vision.MessageRequest{
		Model:       p.cfg.ExtractModel,
		MaxTokens:   p.cfg.MaxExtractTokens,
		Temperature: ptr(0.0),
		System:      vision.CachedSystemBlocks(extractionInstruction(tmpl)),
		Messages: []vision.Message{
			{Role: "user", Content: []vision.Block{
				vision.ImageBlock(req.MimeType, req.ImageBase64),
				vision.TextBlock("Analyze this document image and extract all structured data as JSON."),
			}},
		},
	})
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	resp.Usage.LogCost(p.cfg.ExtractModel, "extract")

	fields, parseFailed := parseExtraction(extractText(resp))
	if parseFailed {
		zap.L().Warn("extraction output did not parse, degrading to raw text",
			zap.String("user", userEmail),
			zap.String("document_type", string(docType)),
		)
	}

	// The model responded, so the scan is consumed regardless of parse
	// outcome, and regardless of whether the caller is still connected.
	// The charge and the record run detached from the request context so
	// a disconnect after the model call cannot drop them. A failed
	// increment is logged rather than failing the request: the result
	// exists and the caller already paid for it.
	persistCtx := context.WithoutCancel(ctx)
	if err := p.ledger.RecordUsage(persistCtx, userEmail); err != nil {
		zap.L().Error("failed to record scan usage",
			zap.String("user", userEmail),
			zap.Error(err),
		)
	}

	result := &model.ScanResult{
		DocumentType: docType,
		Fields:       fields,
		ParseFailed:  parseFailed,
	}

	if err := p.store.SaveScan(persistCtx, &model.ScanRecord{
		UserEmail:    userEmail,
		DocumentType: docType,
		Result:       fields,
		CreatedAt:    time.Now().UTC(),
	}); err != nil {
		zap.L().Error("failed to persist scan record",
			zap.String("user", userEmail),
			zap.Error(err),
		)
	}

	return result, nil
}

// extractionInstruction concatenates the template's instruction with a
// literal rendering of its schema and the JSON-only directive.
func extractionInstruction(tmpl template.ExtractionTemplate) string {
	var sb strings.Builder
	sb.WriteString(tmpl.Instruction)
	sb.WriteString("\n\nReturn ONLY valid JSON in this exact structure:\n\n")
	sb.Write(tmpl.Schema)
	sb.WriteString("\n\nOnly return valid JSON. No markdown, no code fences, no extra text.")
	return sb.String()
}

func ptr(f float64) *float64 {
	return &f
}
