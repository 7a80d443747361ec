package pipeline

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/docscan-ai/docscan/internal/model"
	"github.com/docscan-ai/docscan/internal/template"
	"github.com/docscan-ai/docscan/pkg/vision"
)

// classifyMaxTokens keeps Stage 1 cheap: the reply is a single small JSON
// object naming the detected type.
const classifyMaxTokens = 128

// classifySystemPrompt enumerates the closed tag vocabulary so the model
// cannot invent categories.
func classifySystemPrompt() string {
	types := template.ValidTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return "Classify the uploaded document image into exactly one of these types: " +
		strings.Join(names, " | ") +
		`. Respond with a valid JSON object: {"document_type": "<type>"}`
}

// classify runs Stage 1: detect the document type so Stage 2 can pick its
// extraction template. Its output is never surfaced to the caller. Any
// failure, transport or parse, defaults to the generic template rather
// than aborting the request.
func (p *Pipeline) classify(ctx context.Context, req model.ScanRequest) model.DocumentType {
	zero := 0.0
	resp, err := p.client.CreateMessage(ctx, vision.MessageRequest{
		Model:       p.cfg.ClassifyModel,
		MaxTokens:   classifyMaxTokens,
		Temperature: &zero,
		System:      vision.CachedSystemBlocks(classifySystemPrompt()),
		Messages: []vision.Message{
			{Role: "user", Content: []vision.Block{
				vision.ImageBlock(req.MimeType, req.ImageBase64),
				vision.TextBlock("Classify this document image."),
			}},
		},
	})
	if err != nil {
		zap.L().Warn("classify: model call failed, defaulting to other",
			zap.Error(err),
		)
		return model.DocTypeOther
	}
	resp.Usage.LogCost(p.cfg.ClassifyModel, "classify")

	return parseClassification(extractText(resp))
}

// parseClassification reads the detected type out of the model's reply.
// Unparseable replies and unknown tags resolve to other, never an error.
func parseClassification(text string) model.DocumentType {
	text = cleanJSON(text)

	var result struct {
		DocumentType string `json:"document_type"`
	}
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return model.DocTypeOther
	}
	if result.DocumentType == "" {
		return model.DocTypeOther
	}
	return model.ParseDocumentType(result.DocumentType)
}
