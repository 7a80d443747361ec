package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/docscan-ai/docscan/internal/entitlement"
	"github.com/docscan-ai/docscan/internal/model"
	"github.com/docscan-ai/docscan/pkg/vision"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) CreateMessage(ctx context.Context, req vision.MessageRequest) (*vision.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*vision.MessageResponse), args.Error(1)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetEntitlement(ctx context.Context, userEmail string) (*model.Entitlement, error) {
	args := m.Called(ctx, userEmail)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Entitlement), args.Error(1)
}

func (m *mockStore) EnsureEntitlement(ctx context.Context, userEmail string) (*model.Entitlement, error) {
	args := m.Called(ctx, userEmail)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Entitlement), args.Error(1)
}

func (m *mockStore) IncrementScansUsed(ctx context.Context, userEmail string) error {
	return m.Called(ctx, userEmail).Error(0)
}

func (m *mockStore) ResetCycleIfElapsed(ctx context.Context, userEmail string, cutoff, now time.Time) (*model.Entitlement, error) {
	args := m.Called(ctx, userEmail, cutoff, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Entitlement), args.Error(1)
}

func (m *mockStore) UpsertPlan(ctx context.Context, userEmail string, plan model.Plan, scansLimit int, cycleStart time.Time) error {
	return m.Called(ctx, userEmail, plan, scansLimit, cycleStart).Error(0)
}

func (m *mockStore) SaveScan(ctx context.Context, rec *model.ScanRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *mockStore) ListScans(ctx context.Context, userEmail string, limit int) ([]model.ScanRecord, error) {
	args := m.Called(ctx, userEmail, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ScanRecord), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockStore) Close() error {
	return m.Called().Error(0)
}

func textResponse(text string) *vision.MessageResponse {
	return &vision.MessageResponse{
		Content: []vision.ContentBlock{{Type: "text", Text: text}},
	}
}

func trialEntitlement(used int) *model.Entitlement {
	return &model.Entitlement{
		UserEmail:  "alice@example.com",
		Plan:       model.PlanTrial,
		ScansUsed:  used,
		ScansLimit: 3,
	}
}

func newTestPipeline(st *mockStore, client *mockClient) *Pipeline {
	return New(entitlement.New(st), client, st, Config{
		ClassifyModel: "classify-model",
		ExtractModel:  "extract-model",
	})
}

func scanRequest() model.ScanRequest {
	return model.ScanRequest{ImageBase64: "aGVsbG8=", MimeType: "image/jpeg"}
}

func isModel(name string) any {
	return mock.MatchedBy(func(req vision.MessageRequest) bool {
		return req.Model == name
	})
}

func TestAnalyze_RejectsEmptyPayload(t *testing.T) {
	p := newTestPipeline(&mockStore{}, &mockClient{})

	_, err := p.Analyze(context.Background(), "alice@example.com", model.ScanRequest{})
	assert.Error(t, err)
}

func TestAnalyze_DeniedBeforeAnyModelCall(t *testing.T) {
	st := &mockStore{}
	client := &mockClient{}
	st.On("EnsureEntitlement", mock.Anything, "alice@example.com").
		Return(trialEntitlement(3), nil).Once()

	p := newTestPipeline(st, client)
	_, err := p.Analyze(context.Background(), "alice@example.com", scanRequest())

	var limitErr *LimitError
	require.True(t, errors.As(err, &limitErr))
	assert.Equal(t, model.PlanTrial, limitErr.Plan)
	assert.Equal(t, 3, limitErr.Used)
	assert.Equal(t, 3, limitErr.Limit)

	client.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
	st.AssertNotCalled(t, "IncrementScansUsed", mock.Anything, mock.Anything)
}

func TestAnalyze_HappyPath(t *testing.T) {
	st := &mockStore{}
	client := &mockClient{}
	st.On("EnsureEntitlement", mock.Anything, "alice@example.com").
		Return(trialEntitlement(0), nil).Once()
	st.On("IncrementScansUsed", mock.Anything, "alice@example.com").Return(nil).Once()
	st.On("SaveScan", mock.Anything, mock.MatchedBy(func(rec *model.ScanRecord) bool {
		return rec.UserEmail == "alice@example.com" && rec.DocumentType == model.DocTypeInvoice
	})).Return(nil).Once()

	client.On("CreateMessage", mock.Anything, isModel("classify-model")).
		Return(textResponse(`{"document_type": "invoice"}`), nil).Once()
	client.On("CreateMessage", mock.Anything, isModel("extract-model")).
		Return(textResponse(`{"invoiceDetails": {"invoiceNumber": "INV-001"}}`), nil).Once()

	p := newTestPipeline(st, client)
	result, err := p.Analyze(context.Background(), "alice@example.com", scanRequest())
	require.NoError(t, err)

	assert.Equal(t, model.DocTypeInvoice, result.DocumentType)
	assert.False(t, result.ParseFailed)
	assert.JSONEq(t, `{"invoiceDetails": {"invoiceNumber": "INV-001"}}`, string(result.Fields))

	st.AssertExpectations(t)
	client.AssertExpectations(t)
}

func TestAnalyze_ClassifyFailureDefaultsToOther(t *testing.T) {
	st := &mockStore{}
	client := &mockClient{}
	st.On("EnsureEntitlement", mock.Anything, "alice@example.com").
		Return(trialEntitlement(0), nil).Once()
	st.On("IncrementScansUsed", mock.Anything, mock.Anything).Return(nil).Once()
	st.On("SaveScan", mock.Anything, mock.Anything).Return(nil).Once()

	client.On("CreateMessage", mock.Anything, isModel("classify-model")).
		Return(nil, eris.New("overloaded")).Once()
	client.On("CreateMessage", mock.Anything, isModel("extract-model")).
		Return(textResponse(`{"rawText": "something"}`), nil).Once()

	p := newTestPipeline(st, client)
	result, err := p.Analyze(context.Background(), "alice@example.com", scanRequest())
	require.NoError(t, err)

	assert.Equal(t, model.DocTypeOther, result.DocumentType)
	client.AssertExpectations(t)
}

func TestAnalyze_ExtractFailureDoesNotCharge(t *testing.T) {
	st := &mockStore{}
	client := &mockClient{}
	st.On("EnsureEntitlement", mock.Anything, "alice@example.com").
		Return(trialEntitlement(0), nil).Once()

	client.On("CreateMessage", mock.Anything, isModel("classify-model")).
		Return(textResponse(`{"document_type": "receipt"}`), nil).Once()
	client.On("CreateMessage", mock.Anything, isModel("extract-model")).
		Return(nil, eris.New("upstream timeout")).Once()

	p := newTestPipeline(st, client)
	_, err := p.Analyze(context.Background(), "alice@example.com", scanRequest())

	var upstreamErr *UpstreamError
	require.True(t, errors.As(err, &upstreamErr))

	st.AssertNotCalled(t, "IncrementScansUsed", mock.Anything, mock.Anything)
	st.AssertNotCalled(t, "SaveScan", mock.Anything, mock.Anything)
}

func TestAnalyze_GarbledExtractionStillCharges(t *testing.T) {
	st := &mockStore{}
	client := &mockClient{}
	st.On("EnsureEntitlement", mock.Anything, "alice@example.com").
		Return(trialEntitlement(0), nil).Once()
	st.On("IncrementScansUsed", mock.Anything, "alice@example.com").Return(nil).Once()
	st.On("SaveScan", mock.Anything, mock.Anything).Return(nil).Once()

	client.On("CreateMessage", mock.Anything, isModel("classify-model")).
		Return(textResponse(`{"document_type": "contract"}`), nil).Once()
	client.On("CreateMessage", mock.Anything, isModel("extract-model")).
		Return(textResponse("I could not read this document, sorry."), nil).Once()

	p := newTestPipeline(st, client)
	result, err := p.Analyze(context.Background(), "alice@example.com", scanRequest())
	require.NoError(t, err)

	assert.True(t, result.ParseFailed)
	assert.Contains(t, string(result.Fields), parseFailedMessage)
	st.AssertExpectations(t)
}

func TestAnalyze_DisconnectAfterExtractionStillCharges(t *testing.T) {
	st := &mockStore{}
	client := &mockClient{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st.On("EnsureEntitlement", mock.Anything, "alice@example.com").
		Return(trialEntitlement(0), nil).Once()

	// The caller hangs up just as the extraction response lands. Both
	// store writes must still run on a live context.
	liveCtx := mock.MatchedBy(func(c context.Context) bool { return c.Err() == nil })
	st.On("IncrementScansUsed", liveCtx, "alice@example.com").Return(nil).Once()
	st.On("SaveScan", liveCtx, mock.Anything).Return(nil).Once()

	client.On("CreateMessage", mock.Anything, isModel("classify-model")).
		Return(textResponse(`{"document_type": "receipt"}`), nil).Once()
	client.On("CreateMessage", mock.Anything, isModel("extract-model")).
		Run(func(mock.Arguments) { cancel() }).
		Return(textResponse(`{"rawText": "ok"}`), nil).Once()

	p := newTestPipeline(st, client)
	result, err := p.Analyze(ctx, "alice@example.com", scanRequest())
	require.NoError(t, err)
	assert.False(t, result.ParseFailed)
	st.AssertExpectations(t)
}

func TestAnalyze_UsageRecordFailureDoesNotFailRequest(t *testing.T) {
	st := &mockStore{}
	client := &mockClient{}
	st.On("EnsureEntitlement", mock.Anything, "alice@example.com").
		Return(trialEntitlement(0), nil).Once()
	st.On("IncrementScansUsed", mock.Anything, "alice@example.com").
		Return(eris.New("connection closed")).Once()
	st.On("SaveScan", mock.Anything, mock.Anything).Return(nil).Once()

	client.On("CreateMessage", mock.Anything, isModel("classify-model")).
		Return(textResponse(`{"document_type": "form"}`), nil).Once()
	client.On("CreateMessage", mock.Anything, isModel("extract-model")).
		Return(textResponse(`{"formFields": []}`), nil).Once()

	p := newTestPipeline(st, client)
	result, err := p.Analyze(context.Background(), "alice@example.com", scanRequest())
	require.NoError(t, err)
	assert.Equal(t, model.DocTypeForm, result.DocumentType)
}

func TestAnalyze_PaidPlanRollsOverAtBoundary(t *testing.T) {
	st := &mockStore{}
	client := &mockClient{}
	anchor := time.Now().UTC().Add(-31 * 24 * time.Hour)
	st.On("EnsureEntitlement", mock.Anything, "alice@example.com").
		Return(&model.Entitlement{
			UserEmail:         "alice@example.com",
			Plan:              model.PlanStarter,
			ScansUsed:         30,
			ScansLimit:        30,
			BillingCycleStart: &anchor,
		}, nil).Once()
	st.On("ResetCycleIfElapsed", mock.Anything, "alice@example.com", mock.AnythingOfType("time.Time"), mock.AnythingOfType("time.Time")).
		Return(&model.Entitlement{
			UserEmail:  "alice@example.com",
			Plan:       model.PlanStarter,
			ScansUsed:  0,
			ScansLimit: 30,
		}, nil).Once()
	st.On("IncrementScansUsed", mock.Anything, "alice@example.com").Return(nil).Once()
	st.On("SaveScan", mock.Anything, mock.Anything).Return(nil).Once()

	client.On("CreateMessage", mock.Anything, isModel("classify-model")).
		Return(textResponse(`{"document_type": "receipt"}`), nil).Once()
	client.On("CreateMessage", mock.Anything, isModel("extract-model")).
		Return(textResponse(`{"rawText": "ok"}`), nil).Once()

	p := newTestPipeline(st, client)
	_, err := p.Analyze(context.Background(), "alice@example.com", scanRequest())
	require.NoError(t, err)
	st.AssertExpectations(t)
}
