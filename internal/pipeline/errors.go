package pipeline

import (
	"fmt"

	"github.com/docscan-ai/docscan/internal/model"
)

// LimitError is returned when the entitlement gate denies a scan. No model
// call has been made when this is returned.
type LimitError struct {
	Plan  model.Plan
	Used  int
	Limit int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("scan limit reached: plan %s at %d/%d", e.Plan, e.Used, e.Limit)
}

// UpstreamError is returned when the extraction call to the model failed at
// the transport level. No usage has been charged.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return "upstream model error: " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
