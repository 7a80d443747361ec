package model

import (
	"encoding/json"
	"strings"
	"time"
)

// DocumentType tags a scanned document with the category that selects its
// extraction template.
type DocumentType string

const (
	DocTypeID             DocumentType = "id"
	DocTypePassport       DocumentType = "passport"
	DocTypeDriversLicense DocumentType = "drivers_license"
	DocTypeInvoice        DocumentType = "invoice"
	DocTypeReceipt        DocumentType = "receipt"
	DocTypeBusinessCard   DocumentType = "business_card"
	DocTypeContract       DocumentType = "contract"
	DocTypeMedical        DocumentType = "medical"
	DocTypeForm           DocumentType = "form"
	DocTypeOther          DocumentType = "other"
)

// AllDocumentTypes returns the closed tag vocabulary in a stable order.
// The classification prompt enumerates exactly this set.
func AllDocumentTypes() []DocumentType {
	return []DocumentType{
		DocTypeID,
		DocTypePassport,
		DocTypeDriversLicense,
		DocTypeInvoice,
		DocTypeReceipt,
		DocTypeBusinessCard,
		DocTypeContract,
		DocTypeMedical,
		DocTypeForm,
		DocTypeOther,
	}
}

// ParseDocumentType normalizes a model-reported tag. Unknown tags resolve
// to DocTypeOther so classification can never fail the request.
func ParseDocumentType(s string) DocumentType {
	tag := DocumentType(strings.ToLower(strings.TrimSpace(s)))
	for _, t := range AllDocumentTypes() {
		if t == tag {
			return tag
		}
	}
	return DocTypeOther
}

// ScanRequest is one uploaded document image.
type ScanRequest struct {
	ImageBase64 string `json:"imageBase64"`
	MimeType    string `json:"mimeType"`
}

// ScanResult is the structured output of one completed scan. Fields holds
// the template-shaped JSON, or the {rawText, error} degradation when the
// model's output did not parse.
type ScanResult struct {
	DocumentType DocumentType    `json:"document_type"`
	Fields       json.RawMessage `json:"fields"`
	// ParseFailed marks the rawText degradation. The scan still counted:
	// the upstream cost was incurred once a response was received.
	ParseFailed bool `json:"parse_failed,omitempty"`
}

// ScanRecord is a persisted scan history row.
type ScanRecord struct {
	ID           string          `json:"id"`
	UserEmail    string          `json:"user_email"`
	DocumentType DocumentType    `json:"document_type"`
	Result       json.RawMessage `json:"result"`
	CreatedAt    time.Time       `json:"created_at"`
}
