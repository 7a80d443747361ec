// Package template maps document types to their extraction templates: a
// type-specific instruction plus the JSON shape the model must return.
// The registry is immutable package-level data, safe for concurrent reads.
package template

import (
	"encoding/json"

	"github.com/docscan-ai/docscan/internal/model"
)

// ExtractionTemplate pairs an instruction with the target JSON shape for
// one document category.
type ExtractionTemplate struct {
	Label       string
	Instruction string
	Schema      json.RawMessage
}

var identityTemplate = ExtractionTemplate{
	Label:       "ID Document",
	Instruction: "You are a document analysis AI specializing in identity documents (national IDs, passports, driver's licenses). Extract every visible field from the document accurately.",
	Schema: json.RawMessage(`{
  "documentType": "",
  "confidenceScore": 0,
  "metadata": {
    "detectedLanguage": "",
    "imageQuality": "low | medium | high"
  },
  "idInfo": {
    "idType": "",
    "idNumber": "",
    "firstName": "",
    "lastName": "",
    "middleName": "",
    "gender": "",
    "birthdate": "",
    "nationality": "",
    "address": "",
    "issuingAuthority": "",
    "issuingCountry": "",
    "issueDate": "",
    "expirationDate": ""
  },
  "rawText": ""
}`),
}

var invoiceTemplate = ExtractionTemplate{
	Label:       "Invoice",
	Instruction: "You are a document analysis AI specializing in invoices. Extract every vendor, client, line-item, and financial field visible in the document.",
	Schema: json.RawMessage(`{
  "documentType": "",
  "confidenceScore": 0,
  "metadata": {
    "detectedLanguage": "",
    "imageQuality": "low | medium | high"
  },
  "vendor": {
    "name": "",
    "address": "",
    "phone": "",
    "email": "",
    "taxId": "",
    "website": ""
  },
  "client": {
    "name": "",
    "address": "",
    "phone": "",
    "email": ""
  },
  "invoiceDetails": {
    "invoiceNumber": "",
    "date": "",
    "dueDate": "",
    "purchaseOrderNumber": "",
    "paymentTerms": "",
    "notes": "",
    "subtotal": null,
    "discount": null,
    "tax": null,
    "shipping": null,
    "total": null,
    "currency": ""
  },
  "items": [
    {
      "description": "",
      "quantity": null,
      "unitPrice": null,
      "total": null
    }
  ],
  "rawText": ""
}`),
}

var receiptTemplate = ExtractionTemplate{
	Label:       "Receipt",
	Instruction: "You are a document analysis AI specializing in receipts. Extract every merchant detail, purchased item, and payment field visible in the document.",
	Schema: json.RawMessage(`{
  "documentType": "",
  "confidenceScore": 0,
  "metadata": {
    "detectedLanguage": "",
    "imageQuality": "low | medium | high"
  },
  "merchant": {
    "name": "",
    "address": "",
    "phone": "",
    "taxId": ""
  },
  "receiptDetails": {
    "receiptNumber": "",
    "date": "",
    "time": "",
    "cashier": "",
    "paymentMethod": "",
    "subtotal": null,
    "discount": null,
    "tax": null,
    "tip": null,
    "total": null,
    "currency": ""
  },
  "items": [
    {
      "description": "",
      "quantity": null,
      "unitPrice": null,
      "total": null
    }
  ],
  "rawText": ""
}`),
}

var businessCardTemplate = ExtractionTemplate{
	Label:       "Business Card",
	Instruction: "You are a document analysis AI specializing in business cards. Extract every contact detail, title, company, and social handle visible on the card.",
	Schema: json.RawMessage(`{
  "documentType": "",
  "confidenceScore": 0,
  "metadata": {
    "detectedLanguage": "",
    "imageQuality": "low | medium | high"
  },
  "contact": {
    "firstName": "",
    "lastName": "",
    "title": "",
    "company": "",
    "department": "",
    "phone": "",
    "mobilePhone": "",
    "email": "",
    "website": "",
    "address": "",
    "linkedin": "",
    "twitter": ""
  },
  "rawText": ""
}`),
}

var contractTemplate = ExtractionTemplate{
	Label:       "Contract / Agreement",
	Instruction: "You are a document analysis AI specializing in legal contracts and agreements. Extract party information, key dates, terms, and signatories visible in the document.",
	Schema: json.RawMessage(`{
  "documentType": "",
  "confidenceScore": 0,
  "metadata": {
    "detectedLanguage": "",
    "imageQuality": "low | medium | high"
  },
  "contractInfo": {
    "title": "",
    "contractNumber": "",
    "effectiveDate": "",
    "expirationDate": "",
    "governingLaw": ""
  },
  "parties": [
    {
      "name": "",
      "role": "",
      "address": ""
    }
  ],
  "keyTerms": [],
  "signatories": [
    {
      "name": "",
      "role": "",
      "signedDate": ""
    }
  ],
  "rawText": ""
}`),
}

var medicalTemplate = ExtractionTemplate{
	Label:       "Medical Document",
	Instruction: "You are a document analysis AI specializing in medical documents (prescriptions, lab results, medical records). Extract patient info, provider details, diagnoses, and medications visible in the document.",
	Schema: json.RawMessage(`{
  "documentType": "",
  "confidenceScore": 0,
  "metadata": {
    "detectedLanguage": "",
    "imageQuality": "low | medium | high"
  },
  "patient": {
    "firstName": "",
    "lastName": "",
    "birthdate": "",
    "gender": "",
    "patientId": ""
  },
  "provider": {
    "name": "",
    "specialty": "",
    "licenseNumber": "",
    "facility": "",
    "address": "",
    "phone": ""
  },
  "documentDate": "",
  "diagnosis": [],
  "medications": [
    {
      "name": "",
      "dosage": "",
      "frequency": "",
      "quantity": ""
    }
  ],
  "notes": "",
  "rawText": ""
}`),
}

var formTemplate = ExtractionTemplate{
	Label:       "Form",
	Instruction: "You are a document analysis AI specializing in forms and structured documents. Extract every labeled field, checkbox, and entry visible in the form.",
	Schema: json.RawMessage(`{
  "documentType": "",
  "confidenceScore": 0,
  "metadata": {
    "detectedLanguage": "",
    "imageQuality": "low | medium | high"
  },
  "formTitle": "",
  "formNumber": "",
  "date": "",
  "fields": {},
  "signatures": [],
  "rawText": ""
}`),
}

var otherTemplate = ExtractionTemplate{
	Label:       "Other Document",
	Instruction: "You are a document analysis AI. Extract all readable key-value information, tables, and text from this document.",
	Schema: json.RawMessage(`{
  "documentType": "",
  "confidenceScore": 0,
  "metadata": {
    "detectedLanguage": "",
    "imageQuality": "low | medium | high"
  },
  "keyValuePairs": {},
  "tables": [],
  "rawText": ""
}`),
}

// templates keys every tag in the closed vocabulary. The three identity
// tags share one schema family.
var templates = map[model.DocumentType]ExtractionTemplate{
	model.DocTypeID:             identityTemplate,
	model.DocTypePassport:       identityTemplate,
	model.DocTypeDriversLicense: identityTemplate,
	model.DocTypeInvoice:        invoiceTemplate,
	model.DocTypeReceipt:        receiptTemplate,
	model.DocTypeBusinessCard:   businessCardTemplate,
	model.DocTypeContract:       contractTemplate,
	model.DocTypeMedical:        medicalTemplate,
	model.DocTypeForm:           formTemplate,
	model.DocTypeOther:          otherTemplate,
}

// Get returns the template for a tag. Unknown tags resolve to the generic
// template, so lookup never fails.
func Get(tag model.DocumentType) ExtractionTemplate {
	if t, ok := templates[tag]; ok {
		return t
	}
	return otherTemplate
}

// ValidTypes returns the tags a classification prompt may choose from,
// in a stable order.
func ValidTypes() []model.DocumentType {
	return model.AllDocumentTypes()
}
