// document.go - Extraction output and the per-document record

package model

import "time"

// Point is a normalised page coordinate in [0,1].
type Point struct {
	X float64 `json:"x" bson:"x"`
	Y float64 `json:"y" bson:"y"`
}

// Quad is the four-vertex bounding polygon of an entity on its page.
type Quad [4]Point

// ExtractedEntity is one typed value found by the text extractor. It is
// produced once per document and never modified.
type ExtractedEntity struct {
	TypeMajor       string  `json:"type_major" bson:"type_major"`
	TypeMinor       *string `json:"type_minor" bson:"type_minor"`
	RawValue        string  `json:"raw_value" bson:"raw_value"`
	NormalizedValue *string `json:"normalized_value" bson:"normalized_value"`
	Unit            *string `json:"unit" bson:"unit"`
	Confidence      float64 `json:"confidence" bson:"confidence"`
	Page            int     `json:"page" bson:"page"`
	BoundingBox     *Quad   `json:"bounding_box" bson:"bounding_box"`
}

// Value returns the normalised value when present, the raw value otherwise.
func (e ExtractedEntity) Value() string {
	if e.NormalizedValue != nil && *e.NormalizedValue != "" {
		return *e.NormalizedValue
	}
	return e.RawValue
}

// PageImage is a rendered page handed back by the extractor.
type PageImage struct {
	Page     int    `json:"page" bson:"page"`
	MIMEType string `json:"mime_type" bson:"mime_type"`
	URI      string `json:"uri,omitempty" bson:"uri,omitempty"`
	Data     []byte `json:"-" bson:"-"`
}

// Extraction is the text extractor's result for one document.
type Extraction struct {
	FullText string            `json:"full_text"`
	Entities []ExtractedEntity `json:"entities"`
	Pages    []PageImage       `json:"pages,omitempty"`
}

// DocKind tells where a document lives. Client-bill invoices are invoices
// attached to a project's client bill.
type DocKind string

const (
	KindInvoice           DocKind = "invoice"
	KindClientBillInvoice DocKind = "client_bill_invoice"
	KindContract          DocKind = "contract"
)

// Valid reports whether k is a known kind.
func (k DocKind) Valid() bool {
	switch k {
	case KindInvoice, KindClientBillInvoice, KindContract:
		return true
	}
	return false
}

// ProjectRef identifies a project.
type ProjectRef struct {
	Name    string `json:"name" bson:"name"`
	Address string `json:"address" bson:"address"`
	UUID    string `json:"uuid" bson:"uuid"`
}

// VendorRef is the vendor shown on an invoice once matched.
type VendorRef struct {
	Name *string `json:"name" bson:"name"`
	UUID *string `json:"uuid" bson:"uuid"`
}

// DocumentRecord is the canonical per-document state.
type DocumentRecord struct {
	DocID            string            `json:"doc_id" bson:"doc_id"`
	CompanyID        string            `json:"company_id" bson:"company_id"`
	ProjectID        *string           `json:"project_id" bson:"project_id"`
	ClientBillID     *string           `json:"client_bill_id" bson:"client_bill_id"`
	Kind             DocKind           `json:"kind" bson:"kind"`
	FullText         string            `json:"full_text" bson:"full_text"`
	Entities         []ExtractedEntity `json:"entities" bson:"entities"`
	PredictedProject ProjectPrediction `json:"predicted_project" bson:"predicted_project"`
	PredictedVendor  VendorPrediction  `json:"predicted_vendor" bson:"predicted_vendor"`
	Project          *ProjectRef       `json:"project" bson:"project"`
	Vendor           *VendorRef        `json:"vendor,omitempty" bson:"vendor,omitempty"`
	GCSURI           string            `json:"gcs_uri" bson:"gcs_uri"`
	CreatedAt        time.Time         `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at" bson:"updated_at"`
}
