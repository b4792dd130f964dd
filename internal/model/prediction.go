// prediction.go - Project and vendor prediction records

package model

import "strings"

// UnknownAddress is the placeholder project that never takes part in matching.
const UnknownAddress = "unknown"

// ProjectRecord is a known project as stored for a company.
type ProjectRecord struct {
	UUID            string `json:"uuid" bson:"uuid"`
	Name            string `json:"name" bson:"name"`
	Address         string `json:"address" bson:"address"`
	Supervisor      string `json:"supervisor" bson:"supervisor"`
	ClientFirstName string `json:"client_first_name" bson:"client_first_name"`
	ClientLastName  string `json:"client_last_name" bson:"client_last_name"`
	IsActive        bool   `json:"is_active" bson:"is_active"`
}

// Owner is the name a document is fuzzy-matched against.
func (p ProjectRecord) Owner() string {
	return strings.TrimSpace(p.ClientLastName)
}

// Document is the descriptive string embedded for the project.
func (p ProjectRecord) Document() string {
	parts := make([]string, 0, 4)
	for _, v := range []string{p.Supervisor, p.Address, p.ClientFirstName, p.ClientLastName} {
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

// Ref returns the identity of the project.
func (p ProjectRecord) Ref() ProjectRef {
	return ProjectRef{Name: p.Name, Address: p.Address, UUID: p.UUID}
}

// AddressScore is one entry of the reviewer shortlist.
type AddressScore struct {
	Address string  `json:"address" bson:"address"`
	Score   float64 `json:"score" bson:"score"`
}

// ProjectPrediction is the predicted project for a document. Name, Address,
// UUID and Score are all nil for the unknown prediction.
type ProjectPrediction struct {
	Name      *string        `json:"name" bson:"name"`
	Address   *string        `json:"address" bson:"address"`
	UUID      *string        `json:"uuid" bson:"uuid"`
	Score     *float64       `json:"score" bson:"score"`
	TopScores []AddressScore `json:"top_scores" bson:"top_scores"`
}

// UnknownProject builds the unknown prediction carrying the shortlist.
func UnknownProject(top []AddressScore) ProjectPrediction {
	if top == nil {
		top = []AddressScore{}
	}
	return ProjectPrediction{TopScores: top}
}

// PredictedProject builds a prediction for a resolved project.
func PredictedProject(ref ProjectRef, score float64, top []AddressScore) ProjectPrediction {
	if top == nil {
		top = []AddressScore{}
	}
	return ProjectPrediction{
		Name:      StringPtr(ref.Name),
		Address:   StringPtr(ref.Address),
		UUID:      StringPtr(ref.UUID),
		Score:     Float64Ptr(score),
		TopScores: top,
	}
}

// IsUnknown reports whether no project was predicted.
func (p ProjectPrediction) IsUnknown() bool {
	return p.UUID == nil
}

// VendorCandidate is one entry of a company's vendor roster.
type VendorCandidate struct {
	Name         string  `json:"name" bson:"name"`
	ExternalID   *string `json:"external_id" bson:"external_id"`
	InternalUUID string  `json:"internal_uuid" bson:"uuid"`
}

// VendorSource records where a guessed vendor name came from.
type VendorSource string

const (
	SourceEntity VendorSource = "ENTITY"
	SourceLLM    VendorSource = "LLM"
)

// RawVendorGuess is the vendor name read off a document before roster matching.
type RawVendorGuess struct {
	Name   *string      `json:"supplier_name"`
	Source VendorSource `json:"source"`
}

// VendorPrediction is the roster match for a document's vendor. The match
// fields are nil when the roster was empty, no name was found or no roster
// entry cleared the cutoff.
type VendorPrediction struct {
	SupplierName    *string      `json:"supplier_name" bson:"supplier_name"`
	MatchConfidence *float64     `json:"match_confidence" bson:"match_confidence"`
	ExternalID      *string      `json:"external_id" bson:"external_id"`
	InternalUUID    *string      `json:"internal_uuid" bson:"internal_uuid"`
	Source          VendorSource `json:"source,omitempty" bson:"source,omitempty"`
}

// UnmatchedVendor keeps the guessed name and source with nulled match fields.
func UnmatchedVendor(guess RawVendorGuess) VendorPrediction {
	return VendorPrediction{SupplierName: guess.Name, Source: guess.Source}
}

// IsMatched reports whether the prediction points to a roster entry.
func (v VendorPrediction) IsMatched() bool {
	return v.InternalUUID != nil
}

// Ref returns the vendor reference shown on the document.
func (v VendorPrediction) Ref() *VendorRef {
	return &VendorRef{Name: v.SupplierName, UUID: v.InternalUUID}
}

// Equal compares two predictions field by field.
func (v VendorPrediction) Equal(o VendorPrediction) bool {
	return eqString(v.SupplierName, o.SupplierName) &&
		eqFloat(v.MatchConfidence, o.MatchConfidence) &&
		eqString(v.ExternalID, o.ExternalID) &&
		eqString(v.InternalUUID, o.InternalUUID) &&
		v.Source == o.Source
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// Float64Ptr returns a pointer to f.
func Float64Ptr(f float64) *float64 { return &f }

// Deref returns the pointed string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func eqString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
