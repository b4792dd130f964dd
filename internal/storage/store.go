// store.go - Persistence interfaces used by the matching pipeline

package storage

import (
	"context"
	"errors"

	"github.com/stakbuild/docmatch/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// DocumentUpdate is a partial update of one document's vendor match. Only
// these fields are written.
type DocumentUpdate struct {
	DocID           string
	Kind            model.DocKind
	ProjectID       *string
	PredictedVendor model.VendorPrediction
	// Vendor is set for invoices only.
	Vendor *model.VendorRef
}

// DocumentStore persists document records.
type DocumentStore interface {
	InsertDocument(ctx context.Context, doc *model.DocumentRecord) error
	GetDocument(ctx context.Context, companyID, docID string) (*model.DocumentRecord, error)
	// ListVendorMatchDocuments returns every invoice, client-bill invoice
	// and contract of a company.
	ListVendorMatchDocuments(ctx context.Context, companyID string) ([]model.DocumentRecord, error)
	ApplyVendorUpdates(ctx context.Context, companyID string, updates []DocumentUpdate) error
}

// RosterSource provides a company's vendor roster.
type RosterSource interface {
	FetchVendorSummaries(ctx context.Context, companyID string) ([]model.VendorCandidate, error)
}

// VendorStore is a roster that can grow.
type VendorStore interface {
	RosterSource
	InsertVendors(ctx context.Context, companyID string, vendors []model.VendorCandidate) error
}

// ProjectSource provides a company's projects.
type ProjectSource interface {
	ListProjects(ctx context.Context, companyID string) ([]model.ProjectRecord, error)
}

// Store is everything the service persists.
type Store interface {
	DocumentStore
	VendorStore
	ProjectSource
	Close(ctx context.Context) error
}
