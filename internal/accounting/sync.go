// sync.go - Pull new vendors from the accounting system, then re-match

package accounting

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stakbuild/docmatch/internal/model"
	"github.com/stakbuild/docmatch/internal/reconcile"
	"github.com/stakbuild/docmatch/internal/storage"
)

// VendorLister lists the vendors of a linked accounting account.
type VendorLister interface {
	ListVendors(ctx context.Context, accountToken string) ([]RemoteVendor, error)
}

// Sweeper re-matches a company's documents against its roster.
type Sweeper interface {
	Reconcile(ctx context.Context, companyID string) (*reconcile.Summary, error)
}

// SyncResult is what a vendor sync added and what the follow-up sweep changed.
type SyncResult struct {
	Added   []model.VendorCandidate `json:"added"`
	Summary *reconcile.Summary      `json:"summary"`
}

// Syncer adds accounting-system vendors missing from a roster. Pass a
// storage.MasterDataCache as the VendorStore so inserts drop cached rosters.
type Syncer struct {
	remote  VendorLister
	vendors storage.VendorStore
	sweeper Sweeper
	logger  *zap.Logger
	newID   func() string
}

// NewSyncer creates a Syncer.
func NewSyncer(remote VendorLister, vendors storage.VendorStore, sweeper Sweeper, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		remote:  remote,
		vendors: vendors,
		sweeper: sweeper,
		logger:  logger,
		newID:   NewVendorID,
	}
}

// NewVendorID returns a 16 hex character roster id.
func NewVendorID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// FindUniqueVendors returns the remote vendors whose id is not already the
// external id of a roster entry. Repeated remote ids are returned once.
func FindUniqueVendors(remote []RemoteVendor, roster []model.VendorCandidate) []RemoteVendor {
	known := make(map[string]struct{}, len(roster))
	for _, v := range roster {
		if v.ExternalID != nil {
			known[*v.ExternalID] = struct{}{}
		}
	}
	out := make([]RemoteVendor, 0)
	for _, v := range remote {
		if v.ID == "" {
			continue
		}
		if _, ok := known[v.ID]; ok {
			continue
		}
		known[v.ID] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Sync lists the remote vendors, inserts the new ones and runs a sweep so
// documents waiting for those vendors get matched.
func (s *Syncer) Sync(ctx context.Context, companyID, accountToken string) (*SyncResult, error) {
	remote, err := s.remote.ListVendors(ctx, accountToken)
	if err != nil {
		return nil, fmt.Errorf("list accounting vendors: %w", err)
	}
	roster, err := s.vendors.FetchVendorSummaries(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("fetch vendor roster: %w", err)
	}

	unique := FindUniqueVendors(remote, roster)
	added := make([]model.VendorCandidate, 0, len(unique))
	for _, v := range unique {
		added = append(added, model.VendorCandidate{
			Name:         strings.TrimSpace(v.Name),
			ExternalID:   model.StringPtr(v.ID),
			InternalUUID: s.newID(),
		})
	}
	if len(added) > 0 {
		if err := s.vendors.InsertVendors(ctx, companyID, added); err != nil {
			return nil, fmt.Errorf("insert vendors: %w", err)
		}
	}
	s.logger.Info("vendors synced",
		zap.String("company_id", companyID),
		zap.Int("remote", len(remote)),
		zap.Int("added", len(added)),
	)

	summary, err := s.sweeper.Reconcile(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("reconcile after sync: %w", err)
	}
	return &SyncResult{Added: added, Summary: summary}, nil
}
