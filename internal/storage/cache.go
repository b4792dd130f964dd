// cache.go - In-memory cache for master data

package storage

import (
	"context"
	"sync"
	"time"

	"github.com/stakbuild/docmatch/internal/model"
)

// DefaultMasterDataTTL is how long a company's roster and projects are reused.
const DefaultMasterDataTTL = 5 * time.Minute

// MasterData is one company's cached roster and projects.
type MasterData struct {
	CompanyID string
	Vendors   []model.VendorCandidate
	Projects  []model.ProjectRecord
	LoadedAt  time.Time
}

// MasterDataCache caches per-company master data loaded from a VendorStore
// and ProjectSource. It also implements both, so it can sit in front of the
// store wherever one is expected.
type MasterDataCache struct {
	vendors  VendorStore
	projects ProjectSource
	ttl      time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]*MasterData
}

// NewMasterDataCache wraps vendors and projects. A non-positive ttl uses
// DefaultMasterDataTTL.
func NewMasterDataCache(vendors VendorStore, projects ProjectSource, ttl time.Duration) *MasterDataCache {
	if ttl <= 0 {
		ttl = DefaultMasterDataTTL
	}
	return &MasterDataCache{
		vendors:  vendors,
		projects: projects,
		ttl:      ttl,
		now:      time.Now,
		entries:  make(map[string]*MasterData),
	}
}

// GetOrLoad returns cached master data or loads it from the store.
func (c *MasterDataCache) GetOrLoad(ctx context.Context, companyID string) (*MasterData, error) {
	c.mu.RLock()
	data, exists := c.entries[companyID]
	c.mu.RUnlock()

	if exists && c.fresh(data) {
		return data, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	data, exists = c.entries[companyID]
	if exists && c.fresh(data) {
		return data, nil
	}

	vendors, err := c.vendors.FetchVendorSummaries(ctx, companyID)
	if err != nil {
		return nil, err
	}
	projects, err := c.projects.ListProjects(ctx, companyID)
	if err != nil {
		return nil, err
	}

	data = &MasterData{
		CompanyID: companyID,
		Vendors:   vendors,
		Projects:  projects,
		LoadedAt:  c.now(),
	}
	c.entries[companyID] = data
	return data, nil
}

func (c *MasterDataCache) fresh(d *MasterData) bool {
	return c.now().Sub(d.LoadedAt) < c.ttl
}

// FetchVendorSummaries returns the cached roster.
func (c *MasterDataCache) FetchVendorSummaries(ctx context.Context, companyID string) ([]model.VendorCandidate, error) {
	data, err := c.GetOrLoad(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return append([]model.VendorCandidate(nil), data.Vendors...), nil
}

// ListProjects returns the cached projects.
func (c *MasterDataCache) ListProjects(ctx context.Context, companyID string) ([]model.ProjectRecord, error) {
	data, err := c.GetOrLoad(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return append([]model.ProjectRecord(nil), data.Projects...), nil
}

// InsertVendors writes through to the store and drops the company's entry.
func (c *MasterDataCache) InsertVendors(ctx context.Context, companyID string, vendors []model.VendorCandidate) error {
	err := c.vendors.InsertVendors(ctx, companyID, vendors)
	c.Invalidate(companyID)
	return err
}

// Invalidate removes cache for a specific company
func (c *MasterDataCache) Invalidate(companyID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, companyID)
}

// Clear removes all cached data
func (c *MasterDataCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*MasterData)
}
