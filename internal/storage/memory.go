// memory.go - In-process Store for tests and local runs

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stakbuild/docmatch/internal/model"
)

// MemoryStore is a mutex-guarded Store. Records are copied on the way in and
// out so callers never share state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]map[string]*model.DocumentRecord // company -> doc id
	order     map[string][]string
	vendors   map[string][]model.VendorCandidate
	projects  map[string][]model.ProjectRecord
	now       func() time.Time

	// applied counts ApplyVendorUpdates calls with at least one update
	applied int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]map[string]*model.DocumentRecord),
		order:     make(map[string][]string),
		vendors:   make(map[string][]model.VendorCandidate),
		projects:  make(map[string][]model.ProjectRecord),
		now:       time.Now,
	}
}

func (m *MemoryStore) Close(context.Context) error { return nil }

func (m *MemoryStore) InsertDocument(ctx context.Context, doc *model.DocumentRecord) error {
	cp, err := cloneDocument(doc)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	docs, ok := m.documents[doc.CompanyID]
	if !ok {
		docs = make(map[string]*model.DocumentRecord)
		m.documents[doc.CompanyID] = docs
	}
	if _, dup := docs[doc.DocID]; dup {
		return fmt.Errorf("document %s already exists", doc.DocID)
	}
	docs[doc.DocID] = cp
	m.order[doc.CompanyID] = append(m.order[doc.CompanyID], doc.DocID)
	return nil
}

func (m *MemoryStore) GetDocument(ctx context.Context, companyID, docID string) (*model.DocumentRecord, error) {
	m.mu.RLock()
	doc, ok := m.documents[companyID][docID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("document %s: %w", docID, ErrNotFound)
	}
	return cloneDocument(doc)
}

func (m *MemoryStore) ListVendorMatchDocuments(ctx context.Context, companyID string) ([]model.DocumentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.DocumentRecord, 0, len(m.order[companyID]))
	for _, id := range m.order[companyID] {
		doc := m.documents[companyID][id]
		if !doc.Kind.Valid() {
			continue
		}
		cp, err := cloneDocument(doc)
		if err != nil {
			return nil, err
		}
		cp.FullText, cp.Entities = "", nil
		out = append(out, *cp)
	}
	return out, nil
}

func (m *MemoryStore) ApplyVendorUpdates(ctx context.Context, companyID string, updates []DocumentUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, u := range updates {
		doc, ok := m.documents[companyID][u.DocID]
		if !ok {
			continue
		}
		doc.PredictedVendor = u.PredictedVendor
		if u.ProjectID != nil {
			doc.ProjectID = model.StringPtr(*u.ProjectID)
		}
		if u.Vendor != nil {
			doc.Vendor = &model.VendorRef{Name: copyString(u.Vendor.Name), UUID: copyString(u.Vendor.UUID)}
		}
		doc.UpdatedAt = now
	}
	m.applied++
	return nil
}

// AppliedBatches is the number of non-empty update batches applied.
func (m *MemoryStore) AppliedBatches() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.applied
}

func (m *MemoryStore) FetchVendorSummaries(ctx context.Context, companyID string) ([]model.VendorCandidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.VendorCandidate, len(m.vendors[companyID]))
	for i, v := range m.vendors[companyID] {
		out[i] = v
		out[i].ExternalID = copyString(v.ExternalID)
	}
	return out, nil
}

func (m *MemoryStore) InsertVendors(ctx context.Context, companyID string, vendors []model.VendorCandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range vendors {
		v.ExternalID = copyString(v.ExternalID)
		m.vendors[companyID] = append(m.vendors[companyID], v)
	}
	return nil
}

// RemoveVendor drops a roster entry by internal uuid.
func (m *MemoryStore) RemoveVendor(companyID, uuid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.vendors[companyID][:0]
	for _, v := range m.vendors[companyID] {
		if v.InternalUUID != uuid {
			kept = append(kept, v)
		}
	}
	m.vendors[companyID] = kept
}

func (m *MemoryStore) ListProjects(ctx context.Context, companyID string) ([]model.ProjectRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.ProjectRecord(nil), m.projects[companyID]...), nil
}

// PutProjects replaces a company's projects, sorted like MongoStore returns
// them.
func (m *MemoryStore) PutProjects(companyID string, projects []model.ProjectRecord) {
	cp := append([]model.ProjectRecord(nil), projects...)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].Name < cp[j].Name })
	m.mu.Lock()
	m.projects[companyID] = cp
	m.mu.Unlock()
}

// cloneDocument deep-copies through JSON; every field of DocumentRecord
// round-trips.
func cloneDocument(doc *model.DocumentRecord) (*model.DocumentRecord, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("copy document %s: %w", doc.DocID, err)
	}
	var out model.DocumentRecord
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("copy document %s: %w", doc.DocID, err)
	}
	return &out, nil
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	return model.StringPtr(*s)
}
