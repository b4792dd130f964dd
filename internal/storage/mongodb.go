package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/stakbuild/docmatch/internal/model"
)

// Collection names.
const (
	documentsCollection = "documents"
	vendorsCollection   = "vendors"
	projectsCollection  = "projects"
)

const defaultQueryTimeout = 10 * time.Second

// MongoStore implements Store on MongoDB. Every record carries company_id.
type MongoStore struct {
	client  *mongo.Client
	db      *mongo.Database
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

// Connect opens the connection and verifies it with a ping.
func Connect(ctx context.Context, uri, dbName string, logger *zap.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("connected to MongoDB", zap.String("database", dbName))
	return &MongoStore{
		client:  client,
		db:      client.Database(dbName),
		logger:  logger,
		timeout: defaultQueryTimeout,
		now:     time.Now,
	}, nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect MongoDB: %w", err)
	}
	s.logger.Info("MongoDB connection closed")
	return nil
}

// EnsureIndexes creates the lookup indexes the store relies on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	unique := options.Index().SetUnique(true)
	indexes := map[string]mongo.IndexModel{
		documentsCollection: {Keys: bson.D{{Key: "company_id", Value: 1}, {Key: "doc_id", Value: 1}}, Options: unique},
		vendorsCollection:   {Keys: bson.D{{Key: "company_id", Value: 1}, {Key: "uuid", Value: 1}}, Options: unique},
		projectsCollection:  {Keys: bson.D{{Key: "company_id", Value: 1}, {Key: "uuid", Value: 1}}, Options: unique},
	}
	for coll, idx := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateOne(ctx, idx); err != nil {
			return fmt.Errorf("create index on %s: %w", coll, err)
		}
	}
	return nil
}

// --- Documents ---

// InsertDocument stores a new document record.
func (s *MongoStore) InsertDocument(ctx context.Context, doc *model.DocumentRecord) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.db.Collection(documentsCollection).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert document %s: %w", doc.DocID, err)
	}
	return nil
}

// GetDocument loads one document.
func (s *MongoStore) GetDocument(ctx context.Context, companyID, docID string) (*model.DocumentRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var doc model.DocumentRecord
	err := s.db.Collection(documentsCollection).
		FindOne(ctx, bson.M{"company_id": companyID, "doc_id": docID}).
		Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("document %s: %w", docID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query document %s: %w", docID, err)
	}
	return &doc, nil
}

// ListVendorMatchDocuments returns the company's documents without their
// text and entities, which a vendor sweep does not read.
func (s *MongoStore) ListVendorMatchDocuments(ctx context.Context, companyID string) ([]model.DocumentRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	filter := bson.M{
		"company_id": companyID,
		"kind":       bson.M{"$in": bson.A{model.KindInvoice, model.KindClientBillInvoice, model.KindContract}},
	}
	opts := options.Find().
		SetProjection(bson.M{"full_text": 0, "entities": 0}).
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "doc_id", Value: 1}})

	cursor, err := s.db.Collection(documentsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []model.DocumentRecord
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode documents: %w", err)
	}
	return docs, nil
}

// ApplyVendorUpdates writes each update as a partial $set in one unordered
// bulk write.
func (s *MongoStore) ApplyVendorUpdates(ctx context.Context, companyID string, updates []DocumentUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := s.now()
	writes := make([]mongo.WriteModel, 0, len(updates))
	for _, u := range updates {
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"company_id": companyID, "doc_id": u.DocID}).
			SetUpdate(bson.M{"$set": updateFields(u, now)}))
	}

	res, err := s.db.Collection(documentsCollection).BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("failed to apply %d vendor updates: %w", len(updates), err)
	}
	if int(res.MatchedCount) != len(updates) {
		s.logger.Warn("some vendor updates matched no document",
			zap.String("company_id", companyID),
			zap.Int("updates", len(updates)),
			zap.Int64("matched", res.MatchedCount),
		)
	}
	return nil
}

func updateFields(u DocumentUpdate, now time.Time) bson.M {
	set := bson.M{
		"predicted_vendor": u.PredictedVendor,
		"updated_at":       now,
	}
	if u.ProjectID != nil {
		set["project_id"] = *u.ProjectID
	}
	if u.Vendor != nil {
		set["vendor.name"] = u.Vendor.Name
		set["vendor.uuid"] = u.Vendor.UUID
	}
	return set
}

// --- Vendors ---

type vendorDocument struct {
	CompanyID             string    `bson:"company_id"`
	CreatedAt             time.Time `bson:"created_at"`
	model.VendorCandidate `bson:",inline"`
}

// FetchVendorSummaries returns the roster in insertion order so the roster
// index hash is stable between sweeps.
func (s *MongoStore) FetchVendorSummaries(ctx context.Context, companyID string) ([]model.VendorCandidate, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "uuid", Value: 1}})
	cursor, err := s.db.Collection(vendorsCollection).Find(ctx, bson.M{"company_id": companyID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query vendors: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []vendorDocument
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode vendors: %w", err)
	}
	out := make([]model.VendorCandidate, len(rows))
	for i, r := range rows {
		out[i] = r.VendorCandidate
	}
	return out, nil
}

// InsertVendors adds roster entries.
func (s *MongoStore) InsertVendors(ctx context.Context, companyID string, vendors []model.VendorCandidate) error {
	if len(vendors) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := s.now()
	docs := make([]interface{}, len(vendors))
	for i, v := range vendors {
		docs[i] = vendorDocument{CompanyID: companyID, CreatedAt: now, VendorCandidate: v}
	}
	if _, err := s.db.Collection(vendorsCollection).InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert %d vendors: %w", len(vendors), err)
	}
	return nil
}

// --- Projects ---

type projectDocument struct {
	CompanyID           string `bson:"company_id"`
	model.ProjectRecord `bson:",inline"`
}

// ListProjects returns the company's projects, active or not.
func (s *MongoStore) ListProjects(ctx context.Context, companyID string) ([]model.ProjectRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}, {Key: "uuid", Value: 1}})
	cursor, err := s.db.Collection(projectsCollection).Find(ctx, bson.M{"company_id": companyID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []projectDocument
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode projects: %w", err)
	}
	out := make([]model.ProjectRecord, len(rows))
	for i, r := range rows {
		out[i] = r.ProjectRecord
	}
	return out, nil
}
