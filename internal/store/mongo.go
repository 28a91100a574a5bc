package store

import (
	"bytes"
	"context"
	stderrors "errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/gabrrrielll/real-estate-scraper/internal/mapper"
	"github.com/gabrrrielll/real-estate-scraper/logger"
	"github.com/gabrrrielll/real-estate-scraper/pkg/errors"
)

const (
	propertiesCollection = "properties"
	mediaCollection      = "media"
	termsCollection      = "terms"
	mediaBucket          = "media_files"
)

// MongoStore persists properties, media and terms in MongoDB. Image bytes
// are kept in a GridFS bucket under the media id.
type MongoStore struct {
	client     *mongo.Client
	properties *mongo.Collection
	media      *mongo.Collection
	terms      *mongo.Collection
	bucket     *gridfs.Bucket
	log        *logger.Logger
	now        func() time.Time
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore connects, pings and ensures indexes
func NewMongoStore(ctx context.Context, uri, dbName string, log *logger.Logger) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.NewPersistence("mongo", "connect", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, errors.NewPersistence("mongo", "ping", err)
	}

	db := client.Database(dbName)
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName(mediaBucket))
	if err != nil {
		client.Disconnect(ctx)
		return nil, errors.NewPersistence("mongo", "open media bucket", err)
	}

	s := &MongoStore{
		client:     client,
		properties: db.Collection(propertiesCollection),
		media:      db.Collection(mediaCollection),
		terms:      db.Collection(termsCollection),
		bucket:     bucket,
		log:        log,
		now:        time.Now,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// ensureIndexes creates the unique indexes the import relies on. The
// source_url index makes a second import of the same listing fail.
func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{s.properties, mongo.IndexModel{Keys: bson.D{{Key: "source_url", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{s.properties, mongo.IndexModel{Keys: bson.D{{Key: "created_at", Value: -1}}}},
		{s.media, mongo.IndexModel{Keys: bson.D{{Key: "origin_url", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{s.terms, mongo.IndexModel{Keys: bson.D{{Key: "taxonomy", Value: 1}, {Key: "slug", Value: 1}}, Options: options.Index().SetUnique(true)}},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, idx.model); err != nil {
			return errors.NewPersistence(idx.coll.Name(), "create index", err)
		}
	}
	return nil
}

func (s *MongoStore) FindBySourceURL(ctx context.Context, sourceURL string) (*Handle, error) {
	filter := bson.M{"source_url": sourceURL, "status": bson.M{"$in": ActiveStatuses}}
	return s.findHandle(ctx, filter, nil)
}

func (s *MongoStore) FindMostRecentImported(ctx context.Context) (*Handle, error) {
	filter := bson.M{"source_url": bson.M{"$exists": true, "$ne": ""}}
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	return s.findHandle(ctx, filter, opts)
}

func (s *MongoStore) findHandle(ctx context.Context, filter bson.M, opts *options.FindOneOptions) (*Handle, error) {
	var r Record
	var err error
	if opts != nil {
		err = s.properties.FindOne(ctx, filter, opts).Decode(&r)
	} else {
		err = s.properties.FindOne(ctx, filter).Decode(&r)
	}
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewPersistence(propertiesCollection, "find property", err)
	}
	return r.handle(), nil
}

func (s *MongoStore) Create(ctx context.Context, d Draft) (*Handle, error) {
	if d.Property == nil || d.Property.SourceURL == "" {
		return nil, errors.NewPersistence(propertiesCollection, "property without source URL", nil)
	}

	r := newRecord(uuid.NewString(), d, s.now().UTC())
	if _, err := s.properties.InsertOne(ctx, r); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, errors.NewPersistence(r.SourceURL, "source URL already imported", err)
		}
		return nil, errors.NewPersistence(r.SourceURL, "insert property", err)
	}
	return r.handle(), nil
}

func (s *MongoStore) UpdateFields(ctx context.Context, h *Handle, p *mapper.Property) ([]MetaChange, error) {
	var r Record
	if err := s.properties.FindOne(ctx, bson.M{"_id": h.ID}).Decode(&r); err != nil {
		return nil, errors.NewPersistence(h.ID, "load property", err)
	}

	changes := updateRecord(&r, p, s.now().UTC())
	if _, err := s.properties.ReplaceOne(ctx, bson.M{"_id": h.ID}, &r); err != nil {
		return nil, errors.NewPersistence(h.ID, "update property", err)
	}
	return changes, nil
}

func (s *MongoStore) AttachMedia(ctx context.Context, h *Handle, mediaIDs []string) error {
	thumbnail := ""
	if len(mediaIDs) > 0 {
		thumbnail = mediaIDs[0]
	}
	update := bson.M{"$set": bson.M{
		"media_ids":  append([]string{}, mediaIDs...),
		"thumbnail":  thumbnail,
		"updated_at": s.now().UTC(),
	}}
	res, err := s.properties.UpdateByID(ctx, h.ID, update)
	if err != nil {
		return errors.NewPersistence(h.ID, "attach media", err)
	}
	if res.MatchedCount == 0 {
		return errors.NewPersistence(h.ID, "property not found", nil)
	}
	return nil
}

func (s *MongoStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (PruneResult, error) {
	var result PruneResult

	filter := bson.M{
		"source_url": bson.M{"$exists": true, "$ne": ""},
		"created_at": bson.M{"$lt": cutoff.UTC()},
	}
	cursor, err := s.properties.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1, "source_url": 1, "media_ids": 1}))
	if err != nil {
		return result, errors.NewPersistence(propertiesCollection, "find stale properties", err)
	}
	var stale []struct {
		ID        string   `bson:"_id"`
		SourceURL string   `bson:"source_url"`
		MediaIDs  []string `bson:"media_ids"`
	}
	if err := cursor.All(ctx, &stale); err != nil {
		return result, errors.NewPersistence(propertiesCollection, "read stale properties", err)
	}
	if len(stale) == 0 {
		return result, nil
	}

	ids := make([]string, 0, len(stale))
	media := map[string]bool{}
	for _, r := range stale {
		ids = append(ids, r.ID)
		for _, m := range r.MediaIDs {
			media[m] = true
		}
	}

	res, err := s.properties.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return result, errors.NewPersistence(propertiesCollection, "delete stale properties", err)
	}
	result.Properties = int(res.DeletedCount)
	for _, r := range stale {
		result.SourceURLs = append(result.SourceURLs, r.SourceURL)
	}
	sort.Strings(result.SourceURLs)

	for id := range media {
		inUse, err := s.properties.CountDocuments(ctx, bson.M{"media_ids": id})
		if err != nil {
			return result, errors.NewPersistence(mediaCollection, "count media references", err)
		}
		if inUse > 0 {
			continue
		}
		if err := s.bucket.Delete(id); err != nil && !stderrors.Is(err, gridfs.ErrFileNotFound) {
			s.log.Warn().Err(err).Str("media_id", id).Msg("Failed to delete media file")
		}
		del, err := s.media.DeleteOne(ctx, bson.M{"_id": id})
		if err != nil {
			return result, errors.NewPersistence(mediaCollection, "delete media", err)
		}
		result.Media += int(del.DeletedCount)
	}

	return result, nil
}

func (s *MongoStore) GetOrCreateTerm(ctx context.Context, taxonomy, name string) (*Term, error) {
	slug := Slug(name)
	if slug == "" {
		return nil, errors.NewValidation(taxonomy, "empty term name")
	}

	filter := bson.M{"taxonomy": taxonomy, "slug": slug}
	update := bson.M{"$setOnInsert": bson.M{"_id": uuid.NewString(), "name": name}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var t Term
	if err := s.terms.FindOneAndUpdate(ctx, filter, update, opts).Decode(&t); err != nil {
		return nil, errors.NewPersistence(termsCollection, "upsert term "+taxonomy+"/"+slug, err)
	}
	return &t, nil
}

func (s *MongoStore) AssignTerms(ctx context.Context, h *Handle, taxonomy string, termIDs []string) error {
	update := bson.M{"$set": bson.M{"terms." + taxonomy: append([]string{}, termIDs...)}}
	res, err := s.properties.UpdateByID(ctx, h.ID, update)
	if err != nil {
		return errors.NewPersistence(h.ID, "assign terms", err)
	}
	if res.MatchedCount == 0 {
		return errors.NewPersistence(h.ID, "property not found", nil)
	}
	return nil
}

func (s *MongoStore) SetParent(ctx context.Context, termID, parentSlug string) error {
	if _, err := s.terms.UpdateByID(ctx, termID, bson.M{"$set": bson.M{"parent": parentSlug}}); err != nil {
		return errors.NewPersistence(termID, "set term parent", err)
	}
	return nil
}

func (s *MongoStore) FindMediaByOrigin(ctx context.Context, originURL string) (*Media, error) {
	var m Media
	err := s.media.FindOne(ctx, bson.M{"origin_url": originURL}).Decode(&m)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewPersistence(mediaCollection, "find media", err)
	}
	return &m, nil
}

// SaveMedia uploads data to GridFS, then records the metadata document
func (s *MongoStore) SaveMedia(ctx context.Context, m *Media, data []byte) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now().UTC()
	}

	if err := s.bucket.UploadFromStreamWithID(m.ID, m.FileName, bytes.NewReader(data)); err != nil {
		return errors.NewPersistence(m.OriginURL, "upload media", err)
	}
	if _, err := s.media.InsertOne(ctx, m); err != nil {
		if delErr := s.bucket.Delete(m.ID); delErr != nil {
			s.log.Warn().Err(delErr).Str("media_id", m.ID).Msg("Failed to remove orphaned media file")
		}
		return errors.NewPersistence(m.OriginURL, "insert media", err)
	}
	return nil
}

// Close disconnects the client
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks the connection to the primary
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}
