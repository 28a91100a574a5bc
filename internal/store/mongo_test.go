package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/gabrrrielll/real-estate-scraper/internal/mapper"
	"github.com/gabrrrielll/real-estate-scraper/logger"
	"github.com/gabrrrielll/real-estate-scraper/pkg/errors"
)

const testDatabase = "test_real_estate_scraper"

// MongoStoreTestSuite runs against a local MongoDB and skips without one
type MongoStoreTestSuite struct {
	suite.Suite
	store *MongoStore
}

func (s *MongoStoreTestSuite) SetupSuite() {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	store, err := NewMongoStore(ctx, uri, testDatabase, logger.Nop())
	if err != nil {
		s.T().Skip("MongoDB not available for integration tests")
		return
	}
	s.store = store
}

func (s *MongoStoreTestSuite) SetupTest() {
	if s.store == nil {
		s.T().Skip("MongoDB not available")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, coll := range []string{propertiesCollection, mediaCollection, termsCollection} {
		_, err := s.store.client.Database(testDatabase).Collection(coll).DeleteMany(ctx, map[string]any{})
		s.Require().NoError(err)
	}
	s.Require().NoError(s.store.bucket.Drop())
}

func (s *MongoStoreTestSuite) TearDownSuite() {
	if s.store != nil {
		s.store.client.Database(testDatabase).Drop(context.Background())
		s.store.Close(context.Background())
	}
}

func (s *MongoStoreTestSuite) TestCreateFindAndDuplicate() {
	ctx := context.Background()

	h, err := s.store.Create(ctx, Draft{
		Property:    sampleProperty("https://homezz.ro/a.html"),
		CategoryKey: "apartamente",
		Status:      "draft",
		MediaIDs:    []string{"m1"},
	})
	s.Require().NoError(err)

	found, err := s.store.FindBySourceURL(ctx, "https://homezz.ro/a.html")
	s.Require().NoError(err)
	s.Require().NotNil(found)
	s.Equal(h.ID, found.ID)
	s.Equal("apartamente", found.CategoryKey)

	_, err = s.store.Create(ctx, Draft{Property: sampleProperty("https://homezz.ro/a.html"), Status: "draft"})
	s.Require().Error(err)
	s.True(errors.IsType(err, errors.ErrorTypePersistence))

	recent, err := s.store.FindMostRecentImported(ctx)
	s.Require().NoError(err)
	s.Equal(h.ID, recent.ID)
}

func (s *MongoStoreTestSuite) TestUpdateAndAttach() {
	ctx := context.Background()
	h, err := s.store.Create(ctx, Draft{Property: sampleProperty("https://homezz.ro/a.html"), Status: "draft"})
	s.Require().NoError(err)

	p := sampleProperty("https://homezz.ro/a.html")
	p.Price = "85000"
	changes, err := s.store.UpdateFields(ctx, h, p)
	s.Require().NoError(err)
	s.Contains(changes, MetaChange{Key: mapper.MetaPrice, Old: "89900", New: "85000"})

	s.Require().NoError(s.store.AttachMedia(ctx, h, []string{"a", "b"}))
	s.Require().NoError(s.store.AssignTerms(ctx, h, mapper.TaxonomyCity, []string{"c1"}))

	found, err := s.store.FindBySourceURL(ctx, "https://homezz.ro/a.html")
	s.Require().NoError(err)
	s.Equal([]string{"c1"}, found.Terms[mapper.TaxonomyCity])
}

func (s *MongoStoreTestSuite) TestTermsAndMedia() {
	ctx := context.Background()

	city, err := s.store.GetOrCreateTerm(ctx, mapper.TaxonomyCity, "București")
	s.Require().NoError(err)
	again, err := s.store.GetOrCreateTerm(ctx, mapper.TaxonomyCity, "Bucuresti")
	s.Require().NoError(err)
	s.Equal(city.ID, again.ID)
	s.Require().NoError(s.store.SetParent(ctx, city.ID, "bucuresti"))

	media := &Media{OriginURL: "https://img.homezz.ro/1.jpg", FileName: "1.jpg", ContentType: "image/jpeg", Size: 3}
	s.Require().NoError(s.store.SaveMedia(ctx, media, []byte("abc")))

	found, err := s.store.FindMediaByOrigin(ctx, "https://img.homezz.ro/1.jpg")
	s.Require().NoError(err)
	s.Require().NotNil(found)
	s.Equal(media.ID, found.ID)

	missing, err := s.store.FindMediaByOrigin(ctx, "https://img.homezz.ro/2.jpg")
	s.Require().NoError(err)
	s.Nil(missing)
}

func (s *MongoStoreTestSuite) TestDeleteOlderThan() {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	s.store.now = func() time.Time { return clock }
	defer func() { s.store.now = time.Now }()

	s.Require().NoError(s.store.SaveMedia(ctx, &Media{ID: "old-only", OriginURL: "https://img/old"}, []byte("x")))
	_, err := s.store.Create(ctx, Draft{Property: sampleProperty("https://homezz.ro/old.html"), MediaIDs: []string{"old-only"}})
	s.Require().NoError(err)

	clock = base.Add(48 * time.Hour)
	_, err = s.store.Create(ctx, Draft{Property: sampleProperty("https://homezz.ro/new.html")})
	s.Require().NoError(err)

	result, err := s.store.DeleteOlderThan(ctx, base.Add(24*time.Hour))
	s.Require().NoError(err)
	s.Equal(PruneResult{Properties: 1, Media: 1, SourceURLs: []string{"https://homezz.ro/old.html"}}, result)
}

func TestMongoStoreTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping MongoDB integration tests in short mode")
	}
	suite.Run(t, new(MongoStoreTestSuite))
}
