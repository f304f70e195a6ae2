package images

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:pastpin_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Source{}, &Collection{}, &Image{}, &Georeference{}, &GeoreferenceValidation{}, &ImageSkip{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := func() time.Time { return time.Unix(1756400000, 0).UTC() }
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct images service: %v", err)
	}

	return service, db
}

var seedSequence int

func nextSeedID(prefix string) string {
	seedSequence++
	return fmt.Sprintf("%s-%d", prefix, seedSequence)
}

func seedCatalog(t *testing.T, db *gorm.DB, sourcePublic, collectionPublic bool) (Source, Collection) {
	t.Helper()

	source := Source{
		ID:     nextSeedID("source"),
		Name:   "Valentine Archive",
		Slug:   nextSeedID("valentine"),
		Public: sourcePublic,
	}
	if err := db.Create(&source).Error; err != nil {
		t.Fatalf("failed to seed source: %v", err)
	}

	collection := Collection{
		ID:       nextSeedID("collection"),
		SourceID: source.ID,
		Name:     "Street Views",
		Slug:     nextSeedID("street-views"),
		Public:   collectionPublic,
	}
	if err := db.Create(&collection).Error; err != nil {
		t.Fatalf("failed to seed collection: %v", err)
	}

	return source, collection
}

func seedImage(t *testing.T, db *gorm.DB, collectionID string, mutators ...func(*Image)) Image {
	t.Helper()

	image := Image{
		ID:           nextSeedID("image"),
		CollectionID: collectionID,
		Title:        "Broad Street, looking north",
		Permalink:    "https://cdn.example.org/broad-street.jpg",
	}
	for _, mutate := range mutators {
		mutate(&image)
	}
	if err := db.Create(&image).Error; err != nil {
		t.Fatalf("failed to seed image: %v", err)
	}
	return image
}

func seedPublicImage(t *testing.T, db *gorm.DB, mutators ...func(*Image)) Image {
	t.Helper()
	_, collection := seedCatalog(t, db, true, true)
	return seedImage(t, db, collection.ID, mutators...)
}

func mustSubmit(t *testing.T, service *Service, request SubmitRequest) SubmitResult {
	t.Helper()
	result, err := service.Submit(context.Background(), request)
	if err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}
	return result
}

func assertKind(t *testing.T, err error, want Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error of kind %d, got nil", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("expected error kind %d, got %d (%v)", want, got, err)
	}
}

func strPtr(value string) *string {
	return &value
}

func intPtr(value int) *int {
	return &value
}

func difficultyPtr(value Difficulty) *Difficulty {
	return &value
}
