package images

import (
	"context"
	"testing"
)

func TestStatsCountsPublicImagesOnly(t *testing.T) {
	service, db := newTestService(t)
	_, collection := seedCatalog(t, db, true, true)

	pending := seedImage(t, db, collection.ID, func(i *Image) { i.Difficulty = difficultyPtr(DifficultyEasy) })
	_ = pending
	done := seedImage(t, db, collection.ID, func(i *Image) { i.Difficulty = difficultyPtr(DifficultyHard) })
	seedImage(t, db, collection.ID, func(i *Image) { i.WillNotGeoref = true })

	_, hiddenCollection := seedCatalog(t, db, true, false)
	seedImage(t, db, hiddenCollection.ID)

	mustSubmit(t, service, SubmitRequest{
		ImageID: done.ID, Submitter: strPtr("alice"),
		Latitude: 37.5, Longitude: -77.4, Confidence: ConfidenceMedium,
	})

	stats, err := service.Stats(context.Background())
	if err != nil {
		t.Fatalf("unexpected stats error: %v", err)
	}
	if stats.TotalImages != 3 {
		t.Fatalf("expected 3 public images, got %d", stats.TotalImages)
	}
	if stats.Georeferenced != 1 {
		t.Fatalf("expected 1 georeferenced image, got %d", stats.Georeferenced)
	}
	if stats.WillNotGeoref != 1 {
		t.Fatalf("expected 1 excluded image, got %d", stats.WillNotGeoref)
	}
	if stats.Pending != 1 {
		t.Fatalf("expected 1 pending image, got %d", stats.Pending)
	}
	if stats.Difficulty.Easy != 1 || stats.Difficulty.Hard != 1 || stats.Difficulty.Unrated != 1 {
		t.Fatalf("unexpected difficulty breakdown %#v", stats.Difficulty)
	}
}

func TestGeoJSONExportsLatestGeoreference(t *testing.T) {
	service, db := newTestService(t)
	_, collection := seedCatalog(t, db, true, true)
	image := seedImage(t, db, collection.ID, func(i *Image) { i.Year = intPtr(1910) })
	seedImage(t, db, collection.ID)

	mustSubmit(t, service, SubmitRequest{
		ImageID: image.ID, Submitter: strPtr("alice"),
		Latitude: 37.5407, Longitude: -77.4360, Direction: intPtr(45), Confidence: ConfidenceHigh,
	})

	document, err := service.GeoJSON(context.Background(), GeoJSONFilter{})
	if err != nil {
		t.Fatalf("unexpected geojson error: %v", err)
	}
	if document.Type != "FeatureCollection" {
		t.Fatalf("unexpected document type %s", document.Type)
	}
	if len(document.Features) != 1 {
		t.Fatalf("expected one feature, got %d", len(document.Features))
	}

	feature := document.Features[0]
	if feature.Geometry.Type != "Point" {
		t.Fatalf("unexpected geometry type %s", feature.Geometry.Type)
	}
	if feature.Geometry.Coordinates[0] != -77.4360 || feature.Geometry.Coordinates[1] != 37.5407 {
		t.Fatalf("coordinates must be longitude-first, got %v", feature.Geometry.Coordinates)
	}
	if feature.Properties.Direction == nil || *feature.Properties.Direction != 45 {
		t.Fatalf("unexpected direction %v", feature.Properties.Direction)
	}
	if feature.Properties.Year == nil || *feature.Properties.Year != "1910" {
		t.Fatalf("unexpected year %v", feature.Properties.Year)
	}
	if feature.Properties.ImgURL == "" {
		t.Fatalf("expected a permalink in the feature")
	}
}

func TestGeoJSONFiltersBySource(t *testing.T) {
	service, db := newTestService(t)

	sourceA, collectionA := seedCatalog(t, db, true, true)
	imageA := seedImage(t, db, collectionA.ID)
	_, collectionB := seedCatalog(t, db, true, true)
	imageB := seedImage(t, db, collectionB.ID)

	for _, image := range []Image{imageA, imageB} {
		mustSubmit(t, service, SubmitRequest{
			ImageID: image.ID, Submitter: strPtr("alice"),
			Latitude: 37.5, Longitude: -77.4, Confidence: ConfidenceMedium,
		})
	}

	document, err := service.GeoJSON(context.Background(), GeoJSONFilter{SourceID: sourceA.ID})
	if err != nil {
		t.Fatalf("unexpected geojson error: %v", err)
	}
	if len(document.Features) != 1 || document.Features[0].Properties.ImageID != imageA.ID {
		t.Fatalf("expected only source A features, got %#v", document.Features)
	}
}

func TestListSourcesComputesProgress(t *testing.T) {
	service, db := newTestService(t)
	_, collection := seedCatalog(t, db, true, true)
	seedCatalog(t, db, false, true)

	done := seedImage(t, db, collection.ID)
	seedImage(t, db, collection.ID)
	mustSubmit(t, service, SubmitRequest{
		ImageID: done.ID, Submitter: strPtr("alice"),
		Latitude: 37.5, Longitude: -77.4, Confidence: ConfidenceMedium,
	})

	sources, err := service.ListSources(context.Background())
	if err != nil {
		t.Fatalf("unexpected list sources error: %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("expected only the public source, got %d", len(sources))
	}
	progress := sources[0].Progress
	if progress.TotalImages != 2 || progress.Georeferenced != 1 || progress.Pending != 1 {
		t.Fatalf("unexpected progress %#v", progress)
	}
	if progress.CompletionPercent() != 50 {
		t.Fatalf("expected 50%% completion, got %v", progress.CompletionPercent())
	}
}

func TestHiddenCatalogRowsPersistAsHidden(t *testing.T) {
	_, db := newTestService(t)
	source, collection := seedCatalog(t, db, false, false)

	var storedSource Source
	if err := db.Where("id = ?", source.ID).Take(&storedSource).Error; err != nil {
		t.Fatalf("failed to reload source: %v", err)
	}
	if storedSource.Public {
		t.Fatalf("source seeded as hidden came back public")
	}

	var storedCollection Collection
	if err := db.Where("id = ?", collection.ID).Take(&storedCollection).Error; err != nil {
		t.Fatalf("failed to reload collection: %v", err)
	}
	if storedCollection.Public {
		t.Fatalf("collection seeded as hidden came back public")
	}
}

func TestGetCollectionReturnsNotFoundForHidden(t *testing.T) {
	service, db := newTestService(t)
	source, collection := seedCatalog(t, db, true, false)

	_, err := service.GetCollection(context.Background(), source.Slug, collection.Slug)
	assertKind(t, err, KindNotFound)
}

func TestListImagesFiltersByStatus(t *testing.T) {
	service, db := newTestService(t)
	_, collection := seedCatalog(t, db, true, true)

	pending := seedImage(t, db, collection.ID)
	georeferenced := seedImage(t, db, collection.ID)
	validated := seedImage(t, db, collection.ID)
	seedImage(t, db, collection.ID, func(i *Image) { i.WillNotGeoref = true })

	mustSubmit(t, service, SubmitRequest{
		ImageID: georeferenced.ID, Submitter: strPtr("alice"),
		Latitude: 37.5, Longitude: -77.4, Confidence: ConfidenceMedium,
	})
	submitted := mustSubmit(t, service, SubmitRequest{
		ImageID: validated.ID, Submitter: strPtr("alice"),
		Latitude: 37.5, Longitude: -77.4, Confidence: ConfidenceMedium,
	})
	if _, err := service.Validate(context.Background(), ValidateRequest{
		GeoreferenceID: submitted.GeoreferenceID, Voter: "bob", Vote: VoteCorrect,
	}); err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}

	expectations := map[Status]string{
		StatusPending:       pending.ID,
		StatusGeoreferenced: georeferenced.ID,
		StatusValidated:     validated.ID,
	}
	for status, wantID := range expectations {
		filterStatus := status
		page, err := service.ListImages(context.Background(), ListFilter{Status: &filterStatus})
		if err != nil {
			t.Fatalf("unexpected list error for %s: %v", status, err)
		}
		if page.Total != 1 || len(page.Images) != 1 || page.Images[0].ID != wantID {
			t.Fatalf("status %s: expected only %s, got %#v", status, wantID, page.Images)
		}
	}

	all, err := service.ListImages(context.Background(), ListFilter{})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if all.Total != 4 {
		t.Fatalf("expected 4 public images in total, got %d", all.Total)
	}
}
