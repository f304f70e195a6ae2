package images

import (
	"context"
	"testing"
)

func TestSelectNextReturnsNilWhenNothingEligible(t *testing.T) {
	service, _ := newTestService(t)

	image, err := service.SelectNext(context.Background(), SelectorFilters{}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected selector error: %v", err)
	}
	if image != nil {
		t.Fatalf("expected no candidate, got %s", image.ID)
	}
}

func TestSelectNextSkipsFinishedAndExcludedImages(t *testing.T) {
	service, db := newTestService(t)
	_, collection := seedCatalog(t, db, true, true)

	eligible := seedImage(t, db, collection.ID)
	georeferenced := seedImage(t, db, collection.ID)
	excluded := seedImage(t, db, collection.ID, func(i *Image) { i.WillNotGeoref = true })
	_ = excluded

	mustSubmit(t, service, SubmitRequest{
		ImageID: georeferenced.ID, Submitter: strPtr("alice"),
		Latitude: 37.5, Longitude: -77.4, Confidence: ConfidenceMedium,
	})

	for attempt := 0; attempt < 10; attempt++ {
		picked, err := service.SelectNext(context.Background(), SelectorFilters{}, nil, nil)
		if err != nil {
			t.Fatalf("unexpected selector error: %v", err)
		}
		if picked == nil {
			t.Fatalf("expected a candidate")
		}
		if picked.ID != eligible.ID {
			t.Fatalf("expected only the untouched image to be eligible, got %s", picked.ID)
		}
	}
}

func TestSelectNextHonoursVisibility(t *testing.T) {
	service, db := newTestService(t)

	_, hiddenCollection := seedCatalog(t, db, true, false)
	seedImage(t, db, hiddenCollection.ID)

	_, collectionOfHiddenSource := seedCatalog(t, db, false, true)
	seedImage(t, db, collectionOfHiddenSource.ID)

	image, err := service.SelectNext(context.Background(), SelectorFilters{}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected selector error: %v", err)
	}
	if image != nil {
		t.Fatalf("non-public images must never be selected, got %s", image.ID)
	}
}

func TestSelectNextExcludesSkippedImagesForUser(t *testing.T) {
	service, db := newTestService(t)
	_, collection := seedCatalog(t, db, true, true)
	skippedImage := seedImage(t, db, collection.ID)

	if _, err := service.Skip(context.Background(), SkipRequest{ImageID: skippedImage.ID, UserID: strPtr("alice")}); err != nil {
		t.Fatalf("unexpected skip error: %v", err)
	}

	forAlice, err := service.SelectNext(context.Background(), SelectorFilters{}, strPtr("alice"), nil)
	if err != nil {
		t.Fatalf("unexpected selector error: %v", err)
	}
	if forAlice != nil {
		t.Fatalf("expected no candidate for the skipping user, got %s", forAlice.ID)
	}

	forBob, err := service.SelectNext(context.Background(), SelectorFilters{}, strPtr("bob"), nil)
	if err != nil {
		t.Fatalf("unexpected selector error: %v", err)
	}
	if forBob == nil || forBob.ID != skippedImage.ID {
		t.Fatalf("another user's skip must not exclude the image, got %#v", forBob)
	}
}

func TestSelectNextAppliesFilters(t *testing.T) {
	service, db := newTestService(t)

	sourceA, collectionA := seedCatalog(t, db, true, true)
	easy := seedImage(t, db, collectionA.ID, func(i *Image) { i.Difficulty = difficultyPtr(DifficultyEasy) })
	seedImage(t, db, collectionA.ID, func(i *Image) { i.Difficulty = difficultyPtr(DifficultyHard) })

	_, collectionB := seedCatalog(t, db, true, true)
	seedImage(t, db, collectionB.ID, func(i *Image) { i.Difficulty = difficultyPtr(DifficultyEasy) })

	picked, err := service.SelectNext(context.Background(), SelectorFilters{
		SourceSlug:     sourceA.Slug,
		CollectionSlug: collectionA.Slug,
		Difficulty:     difficultyPtr(DifficultyEasy),
	}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected selector error: %v", err)
	}
	if picked == nil || picked.ID != easy.ID {
		t.Fatalf("expected the easy image of collection A, got %#v", picked)
	}

	count, err := service.CountEligible(context.Background(), SelectorFilters{SourceSlug: sourceA.Slug}, nil)
	if err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 eligible images for source A, got %d", count)
	}
}

func TestSelectNextRequestedImageBypassesSubmissionCheck(t *testing.T) {
	service, db := newTestService(t)
	_, collection := seedCatalog(t, db, true, true)
	requested := seedImage(t, db, collection.ID)

	mustSubmit(t, service, SubmitRequest{
		ImageID: requested.ID, Submitter: strPtr("alice"),
		Latitude: 37.5, Longitude: -77.4, Confidence: ConfidenceMedium,
	})

	picked, err := service.SelectNext(context.Background(), SelectorFilters{}, nil, strPtr(requested.ID))
	if err != nil {
		t.Fatalf("unexpected selector error: %v", err)
	}
	if picked == nil || picked.ID != requested.ID {
		t.Fatalf("a specifically requested image should be returned for correction, got %#v", picked)
	}
}

func TestSelectNextRequestedImageStillHonoursSkipsAndVisibility(t *testing.T) {
	service, db := newTestService(t)
	_, collection := seedCatalog(t, db, true, true)
	skippedImage := seedImage(t, db, collection.ID)
	fallback := seedImage(t, db, collection.ID)

	if _, err := service.Skip(context.Background(), SkipRequest{ImageID: skippedImage.ID, UserID: strPtr("alice")}); err != nil {
		t.Fatalf("unexpected skip error: %v", err)
	}

	picked, err := service.SelectNext(context.Background(), SelectorFilters{}, strPtr("alice"), strPtr(skippedImage.ID))
	if err != nil {
		t.Fatalf("unexpected selector error: %v", err)
	}
	if picked == nil || picked.ID != fallback.ID {
		t.Fatalf("requested-but-skipped image must fall through to random selection, got %#v", picked)
	}

	flagged := seedImage(t, db, collection.ID, func(i *Image) { i.WillNotGeoref = true })
	picked, err = service.SelectNext(context.Background(), SelectorFilters{}, nil, strPtr(flagged.ID))
	if err != nil {
		t.Fatalf("unexpected selector error: %v", err)
	}
	if picked != nil && picked.ID == flagged.ID {
		t.Fatalf("an excluded image must never be returned from the requested path")
	}
}
