package images

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Progress summarizes georeferencing completion over a set of images.
type Progress struct {
	TotalImages   int64
	Georeferenced int64
	Pending       int64
}

// CompletionPercent is Georeferenced over TotalImages, 0 for empty sets.
func (p Progress) CompletionPercent() float64 {
	if p.TotalImages == 0 {
		return 0
	}
	return float64(p.Georeferenced) / float64(p.TotalImages) * 100
}

// SourceProgress pairs a public source with its progress counters.
type SourceProgress struct {
	Source          Source
	CollectionCount int64
	Progress        Progress
}

// CollectionProgress pairs a public collection with its progress counters.
type CollectionProgress struct {
	Collection Collection
	Progress   Progress
}

// SourceDetail is a public source with per-collection breakdowns.
type SourceDetail struct {
	Source      Source
	Collections []CollectionProgress
	Progress    Progress
}

// ListSources returns all public sources ordered by name, each with
// counters restricted to its public collections.
func (s *Service) ListSources(ctx context.Context) ([]SourceProgress, error) {
	if s.db == nil {
		s.logError(opListSources, "missing_database", errMissingDatabase)
		return nil, newError(KindStoreUnavailable, opListSources, "missing_database", errMissingDatabase)
	}

	var sources []Source
	if err := s.db.WithContext(ctx).Where("public = ?", true).Order("name").Find(&sources).Error; err != nil {
		s.logError(opListSources, "query_failed", err)
		return nil, newError(KindStoreUnavailable, opListSources, "query_failed", err)
	}

	results := make([]SourceProgress, 0, len(sources))
	for _, source := range sources {
		var collectionCount int64
		err := s.db.WithContext(ctx).Model(&Collection{}).
			Where("source_id = ? AND public = ?", source.ID, true).
			Count(&collectionCount).Error
		if err != nil {
			s.logError(opListSources, "collection_count_failed", err, zap.String("source_id", source.ID))
			return nil, newError(KindStoreUnavailable, opListSources, "collection_count_failed", err)
		}

		progress, err := s.sourceProgress(ctx, opListSources, source.ID)
		if err != nil {
			return nil, err
		}

		results = append(results, SourceProgress{
			Source:          source,
			CollectionCount: collectionCount,
			Progress:        progress,
		})
	}
	return results, nil
}

// GetSource returns one public source with its public collections and their
// progress counters.
func (s *Service) GetSource(ctx context.Context, slug string) (SourceDetail, error) {
	if s.db == nil {
		s.logError(opGetSource, "missing_database", errMissingDatabase)
		return SourceDetail{}, newError(KindStoreUnavailable, opGetSource, "missing_database", errMissingDatabase)
	}

	var source Source
	err := s.db.WithContext(ctx).Where("slug = ? AND public = ?", slug, true).Take(&source).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SourceDetail{}, newError(KindNotFound, opGetSource, "source_not_found", err)
	}
	if err != nil {
		s.logError(opGetSource, "query_failed", err, zap.String("slug", slug))
		return SourceDetail{}, newError(KindStoreUnavailable, opGetSource, "query_failed", err)
	}

	var collections []Collection
	err = s.db.WithContext(ctx).
		Where("source_id = ? AND public = ?", source.ID, true).
		Order("name").
		Find(&collections).Error
	if err != nil {
		s.logError(opGetSource, "collection_query_failed", err, zap.String("source_id", source.ID))
		return SourceDetail{}, newError(KindStoreUnavailable, opGetSource, "collection_query_failed", err)
	}

	detail := SourceDetail{Source: source, Collections: make([]CollectionProgress, 0, len(collections))}
	for _, collection := range collections {
		progress, err := s.collectionProgress(ctx, opGetSource, collection.ID)
		if err != nil {
			return SourceDetail{}, err
		}
		detail.Collections = append(detail.Collections, CollectionProgress{
			Collection: collection,
			Progress:   progress,
		})
	}

	overall, err := s.sourceProgress(ctx, opGetSource, source.ID)
	if err != nil {
		return SourceDetail{}, err
	}
	detail.Progress = overall
	return detail, nil
}

// GetCollection returns one public collection under a public source, with
// its progress counters.
func (s *Service) GetCollection(ctx context.Context, sourceSlug, collectionSlug string) (CollectionProgress, error) {
	if s.db == nil {
		s.logError(opGetCollection, "missing_database", errMissingDatabase)
		return CollectionProgress{}, newError(KindStoreUnavailable, opGetCollection, "missing_database", errMissingDatabase)
	}

	var collection Collection
	err := s.db.WithContext(ctx).
		Joins("JOIN sources ON sources.id = collections.source_id").
		Where("sources.slug = ? AND sources.public = ?", sourceSlug, true).
		Where("collections.slug = ? AND collections.public = ?", collectionSlug, true).
		Preload("Source").
		Take(&collection).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CollectionProgress{}, newError(KindNotFound, opGetCollection, "collection_not_found", err)
	}
	if err != nil {
		s.logError(opGetCollection, "query_failed", err,
			zap.String("source_slug", sourceSlug),
			zap.String("collection_slug", collectionSlug))
		return CollectionProgress{}, newError(KindStoreUnavailable, opGetCollection, "query_failed", err)
	}

	progress, err := s.collectionProgress(ctx, opGetCollection, collection.ID)
	if err != nil {
		return CollectionProgress{}, err
	}
	return CollectionProgress{Collection: collection, Progress: progress}, nil
}

func (s *Service) sourceProgress(ctx context.Context, operation, sourceID string) (Progress, error) {
	base := s.db.WithContext(ctx).Model(&Image{}).
		Joins("JOIN collections ON collections.id = images.collection_id").
		Where("collections.source_id = ? AND collections.public = ?", sourceID, true)
	return s.progressOf(operation, base)
}

func (s *Service) collectionProgress(ctx context.Context, operation, collectionID string) (Progress, error) {
	base := s.db.WithContext(ctx).Model(&Image{}).Where("images.collection_id = ?", collectionID)
	return s.progressOf(operation, base)
}

func (s *Service) progressOf(operation string, base *gorm.DB) (Progress, error) {
	var progress Progress
	if err := base.Session(&gorm.Session{}).Count(&progress.TotalImages).Error; err != nil {
		s.logError(operation, "progress_count_failed", err)
		return Progress{}, newError(KindStoreUnavailable, operation, "progress_count_failed", err)
	}
	err := base.Session(&gorm.Session{}).
		Where("EXISTS (SELECT 1 FROM georeferences WHERE georeferences.image_id = images.id)").
		Count(&progress.Georeferenced).Error
	if err != nil {
		s.logError(operation, "progress_count_failed", err)
		return Progress{}, newError(KindStoreUnavailable, operation, "progress_count_failed", err)
	}
	progress.Pending = progress.TotalImages - progress.Georeferenced
	return progress, nil
}
