package images

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SelectorFilters narrows the eligible set for work selection. Each filter
// is optional; empty values match everything.
type SelectorFilters struct {
	SourceSlug     string
	CollectionSlug string
	Difficulty     *Difficulty
}

// SelectNext hands a contributor one unfinished image.
//
// When requestedID is set and the image exists, is not excluded, is
// publicly visible, and has not been skipped by the excluded user, it is
// returned directly even if it already has submissions; that path exists so
// a contributor can open a specific item to correct it. Otherwise the
// selector falls back to a uniformly random pick from the eligible set:
// images with zero submissions, not excluded, publicly visible, matching
// the filters, and not skipped by the excluded user. Returns nil when the
// eligible set is empty. No ordering guarantee is made across calls.
func (s *Service) SelectNext(ctx context.Context, filters SelectorFilters, excludedUser *string, requestedID *string) (*Image, error) {
	if s.db == nil {
		s.logError(opSelectNext, "missing_database", errMissingDatabase)
		return nil, newError(KindStoreUnavailable, opSelectNext, "missing_database", errMissingDatabase)
	}

	if requestedID != nil && *requestedID != "" {
		requested, err := s.requestedImage(ctx, *requestedID, excludedUser)
		if err != nil {
			return nil, err
		}
		if requested != nil {
			return requested, nil
		}
	}

	var image Image
	err := s.eligibleQuery(ctx, filters, excludedUser).
		Select("images.*").
		Order("RANDOM()").
		Take(&image).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logError(opSelectNext, "query_failed", err)
		return nil, newError(KindStoreUnavailable, opSelectNext, "query_failed", err)
	}
	return &image, nil
}

// CountEligible reports how many images remain selectable under the given
// filters, used by clients to show remaining work.
func (s *Service) CountEligible(ctx context.Context, filters SelectorFilters, excludedUser *string) (int64, error) {
	if s.db == nil {
		s.logError(opSelectNext, "missing_database", errMissingDatabase)
		return 0, newError(KindStoreUnavailable, opSelectNext, "missing_database", errMissingDatabase)
	}

	var count int64
	if err := s.eligibleQuery(ctx, filters, excludedUser).Count(&count).Error; err != nil {
		s.logError(opSelectNext, "count_failed", err)
		return 0, newError(KindStoreUnavailable, opSelectNext, "count_failed", err)
	}
	return count, nil
}

// requestedImage resolves the fast path. A nil result without error means
// the requested image failed a check and selection should fall through.
func (s *Service) requestedImage(ctx context.Context, imageID string, excludedUser *string) (*Image, error) {
	query := s.db.WithContext(ctx).Model(&Image{}).
		Joins("JOIN collections ON collections.id = images.collection_id").
		Joins("JOIN sources ON sources.id = collections.source_id").
		Where("images.id = ?", imageID).
		Where("images.will_not_georef = ?", false).
		Where("collections.public = ? AND sources.public = ?", true, true)
	if excludedUser != nil && *excludedUser != "" {
		query = query.Where(
			"NOT EXISTS (SELECT 1 FROM image_skips WHERE image_skips.image_id = images.id AND image_skips.user_id = ?)",
			*excludedUser,
		)
	}

	var image Image
	err := query.Select("images.*").Take(&image).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logError(opSelectNext, "requested_image_query_failed", err, zap.String("image_id", imageID))
		return nil, newError(KindStoreUnavailable, opSelectNext, "requested_image_query_failed", err)
	}
	return &image, nil
}

func (s *Service) eligibleQuery(ctx context.Context, filters SelectorFilters, excludedUser *string) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&Image{}).
		Joins("JOIN collections ON collections.id = images.collection_id").
		Joins("JOIN sources ON sources.id = collections.source_id").
		Where("collections.public = ? AND sources.public = ?", true, true).
		Where("images.will_not_georef = ?", false).
		Where("NOT EXISTS (SELECT 1 FROM georeferences WHERE georeferences.image_id = images.id)")

	if excludedUser != nil && *excludedUser != "" {
		query = query.Where(
			"NOT EXISTS (SELECT 1 FROM image_skips WHERE image_skips.image_id = images.id AND image_skips.user_id = ?)",
			*excludedUser,
		)
	}
	if filters.SourceSlug != "" {
		query = query.Where("sources.slug = ?", filters.SourceSlug)
	}
	if filters.CollectionSlug != "" {
		query = query.Where("collections.slug = ?", filters.CollectionSlug)
	}
	if filters.Difficulty != nil {
		query = query.Where("images.difficulty = ?", *filters.Difficulty)
	}
	return query
}
