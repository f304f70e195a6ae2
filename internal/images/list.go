package images

import (
	"context"

	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListFilter narrows the public image listing. Status filtering happens
// query-side against the same derivation rules as DeriveStatus.
type ListFilter struct {
	Status       *Status
	Difficulty   *Difficulty
	CollectionID string
	Limit        int
	Offset       int
}

// ImagePage is one page of publicly visible images.
type ImagePage struct {
	Images []Image
	Total  int64
	Limit  int
	Offset int
}

// ListImages returns publicly visible images matching the filter, newest
// first, with offset/limit pagination.
func (s *Service) ListImages(ctx context.Context, filter ListFilter) (ImagePage, error) {
	if s.db == nil {
		s.logError(opListImages, "missing_database", errMissingDatabase)
		return ImagePage{}, newError(KindStoreUnavailable, opListImages, "missing_database", errMissingDatabase)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	base := func() *gorm.DB {
		query := s.db.WithContext(ctx).Model(&Image{}).
			Joins("JOIN collections ON collections.id = images.collection_id").
			Joins("JOIN sources ON sources.id = collections.source_id").
			Where("collections.public = ? AND sources.public = ?", true, true)

		if filter.Status != nil {
			switch *filter.Status {
			case StatusPending:
				query = query.
					Where("images.will_not_georef = ?", false).
					Where("NOT EXISTS (SELECT 1 FROM georeferences WHERE georeferences.image_id = images.id)")
			case StatusGeoreferenced:
				query = query.
					Where("images.will_not_georef = ?", false).
					Where("EXISTS (SELECT 1 FROM georeferences WHERE georeferences.image_id = images.id)").
					Where("NOT EXISTS (SELECT 1 FROM georeference_validations JOIN georeferences g ON g.id = georeference_validations.georeference_id WHERE g.image_id = images.id)")
			case StatusValidated:
				query = query.
					Where("images.will_not_georef = ?", false).
					Where("EXISTS (SELECT 1 FROM georeference_validations JOIN georeferences g ON g.id = georeference_validations.georeference_id WHERE g.image_id = images.id)")
			case StatusWillNotGeoref:
				query = query.Where("images.will_not_georef = ?", true)
			}
		}
		if filter.Difficulty != nil {
			query = query.Where("images.difficulty = ?", *filter.Difficulty)
		}
		if filter.CollectionID != "" {
			query = query.Where("images.collection_id = ?", filter.CollectionID)
		}
		return query
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		s.logError(opListImages, "count_failed", err)
		return ImagePage{}, newError(KindStoreUnavailable, opListImages, "count_failed", err)
	}

	var rows []Image
	err := base().
		Select("images.*").
		Order("images.created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		s.logError(opListImages, "query_failed", err)
		return ImagePage{}, newError(KindStoreUnavailable, opListImages, "query_failed", err)
	}

	return ImagePage{Images: rows, Total: total, Limit: limit, Offset: offset}, nil
}
