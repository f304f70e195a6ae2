package images

import (
	"context"
	"strconv"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DifficultyBreakdown counts public images per difficulty tier.
type DifficultyBreakdown struct {
	Easy    int64
	Medium  int64
	Hard    int64
	Unrated int64
}

// Stats summarizes georeferencing progress over all public images.
type Stats struct {
	TotalImages   int64
	Georeferenced int64
	WillNotGeoref int64
	Pending       int64
	Difficulty    DifficultyBreakdown
}

// CompletionPercent is Georeferenced over TotalImages, 0 for empty sets.
func (st Stats) CompletionPercent() float64 {
	if st.TotalImages == 0 {
		return 0
	}
	return float64(st.Georeferenced) / float64(st.TotalImages) * 100
}

// Stats computes global progress counters over publicly visible images.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	if s.db == nil {
		s.logError(opStats, "missing_database", errMissingDatabase)
		return Stats{}, newError(KindStoreUnavailable, opStats, "missing_database", errMissingDatabase)
	}

	publicImages := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&Image{}).
			Joins("JOIN collections ON collections.id = images.collection_id").
			Joins("JOIN sources ON sources.id = collections.source_id").
			Where("collections.public = ? AND sources.public = ?", true, true)
	}

	var stats Stats
	counts := []struct {
		dest  *int64
		build func(*gorm.DB) *gorm.DB
	}{
		{&stats.TotalImages, func(q *gorm.DB) *gorm.DB { return q }},
		{&stats.Georeferenced, func(q *gorm.DB) *gorm.DB {
			return q.Where("EXISTS (SELECT 1 FROM georeferences WHERE georeferences.image_id = images.id)")
		}},
		{&stats.WillNotGeoref, func(q *gorm.DB) *gorm.DB {
			return q.Where("images.will_not_georef = ?", true)
		}},
		{&stats.Difficulty.Easy, func(q *gorm.DB) *gorm.DB { return q.Where("images.difficulty = ?", DifficultyEasy) }},
		{&stats.Difficulty.Medium, func(q *gorm.DB) *gorm.DB { return q.Where("images.difficulty = ?", DifficultyMedium) }},
		{&stats.Difficulty.Hard, func(q *gorm.DB) *gorm.DB { return q.Where("images.difficulty = ?", DifficultyHard) }},
		{&stats.Difficulty.Unrated, func(q *gorm.DB) *gorm.DB { return q.Where("images.difficulty IS NULL") }},
	}
	for _, count := range counts {
		if err := count.build(publicImages()).Count(count.dest).Error; err != nil {
			s.logError(opStats, "count_failed", err)
			return Stats{}, newError(KindStoreUnavailable, opStats, "count_failed", err)
		}
	}

	stats.Pending = stats.TotalImages - stats.Georeferenced - stats.WillNotGeoref
	return stats, nil
}

// GeoJSONFilter narrows the exported feature set. Empty values match
// everything.
type GeoJSONFilter struct {
	ImageID      string
	CollectionID string
	SourceID     string
}

// Geometry is a GeoJSON point, coordinates ordered longitude first.
type Geometry struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// FeatureProperties carries display metadata for a georeferenced image.
type FeatureProperties struct {
	ImageID   string  `json:"image_id"`
	ImgURL    string  `json:"img_url"`
	Direction *int    `json:"direction"`
	Year      *string `json:"year"`
}

// Feature is one georeferenced image as a GeoJSON feature.
type Feature struct {
	Type       string            `json:"type"`
	Geometry   Geometry          `json:"geometry"`
	Properties FeatureProperties `json:"properties"`
}

// FeatureCollection is the GeoJSON document served to map clients.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// GeoJSON exports georeferenced public images as a FeatureCollection. Each
// image contributes its most recent georeference.
func (s *Service) GeoJSON(ctx context.Context, filter GeoJSONFilter) (FeatureCollection, error) {
	if s.db == nil {
		s.logError(opGeoJSON, "missing_database", errMissingDatabase)
		return FeatureCollection{}, newError(KindStoreUnavailable, opGeoJSON, "missing_database", errMissingDatabase)
	}

	query := s.db.WithContext(ctx).Model(&Image{}).
		Joins("JOIN collections ON collections.id = images.collection_id").
		Joins("JOIN sources ON sources.id = collections.source_id").
		Where("collections.public = ? AND sources.public = ?", true, true).
		Where("EXISTS (SELECT 1 FROM georeferences WHERE georeferences.image_id = images.id)")
	if filter.ImageID != "" {
		query = query.Where("images.id = ?", filter.ImageID)
	}
	if filter.CollectionID != "" {
		query = query.Where("images.collection_id = ?", filter.CollectionID)
	}
	if filter.SourceID != "" {
		query = query.Where("collections.source_id = ?", filter.SourceID)
	}

	var imagesList []Image
	err := query.Select("images.*").
		Preload("Georeferences", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at DESC")
		}).
		Find(&imagesList).Error
	if err != nil {
		s.logError(opGeoJSON, "query_failed", err)
		return FeatureCollection{}, newError(KindStoreUnavailable, opGeoJSON, "query_failed", err)
	}

	collection := FeatureCollection{Type: "FeatureCollection", Features: make([]Feature, 0, len(imagesList))}
	for _, image := range imagesList {
		if len(image.Georeferences) == 0 {
			s.loggerOrDefault().Warn("georeferenced image without loaded submissions",
				zap.String("image_id", image.ID))
			continue
		}
		latest := image.Georeferences[0]

		var year *string
		if image.Year != nil {
			value := strconv.Itoa(*image.Year)
			year = &value
		}

		collection.Features = append(collection.Features, Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: [2]float64{latest.Longitude, latest.Latitude},
			},
			Properties: FeatureProperties{
				ImageID:   image.ID,
				ImgURL:    image.Permalink,
				Direction: latest.Direction,
				Year:      year,
			},
		})
	}
	return collection, nil
}
