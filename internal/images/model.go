package images

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Confidence grades how sure a contributor is about a submitted location.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Vote enumerates the peer review outcomes for a georeference.
type Vote string

const (
	VoteCorrect   Vote = "correct"
	VoteIncorrect Vote = "incorrect"
	VoteUncertain Vote = "uncertain"
)

// Difficulty tiers images for contributors who want easier or harder work.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

var (
	// ErrInvalidLatitude indicates a latitude outside [-90, 90].
	ErrInvalidLatitude = errors.New("images: latitude must be within [-90, 90]")
	// ErrInvalidLongitude indicates a longitude outside [-180, 180].
	ErrInvalidLongitude = errors.New("images: longitude must be within [-180, 180]")
	// ErrInvalidDirection indicates a compass direction outside [0, 359].
	ErrInvalidDirection = errors.New("images: direction must be within [0, 359]")
	// ErrInvalidConfidence indicates an unknown confidence grade.
	ErrInvalidConfidence = errors.New("images: invalid confidence")
	// ErrInvalidVote indicates an unknown validation vote.
	ErrInvalidVote = errors.New("images: invalid vote")
	// ErrInvalidDifficulty indicates an unknown difficulty tier.
	ErrInvalidDifficulty = errors.New("images: invalid difficulty")
)

// NewLatitude range-checks a latitude in decimal degrees.
func NewLatitude(value float64) (float64, error) {
	if value != value || value < -90 || value > 90 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidLatitude, value)
	}
	return value, nil
}

// NewLongitude range-checks a longitude in decimal degrees.
func NewLongitude(value float64) (float64, error) {
	if value != value || value < -180 || value > 180 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidLongitude, value)
	}
	return value, nil
}

// NewDirection range-checks a compass direction in degrees, 0 = north.
func NewDirection(value int) (int, error) {
	if value < 0 || value > 359 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidDirection, value)
	}
	return value, nil
}

// ParseConfidence validates raw input and returns a Confidence.
func ParseConfidence(rawInput string) (Confidence, error) {
	switch Confidence(strings.ToLower(strings.TrimSpace(rawInput))) {
	case ConfidenceLow:
		return ConfidenceLow, nil
	case ConfidenceMedium:
		return ConfidenceMedium, nil
	case ConfidenceHigh:
		return ConfidenceHigh, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidConfidence, rawInput)
	}
}

// ParseVote validates raw input and returns a Vote.
func ParseVote(rawInput string) (Vote, error) {
	switch Vote(strings.ToLower(strings.TrimSpace(rawInput))) {
	case VoteCorrect:
		return VoteCorrect, nil
	case VoteIncorrect:
		return VoteIncorrect, nil
	case VoteUncertain:
		return VoteUncertain, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidVote, rawInput)
	}
}

// ParseDifficulty validates raw input and returns a Difficulty.
func ParseDifficulty(rawInput string) (Difficulty, error) {
	switch Difficulty(strings.ToLower(strings.TrimSpace(rawInput))) {
	case DifficultyEasy:
		return DifficultyEasy, nil
	case DifficultyMedium:
		return DifficultyMedium, nil
	case DifficultyHard:
		return DifficultyHard, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDifficulty, rawInput)
	}
}

// Source is an archive publishing collections of historical photographs.
type Source struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null"`
	Name        string    `gorm:"column:name;size:200;not null"`
	Slug        string    `gorm:"column:slug;size:200;not null;uniqueIndex"`
	URL         string    `gorm:"column:url;size:500"`
	Description string    `gorm:"column:description;type:text"`
	// No column default: GORM skips zero-value fields that carry one, which
	// would silently turn a hidden row public on insert.
	Public    bool      `gorm:"column:public;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`

	Collections []Collection `gorm:"foreignKey:SourceID"`
}

// TableName provides the explicit table binding for GORM.
func (Source) TableName() string {
	return "sources"
}

// Collection groups images inside a source.
type Collection struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null"`
	SourceID    string    `gorm:"column:source_id;size:190;not null;index;uniqueIndex:idx_collections_source_slug,priority:1"`
	Name        string    `gorm:"column:name;size:200;not null"`
	Slug        string    `gorm:"column:slug;size:200;not null;uniqueIndex:idx_collections_source_slug,priority:2"`
	URL         string    `gorm:"column:url;size:500"`
	Description string    `gorm:"column:description;type:text"`
	Public      bool      `gorm:"column:public;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`

	Source Source  `gorm:"foreignKey:SourceID"`
	Images []Image `gorm:"foreignKey:CollectionID"`
}

// TableName provides the explicit table binding for GORM.
func (Collection) TableName() string {
	return "collections"
}

// IsPublic reports whether both the collection and its source are visible.
// The Source association must be loaded.
func (c Collection) IsPublic() bool {
	return c.Public && c.Source.Public
}

// Image is a candidate photograph awaiting georeferencing.
type Image struct {
	ID           string  `gorm:"column:id;primaryKey;size:190;not null"`
	CollectionID string  `gorm:"column:collection_id;size:190;not null;index:idx_images_collection_flag,priority:1"`
	Title        string  `gorm:"column:title;size:500"`
	Permalink    string  `gorm:"column:permalink;size:1000;not null"`
	OriginalURL  *string `gorm:"column:original_url;size:1000"`
	Description  *string `gorm:"column:description;type:text"`
	LicenseTitle *string `gorm:"column:license_title;size:500"`
	LicenseURL   *string `gorm:"column:license_url;size:1000"`

	// Partial capture date: day requires month, month requires year.
	Year  *int `gorm:"column:year;index:idx_images_date,priority:1;check:year IS NULL OR (year >= 1800 AND year <= 2100)"`
	Month *int `gorm:"column:month;index:idx_images_date,priority:2;check:month IS NULL OR (month >= 1 AND month <= 12)"`
	Day   *int `gorm:"column:day;index:idx_images_date,priority:3;check:day IS NULL OR (day >= 1 AND day <= 31)"`

	Difficulty    *Difficulty `gorm:"column:difficulty;size:10;index"`
	WillNotGeoref bool        `gorm:"column:will_not_georef;not null;default:false;index:idx_images_collection_flag,priority:2"`
	SkipCount     int64       `gorm:"column:skip_count;not null;default:0"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`

	Collection    Collection     `gorm:"foreignKey:CollectionID"`
	Georeferences []Georeference `gorm:"foreignKey:ImageID"`
	Skips         []ImageSkip    `gorm:"foreignKey:ImageID"`
}

// TableName provides the explicit table binding for GORM.
func (Image) TableName() string {
	return "images"
}

// DateDisplay renders the partial capture date, most specific part last.
func (i Image) DateDisplay() string {
	if i.Year == nil {
		return "Unknown date"
	}
	if i.Month == nil {
		return fmt.Sprintf("%d", *i.Year)
	}
	if i.Day == nil {
		return fmt.Sprintf("%d-%02d", *i.Year, *i.Month)
	}
	return fmt.Sprintf("%d-%02d-%02d", *i.Year, *i.Month, *i.Day)
}

// Georeference is one contributor's coordinate proposal for an image.
// An authenticated submitter holds at most one row per image; anonymous
// rows carry a NULL submitter and are exempt from the constraint.
type Georeference struct {
	ID          string     `gorm:"column:id;primaryKey;size:190;not null"`
	ImageID     string     `gorm:"column:image_id;size:190;not null;uniqueIndex:idx_georeferences_image_submitter,priority:1"`
	Latitude    float64    `gorm:"column:latitude;not null"`
	Longitude   float64    `gorm:"column:longitude;not null"`
	Direction   *int       `gorm:"column:direction"`
	Confidence  Confidence `gorm:"column:confidence;size:10;not null;default:medium"`
	SubmittedBy *string    `gorm:"column:submitted_by;size:190;uniqueIndex:idx_georeferences_image_submitter,priority:2;index"`
	Notes       string     `gorm:"column:notes;type:text;not null;default:''"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`

	Validations []GeoreferenceValidation `gorm:"foreignKey:GeoreferenceID"`
}

// TableName provides the explicit table binding for GORM.
func (Georeference) TableName() string {
	return "georeferences"
}

// IsAnonymous reports whether the georeference was submitted without a login.
func (g Georeference) IsAnonymous() bool {
	return g.SubmittedBy == nil
}

// GeoreferenceValidation is a peer vote on a georeference. Rows are
// immutable; re-voting is rejected, never replaced.
type GeoreferenceValidation struct {
	ID             string    `gorm:"column:id;primaryKey;size:190;not null"`
	GeoreferenceID string    `gorm:"column:georeference_id;size:190;not null;uniqueIndex:idx_validations_georeference_voter,priority:1"`
	ValidatedBy    string    `gorm:"column:validated_by;size:190;not null;uniqueIndex:idx_validations_georeference_voter,priority:2;index"`
	Vote           Vote      `gorm:"column:vote;size:10;not null"`
	Notes          string    `gorm:"column:notes;type:text;not null;default:''"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (GeoreferenceValidation) TableName() string {
	return "georeference_validations"
}

// ImageSkip records an authenticated user's pass on an image. At most one
// row exists per (image, user) pair.
type ImageSkip struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null"`
	ImageID   string    `gorm:"column:image_id;size:190;not null;uniqueIndex:idx_image_skips_image_user,priority:1;index"`
	UserID    string    `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_image_skips_image_user,priority:2;index"`
	Reason    string    `gorm:"column:reason;size:100;not null;default:''"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;index"`
}

// TableName provides the explicit table binding for GORM.
func (ImageSkip) TableName() string {
	return "image_skips"
}
