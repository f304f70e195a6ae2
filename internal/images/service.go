package images

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew        = "images.service.new"
	opSubmit            = "images.submit"
	opValidate          = "images.validate"
	opSkip              = "images.skip"
	opRemoveSkip        = "images.remove_skip"
	opSelectNext        = "images.select_next"
	opGetImage          = "images.get_image"
	opListImages        = "images.list_images"
	opListSources       = "images.list_sources"
	opGetSource         = "images.get_source"
	opGetCollection     = "images.get_collection"
	opStats             = "images.stats"
	opGeoJSON           = "images.geojson"
	opMarkDifficulty    = "images.mark_difficulty"
	opMarkWillNotGeoref = "images.mark_will_not_georef"
)

// IDProvider issues identifiers for newly created rows.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig bundles the dependencies of the images service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service implements the georeferencing core: submissions, peer validation,
// skip tracking, work selection, and read-side catalog queries.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the images service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newError(KindStoreUnavailable, opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newError(KindInvalidInput, opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// ImageDetail pairs an image with its derived status for read endpoints.
type ImageDetail struct {
	Image  Image
	Status Status
}

// GetImage loads an image with its submissions and their validations and
// derives its status. Georeferences are ordered most recent first.
func (s *Service) GetImage(ctx context.Context, imageID string) (ImageDetail, error) {
	var image Image
	err := s.db.WithContext(ctx).
		Preload("Collection.Source").
		Preload("Georeferences", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at DESC")
		}).
		Preload("Georeferences.Validations").
		Where("id = ?", imageID).
		Take(&image).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ImageDetail{}, newError(KindNotFound, opGetImage, "image_not_found", err)
	}
	if err != nil {
		s.logError(opGetImage, "query_failed", err, zap.String("image_id", imageID))
		return ImageDetail{}, newError(KindStoreUnavailable, opGetImage, "query_failed", err)
	}

	return ImageDetail{Image: image, Status: DeriveStatus(image)}, nil
}

// isUniqueViolation reports whether the store rejected a write because of a
// uniqueness constraint. The engines treat this as a control-flow branch,
// not a failure. The raw message check covers drivers that do not translate
// into gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	message := err.Error()
	return strings.Contains(message, "UNIQUE constraint failed") ||
		strings.Contains(message, "constraint failed: UNIQUE")
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("images service error", attrs...)
}
