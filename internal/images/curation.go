package images

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errActorRequired = errors.New("authentication required")
	errStaffRequired = errors.New("staff permissions required")
)

// Actor identifies the caller of a staff-only operation.
type Actor struct {
	UserID string
	Staff  bool
}

func (a Actor) check(operation string) error {
	if strings.TrimSpace(a.UserID) == "" {
		return newError(KindUnauthorized, operation, "authentication_required", errActorRequired)
	}
	if !a.Staff {
		return newError(KindUnauthorized, operation, "staff_required", errStaffRequired)
	}
	return nil
}

// MarkDifficulty sets the difficulty tier on an image. Staff only.
func (s *Service) MarkDifficulty(ctx context.Context, imageID string, actor Actor, difficulty Difficulty) error {
	if err := actor.check(opMarkDifficulty); err != nil {
		return err
	}
	if _, err := ParseDifficulty(string(difficulty)); err != nil {
		return newError(KindInvalidInput, opMarkDifficulty, "invalid_difficulty", err)
	}

	return s.updateImageField(ctx, opMarkDifficulty, imageID, "difficulty", difficulty)
}

// MarkWillNotGeoref permanently excludes an image from the work queue.
// Staff only.
func (s *Service) MarkWillNotGeoref(ctx context.Context, imageID string, actor Actor) error {
	if err := actor.check(opMarkWillNotGeoref); err != nil {
		return err
	}
	return s.updateImageField(ctx, opMarkWillNotGeoref, imageID, "will_not_georef", true)
}

func (s *Service) updateImageField(ctx context.Context, operation, imageID, column string, value interface{}) error {
	if s.db == nil {
		s.logError(operation, "missing_database", errMissingDatabase)
		return newError(KindStoreUnavailable, operation, "missing_database", errMissingDatabase)
	}

	updated := s.db.WithContext(ctx).Model(&Image{}).
		Where("id = ?", imageID).
		Updates(map[string]interface{}{column: value, "updated_at": s.clock().UTC()})
	if updated.Error != nil {
		s.logError(operation, "update_failed", updated.Error, zap.String("image_id", imageID))
		return newError(KindStoreUnavailable, operation, "update_failed", updated.Error)
	}
	if updated.RowsAffected == 0 {
		return newError(KindNotFound, operation, "image_not_found", gorm.ErrRecordNotFound)
	}
	return nil
}
