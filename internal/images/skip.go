package images

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errSkipNotFound = errors.New("skip record not found")

// SkipRequest describes a contributor passing on an image. A nil UserID
// means the contributor is anonymous; anonymous skips are acknowledged but
// never persisted.
type SkipRequest struct {
	ImageID string
	UserID  *string
	Reason  string
}

// SkipResult reports whether a skip row was written. AlreadySkipped is set
// when the user had previously skipped the image; the call is idempotent
// and not an error.
type SkipResult struct {
	Recorded       bool
	AlreadySkipped bool
}

// Skip runs the skip tracker. The skip row and the denormalized skip_count
// on the owning image are written in the same transaction, and the counter
// is always recomputed from the live rows rather than incremented.
func (s *Service) Skip(ctx context.Context, request SkipRequest) (SkipResult, error) {
	if s.db == nil {
		s.logError(opSkip, "missing_database", errMissingDatabase)
		return SkipResult{}, newError(KindStoreUnavailable, opSkip, "missing_database", errMissingDatabase)
	}

	var result SkipResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var image Image
		err := tx.Where("id = ?", request.ImageID).Take(&image).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newError(KindNotFound, opSkip, "image_not_found", err)
		}
		if err != nil {
			s.logError(opSkip, "image_select_failed", err, zap.String("image_id", request.ImageID))
			return newError(KindStoreUnavailable, opSkip, "image_select_failed", err)
		}

		if request.UserID == nil {
			result = SkipResult{}
			return nil
		}
		userID := strings.TrimSpace(*request.UserID)
		if userID == "" {
			result = SkipResult{}
			return nil
		}

		rowID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opSkip, "id_generation_failed", err, zap.String("image_id", image.ID))
			return newError(KindStoreUnavailable, opSkip, "id_generation_failed", err)
		}

		skip := ImageSkip{
			ID:        rowID,
			ImageID:   image.ID,
			UserID:    userID,
			Reason:    strings.TrimSpace(request.Reason),
			CreatedAt: s.clock().UTC(),
		}
		if err := tx.Create(&skip).Error; err != nil {
			if isUniqueViolation(err) {
				result = SkipResult{AlreadySkipped: true}
				return nil
			}
			s.logError(opSkip, "skip_insert_failed", err,
				zap.String("image_id", image.ID),
				zap.String("user_id", userID))
			return newError(KindStoreUnavailable, opSkip, "skip_insert_failed", err)
		}

		if err := s.recomputeSkipCount(tx, image.ID); err != nil {
			s.logError(opSkip, "skip_count_recompute_failed", err, zap.String("image_id", image.ID))
			return newError(KindStoreUnavailable, opSkip, "skip_count_recompute_failed", err)
		}

		result = SkipResult{Recorded: true}
		return nil
	})

	if txErr != nil {
		return SkipResult{}, txErr
	}
	return result, nil
}

// RemoveSkip deletes a skip record as an administrative reset. The
// skip_count recomputation happens in the same transaction as the delete.
func (s *Service) RemoveSkip(ctx context.Context, imageID, userID string) error {
	if s.db == nil {
		s.logError(opRemoveSkip, "missing_database", errMissingDatabase)
		return newError(KindStoreUnavailable, opRemoveSkip, "missing_database", errMissingDatabase)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var image Image
		err := tx.Where("id = ?", imageID).Take(&image).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newError(KindNotFound, opRemoveSkip, "image_not_found", err)
		}
		if err != nil {
			s.logError(opRemoveSkip, "image_select_failed", err, zap.String("image_id", imageID))
			return newError(KindStoreUnavailable, opRemoveSkip, "image_select_failed", err)
		}

		deleted := tx.Where("image_id = ? AND user_id = ?", image.ID, userID).Delete(&ImageSkip{})
		if deleted.Error != nil {
			s.logError(opRemoveSkip, "skip_delete_failed", deleted.Error,
				zap.String("image_id", image.ID),
				zap.String("user_id", userID))
			return newError(KindStoreUnavailable, opRemoveSkip, "skip_delete_failed", deleted.Error)
		}
		if deleted.RowsAffected == 0 {
			return newError(KindNotFound, opRemoveSkip, "skip_not_found", errSkipNotFound)
		}

		if err := s.recomputeSkipCount(tx, image.ID); err != nil {
			s.logError(opRemoveSkip, "skip_count_recompute_failed", err, zap.String("image_id", image.ID))
			return newError(KindStoreUnavailable, opRemoveSkip, "skip_count_recompute_failed", err)
		}
		return nil
	})
}

// recomputeSkipCount persists the live skip row count onto the image. A
// recompute instead of an increment keeps the counter correct under bulk
// deletes.
func (s *Service) recomputeSkipCount(tx *gorm.DB, imageID string) error {
	var liveCount int64
	if err := tx.Model(&ImageSkip{}).Where("image_id = ?", imageID).Count(&liveCount).Error; err != nil {
		return err
	}
	return tx.Model(&Image{}).Where("id = ?", imageID).Update("skip_count", liveCount).Error
}
