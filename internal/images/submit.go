package images

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errHighConfidenceDirection = errors.New("high confidence requires direction")
	errLowConfidenceNotes      = errors.New("low confidence requires notes")
	errAlreadyGeoreferenced    = errors.New("already georeferenced; login to correct")
	errAnonymousInsertRace     = errors.New("concurrent anonymous submission")
)

// SubmitRequest describes one coordinate proposal. A nil Submitter means the
// contributor is anonymous.
type SubmitRequest struct {
	ImageID    string
	Submitter  *string
	Latitude   float64
	Longitude  float64
	Direction  *int
	Confidence Confidence
	Notes      string
}

// SubmitResult reports the georeference row affected by a submission.
// Updated is true when an authenticated resubmission corrected an existing
// row in place instead of inserting a new one.
type SubmitResult struct {
	GeoreferenceID string
	Updated        bool
}

// Submit runs the submission engine. Business rules, in order: the image
// must exist; coordinates and confidence must be well formed; high
// confidence requires a direction; low confidence requires notes; anonymous
// contributors may only georeference an image that has no submissions yet.
//
// The write is an upsert arbitrated by the store: the insert is attempted
// first, and a uniqueness conflict on (image, submitter) is taken as the
// signal that this authenticated user already has a row, which is then
// re-read and updated inside the same transaction.
func (s *Service) Submit(ctx context.Context, request SubmitRequest) (SubmitResult, error) {
	if s.db == nil {
		s.logError(opSubmit, "missing_database", errMissingDatabase)
		return SubmitResult{}, newError(KindStoreUnavailable, opSubmit, "missing_database", errMissingDatabase)
	}

	var result SubmitResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var image Image
		err := tx.Where("id = ?", request.ImageID).Take(&image).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newError(KindNotFound, opSubmit, "image_not_found", err)
		}
		if err != nil {
			s.logError(opSubmit, "image_select_failed", err, zap.String("image_id", request.ImageID))
			return newError(KindStoreUnavailable, opSubmit, "image_select_failed", err)
		}

		latitude, err := NewLatitude(request.Latitude)
		if err != nil {
			return newError(KindInvalidInput, opSubmit, "invalid_latitude", err)
		}
		longitude, err := NewLongitude(request.Longitude)
		if err != nil {
			return newError(KindInvalidInput, opSubmit, "invalid_longitude", err)
		}
		if _, err := ParseConfidence(string(request.Confidence)); err != nil {
			return newError(KindInvalidInput, opSubmit, "invalid_confidence", err)
		}
		if request.Direction != nil {
			if _, err := NewDirection(*request.Direction); err != nil {
				return newError(KindInvalidInput, opSubmit, "invalid_direction", err)
			}
		}
		if request.Confidence == ConfidenceHigh && request.Direction == nil {
			return newError(KindRuleViolation, opSubmit, "high_confidence_requires_direction", errHighConfidenceDirection)
		}
		notes := strings.TrimSpace(request.Notes)
		if request.Confidence == ConfidenceLow && notes == "" {
			return newError(KindRuleViolation, opSubmit, "low_confidence_requires_notes", errLowConfidenceNotes)
		}

		if request.Submitter == nil {
			var existingCount int64
			if err := tx.Model(&Georeference{}).Where("image_id = ?", image.ID).Count(&existingCount).Error; err != nil {
				s.logError(opSubmit, "georeference_count_failed", err, zap.String("image_id", image.ID))
				return newError(KindStoreUnavailable, opSubmit, "georeference_count_failed", err)
			}
			if existingCount > 0 {
				return newError(KindRuleViolation, opSubmit, "already_georeferenced", errAlreadyGeoreferenced)
			}
		}

		rowID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opSubmit, "id_generation_failed", err, zap.String("image_id", image.ID))
			return newError(KindStoreUnavailable, opSubmit, "id_generation_failed", err)
		}

		now := s.clock().UTC()
		georeference := Georeference{
			ID:          rowID,
			ImageID:     image.ID,
			Latitude:    latitude,
			Longitude:   longitude,
			Direction:   request.Direction,
			Confidence:  request.Confidence,
			SubmittedBy: request.Submitter,
			Notes:       notes,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		createErr := tx.Create(&georeference).Error
		if createErr == nil {
			result = SubmitResult{GeoreferenceID: georeference.ID}
			return nil
		}
		if !isUniqueViolation(createErr) {
			s.logError(opSubmit, "georeference_insert_failed", createErr, zap.String("image_id", image.ID))
			return newError(KindStoreUnavailable, opSubmit, "georeference_insert_failed", createErr)
		}

		// The constraint only covers authenticated submitters; an anonymous
		// conflict means two first-come submissions raced and lost.
		if request.Submitter == nil {
			return newError(KindConflict, opSubmit, "anonymous_insert_conflict", errAnonymousInsertRace)
		}

		var existing Georeference
		err = tx.Where("image_id = ? AND submitted_by = ?", image.ID, *request.Submitter).Take(&existing).Error
		if err != nil {
			s.logError(opSubmit, "existing_reselect_failed", err,
				zap.String("image_id", image.ID),
				zap.String("submitted_by", *request.Submitter))
			return newError(KindConflict, opSubmit, "existing_reselect_failed", err)
		}

		updates := map[string]interface{}{
			"latitude":   latitude,
			"longitude":  longitude,
			"direction":  request.Direction,
			"confidence": request.Confidence,
			"notes":      notes,
			"updated_at": now,
		}
		if err := tx.Model(&Georeference{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
			s.logError(opSubmit, "georeference_update_failed", err, zap.String("georeference_id", existing.ID))
			return newError(KindStoreUnavailable, opSubmit, "georeference_update_failed", err)
		}

		result = SubmitResult{GeoreferenceID: existing.ID, Updated: true}
		return nil
	})

	if txErr != nil {
		return SubmitResult{}, txErr
	}
	return result, nil
}
