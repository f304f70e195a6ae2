package images

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errVoterRequired       = errors.New("validation requires an authenticated voter")
	errSelfValidation      = errors.New("self-validation")
	errDuplicateValidation = errors.New("duplicate validation")
)

// ValidateRequest describes one peer vote on a georeference.
type ValidateRequest struct {
	GeoreferenceID string
	Voter          string
	Vote           Vote
	Notes          string
}

// Validate runs the consensus engine. Votes are insert-only: a voter never
// updates or replaces an earlier vote, and a repeat attempt is rejected.
// Two concurrent identical votes are arbitrated by the uniqueness
// constraint and reported the same way as a sequential repeat.
func (s *Service) Validate(ctx context.Context, request ValidateRequest) (string, error) {
	if s.db == nil {
		s.logError(opValidate, "missing_database", errMissingDatabase)
		return "", newError(KindStoreUnavailable, opValidate, "missing_database", errMissingDatabase)
	}

	var validationID string
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var georeference Georeference
		err := tx.Where("id = ?", request.GeoreferenceID).Take(&georeference).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newError(KindNotFound, opValidate, "georeference_not_found", err)
		}
		if err != nil {
			s.logError(opValidate, "georeference_select_failed", err,
				zap.String("georeference_id", request.GeoreferenceID))
			return newError(KindStoreUnavailable, opValidate, "georeference_select_failed", err)
		}

		voter := strings.TrimSpace(request.Voter)
		if voter == "" {
			return newError(KindUnauthorized, opValidate, "authentication_required", errVoterRequired)
		}
		if georeference.SubmittedBy != nil && *georeference.SubmittedBy == voter {
			return newError(KindRuleViolation, opValidate, "self_validation", errSelfValidation)
		}

		var existingVotes int64
		err = tx.Model(&GeoreferenceValidation{}).
			Where("georeference_id = ? AND validated_by = ?", georeference.ID, voter).
			Count(&existingVotes).Error
		if err != nil {
			s.logError(opValidate, "vote_count_failed", err, zap.String("georeference_id", georeference.ID))
			return newError(KindStoreUnavailable, opValidate, "vote_count_failed", err)
		}
		if existingVotes > 0 {
			return newError(KindRuleViolation, opValidate, "duplicate_validation", errDuplicateValidation)
		}

		if _, err := ParseVote(string(request.Vote)); err != nil {
			return newError(KindInvalidInput, opValidate, "invalid_vote", err)
		}

		rowID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opValidate, "id_generation_failed", err, zap.String("georeference_id", georeference.ID))
			return newError(KindStoreUnavailable, opValidate, "id_generation_failed", err)
		}

		validation := GeoreferenceValidation{
			ID:             rowID,
			GeoreferenceID: georeference.ID,
			ValidatedBy:    voter,
			Vote:           request.Vote,
			Notes:          strings.TrimSpace(request.Notes),
			CreatedAt:      s.clock().UTC(),
		}
		if err := tx.Create(&validation).Error; err != nil {
			if isUniqueViolation(err) {
				return newError(KindRuleViolation, opValidate, "duplicate_validation", errDuplicateValidation)
			}
			s.logError(opValidate, "validation_insert_failed", err, zap.String("georeference_id", georeference.ID))
			return newError(KindStoreUnavailable, opValidate, "validation_insert_failed", err)
		}

		validationID = validation.ID
		return nil
	})

	if txErr != nil {
		return "", txErr
	}
	return validationID, nil
}
