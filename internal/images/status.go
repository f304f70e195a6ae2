package images

import (
	"fmt"
	"strings"
)

// Status is the derived georeferencing state of an image. It is computed on
// read, never stored.
type Status string

const (
	// StatusPending means no georeference has been submitted yet.
	StatusPending Status = "pending"
	// StatusGeoreferenced means at least one georeference exists but none
	// has received a validation vote.
	StatusGeoreferenced Status = "georeferenced"
	// StatusValidated means at least one georeference has at least one
	// validation vote.
	StatusValidated Status = "validated"
	// StatusWillNotGeoref means the image is permanently excluded.
	StatusWillNotGeoref Status = "will_not_georef"
)

// ParseStatus validates raw input and returns a Status.
func ParseStatus(rawInput string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(rawInput))) {
	case StatusPending:
		return StatusPending, nil
	case StatusGeoreferenced:
		return StatusGeoreferenced, nil
	case StatusValidated:
		return StatusValidated, nil
	case StatusWillNotGeoref:
		return StatusWillNotGeoref, nil
	default:
		return "", fmt.Errorf("images: invalid status %q", rawInput)
	}
}

// DeriveStatus computes the image status from its loaded submissions and
// their validations. The priority order is: the exclusion flag wins over
// everything, then validated, then georeferenced, then pending. Total over
// any image state.
func DeriveStatus(image Image) Status {
	if image.WillNotGeoref {
		return StatusWillNotGeoref
	}
	if len(image.Georeferences) == 0 {
		return StatusPending
	}
	for _, georeference := range image.Georeferences {
		if len(georeference.Validations) > 0 {
			return StatusValidated
		}
	}
	return StatusGeoreferenced
}
