package review

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	minRating        = 1
	maxRating        = 5
	maxCommentLength = 2000
)

// Review is a patient's rating of a doctor. AppointmentID points at the
// completed appointment that made the patient eligible.
type Review struct {
	ID            uuid.UUID
	DoctorID      uuid.UUID
	PatientID     uuid.UUID
	AppointmentID uuid.UUID
	Rating        int
	Comment       string
	Anonymous     bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Summary is the aggregate kept on the doctor row.
type Summary struct {
	DoctorID      uuid.UUID
	AverageRating float64
	ReviewCount   int
}

type Input struct {
	Rating    int
	Comment   string
	Anonymous bool
}

// Patch changes only the fields that are set.
type Patch struct {
	Rating  *int
	Comment *string
}

var (
	ErrReviewNotFound  = errors.New("review not found")
	ErrDoctorNotFound  = errors.New("doctor not found")
	ErrAlreadyReviewed = errors.New("doctor already reviewed by this patient")
	ErrNotEligible     = errors.New("a doctor can only be reviewed after a completed appointment")
	ErrInvalidRating   = errors.New("rating must be an integer between 1 and 5")
	ErrInvalidComment  = errors.New("comment too long")
	ErrForbidden       = errors.New("not allowed to manage this review")
)

func validRating(r int) bool {
	return r >= minRating && r <= maxRating
}
