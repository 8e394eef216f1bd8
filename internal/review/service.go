package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-scheduling/internal/auth"
)

const (
	defaultListLimit = 10
	maxListLimit     = 100
)

// Service lets patients rate doctors they have completed an appointment
// with. The doctor's average rating and review count are recomputed in the
// same transaction as every write.
type Service struct {
	repo Repository
	log  *zap.Logger
}

func NewService(repo Repository, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, log: log}
}

func (s *Service) Create(ctx context.Context, actor auth.Actor, doctorID uuid.UUID, in Input) (*Review, error) {
	if actor.Role != auth.RolePatient {
		return nil, ErrForbidden
	}
	if !validRating(in.Rating) {
		return nil, ErrInvalidRating
	}
	comment, err := cleanComment(in.Comment)
	if err != nil {
		return nil, err
	}

	var created *Review
	var summary *Summary
	err = s.repo.WithTx(ctx, func(tx Tx) error {
		if err := tx.LockDoctor(ctx, doctorID); err != nil {
			return err
		}
		apptID, err := tx.CompletedAppointment(ctx, actor.ID, doctorID)
		if err != nil {
			return err
		}
		created, err = tx.InsertReview(ctx, Review{
			ID:            uuid.New(),
			DoctorID:      doctorID,
			PatientID:     actor.ID,
			AppointmentID: apptID,
			Rating:        in.Rating,
			Comment:       comment,
			Anonymous:     in.Anonymous,
		})
		if err != nil {
			return err
		}
		summary, err = tx.RefreshSummary(ctx, doctorID)
		return err
	})
	if err != nil {
		return nil, wrapStorage("create review", err)
	}

	s.log.Info("review created",
		zap.String("review_id", created.ID.String()),
		zap.String("doctor_id", doctorID.String()),
		zap.Float64("average_rating", summary.AverageRating),
		zap.Int("review_count", summary.ReviewCount),
	)
	return created, nil
}

// Update lets the author change the rating or the comment.
func (s *Service) Update(ctx context.Context, actor auth.Actor, id uuid.UUID, p Patch) (*Review, error) {
	if p.Rating != nil && !validRating(*p.Rating) {
		return nil, ErrInvalidRating
	}

	var updated *Review
	err := s.repo.WithTx(ctx, func(tx Tx) error {
		cur, err := tx.GetReviewForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if cur.PatientID != actor.ID {
			return ErrForbidden
		}

		rating, comment := cur.Rating, cur.Comment
		if p.Rating != nil {
			rating = *p.Rating
		}
		if p.Comment != nil {
			if comment, err = cleanComment(*p.Comment); err != nil {
				return err
			}
		}

		if err := tx.LockDoctor(ctx, cur.DoctorID); err != nil {
			return err
		}
		if updated, err = tx.UpdateReview(ctx, id, rating, comment); err != nil {
			return err
		}
		_, err = tx.RefreshSummary(ctx, cur.DoctorID)
		return err
	})
	if err != nil {
		return nil, wrapStorage("update review", err)
	}
	return updated, nil
}

// Delete is open to the author and to admins.
func (s *Service) Delete(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	err := s.repo.WithTx(ctx, func(tx Tx) error {
		cur, err := tx.GetReviewForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if cur.PatientID != actor.ID && !actor.IsAdmin() {
			return ErrForbidden
		}
		if err := tx.LockDoctor(ctx, cur.DoctorID); err != nil {
			return err
		}
		if err := tx.DeleteReview(ctx, id); err != nil {
			return err
		}
		_, err = tx.RefreshSummary(ctx, cur.DoctorID)
		return err
	})
	if err != nil {
		return wrapStorage("delete review", err)
	}
	s.log.Info("review deleted", zap.String("review_id", id.String()), zap.String("actor_id", actor.ID.String()))
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Review, error) {
	r, err := s.repo.GetReview(ctx, id)
	if err != nil {
		return nil, wrapStorage("get review", err)
	}
	return r, nil
}

// ForDoctor returns one page of the doctor's reviews, newest first, with
// the stored summary.
func (s *Service) ForDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Review, *Summary, error) {
	summary, err := s.repo.Summary(ctx, doctorID)
	if err != nil {
		return nil, nil, wrapStorage("load rating summary", err)
	}
	reviews, err := s.repo.ListForDoctor(ctx, doctorID, clampLimit(limit), max(offset, 0))
	if err != nil {
		return nil, nil, wrapStorage("list doctor reviews", err)
	}
	return reviews, summary, nil
}

func (s *Service) Mine(ctx context.Context, actor auth.Actor, limit, offset int) ([]Review, error) {
	if actor.Role != auth.RolePatient {
		return nil, ErrForbidden
	}
	reviews, err := s.repo.ListForPatient(ctx, actor.ID, clampLimit(limit), max(offset, 0))
	if err != nil {
		return nil, wrapStorage("list patient reviews", err)
	}
	return reviews, nil
}

func cleanComment(c string) (string, error) {
	c = strings.TrimSpace(c)
	if utf8.RuneCountInString(c) > maxCommentLength {
		return "", ErrInvalidComment
	}
	return c, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return min(limit, maxListLimit)
}

var domainErrors = []error{
	ErrReviewNotFound,
	ErrDoctorNotFound,
	ErrAlreadyReviewed,
	ErrNotEligible,
	ErrInvalidRating,
	ErrInvalidComment,
	ErrForbidden,
}

func wrapStorage(op string, err error) error {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
