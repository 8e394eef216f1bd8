package review

import (
	"context"
	"maps"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type pair struct{ patient, doctor uuid.UUID }

type memState struct {
	doctors   map[uuid.UUID]Summary
	completed map[pair]uuid.UUID
	reviews   map[uuid.UUID]Review
}

func (s *memState) clone() *memState {
	return &memState{
		doctors:   maps.Clone(s.doctors),
		completed: maps.Clone(s.completed),
		reviews:   maps.Clone(s.reviews),
	}
}

// memRepo runs each transaction on a copy and swaps it in on success.
type memRepo struct {
	mu sync.Mutex
	st *memState

	failTx error
}

func newMemRepo() *memRepo {
	return &memRepo{st: &memState{
		doctors:   map[uuid.UUID]Summary{},
		completed: map[pair]uuid.UUID{},
		reviews:   map[uuid.UUID]Review{},
	}}
}

func (r *memRepo) WithTx(_ context.Context, fn func(tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failTx != nil {
		return r.failTx
	}
	work := r.st.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	r.st = work
	return nil
}

func (r *memRepo) GetReview(_ context.Context, id uuid.UUID) (*Review, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rv, ok := r.st.reviews[id]
	if !ok {
		return nil, ErrReviewNotFound
	}
	return &rv, nil
}

func (r *memRepo) list(keep func(Review) bool, limit, offset int) []Review {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Review
	for _, rv := range r.st.reviews {
		if keep(rv) {
			out = append(out, rv)
		}
	}
	slices.SortFunc(out, func(a, b Review) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if offset >= len(out) {
		return nil
	}
	return out[offset:min(offset+limit, len(out))]
}

func (r *memRepo) ListForDoctor(_ context.Context, doctorID uuid.UUID, limit, offset int) ([]Review, error) {
	return r.list(func(rv Review) bool { return rv.DoctorID == doctorID }, limit, offset), nil
}

func (r *memRepo) ListForPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Review, error) {
	return r.list(func(rv Review) bool { return rv.PatientID == patientID }, limit, offset), nil
}

func (r *memRepo) Summary(_ context.Context, doctorID uuid.UUID) (*Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.st.doctors[doctorID]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &s, nil
}

type memTx struct {
	st *memState
}

func (t *memTx) LockDoctor(_ context.Context, doctorID uuid.UUID) error {
	if _, ok := t.st.doctors[doctorID]; !ok {
		return ErrDoctorNotFound
	}
	return nil
}

func (t *memTx) CompletedAppointment(_ context.Context, patientID, doctorID uuid.UUID) (uuid.UUID, error) {
	id, ok := t.st.completed[pair{patientID, doctorID}]
	if !ok {
		return uuid.Nil, ErrNotEligible
	}
	return id, nil
}

func (t *memTx) GetReviewForUpdate(_ context.Context, id uuid.UUID) (*Review, error) {
	rv, ok := t.st.reviews[id]
	if !ok {
		return nil, ErrReviewNotFound
	}
	return &rv, nil
}

func (t *memTx) InsertReview(_ context.Context, r Review) (*Review, error) {
	for _, other := range t.st.reviews {
		if other.PatientID == r.PatientID && other.DoctorID == r.DoctorID {
			return nil, ErrAlreadyReviewed
		}
	}
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	t.st.reviews[r.ID] = r
	return &r, nil
}

func (t *memTx) UpdateReview(_ context.Context, id uuid.UUID, rating int, comment string) (*Review, error) {
	rv, ok := t.st.reviews[id]
	if !ok {
		return nil, ErrReviewNotFound
	}
	rv.Rating, rv.Comment, rv.UpdatedAt = rating, comment, time.Now()
	t.st.reviews[id] = rv
	return &rv, nil
}

func (t *memTx) DeleteReview(_ context.Context, id uuid.UUID) error {
	if _, ok := t.st.reviews[id]; !ok {
		return ErrReviewNotFound
	}
	delete(t.st.reviews, id)
	return nil
}

func (t *memTx) RefreshSummary(_ context.Context, doctorID uuid.UUID) (*Summary, error) {
	var sum, n int
	for _, rv := range t.st.reviews {
		if rv.DoctorID == doctorID {
			sum += rv.Rating
			n++
		}
	}
	s := Summary{DoctorID: doctorID, ReviewCount: n}
	if n > 0 {
		s.AverageRating = math.Round(float64(sum)/float64(n)*100) / 100
	}
	t.st.doctors[doctorID] = s
	return &s, nil
}
