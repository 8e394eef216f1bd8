package api

import (
	"net/http"

	"github.com/hackgods/telehealth-scheduling/internal/review"
)

func (h *handlers) createReview(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuidParam(r, "id")
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	var req CreateReviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, h.log, err)
		return
	}

	actor := actorFrom(r)
	created, err := h.reviews.Create(r.Context(), actor, doctorID, review.Input{
		Rating:    req.Rating,
		Comment:   req.Comment,
		Anonymous: req.Anonymous,
	})
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReviewResponse(*created, actor))
}

func (h *handlers) listDoctorReviews(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuidParam(r, "id")
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	limit, err := intQuery(r, "limit", 0)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	offset, err := intQuery(r, "offset", 0)
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	reviews, summary, err := h.reviews.ForDoctor(r.Context(), doctorID, limit, offset)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, DoctorReviewsResponse{
		DoctorID:      doctorID,
		AverageRating: summary.AverageRating,
		ReviewCount:   summary.ReviewCount,
		Reviews:       toReviewResponses(reviews, actorFrom(r)),
	})
}

func (h *handlers) listMyReviews(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 0)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	offset, err := intQuery(r, "offset", 0)
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	actor := actorFrom(r)
	reviews, err := h.reviews.Mine(r.Context(), actor, limit, offset)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toReviewResponses(reviews, actor))
}

func (h *handlers) getReview(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	rv, err := h.reviews.Get(r.Context(), id)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toReviewResponse(*rv, actorFrom(r)))
}

func (h *handlers) updateReview(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	var req UpdateReviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, h.log, err)
		return
	}

	actor := actorFrom(r)
	updated, err := h.reviews.Update(r.Context(), actor, id, review.Patch{Rating: req.Rating, Comment: req.Comment})
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toReviewResponse(*updated, actor))
}

func (h *handlers) deleteReview(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	if err := h.reviews.Delete(r.Context(), actorFrom(r), id); err != nil {
		handleError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
