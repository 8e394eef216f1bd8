package api

import (
	"net/http"

	"github.com/hackgods/telehealth-scheduling/internal/messaging"
)

func (h *handlers) listMessages(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
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

	msgs, err := h.messages.History(r.Context(), actorFrom(r), id, limit, offset)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) postMessage(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	var req PostMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, h.log, err)
		return
	}

	msg, err := h.messages.Post(r.Context(), actorFrom(r), id, req.Content)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageResponse(*msg))
}

func (h *handlers) markRead(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	n, err := h.messages.MarkRead(r.Context(), actorFrom(r), id)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, MarkReadResponse{Marked: n})
}

func (h *handlers) listFiles(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	files, err := h.messages.Files(r.Context(), actorFrom(r), id)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	out := make([]FileResponse, 0, len(files))
	for _, f := range files {
		out = append(out, toFileResponse(f))
	}
	writeJSON(w, http.StatusOK, out)
}

// attachFile records metadata for a file already written to object storage.
func (h *handlers) attachFile(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	var req AttachFileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, h.log, err)
		return
	}

	f, err := h.messages.AttachFile(r.Context(), actorFrom(r), id, messaging.FileUpload{
		OriginalName: req.OriginalName,
		StorageKey:   req.StorageKey,
		MimeType:     req.MimeType,
		SizeBytes:    req.SizeBytes,
		Kind:         messaging.FileKind(req.Kind),
	})
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFileResponse(*f))
}
