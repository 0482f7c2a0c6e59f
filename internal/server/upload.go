package server

import (
	"errors"
	"net/http"

	"clave-backend/internal/media"
)

// mediaUpload handles HTTP requests on "/media/upload" endpoint. Unlike the
// rest of the API the body is multipart form data, so the endpoint bypasses
// the JSON middleware. The stored blob's URL is appended to the caller's
// profile.
func (h *handler) mediaUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		w.Header().Set("Allow", "POST")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Missing multipart field \"file\"", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ctx, cancel := h.opCtx(r)
	defer cancel()

	url, err := h.blobs.Put(ctx, callerID(r), header.Filename, file)
	if err != nil {
		if errors.Is(err, media.ErrEmptyBlob) {
			http.Error(w, "Uploaded file must not be empty", http.StatusBadRequest)
			return
		}
		if errors.Is(err, media.ErrTooLarge) {
			http.Error(w, "Uploaded file is too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.writeError(w, err)
		return
	}

	if err := h.chats.AddMediaRef(ctx, callerID(r), url); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{"url": url})
}
