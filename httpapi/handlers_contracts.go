package httpapi

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"expertflow/apperr"
	"expertflow/deliverable"
)

func (s *Server) handleListMyContracts(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.Contracts.ListMine(r.Context(), caller(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(mapSlice(items, toContract), len(items)))
}

func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.Contracts.Get(r.Context(), chi.URLParam(r, "id"), caller(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toContract(c))
}

type completeResponse struct {
	Contract contractResponse `json:"contract"`
	Review   reviewResponse   `json:"review"`
}

func (s *Server) handleCompleteContract(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rating  int    `json:"rating"`
		Comment string `json:"comment"`
	}
	if err := readJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	c, review, err := s.svc.Contracts.Complete(r.Context(), chi.URLParam(r, "id"), caller(r), body.Rating, body.Comment)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, completeResponse{Contract: toContract(c), Review: toReview(review)})
}

func (s *Server) handleContractEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.svc.Contracts.Events(r.Context(), chi.URLParam(r, "id"), caller(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(mapSlice(events, toEvent), len(events)))
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.svc.Contracts.Messages(r.Context(), chi.URLParam(r, "id"), caller(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(mapSlice(msgs, toMessage), len(msgs)))
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Body string `json:"body"`
	}
	if err := readJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	msg, err := s.svc.Contracts.PostMessage(r.Context(), chi.URLParam(r, "id"), caller(r), body.Body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessage(msg))
}

func (s *Server) handleReturnForRevision(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := readJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	c, err := s.svc.Contracts.ReturnForRevision(r.Context(), chi.URLParam(r, "id"), caller(r), body.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toContract(c))
}

type adminContractResponse struct {
	contractResponse
	Deliverables []deliverableResponse `json:"deliverables"`
}

func (s *Server) handleAdminContract(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Deliverables.AdminContractView(r.Context(), chi.URLParam(r, "id"), caller(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, adminContractResponse{
		contractResponse: toContract(view.Contract),
		Deliverables:     mapSlice(view.Deliverables, toDeliverable),
	})
}

func (s *Server) handleUploadDeliverable(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(w, r, apperr.Validation("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.fail(w, r, apperr.Validation("expected multipart/form-data: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.fail(w, r, apperr.Validation("file field required"))
		return
	}
	defer file.Close()

	mediaType := header.Header.Get("Content-Type")
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = parsed
	}

	d, err := s.svc.Deliverables.Upload(r.Context(), chi.URLParam(r, "id"), caller(r),
		deliverable.Kind(strings.ToUpper(strings.TrimSpace(r.FormValue("kind")))),
		deliverable.File{
			Name:      header.Filename,
			MediaType: mediaType,
			Size:      header.Size,
			Body:      file,
		})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDeliverable(d))
}

func (s *Server) handleListDeliverables(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.Deliverables.ListFor(r.Context(), chi.URLParam(r, "id"), caller(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(mapSlice(items, toDeliverable), len(items)))
}

// handleDownloadDeliverable redirects to a presigned URL when the store
// offers one and streams the file otherwise.
func (s *Server) handleDownloadDeliverable(w http.ResponseWriter, r *http.Request) {
	d, url, body, err := s.svc.Deliverables.Download(r.Context(), chi.URLParam(r, "id"), caller(r), s.opts.DownloadTTL)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if url != "" {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", d.MediaType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": d.OriginalName}))
	if d.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(d.SizeBytes, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		s.log.Warn(r.Context(), "download interrupted", "deliverable_id", d.ID, "error", err)
	}
}

func (s *Server) handleVerifyDeliverable(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.Deliverables.Verify(r.Context(), chi.URLParam(r, "id"), caller(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeliverable(d))
}
