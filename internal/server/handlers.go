package server

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/bookbinder/internal/catalog"
	berrors "git.home.luguber.info/inful/bookbinder/internal/errors"
	"git.home.luguber.info/inful/bookbinder/internal/generate"
	"git.home.luguber.info/inful/bookbinder/internal/job"
	"git.home.luguber.info/inful/bookbinder/internal/model"
	"git.home.luguber.info/inful/bookbinder/internal/storage"
)

// maxAssetSize bounds uploaded documents and datasets.
const maxAssetSize = 64 << 20 // 64 MiB

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// writeJSON serializes v into an intermediate buffer first so a failed encode
// never produces a partial response body.
func writeJSON(w http.ResponseWriter, status int, v any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Error("Writing JSON response body failed", "err", err)
		return err
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	_ = writeJSON(w, status, errorResponse{Error: errorBody{Kind: kind, Message: message}})
}

// writeServiceError maps service-layer errors onto HTTP statuses: validation
// failures are 422, unknown entities 404, everything else 500.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case stderrors.Is(err, job.ErrNotFound), stderrors.Is(err, catalog.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case berrors.KindOf(err) == berrors.KindValidation:
		writeError(w, http.StatusUnprocessableEntity, string(berrors.KindValidation), err.Error())
	default:
		writeError(w, http.StatusInternalServerError, string(berrors.KindOf(err)), err.Error())
	}
}

// handleSubmitJob accepts a generation request and returns the (possibly
// pre-existing, when idempotency applies) job.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req generate.SubmitRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return
	}
	j, err := s.service.Submit(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	status := http.StatusAccepted
	if j.State == job.StateDone {
		status = http.StatusOK
	}
	_ = writeJSON(w, status, j)
}

// handleGetJob reports a job's current state.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, st)
}

// jobEventView is the API shape of one audit log entry.
type jobEventView struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// handleJobEvents lists the audit trail of a job, oldest first.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if _, err := s.service.GetStatus(r.Context(), jobID); err != nil {
		writeServiceError(w, err)
		return
	}
	events, err := s.events.GetByJobID(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	views := make([]jobEventView, 0, len(events))
	for _, ev := range events {
		views = append(views, jobEventView{
			ID:        ev.ID(),
			Type:      ev.Type(),
			Timestamp: ev.Timestamp(),
			Payload:   json.RawMessage(ev.Payload()),
		})
	}
	_ = writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "events": views})
}

// handleGetOutput streams the assembled document of a done job.
func (s *Server) handleGetOutput(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.GetOutput(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Error("Writing output document failed", "err", err)
	}
}

// handleUploadAsset ingests a document or dataset body and returns its
// checksum reference. Re-uploading identical bytes returns the same reference.
func (s *Server) handleUploadAsset(w http.ResponseWriter, r *http.Request) {
	kind := model.AssetKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = model.AssetDocument
	}
	if kind != model.AssetDocument && kind != model.AssetDataset {
		writeError(w, http.StatusUnprocessableEntity, string(berrors.KindValidation),
			"kind must be document or dataset")
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxAssetSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "read body: "+err.Error())
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusUnprocessableEntity, string(berrors.KindValidation), "empty body")
		return
	}
	if len(data) > maxAssetSize {
		writeError(w, http.StatusRequestEntityTooLarge, string(berrors.KindValidation), "asset too large")
		return
	}

	objType := storage.ObjectTypeSource
	if kind == model.AssetDataset {
		objType = storage.ObjectTypeDataset
	}
	ref, err := s.store.Put(r.Context(), &storage.Object{Type: objType, Data: data})
	if err != nil {
		writeError(w, http.StatusInternalServerError, string(berrors.KindTransientStorage), err.Error())
		return
	}

	asset := model.UploadedAsset{
		ID:       uuid.NewString(),
		Checksum: ref,
		Kind:     kind,
		Size:     int64(len(data)),
		Name:     r.URL.Query().Get("name"),
	}
	if err := s.catalog.RegisterAsset(r.Context(), asset); err != nil {
		writeError(w, http.StatusInternalServerError, string(berrors.KindTransientStorage), err.Error())
		return
	}
	_ = writeJSON(w, http.StatusCreated, map[string]any{
		"checksum": ref,
		"kind":     kind,
		"size":     len(data),
	})
}

// handleHealth is the liveness endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	_ = writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
