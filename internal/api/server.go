package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"spaces-summarizer/internal/models"
	"spaces-summarizer/internal/pipeline"
	"spaces-summarizer/internal/store"
	"spaces-summarizer/internal/telemetry"
)

// Inspector is the live-pipeline surface of the orchestrator. Pipeline
// state is process-local, so these routes are only served from the
// process that runs the orchestrator.
type Inspector interface {
	Status(requester string) (models.PipelineStatus, bool)
	Cancel(requester string) error
}

// Server exposes the operator surface: summary lookup, pipeline
// inspection, cancellation, and the audit trail. It is meant to sit on
// an internal network, not in front of end users.
type Server struct {
	store *store.Store
	orch  Inspector
}

// New constructs the operator API server. A nil inspector disables the
// pipeline routes and leaves the store-backed ones.
func New(st *store.Store, orch Inspector) *Server {
	return &Server{store: st, orch: orch}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Get("/summaries/{id}", s.handleGetSummary)
	r.Get("/proofs/{signature}", s.handleGetProof)
	r.Get("/audit/{requester}", s.handleAudit)
	if s.orch != nil {
		r.Get("/pipelines/{requester}", s.handleGetPipeline)
		r.Post("/pipelines/{requester}/cancel", s.handleCancel)
	}
	return r
}

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.store.GetSummary(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrRecordNotFound) {
			http.Error(w, "summary not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleGetProof answers whether a payment signature was already
// consumed, for support inquiries about rejected payments.
func (s *Server) handleGetProof(w http.ResponseWriter, r *http.Request) {
	signature := chi.URLParam(r, "signature")
	consumed, err := s.store.ProofConsumed(r.Context(), signature)
	if err != nil {
		http.Error(w, "failed to check proof", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"signature": signature, "consumed": consumed})
}

func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	requester := chi.URLParam(r, "requester")
	status, ok := s.orch.Status(requester)
	if !ok {
		http.Error(w, "no pipeline for requester", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	requester := chi.URLParam(r, "requester")
	if err := s.orch.Cancel(requester); err != nil {
		if errors.Is(err, pipeline.ErrNoPendingRequest) {
			http.Error(w, "no pipeline to cancel", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to cancel pipeline", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	requester := chi.URLParam(r, "requester")
	entries, err := s.store.AuditTrail(r.Context(), requester, 100)
	if err != nil {
		http.Error(w, "failed to read audit trail", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
