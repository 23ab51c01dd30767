package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	errorvalues "github.com/limbo/routinesync/internal/error_values"
	"github.com/limbo/routinesync/pkg/entity"
	"github.com/limbo/routinesync/pkg/httputil"
)

type ToggleCompleteRequest struct {
	Completed bool `json:"completed"`
}

func (s *Server) GetRoutines(w http.ResponseWriter, r *http.Request) {
	logger := GetLoggerFromCtx(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), time.Second*10)
	defer cancel()
	snap, err := s.coordinator.Snapshot(ctx)
	if err != nil {
		logger.Error("snapshot error", slog.String("error", err.Error()))
		httputil.WriteErrorResponse(w, http.StatusInternalServerError, "internal error reading routines", nil)
		return
	}
	httputil.WriteJSONResponse(w, http.StatusOK, snap)
}

func (s *Server) CreateRoutine(w http.ResponseWriter, r *http.Request) {
	logger := GetLoggerFromCtx(r.Context())
	var input entity.RoutineInput
	defer r.Body.Close()
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&input); err != nil {
		logger.Error("create routine error: invalid body")
		httputil.WriteErrorResponse(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), time.Second*15)
	defer cancel()
	routine, err := s.coordinator.Create(ctx, &input)
	if err != nil {
		s.writeMutationError(w, logger, "create routine", err)
		return
	}
	httputil.WriteJSONResponse(w, http.StatusCreated, routine)
	logger.Info("routine created", slog.String("routine_id", routine.ID.String()))
}

func (s *Server) UpdateRoutine(w http.ResponseWriter, r *http.Request) {
	logger := GetLoggerFromCtx(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteErrorResponse(w, http.StatusBadRequest, "invalid routine id", nil)
		return
	}
	var patch entity.RoutinePatch
	defer r.Body.Close()
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&patch); err != nil {
		logger.Error("update routine error: invalid body")
		httputil.WriteErrorResponse(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	patch.ID = id
	ctx, cancel := context.WithTimeout(r.Context(), time.Second*15)
	defer cancel()
	routine, err := s.coordinator.Update(ctx, &patch)
	if err != nil {
		s.writeMutationError(w, logger, "update routine", err)
		return
	}
	httputil.WriteJSONResponse(w, http.StatusOK, routine)
	logger.Info("routine updated", slog.String("routine_id", routine.ID.String()))
}

func (s *Server) ToggleComplete(w http.ResponseWriter, r *http.Request) {
	logger := GetLoggerFromCtx(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteErrorResponse(w, http.StatusBadRequest, "invalid routine id", nil)
		return
	}
	var req ToggleCompleteRequest
	defer r.Body.Close()
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("toggle complete error: invalid body")
		httputil.WriteErrorResponse(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), time.Second*15)
	defer cancel()
	routine, err := s.coordinator.ToggleComplete(ctx, id, req.Completed)
	if err != nil {
		s.writeMutationError(w, logger, "toggle complete", err)
		return
	}
	httputil.WriteJSONResponse(w, http.StatusOK, routine)
}

func (s *Server) DeleteRoutine(w http.ResponseWriter, r *http.Request) {
	logger := GetLoggerFromCtx(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteErrorResponse(w, http.StatusBadRequest, "invalid routine id", nil)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), time.Second*15)
	defer cancel()
	if err := s.coordinator.Delete(ctx, id); err != nil {
		s.writeMutationError(w, logger, "delete routine", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
	logger.Info("routine deleted", slog.String("routine_id", id.String()))
}

// writeMutationError maps coordinator errors onto the status table: bad
// input → 400, unknown routine → 404, foreign routine → 403, anything else
// (remote or storage fault) → 502 so the client knows the write did not land.
func (s *Server) writeMutationError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, errorvalues.ErrInvalidRoutine), errors.Is(err, errorvalues.ErrEmptyPatch):
		logger.Error(op+" error: validation failed", slog.String("error", err.Error()))
		httputil.WriteErrorResponse(w, http.StatusBadRequest, "routine failed validation", err)
	case errors.Is(err, errorvalues.ErrRoutineNotFound):
		logger.Error(op + " error: routine not found")
		httputil.WriteErrorResponse(w, http.StatusNotFound, "routine not found", nil)
	case errors.Is(err, errorvalues.ErrWrongOwner):
		logger.Error(op + " error: wrong owner")
		httputil.WriteErrorResponse(w, http.StatusForbidden, "routine belongs to another owner", nil)
	case errors.Is(err, errorvalues.ErrSessionClosed):
		logger.Error(op + " error: session closed")
		httputil.WriteErrorResponse(w, http.StatusServiceUnavailable, "sync session is shut down", nil)
	default:
		logger.Error(op+" error: service error", slog.String("error", err.Error()))
		httputil.WriteErrorResponse(w, http.StatusBadGateway, "write not accepted by remote store", nil)
	}
}
