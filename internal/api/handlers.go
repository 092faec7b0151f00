package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/store"
)

// maxRequestBody caps JSON request bodies.
const maxRequestBody = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "ok"}))
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var req models.RespondRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		slog.Warn("Server.handleRespond: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	resp, err := s.responder.Respond(r.Context(), req)
	if err != nil {
		if isValidationError(err) {
			slog.Warn("Server.handleRespond: validation failed", "error", err, "memberID", req.MemberID)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.handleRespond: respond failed", "error", err, "memberID", req.MemberID, "conversationID", req.ConversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to generate response"))
		return
	}

	if resp.Kind == models.ResponseQuotaExceeded {
		writeJSONResponse(w, http.StatusOK, models.QuotaExceeded(resp.Message, resp))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(resp))
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	if s.opts.States == nil {
		writeJSONResponse(w, http.StatusNotImplemented, models.Error("No state store configured"))
		return
	}
	id := chi.URLParam(r, "id")
	rec, err := s.opts.States.GetState(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}
	if err != nil {
		slog.Error("Server.handleGetConversation: load failed", "error", err, "conversationID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load conversation"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(rec))
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if s.opts.States == nil {
		writeJSONResponse(w, http.StatusNotImplemented, models.Error("No state store configured"))
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.opts.States.DeleteState(r.Context(), id); err != nil {
		slog.Error("Server.handleDeleteConversation: delete failed", "error", err, "conversationID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete conversation"))
		return
	}
	slog.Info("Server.handleDeleteConversation: conversation deleted", "conversationID", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Conversation deleted", nil))
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	if s.opts.Profiles == nil {
		writeJSONResponse(w, http.StatusNotImplemented, models.Error("No profile store configured"))
		return
	}
	memberID := chi.URLParam(r, "id")
	profile, err := s.opts.Profiles.GetProfile(r.Context(), memberID)
	if err != nil {
		slog.Error("Server.handleGetProfile: load failed", "error", err, "memberID", memberID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load profile"))
		return
	}
	if profile == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Profile not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(profile))
}

// handlePutProfile replaces the member's profile snapshot. The path id wins
// over any member_id in the body.
func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	if s.opts.Profiles == nil {
		writeJSONResponse(w, http.StatusNotImplemented, models.Error("No profile store configured"))
		return
	}
	memberID := chi.URLParam(r, "id")
	var profile models.MemberProfile
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&profile); err != nil {
		slog.Warn("Server.handlePutProfile: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	profile.MemberID = memberID
	if err := s.opts.Profiles.PutProfile(r.Context(), &profile); err != nil {
		slog.Error("Server.handlePutProfile: save failed", "error", err, "memberID", memberID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save profile"))
		return
	}
	slog.Info("Server.handlePutProfile: profile saved", "memberID", memberID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Profile saved", nil))
}

func (s *Server) handleAddWorkout(w http.ResponseWriter, r *http.Request) {
	if s.opts.Workouts == nil {
		writeJSONResponse(w, http.StatusNotImplemented, models.Error("No workout log configured"))
		return
	}
	memberID := chi.URLParam(r, "id")
	var entry models.WorkoutLogEntry
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&entry); err != nil {
		slog.Warn("Server.handleAddWorkout: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if entry.Duration <= 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("duration_minutes must be positive"))
		return
	}
	entry.MemberID = memberID
	if entry.PerformedAt.IsZero() {
		entry.PerformedAt = time.Now().UTC()
	}
	id, err := s.opts.Workouts.AddWorkout(r.Context(), entry)
	if err != nil {
		slog.Error("Server.handleAddWorkout: save failed", "error", err, "memberID", memberID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to log workout"))
		return
	}
	entry.ID = id
	writeJSONResponse(w, http.StatusCreated, models.Success(entry))
}
