package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/safespace/narratives/internal/convo"
	"github.com/safespace/narratives/internal/history"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"conversations": len(s.registry.List()),
	})
}

func (s *Server) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scenarios.List())
}

func (s *Server) handleStartConversation(w http.ResponseWriter, r *http.Request) {
	var req StartConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.ScenarioID == "" {
		writeError(w, http.StatusBadRequest, "scenario_id is required")
		return
	}
	scn, ok := s.scenarios.Get(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("scenario %s not found", req.ScenarioID))
		return
	}

	eng, err := convo.NewEngine(s.config.Client, scn, s.config.Engine)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	cs := &ConversationState{
		ID:          eng.ID(),
		Engine:      eng,
		Broadcaster: NewBroadcaster(),
		StartedAt:   time.Now().UTC(),
	}
	if err := s.registry.Register(cs); err != nil {
		eng.Close()
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	go cs.Pump(s.config.Store, s.logger)

	if err := eng.Start(s.baseCtx); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.conversationsStarted.Add(r.Context(), 1,
		metric.WithAttributes(attribute.String("scenario", scn.ID)))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"conversation_id": cs.ID,
		"status":          "started",
	})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	states := s.registry.List()
	out := make([]ConversationSummary, 0, len(states))
	for _, cs := range states {
		out = append(out, ConversationSummary{
			ID:         cs.ID,
			ScenarioID: cs.Engine.Scenario().ID,
			State:      string(cs.Engine.State()),
			StartedAt:  cs.StartedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) conversation(w http.ResponseWriter, r *http.Request) (*ConversationState, bool) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "conversation id is required")
		return nil, false
	}
	cs, ok := s.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("conversation %s not found", id))
		return nil, false
	}
	return cs, true
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	cs, ok := s.conversation(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, cs.Status())
}

func (s *Server) handleConversationEvents(w http.ResponseWriter, r *http.Request) {
	cs, ok := s.conversation(w, r)
	if !ok {
		return
	}
	WriteSSE(w, r, cs.Broadcaster)
}

func (s *Server) handleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	cs, ok := s.conversation(w, r)
	if !ok {
		return
	}
	var req SubmitMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	err := cs.Engine.Submit(s.baseCtx, req.Text)
	switch {
	case err == nil:
		s.messagesSubmitted.Add(r.Context(), 1)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "streaming"})
	case errors.Is(err, convo.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, convo.ErrEnded), errors.Is(err, convo.ErrNotStarted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, convo.ErrEmptyInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleCancelStream(w http.ResponseWriter, r *http.Request) {
	cs, ok := s.conversation(w, r)
	if !ok {
		return
	}
	cs.Engine.Cancel()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleEndConversation(w http.ResponseWriter, r *http.Request) {
	cs, ok := s.conversation(w, r)
	if !ok {
		return
	}
	ev, err := cs.Engine.End(r.Context())
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.evaluationsCompleted.Add(r.Context(), 1)
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleEvaluateAgain(w http.ResponseWriter, r *http.Request) {
	cs, ok := s.conversation(w, r)
	if !ok {
		return
	}
	ev, err := cs.Engine.EvaluateAgain(r.Context())
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.evaluationsCompleted.Add(r.Context(), 1)
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if s.config.Store == nil {
		writeError(w, http.StatusNotImplemented, "history is not configured")
		return
	}
	recs, err := s.config.Store.List(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []history.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.config.Store == nil {
		writeError(w, http.StatusNotImplemented, "history is not configured")
		return
	}
	rec, err := s.config.Store.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
