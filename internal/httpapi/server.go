package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/avillega/telecare/internal/config"
	"github.com/avillega/telecare/internal/observability"
	"github.com/avillega/telecare/internal/token"
	"github.com/avillega/telecare/internal/transcript"
)

type Server struct {
	cfg     config.Config
	issuer  *token.Issuer
	metrics *observability.Metrics
	stages  *observability.StageWindow
	store   transcript.Store
}

func New(cfg config.Config, issuer *token.Issuer, metrics *observability.Metrics, stages *observability.StageWindow, store transcript.Store) *Server {
	return &Server{
		cfg:     cfg,
		issuer:  issuer,
		metrics: metrics,
		stages:  stages,
		store:   store,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/connection-details", s.handleConnectionDetails)
	r.Post("/api/agent/token", s.handleAgentToken)
	r.Get("/v1/perf/connect", s.handlePerfConnect)
	r.Get("/v1/rooms/{room}/transcript", s.handleRoomTranscript)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ready",
		"token_configured": s.cfg.HasLiveKitSecrets(),
		"archive_enabled":  s.store != nil,
	})
}

// connectionDetailsRequest carries the optional room configuration a client
// can ask for. Room and identity are never caller-controlled.
type connectionDetailsRequest struct {
	RoomConfig *roomConfigRequest `json:"room_config"`
}

type roomConfigRequest struct {
	Agents []agentRequest `json:"agents"`
}

type agentRequest struct {
	AgentName string `json:"agent_name"`
}

// connectionDetailsResponse uses the field names the consultation frontend
// expects.
type connectionDetailsResponse struct {
	ServerURL        string `json:"serverUrl"`
	RoomName         string `json:"roomName"`
	ParticipantToken string `json:"participantToken"`
	ParticipantName  string `json:"participantName"`
}

func (s *Server) handleConnectionDetails(w http.ResponseWriter, r *http.Request) {
	var req connectionDetailsRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		s.metrics.TokensIssued.WithLabelValues("bad_request").Inc()
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	agentName := s.cfg.DefaultAgentName
	if req.RoomConfig != nil && len(req.RoomConfig.Agents) > 0 {
		if name := strings.TrimSpace(req.RoomConfig.Agents[0].AgentName); name != "" {
			agentName = name
		}
	}

	cred, err := s.issuer.IssueCredential(token.Request{PreferredAgentName: agentName})
	if err != nil {
		// The failure reason stays in the server log. Configuration and
		// signing problems must not reach the client in any detail.
		log.Printf("connection details issuance failed: %v", err)
		if errors.Is(err, token.ErrNotConfigured) {
			s.metrics.TokensIssued.WithLabelValues("not_configured").Inc()
		} else {
			s.metrics.TokensIssued.WithLabelValues("error").Inc()
		}
		http.Error(w, "failed to generate connection details", http.StatusInternalServerError)
		return
	}
	s.metrics.TokensIssued.WithLabelValues("ok").Inc()

	w.Header().Set("Cache-Control", "no-store")
	respondJSON(w, http.StatusOK, connectionDetailsResponse{
		ServerURL:        cred.ServerURL,
		RoomName:         cred.RoomName,
		ParticipantToken: cred.Token,
		ParticipantName:  cred.ParticipantName,
	})
}

type agentTokenRequest struct {
	RoomName        string `json:"roomName"`
	ParticipantName string `json:"participantName"`
}

// handleAgentToken issues a token for an explicit room. Local development
// helper; production clients always go through /connection-details.
func (s *Server) handleAgentToken(w http.ResponseWriter, r *http.Request) {
	var req agentTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.RoomName) == "" {
		respondError(w, http.StatusBadRequest, "missing_room_name", "roomName is required")
		return
	}

	cred, err := s.issuer.IssueForRoom(req.RoomName, strings.TrimSpace(req.ParticipantName))
	if err != nil {
		log.Printf("agent token issuance failed for room %s: %v", req.RoomName, err)
		s.metrics.TokensIssued.WithLabelValues("error").Inc()
		http.Error(w, "failed to generate token", http.StatusInternalServerError)
		return
	}
	s.metrics.TokensIssued.WithLabelValues("ok").Inc()

	w.Header().Set("Cache-Control", "no-store")
	respondJSON(w, http.StatusOK, map[string]any{
		"serverUrl":       cred.ServerURL,
		"roomName":        cred.RoomName,
		"participantName": cred.ParticipantName,
		"token":           cred.Token,
	})
}

func (s *Server) handlePerfConnect(w http.ResponseWriter, _ *http.Request) {
	if s.stages == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.stages.Snapshot())
}

func (s *Server) handleRoomTranscript(w http.ResponseWriter, r *http.Request) {
	room := strings.TrimSpace(chi.URLParam(r, "room"))
	if room == "" {
		respondError(w, http.StatusBadRequest, "missing_room", "room is required")
		return
	}
	if s.store == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "transcript archive not configured")
		return
	}

	records, err := s.store.RoomHistory(r.Context(), room, 500)
	if err != nil {
		log.Printf("transcript history for room %s failed: %v", room, err)
		respondError(w, http.StatusInternalServerError, "storage_error", "failed to load transcript")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"room":    room,
		"entries": records,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
