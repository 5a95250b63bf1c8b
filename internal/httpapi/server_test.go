package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/avillega/telecare/internal/config"
	"github.com/avillega/telecare/internal/observability"
	"github.com/avillega/telecare/internal/token"
	"github.com/avillega/telecare/internal/transcript"
)

const testSecret = "secret-material-not-for-clients"

func testServer(t *testing.T, cfg config.Config, store transcript.Store) *httptest.Server {
	t.Helper()
	issuer := token.NewIssuer(token.Options{
		ServerURL: cfg.LiveKitURL,
		APIKey:    cfg.LiveKitAPIKey,
		APISecret: cfg.LiveKitAPISecret,
		TTL:       cfg.TokenTTL,
	})
	metrics := observability.NewMetrics("test_httpapi_" + t.Name() + "_" + time.Now().Format("150405000000000"))
	srv := New(cfg, issuer, metrics, observability.NewStageWindow(64), store)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func configuredCfg() config.Config {
	return config.Config{
		LiveKitURL:       "wss://rtc.example.test",
		LiveKitAPIKey:    "api-key",
		LiveKitAPISecret: testSecret,
		TokenTTL:         15 * time.Minute,
		DefaultAgentName: "medical-assistant",
	}
}

func TestConnectionDetails(t *testing.T) {
	ts := testServer(t, configuredCfg(), nil)

	res, err := http.Post(ts.URL+"/connection-details", "application/json", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if got := res.Header.Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control = %q, want no-store", got)
	}

	var details struct {
		ServerURL        string `json:"serverUrl"`
		RoomName         string `json:"roomName"`
		ParticipantToken string `json:"participantToken"`
		ParticipantName  string `json:"participantName"`
	}
	if err := json.NewDecoder(res.Body).Decode(&details); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if details.ServerURL != "wss://rtc.example.test" {
		t.Fatalf("serverUrl = %q", details.ServerURL)
	}
	if !strings.HasPrefix(details.RoomName, "voice_assistant_room_") {
		t.Fatalf("roomName = %q", details.RoomName)
	}
	if details.ParticipantName != "user" {
		t.Fatalf("participantName = %q", details.ParticipantName)
	}
	if details.ParticipantToken == "" {
		t.Fatalf("participantToken missing")
	}

	cfg := configuredCfg()
	issuer := token.NewIssuer(token.Options{ServerURL: cfg.LiveKitURL, APIKey: cfg.LiveKitAPIKey, APISecret: cfg.LiveKitAPISecret})
	claims, err := issuer.Verify(details.ParticipantToken)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Room != details.RoomName {
		t.Fatalf("token room = %q, want %q", claims.Room, details.RoomName)
	}
	if claims.DispatchAgent != "medical-assistant" {
		t.Fatalf("dispatch agent = %q, want default medical-assistant", claims.DispatchAgent)
	}
}

func TestConnectionDetailsAgentOverride(t *testing.T) {
	ts := testServer(t, configuredCfg(), nil)

	body := `{"room_config":{"agents":[{"agent_name":"triage-nurse"}]}}`
	res, err := http.Post(ts.URL+"/connection-details", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var details struct {
		ParticipantToken string `json:"participantToken"`
	}
	if err := json.NewDecoder(res.Body).Decode(&details); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	cfg := configuredCfg()
	issuer := token.NewIssuer(token.Options{ServerURL: cfg.LiveKitURL, APIKey: cfg.LiveKitAPIKey, APISecret: cfg.LiveKitAPISecret})
	claims, err := issuer.Verify(details.ParticipantToken)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.DispatchAgent != "triage-nurse" {
		t.Fatalf("dispatch agent = %q, want triage-nurse", claims.DispatchAgent)
	}
}

func TestConnectionDetailsUnconfiguredIsOpaque(t *testing.T) {
	cfg := configuredCfg()
	cfg.LiveKitAPISecret = ""
	ts := testServer(t, cfg, nil)

	res, err := http.Post(ts.URL+"/connection-details", "application/json", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusInternalServerError)
	}
	body, _ := io.ReadAll(res.Body)
	if strings.Contains(string(body), "api-key") || strings.Contains(string(body), testSecret) {
		t.Fatalf("error body leaks credentials: %s", body)
	}
	if strings.Contains(string(body), "{") {
		t.Fatalf("error body should be plain text, got %s", body)
	}
}

func TestAgentTokenForExplicitRoom(t *testing.T) {
	ts := testServer(t, configuredCfg(), nil)

	res, err := http.Post(ts.URL+"/api/agent/token", "application/json", strings.NewReader(`{"roomName":"consult-room-7","participantName":"observer"}`))
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var payload struct {
		RoomName string `json:"roomName"`
		Token    string `json:"token"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.RoomName != "consult-room-7" {
		t.Fatalf("roomName = %q", payload.RoomName)
	}

	cfg := configuredCfg()
	issuer := token.NewIssuer(token.Options{ServerURL: cfg.LiveKitURL, APIKey: cfg.LiveKitAPIKey, APISecret: cfg.LiveKitAPISecret})
	claims, err := issuer.Verify(payload.Token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Room != "consult-room-7" {
		t.Fatalf("token room = %q", claims.Room)
	}
	if claims.Name != "observer" {
		t.Fatalf("token name = %q", claims.Name)
	}
}

func TestAgentTokenRequiresRoomName(t *testing.T) {
	ts := testServer(t, configuredCfg(), nil)

	res, err := http.Post(ts.URL+"/api/agent/token", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestRoomTranscript(t *testing.T) {
	store := transcript.NewInMemoryStore()
	rec := transcript.Record{
		RoomName:    "voice_assistant_room_1",
		EntryID:     "seg-1",
		Author:      "Assistant",
		Kind:        transcript.KindTranscription,
		Text:        "hello, how can I help",
		TimestampMS: 100,
	}
	if err := store.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	ts := testServer(t, configuredCfg(), store)

	res, err := http.Get(ts.URL + "/v1/rooms/voice_assistant_room_1/transcript")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var payload struct {
		Room    string              `json:"room"`
		Entries []transcript.Record `json:"entries"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Entries) != 1 || payload.Entries[0].Text != "hello, how can I help" {
		t.Fatalf("entries = %+v", payload.Entries)
	}
}

func TestPerfConnectSnapshot(t *testing.T) {
	ts := testServer(t, configuredCfg(), nil)

	res, err := http.Get(ts.URL + "/v1/perf/connect")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var snapshot struct {
		WindowSize int `json:"window_size"`
	}
	if err := json.NewDecoder(res.Body).Decode(&snapshot); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if snapshot.WindowSize != 64 {
		t.Fatalf("window_size = %d, want 64", snapshot.WindowSize)
	}
}

func TestHealthAndReady(t *testing.T) {
	ts := testServer(t, configuredCfg(), nil)

	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want %d", path, res.StatusCode, http.StatusOK)
		}
	}
}
