package rtc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPTokenSource fetches connection details from the token endpoint
// (POST /connection-details). When AgentName is set, the request asks the
// room to dispatch that agent.
type HTTPTokenSource struct {
	BaseURL   string
	AgentName string
	Client    *http.Client
}

type connectionDetailsRequest struct {
	RoomConfig *roomConfigRequest `json:"room_config,omitempty"`
}

type roomConfigRequest struct {
	Agents []agentRequest `json:"agents,omitempty"`
}

type agentRequest struct {
	AgentName string `json:"agent_name"`
}

func (s *HTTPTokenSource) ConnectionDetails(ctx context.Context) (ConnectionDetails, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	var reqBody connectionDetailsRequest
	if s.AgentName != "" {
		reqBody.RoomConfig = &roomConfigRequest{
			Agents: []agentRequest{{AgentName: s.AgentName}},
		}
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return ConnectionDetails{}, fmt.Errorf("encode request: %w", err)
	}

	url := strings.TrimRight(s.BaseURL, "/") + "/connection-details"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return ConnectionDetails{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return ConnectionDetails{}, fmt.Errorf("fetch connection details: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ConnectionDetails{}, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var details ConnectionDetails
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return ConnectionDetails{}, fmt.Errorf("decode connection details: %w", err)
	}
	if details.ServerURL == "" || details.ParticipantToken == "" {
		return ConnectionDetails{}, fmt.Errorf("token endpoint returned incomplete details")
	}
	return details, nil
}

// StaticTokenSource returns fixed connection details; used by tests and by
// clients that already hold a credential.
type StaticTokenSource struct {
	Details ConnectionDetails
	Err     error
	Delay   time.Duration

	calls int
}

func (s *StaticTokenSource) ConnectionDetails(ctx context.Context) (ConnectionDetails, error) {
	s.calls++
	if s.Delay > 0 {
		select {
		case <-ctx.Done():
			return ConnectionDetails{}, ctx.Err()
		case <-time.After(s.Delay):
		}
	}
	if s.Err != nil {
		return ConnectionDetails{}, s.Err
	}
	return s.Details, nil
}
