package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/avillega/telecare/internal/observability"
	"github.com/avillega/telecare/internal/reliability"
	"github.com/avillega/telecare/internal/rtc"
)

type options struct {
	baseURL     string
	agentName   string
	hold        time.Duration
	attempts    int
	backoffBase time.Duration
	backoffCap  time.Duration
	chatText    string
	verbose     bool
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "roomprobe: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "roomprobe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var holdMS int
	var backoffBaseMS int
	var backoffCapMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "telecare base URL")
	flag.StringVar(&cfg.agentName, "agent", "", "optional agent to request for the room")
	flag.IntVar(&holdMS, "hold-ms", 5000, "how long to stay in the room in milliseconds")
	flag.IntVar(&cfg.attempts, "attempts", 3, "max connect attempts")
	flag.IntVar(&backoffBaseMS, "backoff-base-ms", 250, "base retry backoff in milliseconds")
	flag.IntVar(&backoffCapMS, "backoff-cap-ms", 2000, "retry backoff cap in milliseconds")
	flag.StringVar(&cfg.chatText, "chat", "probe check-in", "chat message sent once connected (empty to skip)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print probe progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.attempts <= 0 {
		return options{}, fmt.Errorf("attempts must be > 0")
	}
	if holdMS < 0 {
		holdMS = 0
	}
	cfg.hold = time.Duration(holdMS) * time.Millisecond
	cfg.backoffBase = time.Duration(backoffBaseMS) * time.Millisecond
	cfg.backoffCap = time.Duration(backoffCapMS) * time.Millisecond
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	stages := observability.NewStageWindow(64)
	tokens := &rtc.HTTPTokenSource{BaseURL: cfg.baseURL, AgentName: cfg.agentName}

	var lastErr error
	var ctrl *rtc.Controller
	for attempt := 0; attempt < cfg.attempts; attempt++ {
		if attempt > 0 {
			delay := reliability.ExponentialBackoff(attempt-1, cfg.backoffBase, cfg.backoffCap)
			if cfg.verbose {
				fmt.Printf("roomprobe: retrying in %s (attempt %d/%d)\n", delay, attempt+1, cfg.attempts)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		// A controller is one attempt; a retry needs a fresh one.
		ctrl = rtc.NewController(tokens, rtc.NewWSTransport(), rtc.Options{Stages: stages})
		lastErr = ctrl.Connect(ctx)
		if lastErr == nil {
			break
		}
		if cfg.verbose {
			fmt.Fprintf(os.Stderr, "roomprobe: connect failed: %v\n", lastErr)
		}
		if !reliability.IsRetryableSessionError(lastErr) {
			return lastErr
		}
	}
	if lastErr != nil {
		return fmt.Errorf("connect after %d attempts: %w", cfg.attempts, lastErr)
	}
	defer ctrl.Disconnect()

	state := ctrl.State()
	if cfg.verbose {
		fmt.Printf("roomprobe: connected room=%s participants=%d camera=%v mic=%v\n",
			state.RoomName, len(state.Participants), state.Media.CameraOn, state.Media.MicrophoneOn)
	}

	ctrl.ToggleScreenShare(ctx)
	ctrl.ToggleScreenShare(ctx)
	if cfg.chatText != "" {
		ctrl.SendMessage(ctx, cfg.chatText)
	}

	if cfg.hold > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(cfg.hold):
		}
	}

	state = ctrl.State()
	if cfg.verbose {
		fmt.Printf("roomprobe: leaving room=%s elapsed=%ds entries=%d\n",
			state.RoomName, state.ElapsedSeconds, len(ctrl.Messages()))
	}
	ctrl.Disconnect()

	return printSnapshot(stages.Snapshot())
}

func printSnapshot(snap observability.StageSnapshot) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}
