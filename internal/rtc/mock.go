package rtc

import (
	"context"
	"sync"
	"time"
)

// MockTransport is an in-process Transport used by tests and local runs
// without a media server. Per-operation failures are scripted through the
// exported error fields; room events are injected with Push.
type MockTransport struct {
	mu sync.Mutex

	ConnectErr   error
	ConnectDelay time.Duration
	CameraErr    error
	MicErr       error
	ScreenErr    error
	ChatErr      error
	Local        Participant

	events          chan Event
	connectCalls    int
	disconnectCalls int
	connected       bool
	camera          bool
	mic             bool
	screen          bool
	sent            []string
	closed          bool
}

func NewMockTransport() *MockTransport {
	return &MockTransport{events: make(chan Event, 64)}
}

func (m *MockTransport) Connect(_ context.Context, _ string, _ string) error {
	m.mu.Lock()
	m.connectCalls++
	delay := m.ConnectDelay
	err := m.ConnectErr
	m.mu.Unlock()

	// A handshake in flight cannot be abandoned midway; teardown is
	// expected to release the connection afterwards.
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

func (m *MockTransport) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectCalls++
	m.connected = false
	if !m.closed {
		m.closed = true
		close(m.events)
	}
	return nil
}

func (m *MockTransport) SetCameraEnabled(_ context.Context, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CameraErr != nil {
		return m.CameraErr
	}
	m.camera = enabled
	return nil
}

func (m *MockTransport) SetMicrophoneEnabled(_ context.Context, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MicErr != nil {
		return m.MicErr
	}
	m.mic = enabled
	return nil
}

func (m *MockTransport) StartScreenShare(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ScreenErr != nil {
		return m.ScreenErr
	}
	m.screen = true
	return nil
}

func (m *MockTransport) StopScreenShare(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ScreenErr != nil {
		return m.ScreenErr
	}
	m.screen = false
	return nil
}

func (m *MockTransport) SendChatMessage(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ChatErr != nil {
		return m.ChatErr
	}
	m.sent = append(m.sent, text)
	return nil
}

func (m *MockTransport) LocalParticipant() Participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.Local
	p.IsLocal = true
	return p
}

func (m *MockTransport) Events() <-chan Event { return m.events }

// Push injects a room event, as the media server would. A saturated buffer
// drops the event rather than blocking under the lock, so a concurrent
// Disconnect can always proceed.
func (m *MockTransport) Push(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.events <- ev:
	default:
	}
}

func (m *MockTransport) ConnectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectCalls
}

func (m *MockTransport) DisconnectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnectCalls
}

func (m *MockTransport) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockTransport) CameraEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.camera
}

func (m *MockTransport) MicrophoneEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mic
}

func (m *MockTransport) SentMessages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	copy(out, m.sent)
	return out
}
