package rtc

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/avillega/telecare/internal/observability"
	"github.com/avillega/telecare/internal/timeline"
	"github.com/avillega/telecare/internal/transcript"
)

type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseConnecting   Phase = "connecting"
	PhaseConnected    Phase = "connected"
	PhaseDisconnected Phase = "disconnected"
	PhaseFailed       Phase = "failed"
)

// MediaState mirrors which local devices are currently published.
type MediaState struct {
	CameraOn      bool `json:"camera_on"`
	MicrophoneOn  bool `json:"microphone_on"`
	ScreenShareOn bool `json:"screen_share_on"`
}

// State is a consistent snapshot of one participation attempt.
type State struct {
	Phase          Phase         `json:"phase"`
	ErrMessage     string        `json:"error,omitempty"`
	RoomName       string        `json:"room_name,omitempty"`
	Participants   []Participant `json:"participants"`
	Media          MediaState    `json:"media"`
	Quality        Quality       `json:"quality"`
	StartedAt      time.Time     `json:"started_at"`
	ElapsedSeconds int           `json:"elapsed_seconds"`
}

// Options carry the optional collaborators of a Controller.
type Options struct {
	Metrics *observability.Metrics
	Stages  *observability.StageWindow
	Store   transcript.Store
}

// Controller owns one client's participation in a room: connect, device
// control, event mirroring, duration tracking, disconnect. One instance is
// one attempt; terminal states stay terminal and a retry is a new instance.
//
// User-facing operations are expected to be called from one goroutine, but
// transport events arrive concurrently and every state mutation is applied
// under the controller lock, so snapshots are never torn.
type Controller struct {
	tokens    TokenSource
	transport Transport
	metrics   *observability.Metrics
	stages    *observability.StageWindow
	store     transcript.Store

	roster       *Roster
	conversation *timeline.Timeline

	mu        sync.Mutex
	phase     Phase
	errMsg    string
	media     MediaState
	quality   Quality
	roomName  string
	startedAt time.Time
	elapsed   int

	stop     chan struct{}
	loopDone chan struct{}
}

func NewController(tokens TokenSource, transport Transport, opts Options) *Controller {
	return &Controller{
		tokens:       tokens,
		transport:    transport,
		metrics:      opts.Metrics,
		stages:       opts.Stages,
		store:        opts.Store,
		roster:       NewRoster(),
		conversation: timeline.New(),
		phase:        PhaseIdle,
		quality:      QualityExcellent,
	}
}

// Connect performs the full join sequence: fetch connection details, run the
// transport handshake, start mirroring room events, then enable camera and
// microphone. Token fetch and handshake failures are hard; device failures
// are soft and leave the session connected with the device off.
//
// Calling Connect while a connect is in flight or already established is a
// no-op; exactly one transport attempt happens either way.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.phase {
	case PhaseConnecting, PhaseConnected:
		c.mu.Unlock()
		return nil
	case PhaseDisconnected, PhaseFailed:
		c.mu.Unlock()
		return ErrControllerUsed
	}
	c.phase = PhaseConnecting
	c.mu.Unlock()

	start := time.Now()

	details, err := c.tokens.ConnectionDetails(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
		c.failConnect(observability.StageTokenFetch, err)
		return err
	}
	c.stages.Observe(observability.StageTokenFetch, time.Since(start))

	hsStart := time.Now()
	if err := c.transport.Connect(ctx, details.ServerURL, details.ParticipantToken); err != nil {
		err = fmt.Errorf("%w: %v", ErrTransportConnect, err)
		c.failConnect(observability.StageHandshake, err)
		return err
	}
	c.stages.Observe(observability.StageHandshake, time.Since(hsStart))

	local := c.transport.LocalParticipant()
	if local.Name == "" {
		local.Name = details.ParticipantName
	}
	c.roster.SetLocal(local)

	c.mu.Lock()
	c.roomName = details.RoomName
	c.loopDone = make(chan struct{})
	c.mu.Unlock()

	// Room events are only mirrored from here on; the transport contract
	// guarantees nothing was delivered before Connect returned.
	go c.eventLoop()

	devStart := time.Now()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.enableCamera(ctx)
	}()
	go func() {
		defer wg.Done()
		c.enableMicrophone(ctx)
	}()
	wg.Wait()
	c.stages.Observe(observability.StageDeviceEnable, time.Since(devStart))

	c.mu.Lock()
	if c.phase != PhaseConnecting {
		// Torn down while we were finishing up. Disconnect already ran, but
		// it may have fired before the handshake resolved, so release the
		// connection that just came up.
		loopDone := c.loopDone
		c.mu.Unlock()
		if err := c.transport.Disconnect(); err != nil {
			log.Printf("transport disconnect: %v", err)
		}
		if loopDone != nil {
			<-loopDone
		}
		return nil
	}
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		c.Disconnect()
		return err
	}
	c.phase = PhaseConnected
	c.startedAt = time.Now().UTC()
	c.stop = make(chan struct{})
	stop := c.stop
	c.mu.Unlock()

	c.stages.Observe(observability.StageConnectTotal, time.Since(start))
	if c.metrics != nil {
		c.metrics.ObserveConnectLatency(time.Since(start))
		c.metrics.SessionEvents.WithLabelValues("connected").Inc()
		c.metrics.ActiveSessions.Inc()
	}

	go c.runTicker(stop)
	go func() {
		select {
		case <-ctx.Done():
			c.Disconnect()
		case <-stop:
		}
	}()
	return nil
}

// Disconnect releases the transport connection and stops the duration
// ticker. Safe to call multiple times and from any state.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	if c.phase != PhaseConnecting && c.phase != PhaseConnected {
		c.mu.Unlock()
		return
	}
	wasConnected := c.phase == PhaseConnected
	c.phase = PhaseDisconnected
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	loopDone := c.loopDone
	c.mu.Unlock()

	if err := c.transport.Disconnect(); err != nil {
		log.Printf("transport disconnect: %v", err)
	}
	if loopDone != nil {
		<-loopDone
	}
	if c.metrics != nil {
		c.metrics.SessionEvents.WithLabelValues("disconnected").Inc()
		if wasConnected {
			c.metrics.ActiveSessions.Dec()
		}
	}
}

// ToggleCamera flips the camera only after the transport accepts the change.
// A failure leaves the flag untouched and the session running.
func (c *Controller) ToggleCamera(ctx context.Context) {
	c.mu.Lock()
	target := !c.media.CameraOn
	c.mu.Unlock()

	if err := c.transport.SetCameraEnabled(ctx, target); err != nil {
		c.logDeviceFailure("camera", err)
		return
	}
	c.mu.Lock()
	c.media.CameraOn = target
	c.mu.Unlock()
}

// ToggleMicrophone mirrors ToggleCamera for the microphone.
func (c *Controller) ToggleMicrophone(ctx context.Context) {
	c.mu.Lock()
	target := !c.media.MicrophoneOn
	c.mu.Unlock()

	if err := c.transport.SetMicrophoneEnabled(ctx, target); err != nil {
		c.logDeviceFailure("microphone", err)
		return
	}
	c.mu.Lock()
	c.media.MicrophoneOn = target
	c.mu.Unlock()
}

// ToggleScreenShare starts or stops screen sharing based on the current flag.
func (c *Controller) ToggleScreenShare(ctx context.Context) {
	c.mu.Lock()
	sharing := c.media.ScreenShareOn
	c.mu.Unlock()

	var err error
	if sharing {
		err = c.transport.StopScreenShare(ctx)
	} else {
		err = c.transport.StartScreenShare(ctx)
	}
	if err != nil {
		c.logDeviceFailure("screen_share", err)
		return
	}
	c.mu.Lock()
	c.media.ScreenShareOn = !sharing
	c.mu.Unlock()
}

// SendMessage forwards a chat message over the transport data channel and
// echoes it into the local conversation. Failures are logged, never fatal.
func (c *Controller) SendMessage(ctx context.Context, text string) {
	c.mu.Lock()
	connected := c.phase == PhaseConnected
	c.mu.Unlock()
	if !connected || text == "" {
		return
	}

	if err := c.transport.SendChatMessage(ctx, text); err != nil {
		log.Printf("send chat message: %v", err)
		return
	}

	name := "user"
	if local := c.transport.LocalParticipant(); local.Name != "" {
		name = local.Name
	}
	msg := timeline.ChatMessage{
		Author:        name,
		AuthorIsLocal: true,
		TimestampMS:   time.Now().UnixMilli(),
		Text:          text,
	}
	c.conversation.AppendChat(msg)
	if c.metrics != nil {
		c.metrics.TimelineEntries.Inc()
	}
	c.archiveChat(msg)
}

// State returns a consistent snapshot for display.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Phase:          c.phase,
		ErrMessage:     c.errMsg,
		RoomName:       c.roomName,
		Participants:   c.roster.Participants(),
		Media:          c.media,
		Quality:        c.quality,
		StartedAt:      c.startedAt,
		ElapsedSeconds: c.elapsed,
	}
}

// Messages returns the merged conversation in presentation order.
func (c *Controller) Messages() []timeline.Entry {
	return c.conversation.Entries()
}

func (c *Controller) failConnect(stage string, err error) {
	c.mu.Lock()
	c.phase = PhaseFailed
	c.errMsg = err.Error()
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.ConnectStageFailures.WithLabelValues(stage).Inc()
		c.metrics.SessionEvents.WithLabelValues("connect_failed").Inc()
	}
}

func (c *Controller) enableCamera(ctx context.Context) {
	if err := c.transport.SetCameraEnabled(ctx, true); err != nil {
		c.logDeviceFailure("camera", err)
		return
	}
	c.mu.Lock()
	c.media.CameraOn = true
	c.mu.Unlock()
}

func (c *Controller) enableMicrophone(ctx context.Context) {
	if err := c.transport.SetMicrophoneEnabled(ctx, true); err != nil {
		c.logDeviceFailure("microphone", err)
		return
	}
	c.mu.Lock()
	c.media.MicrophoneOn = true
	c.mu.Unlock()
}

func (c *Controller) logDeviceFailure(device string, err error) {
	log.Printf("%s toggle failed: %v", device, err)
	if c.metrics != nil {
		c.metrics.DeviceFailures.WithLabelValues(device).Inc()
	}
}

func (c *Controller) runTicker(stop chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.phase == PhaseConnected && !c.startedAt.IsZero() {
				c.elapsed = int(time.Since(c.startedAt) / time.Second)
			}
			c.mu.Unlock()
		}
	}
}

func (c *Controller) eventLoop() {
	defer close(c.loopDone)
	for ev := range c.transport.Events() {
		c.applyEvent(ev)
	}
}

func (c *Controller) applyEvent(ev Event) {
	switch ev.Type {
	case EventParticipantJoined:
		c.roster.Add(ev.Participant)
		if c.metrics != nil {
			c.metrics.SessionEvents.WithLabelValues("participant_joined").Inc()
		}
	case EventParticipantLeft:
		c.roster.Remove(ev.Participant.Identity)
		if c.metrics != nil {
			c.metrics.SessionEvents.WithLabelValues("participant_left").Inc()
		}
	case EventQualityChanged:
		c.mu.Lock()
		c.quality = ev.Quality
		c.mu.Unlock()
	case EventTranscription:
		before := c.conversation.Len()
		if err := c.conversation.ApplySegment(ev.Segment, c.roster); err != nil {
			log.Printf("transcription segment %q rejected: %v", ev.Segment.ID, err)
			return
		}
		if c.metrics != nil && c.conversation.Len() > before {
			c.metrics.TimelineEntries.Inc()
		}
		if ev.Segment.Final {
			c.archiveSegment(ev.Segment.ID)
		}
	case EventChatMessage:
		msg := ev.Chat
		if msg.Author == "" {
			if name, local, ok := c.roster.Resolve(ev.Identity); ok {
				msg.Author, msg.AuthorIsLocal = name, local
			} else if ev.Identity != "" {
				msg.Author = ev.Identity
			} else {
				msg.Author = "Unknown"
			}
		}
		c.conversation.AppendChat(msg)
		if c.metrics != nil {
			c.metrics.TimelineEntries.Inc()
		}
		c.archiveChat(msg)
	case EventDisconnected:
		c.mu.Lock()
		active := c.phase == PhaseConnecting || c.phase == PhaseConnected
		c.mu.Unlock()
		if active {
			log.Printf("transport dropped: %s", ev.Reason)
			// Runs on the event loop goroutine; Disconnect waits for the
			// loop, so release in the background.
			go c.Disconnect()
		}
	}
}

func (c *Controller) archiveSegment(id string) {
	if c.store == nil {
		return
	}
	entry, ok := c.conversation.Entry(id)
	if !ok {
		return
	}
	c.mu.Lock()
	room := c.roomName
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.store.Save(ctx, transcript.Record{
		RoomName:    room,
		EntryID:     entry.ID,
		Author:      entry.Author,
		AuthorLocal: entry.AuthorIsLocal,
		Kind:        transcript.KindTranscription,
		Text:        entry.Text,
		TimestampMS: entry.TimestampMS,
	})
	if err != nil {
		log.Printf("archive transcription entry: %v", err)
	}
}

func (c *Controller) archiveChat(msg timeline.ChatMessage) {
	if c.store == nil {
		return
	}
	c.mu.Lock()
	room := c.roomName
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.store.Save(ctx, transcript.Record{
		RoomName:    room,
		EntryID:     msg.ID,
		Author:      msg.Author,
		AuthorLocal: msg.AuthorIsLocal,
		Kind:        transcript.KindChat,
		Text:        msg.Text,
		TimestampMS: msg.TimestampMS,
	})
	if err != nil {
		log.Printf("archive chat entry: %v", err)
	}
}
