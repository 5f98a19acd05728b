package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
)

// State is the router lifecycle. Closed is terminal: a closed router is
// never reopened, a new one is created instead.
type State string

const (
	StateInitializing   State = "initializing"
	StateAwaitingConfig State = "awaiting_config"
	StateActive         State = "active"
	StateClosed         State = "closed"
)

// TranscriptFunc receives completed transcripts. role is "user" or
// "assistant". Invoked synchronously from the router's event loop, so
// implementations should be quick or hand off.
type TranscriptFunc func(role, text string)

// Options construct one Router for one browser connection.
type Options struct {
	SessionID string

	Speech  SpeechConfig
	Session SessionConfig

	// AvatarSocketURL is optional. When empty, lip-sync is disabled and
	// audio reaches the browser through the direct event forward only.
	AvatarSocketURL string

	OnTranscript TranscriptFunc
}

// speechConn and avatarConn are what the router needs from its two upstream
// sockets. Tests substitute stubs.
type speechConn interface {
	SendConfig(SessionConfig) error
	Forward(raw []byte) error
	Close() error
}

type avatarConn interface {
	Speak(audioBase64, eventID string) error
	SpeakEnd(eventID string) error
	Interrupt(eventID string) error
	Close() error
}

// Router multiplexes one conversation between the browser client, the
// speech model, and the (optional) avatar renderer. It owns both upstream
// socket handles exclusively.
type Router struct {
	id           string
	speech       speechConn
	avatar       avatarConn
	out          chan<- json.RawMessage
	onTranscript TranscriptFunc

	mu      sync.Mutex
	state   State
	pending [][]byte

	// eventSeq is touched only by the run goroutine.
	eventSeq int

	closed    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Connect dials both upstreams, transmits the session configuration, and
// starts the event loop. Frames for the browser are delivered on out, which
// Connect takes ownership of: it is closed when the router stops. A speech
// dial failure aborts setup with *UpstreamConnectError; an avatar dial
// failure only disables lip-sync.
func Connect(ctx context.Context, opts Options, out chan<- json.RawMessage) (*Router, error) {
	speech, err := DialSpeech(ctx, opts.Speech)
	if err != nil {
		return nil, err
	}

	var (
		avatar       avatarConn
		avatarEvents <-chan AvatarEvent
	)
	if opts.AvatarSocketURL != "" {
		ac, err := DialAvatar(ctx, opts.AvatarSocketURL)
		if err != nil {
			log.Printf("router %s: %v (%v), continuing without lip-sync", opts.SessionID, ErrAvatarUnavailable, err)
		} else {
			avatar = ac
			avatarEvents = ac.Events()
		}
	} else {
		log.Printf("router %s: no avatar socket address, lip-sync disabled", opts.SessionID)
	}

	return start(opts, speech, speech.Events(), avatar, avatarEvents, out)
}

// start wires an already-dialed pair of upstreams into a running router.
// Split from Connect so the state machine is testable with stub transports.
func start(opts Options, speech speechConn, speechEvents <-chan SpeechEvent, avatar avatarConn, avatarEvents <-chan AvatarEvent, out chan<- json.RawMessage) (*Router, error) {
	r := newRouter(opts, speech, avatar, out)

	if err := speech.SendConfig(opts.Session); err != nil {
		r.Close()
		return nil, &UpstreamConnectError{Upstream: "speech", Err: fmt.Errorf("send session config: %w", err)}
	}
	r.setState(StateAwaitingConfig)

	go r.run(speechEvents, avatarEvents)
	return r, nil
}

func newRouter(opts Options, speech speechConn, avatar avatarConn, out chan<- json.RawMessage) *Router {
	return &Router{
		id:           opts.SessionID,
		speech:       speech,
		avatar:       avatar,
		out:          out,
		onTranscript: opts.OnTranscript,
		state:        StateInitializing,
		closed:       make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// ID returns the session identifier this router serves.
func (r *Router) ID() string { return r.id }

// State reports the current lifecycle state.
func (r *Router) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Done is closed when the event loop stops, either because Close was called
// or because the speech upstream was lost. The gateway uses it to tear down
// the browser socket.
func (r *Router) Done() <-chan struct{} { return r.done }

// HandleClientMessage routes one raw frame from the browser. Before the
// session is active the frame is queued; session.update frames are always
// discarded since the router owns the session configuration.
func (r *Router) HandleClientMessage(raw []byte) {
	var env speechEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("router %s: dropped malformed client frame: %v", r.id, err)
		return
	}
	if env.Type == TypeSessionUpdate {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case StateClosed:
		return
	case StateActive:
		if err := r.speech.Forward(raw); err != nil {
			log.Printf("router %s: forward client frame: %v", r.id, err)
		}
	default:
		r.pending = append(r.pending, append([]byte(nil), raw...))
	}
}

func (r *Router) run(speechEvents <-chan SpeechEvent, avatarEvents <-chan AvatarEvent) {
	defer close(r.done)
	defer r.closeOut()

	for {
		select {
		case <-r.closed:
			return
		case ev, ok := <-speechEvents:
			if !ok {
				// Speech upstream lost: there is no substitute for it,
				// so the whole session goes down.
				log.Printf("router %s: speech upstream closed", r.id)
				r.Close()
				return
			}
			r.handleSpeechEvent(ev)
		case ev, ok := <-avatarEvents:
			if !ok {
				// Avatar upstream lost mid-session: degrade, keep going.
				log.Printf("router %s: avatar upstream closed, lip-sync disabled", r.id)
				avatarEvents = nil
				r.dropAvatar()
				continue
			}
			r.handleAvatarEvent(ev)
		}
	}
}

func (r *Router) handleSpeechEvent(ev SpeechEvent) {
	switch ev.Type {
	case TypeSessionCreated:
		log.Printf("router %s: speech session created", r.id)

	case TypeSessionUpdated:
		r.activate()
		r.emit(ev.Raw)

	case TypeResponseAudioDelta:
		if a := r.avatarConn(); a != nil && ev.Delta != "" {
			if err := a.Speak(ev.Delta, r.nextEventID()); err != nil {
				log.Printf("router %s: avatar speak: %v", r.id, err)
			}
		}
		r.emit(ev.Raw)

	case TypeResponseAudioDone:
		if a := r.avatarConn(); a != nil {
			if err := a.SpeakEnd(r.nextEventID()); err != nil {
				log.Printf("router %s: avatar speak end: %v", r.id, err)
			}
		}
		r.emit(ev.Raw)

	case TypeSpeechStarted:
		if a := r.avatarConn(); a != nil {
			if err := a.Interrupt(r.nextEventID()); err != nil {
				log.Printf("router %s: avatar interrupt: %v", r.id, err)
			}
		}
		r.emit(ev.Raw)

	case TypeUserTranscriptDone:
		if r.onTranscript != nil && ev.Transcript != "" {
			r.onTranscript("user", ev.Transcript)
		}
		r.emit(ev.Raw)

	case TypeAgentTranscriptDone:
		if r.onTranscript != nil && ev.Transcript != "" {
			r.onTranscript("assistant", ev.Transcript)
		}
		r.emit(ev.Raw)

	case TypeError:
		log.Printf("router %s: speech model error: %s", r.id, ev.Raw)
		r.emit(ev.Raw)

	default:
		// Unknown types are forwarded unchanged for forward compatibility.
		r.emit(ev.Raw)
	}
}

func (r *Router) handleAvatarEvent(ev AvatarEvent) {
	switch ev.Type {
	case TypeAvatarSpeakingStarted, TypeAvatarSpeakingEnded:
		r.emit(ev.Raw)
	default:
		log.Printf("router %s: ignoring avatar event %q", r.id, ev.Type)
	}
}

// activate flips the router to Active and flushes the pending queue, in
// arrival order, to the speech model. Held under mu so a concurrent client
// frame cannot jump ahead of the queue.
func (r *Router) activate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateAwaitingConfig && r.state != StateInitializing {
		return
	}
	r.state = StateActive
	for _, raw := range r.pending {
		if err := r.speech.Forward(raw); err != nil {
			log.Printf("router %s: flush pending frame: %v", r.id, err)
		}
	}
	r.pending = nil
}

func (r *Router) avatarConn() avatarConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.avatar
}

func (r *Router) dropAvatar() {
	r.mu.Lock()
	a := r.avatar
	r.avatar = nil
	r.mu.Unlock()
	if a != nil {
		_ = a.Close()
	}
}

func (r *Router) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Router) nextEventID() string {
	r.eventSeq++
	return fmt.Sprintf("evt_%d", r.eventSeq)
}

func (r *Router) emit(raw json.RawMessage) {
	select {
	case r.out <- raw:
	case <-r.closed:
	}
}

func (r *Router) closeOut() {
	close(r.out)
}

// Close tears the session down: both upstream sockets are closed best
// effort and the router becomes terminal. Safe to call more than once and
// from any goroutine.
func (r *Router) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.state = StateClosed
		r.pending = nil
		avatar := r.avatar
		r.avatar = nil
		r.mu.Unlock()

		close(r.closed)
		if err := r.speech.Close(); err != nil {
			log.Printf("router %s: close speech socket: %v", r.id, err)
		}
		if avatar != nil {
			if err := avatar.Close(); err != nil {
				log.Printf("router %s: close avatar socket: %v", r.id, err)
			}
		}
	})
}
