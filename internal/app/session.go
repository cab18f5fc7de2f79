package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"beatbattle-controller/internal/domain"
	"beatbattle-controller/internal/protocol"
	"beatbattle-controller/internal/transport/ws"
)

// Config assembles everything a session needs. Only ServerURL and RoomCode
// are required.
type Config struct {
	ServerURL string
	RoomCode  string
	Nickname  string

	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Retry            ws.RetryConfig

	// ResyncGrace is how long to wait for a question after requesting one
	// before firing the single automatic re-request.
	ResyncGrace time.Duration
	// PulseDuration is how long a D-pad/confirm press stays visible in the
	// snapshot before auto-clearing.
	PulseDuration time.Duration
}

func (c Config) withDefaults() Config {
	if c.ResyncGrace <= 0 {
		c.ResyncGrace = 2 * time.Second
	}
	if c.PulseDuration <= 0 {
		c.PulseDuration = 200 * time.Millisecond
	}
	return c
}

// Snapshot is the consistent read-only view handed to UI consumers. A new
// snapshot with a bumped Version is broadcast after every state change.
type Snapshot struct {
	RoomCode        string
	ConnectionState domain.ConnectionState
	LastError       string
	Notice          string
	NoticeCode      string

	Phase         domain.GamePhase
	Participants  []domain.Participant
	AllReady      bool
	LocalID       string
	LocalReady    bool
	Game          domain.GameInfo
	Question      *domain.Question
	Attempt       *domain.AnswerAttempt
	TimeLeft      int
	Countdown     int
	CorrectAnswer string
	ScreenHint    string
	LastPressed   string

	Version int
}

// Session owns the realtime state for one room code: the transport client,
// its retry supervisor, the roster and the game state machine. State is
// mutated only on the inbound-event and timer paths; any number of UI
// consumers read it through Subscribe or Snapshot.
type Session struct {
	cfg    Config
	log    zerolog.Logger
	client *ws.Client
	sup    *ws.Supervisor

	mu          sync.RWMutex
	closed      bool
	connState   domain.ConnectionState
	lastError   string
	notice      string
	noticeCode  string
	localID     string
	localReady  bool
	roster      *Roster
	machine     *Machine
	screenHint  string
	lastPressed string
	version     int
	subscribers map[chan Snapshot]struct{}

	pulseTimer     *time.Timer
	resyncTimer    *time.Timer
	resyncAttempts int
	resync         singleflight.Group
}

// NewSession builds the session and registers all inbound event handlers.
// No connection is opened until Open.
func NewSession(cfg Config, log zerolog.Logger) *Session {
	cfg = cfg.withDefaults()
	client := ws.NewClient(ws.Config{
		URL:              cfg.ServerURL,
		RoomCode:         cfg.RoomCode,
		Nickname:         cfg.Nickname,
		PingInterval:     cfg.PingInterval,
		HandshakeTimeout: cfg.HandshakeTimeout,
		WriteTimeout:     cfg.WriteTimeout,
	}, log)

	s := &Session{
		cfg:         cfg,
		log:         log.With().Str("room", cfg.RoomCode).Logger(),
		client:      client,
		connState:   domain.ConnDisconnected,
		roster:      NewRoster(),
		machine:     NewMachine(),
		subscribers: make(map[chan Snapshot]struct{}),
	}
	s.sup = ws.NewSupervisor(client, cfg.Retry, s.log)
	s.sup.OnStateChange(s.handleConnState)
	s.registerHandlers()
	return s
}

// Open starts the connection lifecycle (initial dial plus supervised
// reconnects).
func (s *Session) Open(ctx context.Context) {
	s.sup.Start(ctx)
}

// RoomCode returns the stable room code of this session.
func (s *Session) RoomCode() string { return s.cfg.RoomCode }

// Nickname returns the effective local display name.
func (s *Session) Nickname() string { return s.client.Nickname() }

func (s *Session) registerHandlers() {
	on := func(event string, fn func(protocol.Envelope)) {
		s.client.Subscribe(event, fn)
	}
	on(protocol.EventControllerJoined, s.onControllerJoined)
	on(protocol.EventPlayerJoined, s.onRosterUpdate)
	on(protocol.EventPlayerLeft, s.onPlayerLeft)
	on(protocol.EventPlayerReady, s.onPlayerReady)
	on(protocol.EventCountdownStarted, s.onCountdownStarted)
	on(protocol.EventGameStarted, s.onGameStarted)
	on(protocol.EventNewQuestion, s.onNewQuestion)
	on(protocol.EventTimerUpdate, s.onTimerUpdate)
	on(protocol.EventQuestionEnded, s.onQuestionEnded)
	on(protocol.EventAnswerResult, s.onAnswerResult)
	on(protocol.EventGameEnded, s.onGameEnded)
	on(protocol.EventScreenChanged, s.onScreenChanged)
	on(protocol.EventError, s.onServerError)
}

// apply runs a mutation under the lock and broadcasts the resulting snapshot.
// All state changes funnel through here so consumers always observe a
// consistent view.
func (s *Session) apply(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	fn()
	s.broadcastLocked()
}

func (s *Session) anomaly(event string, err error) {
	if err != nil {
		s.log.Warn().Err(err).Str("event", event).Msg("payload anomaly")
	}
}

func (s *Session) onControllerJoined(env protocol.Envelope) {
	id, err := protocol.ParticipantID(env.Payload)
	s.anomaly(env.Event, err)
	s.apply(func() {
		if id != "" {
			s.localID = id
			s.roster.Upsert(domain.Participant{ID: id, DisplayName: s.client.Nickname(), IsReady: s.localReady})
		}
		s.machine.HandshakeAck()
	})
}

func (s *Session) onRosterUpdate(env protocol.Envelope) {
	list, snapshot, err := protocol.Roster(env.Payload)
	s.anomaly(env.Event, err)
	if len(list) == 0 {
		return
	}
	s.apply(func() {
		if snapshot {
			s.roster.Replace(list)
		} else {
			for _, p := range list {
				s.roster.Upsert(p)
			}
		}
		// The server's roster is authoritative over the optimistic flip.
		if p, ok := s.roster.Get(s.localID); ok {
			s.localReady = p.IsReady
		}
	})
}

func (s *Session) onPlayerLeft(env protocol.Envelope) {
	id, err := protocol.ParticipantID(env.Payload)
	s.anomaly(env.Event, err)
	if id == "" {
		return
	}
	s.apply(func() { s.roster.Remove(id) })
}

func (s *Session) onPlayerReady(env protocol.Envelope) {
	id, ready, err := protocol.ReadyFlag(env.Payload)
	s.anomaly(env.Event, err)
	if id == "" {
		return
	}
	s.apply(func() {
		s.roster.SetReady(id, ready)
		if id == s.localID {
			s.localReady = ready
		}
	})
}

func (s *Session) onCountdownStarted(env protocol.Envelope) {
	seconds, err := protocol.Seconds(env.Payload)
	s.anomaly(env.Event, err)
	s.apply(func() { s.machine.CountdownStarted(seconds) })
}

func (s *Session) onGameStarted(env protocol.Envelope) {
	info, err := protocol.GameStarted(env.Payload)
	s.anomaly(env.Event, err)
	s.apply(func() { s.machine.GameStarted(info) })
}

func (s *Session) onNewQuestion(env protocol.Envelope) {
	q, err := protocol.Question(env.Payload)
	s.anomaly(env.Event, err)
	s.apply(func() {
		s.machine.NewQuestion(q)
		s.stopResyncLocked()
	})
}

func (s *Session) onTimerUpdate(env protocol.Envelope) {
	seconds, err := protocol.Seconds(env.Payload)
	s.anomaly(env.Event, err)
	s.apply(func() { s.machine.TimerUpdate(seconds) })
}

func (s *Session) onQuestionEnded(env protocol.Envelope) {
	answer, err := protocol.QuestionEnded(env.Payload)
	s.anomaly(env.Event, err)
	s.apply(func() { s.machine.QuestionEnded(answer) })
}

func (s *Session) onAnswerResult(env protocol.Envelope) {
	res, err := protocol.AnswerResult(env.Payload)
	s.anomaly(env.Event, err)
	s.apply(func() { s.machine.AnswerResult(res.QuestionID, res.Correct, res.CorrectAnswer) })
}

func (s *Session) onGameEnded(protocol.Envelope) {
	s.apply(func() {
		s.machine.GameEnded()
		s.stopResyncLocked()
	})
}

func (s *Session) onScreenChanged(env protocol.Envelope) {
	screen, err := protocol.ScreenChanged(env.Payload)
	s.anomaly(env.Event, err)
	s.apply(func() { s.screenHint = screen })
}

func (s *Session) onServerError(env protocol.Envelope) {
	msg, code := protocol.ServerError(env.Payload)
	s.log.Warn().Str("code", code).Msg("server error: " + msg)
	s.apply(func() {
		s.notice = msg
		s.noticeCode = code
	})
}

func (s *Session) handleConnState(state domain.ConnectionState, diagnostic string) {
	var resync bool
	s.apply(func() {
		s.connState = state
		s.lastError = diagnostic
		// A reconnect may have skipped events wholesale; pull the current
		// question once we are past the lobby.
		resync = state == domain.ConnConnected && s.machine.Phase() != domain.PhaseAwaitingConnection &&
			s.machine.Phase() != domain.PhaseLobby && s.machine.Phase() != domain.PhaseGameEnded
	})
	if resync {
		s.RequestCurrentQuestion()
	}
}

// DismissNotice clears the one-shot protocol error notification.
func (s *Session) DismissNotice() {
	s.apply(func() {
		s.notice = ""
		s.noticeCode = ""
	})
}

// Retry is the manual affordance after the reconnect budget is exhausted.
func (s *Session) Retry() { s.sup.Retry() }

// Snapshot returns the current consistent view.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Subscribe returns a channel of state snapshots, primed with the current
// one. The caller must invoke the returned cancel function to avoid leaks.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subscribers[ch] = struct{}{}
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// broadcastLocked bumps the version and fans the snapshot out. Slow consumers
// lose intermediate snapshots, never the latest one.
func (s *Session) broadcastLocked() {
	s.version++
	snap := s.snapshotLocked()
	for ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		RoomCode:        s.cfg.RoomCode,
		ConnectionState: s.connState,
		LastError:       s.lastError,
		Notice:          s.notice,
		NoticeCode:      s.noticeCode,
		Phase:           s.machine.Phase(),
		Participants:    s.roster.List(),
		AllReady:        s.roster.AllReady(),
		LocalID:         s.localID,
		LocalReady:      s.localReady,
		Game:            s.machine.Game(),
		TimeLeft:        s.machine.TimeLeft(),
		Countdown:       s.machine.Countdown(),
		CorrectAnswer:   s.machine.CorrectAnswer(),
		ScreenHint:      s.screenHint,
		LastPressed:     s.lastPressed,
		Version:         s.version,
	}
	if q := s.machine.Question(); q != nil {
		cp := *q
		snap.Question = &cp
	}
	if a := s.machine.Attempt(); a != nil {
		cp := *a
		snap.Attempt = &cp
	}
	return snap
}

// RequestCurrentQuestion asks the server for the active question, used to
// resynchronize after a reconnect or suspicious silence. Concurrent calls
// from different screens collapse into one outbound event, and a grace timer
// fires a single automatic re-request before the failure is surfaced as a
// notice for manual retry.
func (s *Session) RequestCurrentQuestion() {
	s.resync.Do("current-question", func() (any, error) {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, nil
		}
		s.resyncAttempts = 0
		s.armResyncLocked()
		s.mu.Unlock()

		if err := s.client.Send(protocol.EventRequestCurrentQuestion, protocol.RoomPayload{RoomCode: s.cfg.RoomCode}); err != nil {
			s.log.Debug().Err(err).Msg("request current question")
		}
		return nil, nil
	})
}

func (s *Session) armResyncLocked() {
	if s.resyncTimer != nil {
		s.resyncTimer.Stop()
	}
	s.resyncTimer = time.AfterFunc(s.cfg.ResyncGrace, s.resyncExpired)
}

func (s *Session) resyncExpired() {
	s.mu.Lock()
	if s.closed || s.machine.Question() != nil {
		s.mu.Unlock()
		return
	}
	s.resyncAttempts++
	if s.resyncAttempts > 1 {
		// One silent re-request was already spent; ask the user.
		s.notice = "no question received from the server"
		s.broadcastLocked()
		s.mu.Unlock()
		return
	}
	s.armResyncLocked()
	s.mu.Unlock()

	s.log.Debug().Msg("no question received, re-requesting")
	if err := s.client.Send(protocol.EventRequestCurrentQuestion, protocol.RoomPayload{RoomCode: s.cfg.RoomCode}); err != nil {
		s.log.Debug().Err(err).Msg("request current question")
	}
}

func (s *Session) stopResyncLocked() {
	if s.resyncTimer != nil {
		s.resyncTimer.Stop()
		s.resyncTimer = nil
	}
	s.resyncAttempts = 0
}

// Close tears the session down: timers are cancelled, subscriber channels
// closed, listeners detached before the connection is released. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.pulseTimer != nil {
		s.pulseTimer.Stop()
		s.pulseTimer = nil
	}
	if s.resyncTimer != nil {
		s.resyncTimer.Stop()
		s.resyncTimer = nil
	}
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
	s.connState = domain.ConnDisconnected
	s.mu.Unlock()

	return s.sup.Close()
}
