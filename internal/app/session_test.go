package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"beatbattle-controller/internal/app"
	"beatbattle-controller/internal/domain"
	"beatbattle-controller/internal/protocol"
	"beatbattle-controller/internal/transport/ws"
)

// gameConn is one accepted controller connection on the fake game server.
type gameConn struct {
	conn    *websocket.Conn
	inbound chan protocol.Envelope
}

func (gc *gameConn) send(t *testing.T, event string, payload string) {
	t.Helper()
	env := protocol.Envelope{Event: event}
	if payload != "" {
		env.Payload = json.RawMessage(payload)
	}
	if err := gc.conn.WriteJSON(env); err != nil {
		t.Fatalf("server write %s: %v", event, err)
	}
}

func (gc *gameConn) expect(t *testing.T, event string) protocol.Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case env, ok := <-gc.inbound:
			if !ok {
				t.Fatalf("connection closed while waiting for %s", event)
			}
			if env.Event == event {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", event)
		}
	}
}

func newGameServer(t *testing.T) (url string, conns chan *gameConn, shutdown func()) {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conns = make(chan *gameConn, 4)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		gc := &gameConn{conn: conn, inbound: make(chan protocol.Envelope, 32)}
		go func() {
			defer close(gc.inbound)
			for {
				var env protocol.Envelope
				if err := conn.ReadJSON(&env); err != nil {
					return
				}
				gc.inbound <- env
			}
		}()
		conns <- gc
	})

	server := httptest.NewServer(mux)
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws", conns, server.Close
}

func acceptGameConn(t *testing.T, conns chan *gameConn) *gameConn {
	t.Helper()
	select {
	case gc := <-conns:
		return gc
	case <-time.After(2 * time.Second):
		t.Fatalf("no connection accepted")
		return nil
	}
}

func testSessionConfig(url string) app.Config {
	return app.Config{
		ServerURL:     url,
		RoomCode:      "AB12CD",
		Nickname:      "Alice",
		Retry:         ws.RetryConfig{MaxAttempts: 5, BaseDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond},
		ResyncGrace:   100 * time.Millisecond,
		PulseDuration: 50 * time.Millisecond,
	}
}

func waitSnap(t *testing.T, s *app.Session, what string, cond func(app.Snapshot) bool) app.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var snap app.Snapshot
	for time.Now().Before(deadline) {
		snap = s.Snapshot()
		if cond(snap) {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; last snapshot: %+v", what, snap)
	return snap
}

// Runs the whole controller flow against a scripted server: join, roster,
// ready toggle, question, answer, result, resolution.
func TestSessionFullGameFlow(t *testing.T) {
	url, conns, shutdown := newGameServer(t)
	defer shutdown()

	session := app.NewSession(testSessionConfig(url), zerolog.Nop())
	defer session.Close()

	session.Open(context.Background())
	gc := acceptGameConn(t, conns)

	env := gc.expect(t, protocol.EventJoinController)
	var join protocol.JoinControllerPayload
	if err := json.Unmarshal(env.Payload, &join); err != nil {
		t.Fatalf("unmarshal join: %v", err)
	}
	if join.RoomCode != "AB12CD" || join.Nickname != "Alice" {
		t.Fatalf("unexpected handshake: %+v", join)
	}

	gc.send(t, protocol.EventControllerJoined, `{"id":"p9"}`)
	waitSnap(t, session, "lobby after ack", func(s app.Snapshot) bool {
		return s.Phase == domain.PhaseLobby && s.LocalID == "p9"
	})

	// Duplicate join deliveries collapse to one roster entry.
	gc.send(t, protocol.EventPlayerJoined, `{"id":"p9","nickname":"Alice"}`)
	gc.send(t, protocol.EventPlayerJoined, `{"id":"p9","nickname":"Alice"}`)
	gc.send(t, protocol.EventPlayerJoined, `{"id":"p2","nickname":"Bob"}`)
	waitSnap(t, session, "roster of two", func(s app.Snapshot) bool {
		return len(s.Participants) == 2
	})

	// Optimistic ready flip is visible before any server echo.
	waitSnap(t, session, "connected", func(s app.Snapshot) bool {
		return s.ConnectionState == domain.ConnConnected
	})
	if err := session.ToggleReady(); err != nil {
		t.Fatalf("toggle ready: %v", err)
	}
	if snap := session.Snapshot(); !snap.LocalReady {
		t.Fatalf("optimistic flip not visible: %+v", snap)
	}
	env = gc.expect(t, protocol.EventToggleReady)
	var toggle protocol.ToggleReadyPayload
	if err := json.Unmarshal(env.Payload, &toggle); err != nil {
		t.Fatalf("unmarshal toggle: %v", err)
	}
	if !toggle.Ready {
		t.Fatalf("expected ready=true on the wire")
	}

	// Map-shaped options normalize into an ordered list.
	gc.send(t, protocol.EventNewQuestion,
		`{"question":{"id":"q1","question":"Capital of France?","options":{"A":"Paris","B":"Rome"}},"timeLimit":30}`)
	snap := waitSnap(t, session, "active question", func(s app.Snapshot) bool {
		return s.Phase == domain.PhaseQuestionActive && s.Question != nil
	})
	if snap.TimeLeft != 30 || len(snap.Question.Options) != 2 || snap.Question.Options[0].Text != "Paris" {
		t.Fatalf("question not normalized: %+v", snap.Question)
	}

	gc.send(t, protocol.EventTimerUpdate, `{"timeLeft":29}`)
	waitSnap(t, session, "timer tick", func(s app.Snapshot) bool { return s.TimeLeft == 29 })

	if err := session.SubmitAnswer("A"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	snap = session.Snapshot()
	if snap.Attempt == nil || snap.Attempt.Outcome != domain.OutcomePending {
		t.Fatalf("expected pending attempt, got %+v", snap.Attempt)
	}
	env = gc.expect(t, protocol.EventSubmitAnswer)
	var answer protocol.SubmitAnswerPayload
	if err := json.Unmarshal(env.Payload, &answer); err != nil {
		t.Fatalf("unmarshal answer: %v", err)
	}
	if answer.Answer != "A" || answer.QuestionID != "q1" {
		t.Fatalf("unexpected answer payload: %+v", answer)
	}

	// A second selection changes nothing and sends nothing.
	if err := session.SubmitAnswer("B"); !errors.Is(err, domain.ErrAnswerAlreadySubmitted) {
		t.Fatalf("expected second submit rejected, got %v", err)
	}
	if snap := session.Snapshot(); snap.Attempt.SelectedOptionID != "A" {
		t.Fatalf("attempt overwritten: %+v", snap.Attempt)
	}

	gc.send(t, protocol.EventAnswerResult, `{"questionId":"q1","correct":true,"correctAnswer":"A"}`)
	waitSnap(t, session, "correct outcome", func(s app.Snapshot) bool {
		return s.Attempt != nil && s.Attempt.Outcome == domain.OutcomeCorrect
	})

	gc.send(t, protocol.EventQuestionEnded, `{"correctAnswer":"A"}`)
	waitSnap(t, session, "resolved phase", func(s app.Snapshot) bool {
		return s.Phase == domain.PhaseQuestionResolved && s.CorrectAnswer == "A"
	})

	gc.send(t, protocol.EventGameEnded, "")
	waitSnap(t, session, "game over", func(s app.Snapshot) bool {
		return s.Phase == domain.PhaseGameEnded
	})
}

func TestSessionResyncsQuestionAfterReconnect(t *testing.T) {
	url, conns, shutdown := newGameServer(t)
	defer shutdown()

	session := app.NewSession(testSessionConfig(url), zerolog.Nop())
	defer session.Close()

	session.Open(context.Background())
	first := acceptGameConn(t, conns)
	first.expect(t, protocol.EventJoinController)
	first.send(t, protocol.EventControllerJoined, `{"id":"p9"}`)
	first.send(t, protocol.EventNewQuestion,
		`{"id":"q1","text":"Capital of France?","options":[{"id":"A","text":"Paris"}],"timeLimit":30}`)
	waitSnap(t, session, "active question", func(s app.Snapshot) bool {
		return s.Phase == domain.PhaseQuestionActive
	})

	// Drop mid-question; after the supervised redial the session must pull
	// the current question on its own.
	first.conn.Close()
	second := acceptGameConn(t, conns)
	second.expect(t, protocol.EventJoinController)
	second.expect(t, protocol.EventRequestCurrentQuestion)

	second.send(t, protocol.EventNewQuestion,
		`{"id":"q2","text":"Capital of Italy?","options":[{"id":"A","text":"Rome"}],"timeLimit":20}`)
	waitSnap(t, session, "resynced question", func(s app.Snapshot) bool {
		return s.Question != nil && s.Question.ID == "q2"
	})
}

func TestSessionResyncSilenceBecomesNotice(t *testing.T) {
	url, conns, shutdown := newGameServer(t)
	defer shutdown()

	session := app.NewSession(testSessionConfig(url), zerolog.Nop())
	defer session.Close()

	session.Open(context.Background())
	first := acceptGameConn(t, conns)
	first.expect(t, protocol.EventJoinController)
	first.send(t, protocol.EventControllerJoined, `{"id":"p9"}`)
	// Past the lobby but no question yet.
	first.send(t, protocol.EventCountdownStarted, `{"countdown":5}`)
	waitSnap(t, session, "countdown", func(s app.Snapshot) bool {
		return s.Phase == domain.PhaseCountdown
	})

	first.conn.Close()
	second := acceptGameConn(t, conns)
	second.expect(t, protocol.EventJoinController)
	second.expect(t, protocol.EventRequestCurrentQuestion)
	// Stay silent: one automatic re-request, then the user is asked.
	second.expect(t, protocol.EventRequestCurrentQuestion)
	waitSnap(t, session, "resync notice", func(s app.Snapshot) bool {
		return s.Notice != ""
	})

	session.DismissNotice()
	if snap := session.Snapshot(); snap.Notice != "" {
		t.Fatalf("notice not dismissed: %+v", snap)
	}
}

func TestSessionCommandPulseClears(t *testing.T) {
	url, conns, shutdown := newGameServer(t)
	defer shutdown()

	session := app.NewSession(testSessionConfig(url), zerolog.Nop())
	defer session.Close()

	session.Open(context.Background())
	gc := acceptGameConn(t, conns)
	gc.expect(t, protocol.EventJoinController)

	session.SendDirection(domain.DirUp)
	if snap := session.Snapshot(); snap.LastPressed != "up" {
		t.Fatalf("press not visible: %+v", snap)
	}
	env := gc.expect(t, protocol.EventControllerCommand)
	var cmd protocol.ControllerCommandPayload
	if err := json.Unmarshal(env.Payload, &cmd); err != nil {
		t.Fatalf("unmarshal command: %v", err)
	}
	if cmd.Command != "up" {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	waitSnap(t, session, "pulse cleared", func(s app.Snapshot) bool {
		return s.LastPressed == ""
	})
}

func TestSessionServerErrorBecomesNotice(t *testing.T) {
	url, conns, shutdown := newGameServer(t)
	defer shutdown()

	session := app.NewSession(testSessionConfig(url), zerolog.Nop())
	defer session.Close()

	session.Open(context.Background())
	gc := acceptGameConn(t, conns)
	gc.expect(t, protocol.EventJoinController)

	gc.send(t, protocol.EventError, `{"message":"room not found","code":"ROOM_404"}`)
	snap := waitSnap(t, session, "error notice", func(s app.Snapshot) bool {
		return s.Notice != ""
	})
	if snap.Notice != "room not found" || snap.NoticeCode != "ROOM_404" {
		t.Fatalf("unexpected notice: %q %q", snap.Notice, snap.NoticeCode)
	}
}

// After Close, an already-queued inbound event must not mutate anything.
func TestSessionCloseThenEventDoesNotMutate(t *testing.T) {
	url, conns, shutdown := newGameServer(t)
	defer shutdown()

	session := app.NewSession(testSessionConfig(url), zerolog.Nop())

	session.Open(context.Background())
	gc := acceptGameConn(t, conns)
	gc.expect(t, protocol.EventJoinController)
	gc.send(t, protocol.EventControllerJoined, `{"id":"p9"}`)
	waitSnap(t, session, "lobby", func(s app.Snapshot) bool {
		return s.Phase == domain.PhaseLobby
	})

	before := session.Snapshot()
	if err := session.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// The write may or may not reach the wire; either way no state moves.
	env := protocol.Envelope{Event: protocol.EventNewQuestion,
		Payload: json.RawMessage(`{"id":"q1","text":"late","timeLimit":10}`)}
	_ = gc.conn.WriteJSON(env)
	time.Sleep(100 * time.Millisecond)

	after := session.Snapshot()
	if after.Version != before.Version || after.Phase != before.Phase || after.Question != nil {
		t.Fatalf("state mutated after close: before %+v, after %+v", before, after)
	}
}

func TestSessionSubscribeDeliversSnapshots(t *testing.T) {
	url, conns, shutdown := newGameServer(t)
	defer shutdown()

	session := app.NewSession(testSessionConfig(url), zerolog.Nop())
	defer session.Close()

	ch, cancel := session.Subscribe()
	defer cancel()

	// Primed immediately with the current view.
	select {
	case snap := <-ch:
		if snap.Phase != domain.PhaseAwaitingConnection {
			t.Fatalf("unexpected initial snapshot: %+v", snap)
		}
	case <-time.After(time.Second):
		t.Fatalf("no primed snapshot")
	}

	session.Open(context.Background())
	gc := acceptGameConn(t, conns)
	gc.expect(t, protocol.EventJoinController)
	gc.send(t, protocol.EventControllerJoined, `{"id":"p9"}`)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-ch:
			if snap.Phase == domain.PhaseLobby {
				return
			}
		case <-deadline:
			t.Fatalf("lobby snapshot never delivered")
		}
	}
}
