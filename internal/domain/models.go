package domain

import "time"

// ConnectionState tracks the lifecycle of the realtime link to the game server.
type ConnectionState string

const (
	ConnDisconnected ConnectionState = "disconnected"
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
	ConnReconnecting ConnectionState = "reconnecting"
	ConnFailed       ConnectionState = "failed"
)

// GamePhase is the current step of the quiz session. Exactly one value holds
// at a time; transitions are driven only by normalized server events, never
// inferred from UI navigation.
type GamePhase string

const (
	PhaseAwaitingConnection GamePhase = "awaiting_connection"
	PhaseLobby              GamePhase = "lobby"
	PhaseCountdown          GamePhase = "countdown"
	PhaseQuestionActive     GamePhase = "question_active"
	PhaseQuestionResolved   GamePhase = "question_resolved"
	PhaseGameEnded          GamePhase = "game_ended"
)

// Participant represents one connected controller or player in the room.
type Participant struct {
	ID          string
	DisplayName string
	IsHost      bool
	IsReady     bool
}

// Option is a single answer choice.
type Option struct {
	ID   string
	Text string
}

// OptionList is the canonical ordered id->text mapping for a question's
// answer choices. Display order matters, so it is a slice of pairs rather
// than a Go map.
type OptionList []Option

// Get returns the display text for an option id.
func (l OptionList) Get(id string) (string, bool) {
	for _, o := range l {
		if o.ID == id {
			return o.Text, true
		}
	}
	return "", false
}

// Has reports whether the option id exists.
func (l OptionList) Has(id string) bool {
	_, ok := l.Get(id)
	return ok
}

// Question is the currently active quiz question. Immutable once received;
// replaced wholesale when the next question arrives.
type Question struct {
	ID               string
	Text             string
	Options          OptionList
	TimeLimitSeconds int
	OrderIndex       int
	TotalQuestions   int
}

// AnswerOutcome is the resolution state of a local answer attempt.
type AnswerOutcome string

const (
	OutcomePending   AnswerOutcome = "pending"
	OutcomeCorrect   AnswerOutcome = "correct"
	OutcomeIncorrect AnswerOutcome = "incorrect"
	OutcomeTimedOut  AnswerOutcome = "timed_out"
)

// AnswerAttempt is the local participant's single interaction with the
// current question. At most one attempt exists per question; it is discarded
// when the next question replaces the current one.
type AnswerAttempt struct {
	SelectedOptionID string
	SubmittedAt      time.Time
	Outcome          AnswerOutcome
}

// Direction is a D-pad press on the controller.
type Direction string

const (
	DirUp    Direction = "up"
	DirDown  Direction = "down"
	DirLeft  Direction = "left"
	DirRight Direction = "right"
)

// GameInfo carries the category/mode metadata announced when the host starts
// the game.
type GameInfo struct {
	Category string
	Mode     string
}
