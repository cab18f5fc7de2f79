package app

import (
	"time"

	"beatbattle-controller/internal/domain"
)

// Machine is the game/question state machine. Transitions are driven only by
// normalized server events plus the server-pushed timer; the client never
// runs its own countdown. Like Roster, it relies on the Session for
// serialization.
type Machine struct {
	phase         domain.GamePhase
	question      *domain.Question
	attempt       *domain.AnswerAttempt
	timeLeft      int
	countdown     int
	correctAnswer string
	game          domain.GameInfo
	now           func() time.Time
}

func NewMachine() *Machine {
	return &Machine{phase: domain.PhaseAwaitingConnection, now: time.Now}
}

func (m *Machine) Phase() domain.GamePhase { return m.phase }

// Question returns the active question, nil before the first one arrives.
func (m *Machine) Question() *domain.Question { return m.question }

// Attempt returns the local answer attempt for the current question, nil if
// none was made.
func (m *Machine) Attempt() *domain.AnswerAttempt { return m.attempt }

// TimeLeft is the last server-pushed countdown value, display-only.
func (m *Machine) TimeLeft() int { return m.timeLeft }

// Countdown is the pre-game countdown value in seconds.
func (m *Machine) Countdown() int { return m.countdown }

// CorrectAnswer is the option id revealed by question_ended, empty until then.
func (m *Machine) CorrectAnswer() string { return m.correctAnswer }

// Game returns the category/mode metadata from game_started.
func (m *Machine) Game() domain.GameInfo { return m.game }

// HandshakeAck moves awaiting_connection to lobby on the first successful
// join ack. Duplicate acks (reconnects) never regress a later phase.
func (m *Machine) HandshakeAck() {
	if m.phase == domain.PhaseAwaitingConnection {
		m.phase = domain.PhaseLobby
	}
}

// GameStarted records category/mode metadata; the phase changes on the
// countdown or question event that follows.
func (m *Machine) GameStarted(info domain.GameInfo) {
	if m.phase == domain.PhaseGameEnded {
		return
	}
	m.game = info
}

// CountdownStarted begins the pre-question countdown.
func (m *Machine) CountdownStarted(seconds int) {
	switch m.phase {
	case domain.PhaseLobby, domain.PhaseQuestionResolved, domain.PhaseCountdown:
		m.phase = domain.PhaseCountdown
		m.countdown = seconds
	}
}

// NewQuestion replaces the active question wholesale and discards the
// previous answer attempt. The countdown may be skipped entirely when the
// server jumps straight to a question.
func (m *Machine) NewQuestion(q domain.Question) {
	if m.phase == domain.PhaseGameEnded {
		return
	}
	m.phase = domain.PhaseQuestionActive
	m.question = &q
	m.attempt = nil
	m.timeLeft = q.TimeLimitSeconds
	m.countdown = 0
	m.correctAnswer = ""
}

// TimerUpdate applies the authoritative server countdown. Hitting zero while
// the question is still active resolves it locally: a pending attempt is
// marked timed_out until (and unless) the server's authoritative result
// arrives later and supersedes it.
func (m *Machine) TimerUpdate(seconds int) {
	if m.phase == domain.PhaseGameEnded {
		return
	}
	m.timeLeft = seconds
	if seconds <= 0 && m.phase == domain.PhaseQuestionActive {
		m.phase = domain.PhaseQuestionResolved
		if m.attempt != nil && m.attempt.Outcome == domain.OutcomePending {
			m.attempt.Outcome = domain.OutcomeTimedOut
		}
	}
}

// QuestionEnded is the server's end-of-question signal, carrying the correct
// answer. A pending attempt stays pending until the per-submission
// answer_result arrives; only the correct answer is revealed here.
func (m *Machine) QuestionEnded(correctAnswer string) {
	if m.phase == domain.PhaseGameEnded {
		return
	}
	if m.phase == domain.PhaseQuestionActive {
		m.phase = domain.PhaseQuestionResolved
	}
	if correctAnswer != "" {
		m.correctAnswer = correctAnswer
	}
}

// AnswerResult applies the server's per-submission verdict. The last
// authoritative write always wins: a timed_out guess is overwritten by a late
// result. A result tagged with a question id that is not the current one is
// stale and ignored, so an old verdict can never leak onto a new question's
// attempt.
func (m *Machine) AnswerResult(questionID string, correct bool, correctAnswer string) {
	if m.phase == domain.PhaseGameEnded || m.attempt == nil {
		return
	}
	if questionID != "" && m.question != nil && m.question.ID != "" && questionID != m.question.ID {
		return
	}
	if correct {
		m.attempt.Outcome = domain.OutcomeCorrect
	} else {
		m.attempt.Outcome = domain.OutcomeIncorrect
	}
	if correctAnswer != "" {
		m.correctAnswer = correctAnswer
	}
}

// GameEnded is terminal: no further submissions or question transitions.
func (m *Machine) GameEnded() {
	m.phase = domain.PhaseGameEnded
	m.countdown = 0
}

// SubmitAnswer validates and records the local selection. Exactly one attempt
// may exist per question; anything else is rejected with a sentinel error and
// leaves state untouched.
func (m *Machine) SubmitAnswer(optionID string) error {
	if m.phase != domain.PhaseQuestionActive {
		return domain.ErrNotAcceptingAnswers
	}
	if m.question == nil {
		return domain.ErrNoActiveQuestion
	}
	if m.attempt != nil {
		return domain.ErrAnswerAlreadySubmitted
	}
	if m.question.TimeLimitSeconds > 0 && m.timeLeft <= 0 {
		return domain.ErrNotAcceptingAnswers
	}
	if !m.question.Options.Has(optionID) {
		return domain.ErrUnknownOption
	}
	m.attempt = &domain.AnswerAttempt{
		SelectedOptionID: optionID,
		SubmittedAt:      m.now(),
		Outcome:          domain.OutcomePending,
	}
	return nil
}
