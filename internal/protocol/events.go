package protocol

import "encoding/json"

// Event names exchanged with the game server. The server speaks a loose
// socket.io-style dialect, so inbound payload shapes vary; see normalize.go.
const (
	// Client -> Server
	EventJoinController         = "join_controller"
	EventToggleReady            = "toggle_ready"
	EventSubmitAnswer           = "submit_answer"
	EventControllerCommand      = "controller_command"
	EventRequestCurrentQuestion = "request_current_question"
	EventRequestNextQuestion    = "request_next_question"
	EventLeaveRoom              = "leave_room"
	EventPing                   = "ping"

	// Server -> Client
	EventControllerJoined = "controller_joined"
	EventPlayerJoined     = "player_joined"
	EventPlayerLeft       = "player_left"
	EventPlayerReady      = "player_ready"
	EventCountdownStarted = "countdown_started"
	EventGameStarted      = "game_started"
	EventNewQuestion      = "new_question"
	EventTimerUpdate      = "timer_update"
	EventQuestionEnded    = "question_ended"
	EventAnswerResult     = "answer_result"
	EventGameEnded        = "game_ended"
	EventScreenChanged    = "screen_changed"
	EventError            = "error"
	EventPong             = "pong"
)

// Envelope is the wire frame for every message in both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinControllerPayload is the authenticated-join handshake sent right after
// the low-level connect succeeds.
type JoinControllerPayload struct {
	RoomCode string `json:"roomCode"`
	Nickname string `json:"nickname"`
}

// ToggleReadyPayload flips the local participant's ready flag.
type ToggleReadyPayload struct {
	RoomCode string `json:"roomCode"`
	Ready    bool   `json:"ready"`
}

// SubmitAnswerPayload carries the selected option for the current question.
type SubmitAnswerPayload struct {
	RoomCode   string `json:"roomCode"`
	QuestionID string `json:"questionId,omitempty"`
	Answer     string `json:"answer"`
}

// ControllerCommandPayload is a fire-and-forget D-pad or confirm press.
type ControllerCommandPayload struct {
	RoomCode string `json:"roomCode"`
	Command  string `json:"command"`
}

// RoomPayload is the common shape for room-scoped requests
// (request_current_question, request_next_question, ping).
type RoomPayload struct {
	RoomCode string `json:"roomCode"`
}

// LeaveRoomPayload announces that the controller is leaving.
type LeaveRoomPayload struct {
	RoomCode string `json:"roomCode"`
	Nickname string `json:"nickname,omitempty"`
}
