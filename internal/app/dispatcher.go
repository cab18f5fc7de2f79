package app

import (
	"time"

	"beatbattle-controller/internal/domain"
	"beatbattle-controller/internal/protocol"
)

// The command dispatcher: local user intent becomes outbound events, with
// optimistic local updates where latency would otherwise show. UI screens
// never talk to the transport directly.

// ToggleReady flips the local ready flag optimistically and emits the toggle
// event. A later roster snapshot from the server wins over the optimistic
// value. No-op while disconnected.
func (s *Session) ToggleReady() error {
	var ready bool
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if s.connState != domain.ConnConnected {
		s.mu.Unlock()
		return domain.ErrNotConnected
	}
	s.localReady = !s.localReady
	ready = s.localReady
	if s.localID != "" {
		s.roster.SetReady(s.localID, ready)
	}
	s.broadcastLocked()
	s.mu.Unlock()

	if err := s.client.Send(protocol.EventToggleReady, protocol.ToggleReadyPayload{
		RoomCode: s.cfg.RoomCode,
		Ready:    ready,
	}); err != nil {
		s.log.Debug().Err(err).Msg("toggle ready")
	}
	return nil
}

// SendDirection emits a fire-and-forget D-pad press and pulses the snapshot's
// LastPressed field for the configured duration.
func (s *Session) SendDirection(d domain.Direction) {
	s.sendCommand(string(d))
}

// SendConfirm emits the center-button press.
func (s *Session) SendConfirm() {
	s.sendCommand("enter")
}

func (s *Session) sendCommand(command string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.lastPressed = command
	// A new press supersedes the previous pulse timer.
	if s.pulseTimer != nil {
		s.pulseTimer.Stop()
	}
	s.pulseTimer = time.AfterFunc(s.cfg.PulseDuration, func() {
		s.apply(func() {
			if s.lastPressed == command {
				s.lastPressed = ""
			}
		})
	})
	s.broadcastLocked()
	s.mu.Unlock()

	if err := s.client.Send(protocol.EventControllerCommand, protocol.ControllerCommandPayload{
		RoomCode: s.cfg.RoomCode,
		Command:  command,
	}); err != nil {
		s.log.Debug().Err(err).Str("command", command).Msg("controller command")
	}
}

// SubmitAnswer records the local selection and sends it to the server. The
// attempt is created at most once per question; rejected submissions change
// nothing and send nothing.
func (s *Session) SubmitAnswer(optionID string) error {
	var questionID string
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if err := s.machine.SubmitAnswer(optionID); err != nil {
		s.mu.Unlock()
		s.log.Debug().Err(err).Str("option", optionID).Msg("answer rejected")
		return err
	}
	if q := s.machine.Question(); q != nil {
		questionID = q.ID
	}
	s.broadcastLocked()
	s.mu.Unlock()

	if err := s.client.Send(protocol.EventSubmitAnswer, protocol.SubmitAnswerPayload{
		RoomCode:   s.cfg.RoomCode,
		QuestionID: questionID,
		Answer:     optionID,
	}); err != nil {
		s.log.Debug().Err(err).Msg("submit answer")
	}
	return nil
}

// RequestNextQuestion asks the host to advance. The server decides; the
// client only reflects the resulting new_question event.
func (s *Session) RequestNextQuestion() {
	if err := s.client.Send(protocol.EventRequestNextQuestion, protocol.RoomPayload{RoomCode: s.cfg.RoomCode}); err != nil {
		s.log.Debug().Err(err).Msg("request next question")
	}
}

// Leave emits the leave event, then tears the session down. Safe to call
// even if the session never fully connected.
func (s *Session) Leave() error {
	if err := s.client.Send(protocol.EventLeaveRoom, protocol.LeaveRoomPayload{
		RoomCode: s.cfg.RoomCode,
		Nickname: s.client.Nickname(),
	}); err != nil {
		s.log.Debug().Err(err).Msg("leave room")
	}
	return s.Close()
}
