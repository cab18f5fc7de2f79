package domain

import "errors"

var (
	// ErrNotAcceptingAnswers is returned when an answer is submitted outside
	// the question_active phase or after the countdown reached zero.
	ErrNotAcceptingAnswers = errors.New("not accepting answers")
	// ErrAnswerAlreadySubmitted is returned when an attempt already exists
	// for the current question.
	ErrAnswerAlreadySubmitted = errors.New("answer already submitted")
	// ErrUnknownOption is returned when the selected option id is not part
	// of the current question.
	ErrUnknownOption = errors.New("unknown option")
	// ErrNoActiveQuestion is returned when no question has been received yet.
	ErrNoActiveQuestion = errors.New("no active question")
	// ErrSessionClosed is returned by operations on a torn-down session.
	ErrSessionClosed = errors.New("session closed")
	// ErrNotConnected is returned when an outbound event cannot be sent
	// because no live connection exists.
	ErrNotConnected = errors.New("not connected")
)
