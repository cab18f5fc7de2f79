package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"beatbattle-controller/internal/domain"
)

// The normalizer maps the server's historically inconsistent payload shapes
// into the canonical domain types. Every function degrades to a safe default
// instead of failing: the returned error marks a recoverable anomaly for the
// caller to log, and the returned value is always usable.

// PlaceholderQuestionText is shown when a question payload carried no text.
const PlaceholderQuestionText = "Question unavailable"

var errEmptyPayload = errors.New("empty payload")

// flexString unmarshals from a JSON string or number. Older server builds
// sent numeric participant ids.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(b)
	return nil
}

// flexInt unmarshals from a JSON number or a numeric string.
type flexInt int

func (i *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*i = 0
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			*i = 0
			return nil
		}
		*i = flexInt(n)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		*i = 0
		return nil
	}
	*i = flexInt(f)
	return nil
}

type wireOption struct {
	ID   flexString `json:"id"`
	Text string     `json:"text"`
}

// Options normalizes answer choices delivered either as an ordered list of
// {id, text} objects or as a plain {id: text} mapping. Output order follows
// the array form, or key appearance order for the map form.
func Options(raw json.RawMessage) (domain.OptionList, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return domain.OptionList{}, fmt.Errorf("options: %w", errEmptyPayload)
	}

	switch raw[0] {
	case '[':
		var list []wireOption
		if err := json.Unmarshal(raw, &list); err != nil {
			return domain.OptionList{}, fmt.Errorf("options: %w", err)
		}
		out := make(domain.OptionList, 0, len(list))
		var anomaly error
		for _, o := range list {
			if o.ID == "" {
				anomaly = errors.New("options: entry without id dropped")
				continue
			}
			out = append(out, domain.Option{ID: string(o.ID), Text: o.Text})
		}
		return out, anomaly
	case '{':
		return optionsFromMap(raw)
	default:
		return domain.OptionList{}, fmt.Errorf("options: unexpected shape %q", previewJSON(raw))
	}
}

// optionsFromMap walks the object token by token so that the key order of
// the wire form is preserved.
func optionsFromMap(raw json.RawMessage) (domain.OptionList, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil { // opening brace
		return domain.OptionList{}, fmt.Errorf("options: %w", err)
	}

	out := domain.OptionList{}
	var anomaly error
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return out, fmt.Errorf("options: %w", err)
		}
		key, _ := keyTok.(string)

		var val any
		if err := dec.Decode(&val); err != nil {
			return out, fmt.Errorf("options: %w", err)
		}
		text := ""
		switch v := val.(type) {
		case string:
			text = v
		case map[string]any:
			if t, ok := v["text"].(string); ok {
				text = t
			} else {
				anomaly = fmt.Errorf("options: non-text value for key %q", key)
			}
		default:
			anomaly = fmt.Errorf("options: non-text value for key %q", key)
		}
		out = append(out, domain.Option{ID: key, Text: text})
	}
	return out, anomaly
}

type wireParticipant struct {
	ID          flexString `json:"id"`
	PlayerID    flexString `json:"playerId"`
	Nickname    string     `json:"nickname"`
	Name        string     `json:"name"`
	DisplayName string     `json:"displayName"`
	IsHost      bool       `json:"isHost"`
	Host        bool       `json:"host"`
	IsReady     bool       `json:"isReady"`
	Ready       bool       `json:"ready"`
}

func (w wireParticipant) toDomain() domain.Participant {
	id := string(w.ID)
	if id == "" {
		id = string(w.PlayerID)
	}
	name := firstNonEmpty(w.Nickname, w.Name, w.DisplayName)
	return domain.Participant{
		ID:          id,
		DisplayName: name,
		IsHost:      w.IsHost || w.Host,
		IsReady:     w.IsReady || w.Ready,
	}
}

// Participant normalizes a single participant object.
func Participant(raw json.RawMessage) (domain.Participant, error) {
	var w wireParticipant
	if err := json.Unmarshal(raw, &w); err != nil {
		return domain.Participant{}, fmt.Errorf("participant: %w", err)
	}
	p := w.toDomain()
	if p.ID == "" {
		return p, errors.New("participant: missing id")
	}
	return p, nil
}

// Roster normalizes a roster update delivered either as a single participant
// object, a bare array, or a {players: [...], controllers: [...]} batch
// envelope. The output is flat and de-duplicated by id: list position is
// first-seen, field values are last-write. snapshot reports whether the
// payload was a full roster (array or batch envelope) rather than a delta.
func Roster(raw json.RawMessage) (list []domain.Participant, snapshot bool, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false, fmt.Errorf("roster: %w", errEmptyPayload)
	}

	var anomalies []error
	var flat []wireParticipant

	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &flat); err != nil {
			return nil, false, fmt.Errorf("roster: %w", err)
		}
		snapshot = true
	case '{':
		var batch struct {
			Players     []wireParticipant `json:"players"`
			Controllers []wireParticipant `json:"controllers"`
		}
		if err := json.Unmarshal(raw, &batch); err == nil && (batch.Players != nil || batch.Controllers != nil) {
			flat = append(flat, batch.Players...)
			flat = append(flat, batch.Controllers...)
			snapshot = true
			break
		}
		// Not a batch envelope: treat the object as a single participant.
		var w wireParticipant
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, false, fmt.Errorf("roster: %w", err)
		}
		flat = append(flat, w)
	default:
		return nil, false, fmt.Errorf("roster: unexpected shape %q", previewJSON(raw))
	}

	order := make([]string, 0, len(flat))
	byID := make(map[string]domain.Participant, len(flat))
	for _, w := range flat {
		p := w.toDomain()
		if p.ID == "" {
			anomalies = append(anomalies, errors.New("roster: entry without id dropped"))
			continue
		}
		if _, seen := byID[p.ID]; !seen {
			order = append(order, p.ID)
		}
		byID[p.ID] = p
	}

	out := make([]domain.Participant, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, snapshot, errors.Join(anomalies...)
}

type wireQuestion struct {
	Question         json.RawMessage `json:"question"`
	ID               flexString      `json:"id"`
	QuestionID       flexString      `json:"questionId"`
	Text             string          `json:"text"`
	Options          json.RawMessage `json:"options"`
	TimeLimit        flexInt         `json:"timeLimit"`
	TimeLimitSeconds flexInt         `json:"timeLimitSeconds"`
	Index            flexInt         `json:"index"`
	OrderIndex       flexInt         `json:"orderIndex"`
	Total            flexInt         `json:"total"`
	TotalQuestions   flexInt         `json:"totalQuestions"`
}

// Question normalizes a new-question payload. Two wire forms exist: a nested
// {question: {question: text, options: ...}, timeLimit: n} envelope and a
// flat {text, options, timeLimit} object. Missing fields degrade to a
// placeholder text and an empty option list.
func Question(raw json.RawMessage) (domain.Question, error) {
	var anomalies []error

	var outer wireQuestion
	if err := json.Unmarshal(raw, &outer); err != nil {
		anomalies = append(anomalies, fmt.Errorf("question: %w", err))
		return domain.Question{Text: PlaceholderQuestionText, Options: domain.OptionList{}}, errors.Join(anomalies...)
	}

	eff := outer
	nested := bytes.TrimSpace(outer.Question)
	if len(nested) > 0 && string(nested) != "null" {
		switch nested[0] {
		case '{':
			var inner wireQuestion
			if err := json.Unmarshal(nested, &inner); err != nil {
				anomalies = append(anomalies, fmt.Errorf("question: nested: %w", err))
			} else {
				eff = mergeQuestion(outer, inner)
			}
		case '"':
			var text string
			if err := json.Unmarshal(nested, &text); err == nil {
				eff.Text = text
			}
		}
	}

	// The doubly-nested form spells the text as {question: {question: "..."}}.
	if eff.Text == "" && len(eff.Question) > 0 {
		inner := bytes.TrimSpace(eff.Question)
		if len(inner) > 0 && inner[0] == '"' {
			_ = json.Unmarshal(inner, &eff.Text)
		}
	}

	q := domain.Question{
		ID:               firstNonEmpty(string(eff.ID), string(eff.QuestionID)),
		Text:             eff.Text,
		TimeLimitSeconds: firstNonZero(int(eff.TimeLimit), int(eff.TimeLimitSeconds)),
		OrderIndex:       firstNonZero(int(eff.OrderIndex), int(eff.Index)),
		TotalQuestions:   firstNonZero(int(eff.TotalQuestions), int(eff.Total)),
	}
	if q.Text == "" {
		q.Text = PlaceholderQuestionText
		anomalies = append(anomalies, errors.New("question: missing text"))
	}

	opts, err := Options(eff.Options)
	if err != nil {
		anomalies = append(anomalies, err)
	}
	q.Options = opts

	return q, errors.Join(anomalies...)
}

// mergeQuestion overlays the nested question object on the outer envelope;
// nested fields win, envelope fields fill the gaps (timeLimit in particular
// travels on the envelope in the nested form).
func mergeQuestion(outer, inner wireQuestion) wireQuestion {
	out := inner
	if out.Text == "" {
		out.Text = outer.Text
	}
	if len(bytes.TrimSpace(out.Options)) == 0 {
		out.Options = outer.Options
	}
	if out.ID == "" && out.QuestionID == "" {
		out.ID = outer.ID
		out.QuestionID = outer.QuestionID
	}
	if out.TimeLimit == 0 && out.TimeLimitSeconds == 0 {
		out.TimeLimit = outer.TimeLimit
		out.TimeLimitSeconds = outer.TimeLimitSeconds
	}
	if out.OrderIndex == 0 && out.Index == 0 {
		out.OrderIndex = outer.OrderIndex
		out.Index = outer.Index
	}
	if out.TotalQuestions == 0 && out.Total == 0 {
		out.TotalQuestions = outer.TotalQuestions
		out.Total = outer.Total
	}
	return out
}

// Seconds normalizes countdown/timer payloads: a bare number or an object
// carrying the value under one of the historical keys.
func Seconds(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("seconds: %w", errEmptyPayload)
	}
	if raw[0] != '{' {
		var v flexInt
		if err := json.Unmarshal(raw, &v); err != nil {
			return 0, fmt.Errorf("seconds: %w", err)
		}
		return int(v), nil
	}
	var w struct {
		Seconds   *flexInt `json:"seconds"`
		TimeLeft  *flexInt `json:"timeLeft"`
		Countdown *flexInt `json:"countdown"`
		Duration  *flexInt `json:"duration"`
		Remaining *flexInt `json:"remaining"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return 0, fmt.Errorf("seconds: %w", err)
	}
	for _, v := range []*flexInt{w.TimeLeft, w.Seconds, w.Countdown, w.Duration, w.Remaining} {
		if v != nil {
			return int(*v), nil
		}
	}
	return 0, errors.New("seconds: no recognized field")
}

// AnswerResultPayload is the normalized per-submission result.
type AnswerResultPayload struct {
	QuestionID    string
	Correct       bool
	CorrectAnswer string
}

// AnswerResult normalizes the per-submission correctness event.
func AnswerResult(raw json.RawMessage) (AnswerResultPayload, error) {
	var w struct {
		Correct       bool       `json:"correct"`
		CorrectAnswer flexString `json:"correctAnswer"`
		Answer        flexString `json:"answer"`
		QuestionID    flexString `json:"questionId"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return AnswerResultPayload{}, fmt.Errorf("answer result: %w", err)
	}
	return AnswerResultPayload{
		QuestionID:    string(w.QuestionID),
		Correct:       w.Correct,
		CorrectAnswer: firstNonEmpty(string(w.CorrectAnswer), string(w.Answer)),
	}, nil
}

// QuestionEnded normalizes the authoritative end-of-question event and
// returns the correct answer's option id, possibly empty.
func QuestionEnded(raw json.RawMessage) (string, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", nil
	}
	var w struct {
		CorrectAnswer flexString `json:"correctAnswer"`
		Correct       flexString `json:"correct"`
		Answer        flexString `json:"answer"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return "", fmt.Errorf("question ended: %w", err)
	}
	return firstNonEmpty(string(w.CorrectAnswer), string(w.Answer), string(w.Correct)), nil
}

// GameStarted normalizes the game-start metadata event.
func GameStarted(raw json.RawMessage) (domain.GameInfo, error) {
	var w struct {
		Category string `json:"category"`
		Mode     string `json:"mode"`
		GameType string `json:"gameType"`
		Type     string `json:"type"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return domain.GameInfo{}, fmt.Errorf("game started: %w", err)
	}
	return domain.GameInfo{
		Category: w.Category,
		Mode:     firstNonEmpty(w.Mode, w.GameType, w.Type),
	}, nil
}

// ScreenChanged normalizes the advisory UI-sync hint from the paired display.
func ScreenChanged(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", fmt.Errorf("screen changed: %w", errEmptyPayload)
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("screen changed: %w", err)
		}
		return s, nil
	}
	var w struct {
		Screen string `json:"screen"`
		Name   string `json:"name"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return "", fmt.Errorf("screen changed: %w", err)
	}
	return firstNonEmpty(w.Screen, w.Name), nil
}

// ServerError normalizes an explicit protocol/business error event.
func ServerError(raw json.RawMessage) (message, code string) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "unknown server error", ""
	}
	if raw[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" {
			return s, ""
		}
		return "unknown server error", ""
	}
	var w struct {
		Message string     `json:"message"`
		Error   string     `json:"error"`
		Code    flexString `json:"code"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return "unknown server error", ""
	}
	msg := firstNonEmpty(w.Message, w.Error)
	if msg == "" {
		msg = "unknown server error"
	}
	return msg, string(w.Code)
}

// ParticipantID extracts the participant id from payloads that carry nothing
// else of interest (controller_joined ack, player_left).
func ParticipantID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", fmt.Errorf("participant id: %w", errEmptyPayload)
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("participant id: %w", err)
		}
		return s, nil
	}
	var w struct {
		ID            flexString `json:"id"`
		PlayerID      flexString `json:"playerId"`
		ParticipantID flexString `json:"participantId"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return "", fmt.Errorf("participant id: %w", err)
	}
	id := firstNonEmpty(string(w.ID), string(w.PlayerID), string(w.ParticipantID))
	if id == "" {
		return "", errors.New("participant id: missing")
	}
	return id, nil
}

// ReadyFlag normalizes a player_ready event into (id, ready).
func ReadyFlag(raw json.RawMessage) (string, bool, error) {
	var w struct {
		ID       flexString `json:"id"`
		PlayerID flexString `json:"playerId"`
		Ready    bool       `json:"ready"`
		IsReady  bool       `json:"isReady"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return "", false, fmt.Errorf("ready flag: %w", err)
	}
	id := firstNonEmpty(string(w.ID), string(w.PlayerID))
	if id == "" {
		return "", false, errors.New("ready flag: missing id")
	}
	return id, w.Ready || w.IsReady, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(vals ...int) int {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

func previewJSON(raw []byte) string {
	const max = 32
	if len(raw) > max {
		return string(raw[:max]) + "..."
	}
	return string(raw)
}
