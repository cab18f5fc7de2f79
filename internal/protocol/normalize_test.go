package protocol

import (
	"encoding/json"
	"reflect"
	"testing"

	"beatbattle-controller/internal/domain"
)

func TestOptionsBothShapesEqual(t *testing.T) {
	asList := json.RawMessage(`[{"id":"A","text":"Paris"},{"id":"B","text":"Rome"}]`)
	asMap := json.RawMessage(`{"A":"Paris","B":"Rome"}`)

	fromList, err := Options(asList)
	if err != nil {
		t.Fatalf("list form: %v", err)
	}
	fromMap, err := Options(asMap)
	if err != nil {
		t.Fatalf("map form: %v", err)
	}
	if !reflect.DeepEqual(fromList, fromMap) {
		t.Fatalf("shapes disagree: %v vs %v", fromList, fromMap)
	}
	want := domain.OptionList{{ID: "A", Text: "Paris"}, {ID: "B", Text: "Rome"}}
	if !reflect.DeepEqual(fromList, want) {
		t.Fatalf("got %v, want %v", fromList, want)
	}
}

func TestOptionsPreservesOrder(t *testing.T) {
	raw := json.RawMessage(`{"C":"third","A":"first","B":"second"}`)
	opts, err := Options(raw)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	ids := []string{opts[0].ID, opts[1].ID, opts[2].ID}
	if !reflect.DeepEqual(ids, []string{"C", "A", "B"}) {
		t.Fatalf("key order not preserved: %v", ids)
	}
}

func TestOptionsDegradesSafely(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"null", `null`},
		{"number", `42`},
		{"garbage", `"not options"`},
		{"entries without id", `[{"text":"orphan"}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts, err := Options(json.RawMessage(tc.raw))
			if err == nil {
				t.Fatalf("expected anomaly for %s", tc.raw)
			}
			if opts == nil {
				t.Fatalf("expected usable empty list, got nil")
			}
			if len(opts) != 0 {
				t.Fatalf("expected no options, got %v", opts)
			}
		})
	}
}

func TestRosterSingleAndBatch(t *testing.T) {
	single := json.RawMessage(`{"id":"p1","nickname":"Alice","isHost":true}`)
	list, snapshot, err := Roster(single)
	if err != nil {
		t.Fatalf("single: %v", err)
	}
	if snapshot {
		t.Fatalf("single object should not be a snapshot")
	}
	if len(list) != 1 || list[0].DisplayName != "Alice" || !list[0].IsHost {
		t.Fatalf("unexpected single roster: %+v", list)
	}

	batch := json.RawMessage(`{"players":[{"id":"p1","name":"Alice"}],"controllers":[{"id":"p2","nickname":"Bob","ready":true}]}`)
	list, snapshot, err = Roster(batch)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if !snapshot {
		t.Fatalf("batch envelope should be a snapshot")
	}
	if len(list) != 2 || list[1].ID != "p2" || !list[1].IsReady {
		t.Fatalf("unexpected batch roster: %+v", list)
	}
}

func TestRosterDeduplicatesByID(t *testing.T) {
	raw := json.RawMessage(`[
		{"id":"p1","nickname":"Alice"},
		{"id":"p2","nickname":"Bob"},
		{"id":"p1","nickname":"Alicia","ready":true}
	]`)
	list, _, err := Roster(raw)
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(list))
	}
	// First-seen position, last-write fields.
	if list[0].ID != "p1" || list[0].DisplayName != "Alicia" || !list[0].IsReady {
		t.Fatalf("dedup wrong: %+v", list[0])
	}
}

func TestRosterNumericIDs(t *testing.T) {
	list, _, err := Roster(json.RawMessage(`[{"id":7,"name":"Seven"}]`))
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	if len(list) != 1 || list[0].ID != "7" {
		t.Fatalf("numeric id not normalized: %+v", list)
	}
}

func TestQuestionNestedAndFlatForms(t *testing.T) {
	nested := json.RawMessage(`{
		"question": {"question": "Capital of France?", "id": "q1",
			"options": {"A":"Paris","B":"Rome"}},
		"timeLimit": 30
	}`)
	flat := json.RawMessage(`{
		"id": "q1", "text": "Capital of France?",
		"options": [{"id":"A","text":"Paris"},{"id":"B","text":"Rome"}],
		"timeLimit": 30
	}`)

	qn, err := Question(nested)
	if err != nil {
		t.Fatalf("nested: %v", err)
	}
	qf, err := Question(flat)
	if err != nil {
		t.Fatalf("flat: %v", err)
	}
	if !reflect.DeepEqual(qn, qf) {
		t.Fatalf("forms disagree:\n nested %+v\n flat   %+v", qn, qf)
	}
	if qn.Text != "Capital of France?" || qn.TimeLimitSeconds != 30 || len(qn.Options) != 2 {
		t.Fatalf("unexpected question: %+v", qn)
	}
}

func TestQuestionMissingFieldsDegrade(t *testing.T) {
	q, err := Question(json.RawMessage(`{"timeLimit": 10}`))
	if err == nil {
		t.Fatalf("expected anomaly for empty question")
	}
	if q.Text != PlaceholderQuestionText {
		t.Fatalf("expected placeholder text, got %q", q.Text)
	}
	if q.Options == nil || len(q.Options) != 0 {
		t.Fatalf("expected empty options, got %v", q.Options)
	}
	if q.TimeLimitSeconds != 10 {
		t.Fatalf("expected timeLimit to survive, got %d", q.TimeLimitSeconds)
	}
}

func TestSecondsVariants(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{`30`, 30},
		{`"25"`, 25},
		{`{"timeLeft": 12}`, 12},
		{`{"seconds": 5}`, 5},
		{`{"countdown": 3}`, 3},
	}
	for _, tc := range cases {
		got, err := Seconds(json.RawMessage(tc.raw))
		if err != nil {
			t.Fatalf("%s: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %d, want %d", tc.raw, got, tc.want)
		}
	}
}

func TestAnswerResultAliases(t *testing.T) {
	res, err := AnswerResult(json.RawMessage(`{"correct":true,"correctAnswer":"A","questionId":"q1"}`))
	if err != nil {
		t.Fatalf("answer result: %v", err)
	}
	if !res.Correct || res.CorrectAnswer != "A" || res.QuestionID != "q1" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestServerErrorShapes(t *testing.T) {
	msg, code := ServerError(json.RawMessage(`{"message":"room not found","code":"ROOM_404"}`))
	if msg != "room not found" || code != "ROOM_404" {
		t.Fatalf("got %q %q", msg, code)
	}
	msg, _ = ServerError(json.RawMessage(`"plain text error"`))
	if msg != "plain text error" {
		t.Fatalf("got %q", msg)
	}
	msg, _ = ServerError(nil)
	if msg == "" {
		t.Fatalf("expected fallback message")
	}
}

func TestParticipantIDShapes(t *testing.T) {
	for _, raw := range []string{`"p1"`, `{"id":"p1"}`, `{"playerId":"p1"}`} {
		id, err := ParticipantID(json.RawMessage(raw))
		if err != nil {
			t.Fatalf("%s: %v", raw, err)
		}
		if id != "p1" {
			t.Fatalf("%s: got %q", raw, id)
		}
	}
	if _, err := ParticipantID(json.RawMessage(`{}`)); err == nil {
		t.Fatalf("expected error for missing id")
	}
}
