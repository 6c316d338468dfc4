package transcript

import (
	"errors"
	"testing"
	"time"

	"deepseek-chat/internal/domain"
)

func sampleMessages() []domain.Message {
	base := time.Date(2024, 3, 1, 10, 0, 0, 123, time.UTC)
	return []domain.Message{
		{Role: domain.RoleUser, Content: "Hello", Timestamp: base},
		{Role: domain.RoleAssistant, Content: "Hi there", Timestamp: base.Add(time.Second)},
		{Role: domain.RoleUser, Content: "Explica `go test`\ncon ejemplos", Timestamp: base.Add(2 * time.Second)},
		{Role: domain.RoleAssistant, Content: "", Timestamp: base.Add(3 * time.Second)},
	}
}

func TestAppend_EnforcesAlternation(t *testing.T) {
	tr := New()
	if err := tr.Append(domain.NewMessage(domain.RoleAssistant, "hola")); !errors.Is(err, domain.ErrInvalidRoleOrder) {
		t.Fatalf("expected ErrInvalidRoleOrder for leading assistant, got %v", err)
	}
	if err := tr.Append(domain.NewMessage(domain.RoleUser, "hola")); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := tr.Append(domain.NewMessage(domain.RoleUser, "otra vez")); !errors.Is(err, domain.ErrInvalidRoleOrder) {
		t.Fatalf("expected ErrInvalidRoleOrder for double user, got %v", err)
	}
	if err := tr.Append(domain.NewMessage("system", "x")); !errors.Is(err, domain.ErrInvalidRoleOrder) {
		t.Fatalf("expected ErrInvalidRoleOrder for unknown role, got %v", err)
	}
	if tr.Len() != 1 {
		t.Fatalf("expected 1 message after rejected appends, got %d", tr.Len())
	}
}

func TestAppend_RejectsInvalidUTF8(t *testing.T) {
	tr := New()
	if err := tr.Append(domain.NewMessage(domain.RoleUser, "a\xffb")); !errors.Is(err, domain.ErrInvalidContent) {
		t.Fatalf("expected ErrInvalidContent, got %v", err)
	}
	if tr.Len() != 0 {
		t.Fatalf("expected empty transcript after rejected append, got %d", tr.Len())
	}

	if err := tr.Append(domain.NewMessage(domain.RoleUser, "ñandú ✓")); err != nil {
		t.Fatalf("expected valid UTF-8 to be accepted, got %v", err)
	}
	data, err := tr.Serialize()
	if err != nil {
		t.Fatalf("Serialize err: %v", err)
	}
	back, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize err: %v", err)
	}
	if !Equal(back.Messages(), tr.Messages()) {
		t.Fatalf("round trip differs: %+v vs %+v", back.Messages(), tr.Messages())
	}
}

func TestMessages_ReturnsCopy(t *testing.T) {
	tr, err := FromMessages(sampleMessages())
	if err != nil {
		t.Fatalf("FromMessages err: %v", err)
	}
	out := tr.Messages()
	out[0].Content = "mutado"
	if got := tr.Messages()[0].Content; got != "Hello" {
		t.Fatalf("expected transcript untouched, got %q", got)
	}
}

func TestPending(t *testing.T) {
	tr := New()
	if _, ok := tr.Pending(); ok {
		t.Fatalf("expected no pending message on empty transcript")
	}
	_ = tr.Append(domain.NewMessage(domain.RoleUser, "Test"))
	pending, ok := tr.Pending()
	if !ok || pending.Content != "Test" {
		t.Fatalf("expected pending Test, got %+v ok=%v", pending, ok)
	}
	_ = tr.Append(domain.NewMessage(domain.RoleAssistant, "ok"))
	if _, ok := tr.Pending(); ok {
		t.Fatalf("expected no pending message after reply")
	}
}

func TestSerializeDeserialize_RoundTrip(t *testing.T) {
	cases := map[string][]domain.Message{
		"empty":        {},
		"single user":  sampleMessages()[:1],
		"two turns":    sampleMessages(),
		"pending user": sampleMessages()[:3],
		"no timestamp": {{Role: domain.RoleUser, Content: "sin hora"}},
	}
	for name, msgs := range cases {
		t.Run(name, func(t *testing.T) {
			tr, err := FromMessages(msgs)
			if err != nil {
				t.Fatalf("FromMessages err: %v", err)
			}
			data, err := tr.Serialize()
			if err != nil {
				t.Fatalf("Serialize err: %v", err)
			}
			back, err := Deserialize(data)
			if err != nil {
				t.Fatalf("Deserialize err: %v", err)
			}
			if !Equal(tr.Messages(), back.Messages()) {
				t.Fatalf("round trip mismatch:\nwant %+v\ngot  %+v", tr.Messages(), back.Messages())
			}
		})
	}
}

func TestSerialize_NonUTCTimestamp(t *testing.T) {
	loc := time.FixedZone("UTC-3", -3*3600)
	tr := New()
	_ = tr.Append(domain.Message{Role: domain.RoleUser, Content: "hola", Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, loc)})
	data, err := tr.Serialize()
	if err != nil {
		t.Fatalf("Serialize err: %v", err)
	}
	back, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize err: %v", err)
	}
	if !Equal(tr.Messages(), back.Messages()) {
		t.Fatalf("expected same instant after round trip")
	}
}

func TestDeserialize_LegacyFormat(t *testing.T) {
	legacy := []byte(`[
  {"role": "user", "content": "¿Qué es Go?"},
  {"role": "assistant", "content": "Un lenguaje."}
]`)
	tr, err := Deserialize(legacy)
	if err != nil {
		t.Fatalf("expected legacy file to load, got %v", err)
	}
	msgs := tr.Messages()
	if len(msgs) != 2 || msgs[1].Content != "Un lenguaje." || !msgs[0].Timestamp.IsZero() {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}

func TestDeserialize_Malformed(t *testing.T) {
	cases := map[string]string{
		"empty input":      ``,
		"object":           `{"role":"user","content":"x"}`,
		"broken json":      `[{"role":"user",`,
		"not objects":      `[1, 2]`,
		"unknown role":     `[{"role":"system","content":"x"}]`,
		"missing content":  `[{"role":"user"}]`,
		"numeric content":  `[{"role":"user","content":5}]`,
		"starts assistant": `[{"role":"assistant","content":"x"}]`,
		"double user":      `[{"role":"user","content":"a"},{"role":"user","content":"b"}]`,
		"bad timestamp":    `[{"role":"user","content":"a","timestamp":"ayer"}]`,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Deserialize([]byte(input)); !errors.Is(err, domain.ErrMalformedTranscript) {
				t.Fatalf("expected ErrMalformedTranscript, got %v", err)
			}
		})
	}
}

func TestClear(t *testing.T) {
	tr, _ := FromMessages(sampleMessages())
	tr.Clear()
	if tr.Len() != 0 {
		t.Fatalf("expected empty transcript, got %d", tr.Len())
	}
	if err := tr.Append(domain.NewMessage(domain.RoleUser, "de nuevo")); err != nil {
		t.Fatalf("expected append after clear to start with user, got %v", err)
	}
}
