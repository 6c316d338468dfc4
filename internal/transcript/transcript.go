package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"deepseek-chat/internal/domain"
)

// Transcript es la secuencia ordenada de mensajes de una conversación.
// Los roles alternan estrictamente empezando por el usuario.
type Transcript struct {
	messages []domain.Message
}

func New() *Transcript {
	return &Transcript{messages: make([]domain.Message, 0, 16)}
}

// FromMessages construye un transcript validando el orden de roles.
func FromMessages(msgs []domain.Message) (*Transcript, error) {
	t := New()
	for i, m := range msgs {
		if err := t.Append(m); err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
	}
	return t, nil
}

// Append agrega al final; falla si rompe la alternancia user/assistant o si el
// contenido no es UTF-8 válido.
func (t *Transcript) Append(msg domain.Message) error {
	if !msg.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", domain.ErrInvalidRoleOrder, msg.Role)
	}
	if msg.Role != t.nextRole() {
		return fmt.Errorf("%w: expected %s, got %s", domain.ErrInvalidRoleOrder, t.nextRole(), msg.Role)
	}
	// JSON reemplaza los bytes inválidos, así que no sobrevivirían a Serialize.
	if !utf8.ValidString(msg.Content) {
		return fmt.Errorf("%w: content is not valid UTF-8", domain.ErrInvalidContent)
	}
	t.messages = append(t.messages, msg)
	return nil
}

func (t *Transcript) nextRole() domain.Role {
	if len(t.messages)%2 == 0 {
		return domain.RoleUser
	}
	return domain.RoleAssistant
}

// Messages devuelve una copia; el llamador no puede mutar el transcript.
func (t *Transcript) Messages() []domain.Message {
	out := make([]domain.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Transcript) Len() int {
	return len(t.messages)
}

func (t *Transcript) Last() (domain.Message, bool) {
	if len(t.messages) == 0 {
		return domain.Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}

// Pending devuelve el último mensaje de usuario si todavía no tiene respuesta.
func (t *Transcript) Pending() (domain.Message, bool) {
	last, ok := t.Last()
	if !ok || last.Role != domain.RoleUser {
		return domain.Message{}, false
	}
	return last, true
}

func (t *Transcript) Clear() {
	t.messages = make([]domain.Message, 0, 16)
}

type record struct {
	Role      string     `json:"role"`
	Content   *string    `json:"content"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Serialize codifica el transcript como un arreglo JSON indentado.
func (t *Transcript) Serialize() ([]byte, error) {
	records := make([]record, 0, len(t.messages))
	for _, m := range t.messages {
		content := m.Content
		r := record{Role: string(m.Role), Content: &content}
		if !m.Timestamp.IsZero() {
			ts := m.Timestamp.UTC()
			r.Timestamp = &ts
		}
		records = append(records, r)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal transcript: %w", err)
	}
	return data, nil
}

// Deserialize acepta también los archivos sin timestamp.
func Deserialize(data []byte) (*Transcript, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		return nil, fmt.Errorf("%w: expected a JSON array", domain.ErrMalformedTranscript)
	}

	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedTranscript, err)
	}

	t := New()
	for i, r := range records {
		role, ok := domain.ParseRole(r.Role)
		if !ok {
			return nil, fmt.Errorf("%w: record %d has unknown role %q", domain.ErrMalformedTranscript, i, r.Role)
		}
		if r.Content == nil {
			return nil, fmt.Errorf("%w: record %d has no content", domain.ErrMalformedTranscript, i)
		}
		msg := domain.Message{Role: role, Content: *r.Content}
		if r.Timestamp != nil {
			msg.Timestamp = r.Timestamp.UTC()
		}
		if err := t.Append(msg); err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", domain.ErrMalformedTranscript, i, err)
		}
	}
	return t, nil
}

// Equal compara mensaje a mensaje; los timestamps se comparan como instantes.
func Equal(a, b []domain.Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Role != b[i].Role || a[i].Content != b[i].Content || !a[i].Timestamp.Equal(b[i].Timestamp) {
			return false
		}
	}
	return true
}
