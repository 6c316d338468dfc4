package service

import (
	"time"

	"github.com/google/uuid"

	"deepseek-chat/internal/transcript"
)

// Session es una conversación activa junto con su estado de persistencia.
// Solo el SessionController la modifica.
type Session struct {
	ID         string
	Transcript *transcript.Transcript
	Dirty      bool
	Path       string
	CreatedAt  time.Time

	// revision aumenta con cada cambio del transcript; Save lo usa para saber si
	// lo guardado sigue siendo lo que hay en memoria.
	revision uint64
}

func NewSession() *Session {
	return &Session{
		ID:         uuid.NewString(),
		Transcript: transcript.New(),
		CreatedAt:  time.Now().UTC(),
	}
}

func (s *Session) touch() {
	s.Dirty = true
	s.revision++
}
