package llm

import (
	"context"
	"strings"
	"sync"

	"deepseek-chat/internal/domain"
)

// MockClient permite tests sin llamar a un LLM real.
type MockClient struct {
	mu       sync.Mutex
	Response string
	Err      error
	Chunks   []string
	Usage    Usage
	// Block, si no es nil, retiene la llamada hasta que se cierre o se cancele ctx.
	Block chan struct{}
	Calls [][]domain.Message
}

func (m *MockClient) Complete(ctx context.Context, messages []domain.Message) (Completion, error) {
	return m.Stream(ctx, messages, nil)
}

func (m *MockClient) Stream(ctx context.Context, messages []domain.Message, onDelta func(string)) (Completion, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, messages)
	block := m.Block
	resp, err, chunks, usage := m.Response, m.Err, m.Chunks, m.Usage
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return Completion{}, &APIError{Kind: ErrNetwork, Message: ctx.Err().Error()}
		}
	}
	if err != nil {
		return Completion{}, err
	}
	if len(chunks) > 0 {
		for _, c := range chunks {
			if onDelta != nil {
				onDelta(c)
			}
		}
		resp = strings.Join(chunks, "")
	}
	return Completion{Content: resp, Usage: usage}, nil
}

// Set cambia la respuesta configurada de forma segura entre goroutines.
func (m *MockClient) Set(resp string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Response = resp
	m.Err = err
}

func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
