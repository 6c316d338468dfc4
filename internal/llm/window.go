package llm

import "deepseek-chat/internal/domain"

// Window recorta la conversación a los últimos max mensajes y descarta respuestas
// iniciales para que la ventana siempre empiece con el usuario. max <= 0 no recorta.
func Window(messages []domain.Message, max int) []domain.Message {
	start := 0
	if max > 0 && len(messages) > max {
		start = len(messages) - max
	}
	for start < len(messages) && messages[start].Role != domain.RoleUser {
		start++
	}
	out := make([]domain.Message, len(messages)-start)
	copy(out, messages[start:])
	return out
}
