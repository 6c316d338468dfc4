package domain

import "time"

// ConversationInfo describe una conversación guardada, tal como la lista el repositorio.
type ConversationInfo struct {
	Name         string    `json:"name"`
	DisplayName  string    `json:"display_name"`
	Location     string    `json:"location"`
	MessageCount int       `json:"message_count,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}
