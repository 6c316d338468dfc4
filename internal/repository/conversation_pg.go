package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"deepseek-chat/internal/domain"
)

// PgConversationRepository guarda los transcripts en la tabla conversations.
type PgConversationRepository struct {
	pool *pgxpool.Pool
}

func NewPgConversationRepository(pool *pgxpool.Pool) *PgConversationRepository {
	return &PgConversationRepository{pool: pool}
}

func (r *PgConversationRepository) Save(ctx context.Context, name string, data []byte) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName(time.Now())
	}

	const query = `
		INSERT INTO conversations (name, body, message_count, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE
		SET body = EXCLUDED.body,
		    message_count = EXCLUDED.message_count,
		    updated_at = EXCLUDED.updated_at
	`
	_, err := r.pool.Exec(ctx, query,
		name,
		data,
		countMessages(data),
		time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("save conversation: %w", err)
	}
	return "postgres:" + name, nil
}

func (r *PgConversationRepository) Load(ctx context.Context, name string) ([]byte, error) {
	const query = `
		SELECT body
		FROM conversations
		WHERE name = $1
	`
	var body []byte
	err := r.pool.QueryRow(ctx, query, strings.TrimSpace(name)).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrConversationNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return body, nil
}

func (r *PgConversationRepository) List(ctx context.Context) ([]domain.ConversationInfo, error) {
	const query = `
		SELECT name, message_count, updated_at
		FROM conversations
		ORDER BY updated_at DESC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := []domain.ConversationInfo{}
	for rows.Next() {
		var info domain.ConversationInfo
		if err := rows.Scan(&info.Name, &info.MessageCount, &info.UpdatedAt); err != nil {
			return nil, err
		}
		info.DisplayName = DisplayName(info.Name)
		info.Location = "postgres:" + info.Name
		out = append(out, info)
	}
	return out, rows.Err()
}

// countMessages cuenta los registros de un transcript serializado; 0 si no es un arreglo.
func countMessages(data []byte) int {
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return 0
	}
	return len(records)
}
