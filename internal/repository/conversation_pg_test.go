package repository

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"deepseek-chat/internal/domain"
)

func TestCountMessages(t *testing.T) {
	if got := countMessages([]byte(`[{"role":"user","content":"a"},{"role":"assistant","content":"b"}]`)); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	if got := countMessages([]byte(`{}`)); got != 0 {
		t.Fatalf("expected 0 for non-array, got %d", got)
	}
}

// Requiere TEST_DATABASE_URL con la migración aplicada.
func TestPgConversationRepository_Integration(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	repo := NewPgConversationRepository(pool)
	name := "test_" + uuid.NewString()
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM conversations WHERE name = $1`, name)
	})

	body := []byte(`[{"role":"user","content":"Hello"}]`)
	if _, err := repo.Save(ctx, name, body); err != nil {
		t.Fatalf("Save err: %v", err)
	}
	got, err := repo.Load(ctx, name)
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if countMessages(got) != 1 {
		t.Fatalf("unexpected body %s", got)
	}
	if _, err := repo.Load(ctx, "missing_"+uuid.NewString()); !errors.Is(err, domain.ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}
