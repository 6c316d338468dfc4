package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"deepseek-chat/internal/llm"
	"deepseek-chat/internal/repository"
	"deepseek-chat/internal/service"
)

func TestRouter_LogsAuthenticatedClient(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	ctrl := service.NewSessionController(
		zap.NewNop(),
		&llm.MockClient{},
		repository.NewFileConversationRepository(t.TempDir()),
		service.NewUsageTracker(decimal.Zero, decimal.Zero),
		service.ControllerOptions{},
	)
	t.Cleanup(ctrl.Close)
	jwtSvc := service.NewJWTService("secret", 15*time.Minute)
	r := NewRouter(logger, NewChatHandler(zap.NewNop(), ctrl, nil), jwtSvc)

	token, _, err := jwtSvc.Issue("repl")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/transcript", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	// Sin token el request se registra igual, pero sin cliente.
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/transcript", nil))

	entries := logs.FilterMessage("request").AllUntimed()
	if len(entries) != 2 {
		t.Fatalf("expected 2 request entries, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["client"]; got != "repl" {
		t.Fatalf("expected client=repl, got %v", got)
	}
	if _, ok := entries[1].ContextMap()["client"]; ok {
		t.Fatalf("unauthenticated request must not log a client")
	}
	if got := entries[1].ContextMap()["status"]; got != int64(http.StatusUnauthorized) {
		t.Fatalf("expected status 401, got %v", got)
	}
}
