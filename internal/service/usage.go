package service

import (
	"sync"

	"github.com/shopspring/decimal"

	"deepseek-chat/internal/llm"
)

var tokensPerPriceUnit = decimal.NewFromInt(1_000_000)

// UsageReport resume los tokens consumidos y el costo estimado.
type UsageReport struct {
	Requests         int             `json:"requests"`
	PromptTokens     int64           `json:"prompt_tokens"`
	CompletionTokens int64           `json:"completion_tokens"`
	Cost             decimal.Decimal `json:"cost"`
}

// UsageTracker acumula el uso de todas las respuestas recibidas durante la ejecución.
type UsageTracker struct {
	mu               sync.Mutex
	promptPrice      decimal.Decimal
	completionPrice  decimal.Decimal
	requests         int
	promptTokens     int64
	completionTokens int64
}

// NewUsageTracker recibe precios por millón de tokens.
func NewUsageTracker(promptPerMTok, completionPerMTok decimal.Decimal) *UsageTracker {
	return &UsageTracker{
		promptPrice:     promptPerMTok,
		completionPrice: completionPerMTok,
	}
}

func (u *UsageTracker) Add(usage llm.Usage) {
	if u == nil {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.requests++
	u.promptTokens += int64(usage.PromptTokens)
	u.completionTokens += int64(usage.CompletionTokens)
}

func (u *UsageTracker) Report() UsageReport {
	if u == nil {
		return UsageReport{Cost: decimal.Zero}
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	cost := decimal.NewFromInt(u.promptTokens).Mul(u.promptPrice).
		Add(decimal.NewFromInt(u.completionTokens).Mul(u.completionPrice)).
		Div(tokensPerPriceUnit).
		Round(6)

	return UsageReport{
		Requests:         u.requests,
		PromptTokens:     u.promptTokens,
		CompletionTokens: u.completionTokens,
		Cost:             cost,
	}
}
