package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"deepseek-chat/internal/domain"
)

const DefaultBaseURL = "https://api.deepseek.com/v1"

// Client define la interfaz para pedir una respuesta al modelo remoto.
type Client interface {
	Complete(ctx context.Context, messages []domain.Message) (Completion, error)
	Stream(ctx context.Context, messages []domain.Message, onDelta func(string)) (Completion, error)
}

// Completion es la respuesta completa de un turno.
type Completion struct {
	Content string
	Model   string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Options agrupa la configuración de HTTPClient.
type Options struct {
	BaseURL      string
	APIKey       string
	Model        string
	SystemPrompt string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// HTTPClient implementa Client contra una API compatible con chat completions de OpenAI.
type HTTPClient struct {
	baseURL      string
	apiKey       string
	systemPrompt string
	client       *http.Client
	logger       *zap.Logger

	mu    sync.RWMutex
	model string
}

// NewHTTPClient construye un cliente HTTP apuntando a la API de chat completions.
func NewHTTPClient(opts Options, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := opts.Model
	if model == "" {
		model = "deepseek-chat"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       opts.APIKey,
		systemPrompt: strings.TrimSpace(opts.SystemPrompt),
		client:       httpClient,
		logger:       logger,
		model:        model,
	}
}

func (c *HTTPClient) Model() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

func (c *HTTPClient) SetModel(model string) {
	model = strings.TrimSpace(model)
	if model == "" {
		return
	}
	c.mu.Lock()
	c.model = model
	c.mu.Unlock()
}

func (c *HTTPClient) Complete(ctx context.Context, messages []domain.Message) (Completion, error) {
	resp, err := c.do(ctx, messages, false)
	if err != nil {
		return Completion{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, &APIError{Kind: ErrNetwork, Message: fmt.Sprintf("read response: %v", err)}
	}

	var cr chatResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return Completion{}, &APIError{Kind: ErrUpstream, StatusCode: resp.StatusCode, Message: fmt.Sprintf("unmarshal response: %v", err)}
	}
	if cr.Error != nil {
		return Completion{}, &APIError{Kind: ErrUpstream, StatusCode: resp.StatusCode, Message: cr.Error.Message}
	}
	if len(cr.Choices) == 0 || cr.Choices[0].Message.Content == "" {
		return Completion{}, &APIError{Kind: ErrUpstream, StatusCode: resp.StatusCode, Message: "empty response"}
	}

	return Completion{
		Content: cr.Choices[0].Message.Content,
		Model:   cr.Model,
		Usage:   cr.Usage,
	}, nil
}

// Stream envía la petición con stream=true y entrega cada fragmento a onDelta.
func (c *HTTPClient) Stream(ctx context.Context, messages []domain.Message, onDelta func(string)) (Completion, error) {
	resp, err := c.do(ctx, messages, true)
	if err != nil {
		return Completion{}, err
	}
	defer resp.Body.Close()

	var (
		content strings.Builder
		out     Completion
		done    bool
	)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			done = true
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return Completion{}, &APIError{Kind: ErrUpstream, StatusCode: resp.StatusCode, Message: fmt.Sprintf("unmarshal chunk: %v", err)}
		}
		if chunk.Error != nil {
			return Completion{}, &APIError{Kind: ErrUpstream, StatusCode: resp.StatusCode, Message: chunk.Error.Message}
		}
		if chunk.Model != "" {
			out.Model = chunk.Model
		}
		if chunk.Usage != nil {
			out.Usage = *chunk.Usage
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			content.WriteString(choice.Delta.Content)
			if onDelta != nil {
				onDelta(choice.Delta.Content)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Completion{}, &APIError{Kind: ErrNetwork, Message: fmt.Sprintf("read stream: %v", err)}
	}
	if content.Len() == 0 {
		msg := "empty response"
		if !done {
			msg = "stream ended without data"
		}
		return Completion{}, &APIError{Kind: ErrUpstream, StatusCode: resp.StatusCode, Message: msg}
	}

	out.Content = content.String()
	return out, nil
}

// ListModels consulta GET /models.
func (c *HTTPClient) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &APIError{Kind: ErrUpstream, StatusCode: resp.StatusCode, Message: fmt.Sprintf("parse models: %v", err)}
	}
	models := make([]string, 0, len(result.Data))
	for _, m := range result.Data {
		models = append(models, m.ID)
	}
	return models, nil
}

func (c *HTTPClient) do(ctx context.Context, messages []domain.Message, stream bool) (*http.Response, error) {
	reqBody := chatRequest{
		Model:    c.Model(),
		Messages: c.buildMessages(messages),
		Stream:   stream,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	c.logger.Debug("llm request",
		zap.String("model", reqBody.Model),
		zap.Int("messages", len(reqBody.Messages)),
		zap.Bool("stream", stream),
	)
	return c.send(req)
}

// send ejecuta la petición y traduce fallos de transporte y status no 2xx a APIError.
func (c *HTTPClient) send(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &APIError{Kind: ErrNetwork, Message: err.Error()}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.logger.Debug("llm response", zap.Int("status", resp.StatusCode), zap.Duration("latency", time.Since(start)))
		return resp, nil
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	c.logger.Warn("llm error status",
		zap.Int("status", resp.StatusCode),
		zap.String("body", string(respBody)),
	)
	return nil, &APIError{
		Kind:       classifyStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Message:    providerMessage(respBody),
	}
}

func (c *HTTPClient) buildMessages(messages []domain.Message) []chatMessage {
	out := make([]chatMessage, 0, len(messages)+1)
	if c.systemPrompt != "" {
		out = append(out, chatMessage{Role: "system", Content: c.systemPrompt})
	}
	for _, m := range messages {
		out = append(out, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func providerMessage(body []byte) string {
	var er struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &er); err == nil && er.Error != nil && er.Error.Message != "" {
		return er.Error.Message
	}
	return strings.TrimSpace(string(body))
}

// IsRemoteFailure indica si err pertenece a la taxonomía de fallos de la llamada remota.
func IsRemoteFailure(err error) bool {
	return errors.Is(err, ErrAuthentication) ||
		errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrUpstream)
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiErrorBody struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage Usage         `json:"usage"`
	Error *apiErrorBody `json:"error,omitempty"`
}

type streamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *Usage        `json:"usage,omitempty"`
	Error *apiErrorBody `json:"error,omitempty"`
}
