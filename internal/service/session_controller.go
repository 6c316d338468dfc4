package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"deepseek-chat/internal/domain"
	"deepseek-chat/internal/llm"
	"deepseek-chat/internal/repository"
	"deepseek-chat/internal/transcript"
)

// State es el estado del controlador de sesión.
type State int

const (
	StateIdle State = iota
	StateAwaitingResponse
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type EventType string

const (
	EventStateChanged EventType = "state"
	EventDelta        EventType = "delta"
)

// Event se entrega a los observadores en el mismo orden en que ocurrieron las transiciones.
type Event struct {
	Type     EventType `json:"type"`
	Snapshot Snapshot  `json:"snapshot"`
	Delta    string    `json:"delta,omitempty"`
}

// Observer recibe eventos desde la goroutine de despacho; puede llamar al controlador.
type Observer func(Event)

// Snapshot es una copia inmutable del estado visible de la sesión.
type Snapshot struct {
	SessionID string           `json:"session_id"`
	State     State            `json:"state"`
	Messages  []domain.Message `json:"messages"`
	Dirty     bool             `json:"dirty"`
	Path      string           `json:"path,omitempty"`
	Error     string           `json:"error,omitempty"`
	Err       error            `json:"-"`
	Usage     UsageReport      `json:"usage"`
}

// ControllerOptions define ventana de contexto y modo de entrega.
type ControllerOptions struct {
	Window int
	Stream bool
}

// SessionController orquesta los turnos de una única sesión. Todas las mutaciones
// pasan por sus métodos bajo un solo mutex; la llamada remota corre en otra goroutine.
type SessionController struct {
	mu      sync.Mutex
	logger  *zap.Logger
	client  llm.Client
	repo    repository.ConversationRepository
	usage   *UsageTracker
	opts    ControllerOptions
	baseCtx context.Context
	stop    context.CancelFunc

	session *Session
	state   State
	lastErr error
	gen     uint64
	cancel  context.CancelFunc

	events    *eventQueue
	observers []subscription
	nextSubID int
	wg        sync.WaitGroup
}

type subscription struct {
	id int
	fn Observer
}

var ErrControllerNotConfigured = errors.New("session controller not configured")

func NewSessionController(
	logger *zap.Logger,
	client llm.Client,
	repo repository.ConversationRepository,
	usage *UsageTracker,
	opts ControllerOptions,
) *SessionController {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseCtx, stop := context.WithCancel(context.Background())
	c := &SessionController{
		logger:  logger,
		client:  client,
		repo:    repo,
		usage:   usage,
		opts:    opts,
		baseCtx: baseCtx,
		stop:    stop,
		session: NewSession(),
		state:   StateIdle,
	}
	c.events = newEventQueue(c.dispatch)
	return c
}

// Subscribe registra un observador; los eventos previos no se reenvían.
// La función devuelta lo da de baja.
func (c *SessionController) Subscribe(o Observer) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSubID++
	id := c.nextSubID
	c.observers = append(c.observers, subscription{id: id, fn: o})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.observers {
			if s.id == id {
				c.observers = append(c.observers[:i:i], c.observers[i+1:]...)
				return
			}
		}
	}
}

func (c *SessionController) dispatch(e Event) {
	c.mu.Lock()
	observers := make([]subscription, len(c.observers))
	copy(observers, c.observers)
	c.mu.Unlock()
	for _, s := range observers {
		s.fn(e)
	}
}

// Submit agrega el mensaje del usuario y lanza la llamada remota sin bloquear.
func (c *SessionController) Submit(text string) error {
	if c == nil || c.client == nil {
		return ErrControllerNotConfigured
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireIdleLocked(); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ErrEmptyMessage
	}

	if pending, ok := c.session.Transcript.Pending(); ok {
		// Reenviar el mismo texto no duplica el mensaje pendiente.
		if pending.Content != text {
			return domain.ErrPendingMessage
		}
	} else {
		if err := c.session.Transcript.Append(domain.NewMessage(domain.RoleUser, text)); err != nil {
			return err
		}
		c.session.touch()
	}

	c.startLocked()
	return nil
}

// Retry reenvía el mensaje de usuario que quedó sin respuesta.
func (c *SessionController) Retry() error {
	if c == nil || c.client == nil {
		return ErrControllerNotConfigured
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireIdleLocked(); err != nil {
		return err
	}
	if _, ok := c.session.Transcript.Pending(); !ok {
		return fmt.Errorf("%w: no pending message to retry", domain.ErrInvalidState)
	}
	c.startLocked()
	return nil
}

func (c *SessionController) requireIdleLocked() error {
	switch c.state {
	case StateAwaitingResponse:
		return domain.ErrSessionBusy
	case StateError:
		return fmt.Errorf("%w: acknowledge the error first", domain.ErrInvalidState)
	}
	return nil
}

func (c *SessionController) startLocked() {
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(c.baseCtx)
	c.cancel = cancel
	c.state = StateAwaitingResponse
	c.lastErr = nil

	messages := llm.Window(c.session.Transcript.Messages(), c.opts.Window)
	c.logger.Info("completion requested",
		zap.String("session_id", c.session.ID),
		zap.Int("window", len(messages)),
		zap.Bool("stream", c.opts.Stream),
	)
	c.publishLocked(Event{Type: EventStateChanged})

	c.wg.Add(1)
	go c.run(ctx, gen, messages)
}

func (c *SessionController) run(ctx context.Context, gen uint64, messages []domain.Message) {
	defer c.wg.Done()
	start := time.Now()

	var (
		out llm.Completion
		err error
	)
	if c.opts.Stream {
		out, err = c.client.Stream(ctx, messages, func(delta string) {
			c.mu.Lock()
			defer c.mu.Unlock()
			if gen == c.gen && c.state == StateAwaitingResponse {
				c.events.push(Event{Type: EventDelta, Delta: delta})
			}
		})
	} else {
		out, err = c.client.Complete(ctx, messages)
	}
	c.finish(gen, out, err, time.Since(start))
}

func (c *SessionController) finish(gen uint64, out llm.Completion, err error, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.state != StateAwaitingResponse {
		c.logger.Debug("discarding abandoned completion", zap.Uint64("generation", gen))
		return
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	if err == nil && out.Content == "" {
		err = &llm.APIError{Kind: llm.ErrUpstream, Message: "empty response"}
	}
	if err != nil {
		c.state = StateError
		c.lastErr = err
		c.logger.Warn("completion failed",
			zap.String("session_id", c.session.ID),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		c.publishLocked(Event{Type: EventStateChanged})
		return
	}

	if err := c.session.Transcript.Append(domain.NewMessage(domain.RoleAssistant, out.Content)); err != nil {
		c.state = StateError
		c.lastErr = err
		c.logger.Error("append assistant message", zap.Error(err))
		c.publishLocked(Event{Type: EventStateChanged})
		return
	}
	c.session.touch()
	c.usage.Add(out.Usage)
	c.state = StateIdle
	c.logger.Info("completion received",
		zap.String("session_id", c.session.ID),
		zap.Duration("latency", latency),
		zap.Int("chars", len(out.Content)),
		zap.Int("total_tokens", out.Usage.TotalTokens),
	)
	c.publishLocked(Event{Type: EventStateChanged})
}

// Acknowledge descarta el error y vuelve a Idle; el mensaje pendiente se conserva.
func (c *SessionController) Acknowledge() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateError {
		return fmt.Errorf("%w: nothing to acknowledge in %s", domain.ErrInvalidState, c.state)
	}
	c.state = StateIdle
	c.lastErr = nil
	c.publishLocked(Event{Type: EventStateChanged})
	return nil
}

// NewChat solo es válido en Idle.
func (c *SessionController) NewChat() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireIdleLocked(); err != nil {
		return err
	}
	c.resetLocked()
	return nil
}

// ForceNewChat abandona la petición en curso (su respuesta se descarta) y reinicia.
func (c *SessionController) ForceNewChat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abandonLocked()
	c.resetLocked()
}

func (c *SessionController) abandonLocked() {
	if c.state == StateAwaitingResponse {
		c.logger.Info("abandoning in-flight completion", zap.String("session_id", c.session.ID))
	}
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *SessionController) resetLocked() {
	c.session = NewSession()
	c.state = StateIdle
	c.lastErr = nil
	c.logger.Info("new chat", zap.String("session_id", c.session.ID))
	c.publishLocked(Event{Type: EventStateChanged})
}

// Save serializa la sesión y la escribe en el repositorio. Sin nombre reutiliza el
// último o genera conversation_YYYYMMDD_HHMMSS.json. Devuelve la ubicación final.
func (c *SessionController) Save(ctx context.Context, name string) (string, error) {
	if c == nil || c.repo == nil {
		return "", ErrControllerNotConfigured
	}

	c.mu.Lock()
	name = strings.TrimSpace(name)
	if name == "" {
		name = c.session.Path
	}
	if name == "" {
		name = repository.DefaultName(time.Now())
	}
	sessionID, revision := c.session.ID, c.session.revision
	data, err := c.session.Transcript.Serialize()
	c.mu.Unlock()
	if err != nil {
		return "", err
	}

	location, err := c.repo.Save(ctx, name, data)
	if err != nil {
		c.logger.Warn("save conversation failed", zap.String("name", name), zap.Error(err))
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.ID == sessionID {
		c.session.Path = name
		if c.session.revision == revision {
			c.session.Dirty = false
		}
		c.publishLocked(Event{Type: EventStateChanged})
	}
	c.logger.Info("conversation saved", zap.String("location", location), zap.String("session_id", sessionID))
	return location, nil
}

// Load reemplaza la sesión actual; ante cualquier error la sesión queda intacta.
func (c *SessionController) Load(ctx context.Context, name string) error {
	if c == nil || c.repo == nil {
		return ErrControllerNotConfigured
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: empty name", domain.ErrConversationNotFound)
	}

	c.mu.Lock()
	err := c.requireIdleLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}

	data, err := c.repo.Load(ctx, name)
	if err != nil {
		return err
	}
	t, err := transcript.Deserialize(data)
	if err != nil {
		c.logger.Warn("load conversation failed", zap.String("name", name), zap.Error(err))
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireIdleLocked(); err != nil {
		return err
	}
	loaded := NewSession()
	loaded.Transcript = t
	loaded.Path = name
	c.session = loaded
	c.logger.Info("conversation loaded",
		zap.String("name", name),
		zap.Int("messages", t.Len()),
		zap.String("session_id", c.session.ID),
	)
	c.publishLocked(Event{Type: EventStateChanged})
	return nil
}

func (c *SessionController) Conversations(ctx context.Context) ([]domain.ConversationInfo, error) {
	if c == nil || c.repo == nil {
		return nil, ErrControllerNotConfigured
	}
	return c.repo.List(ctx)
}

func (c *SessionController) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *SessionController) snapshotLocked() Snapshot {
	s := Snapshot{
		SessionID: c.session.ID,
		State:     c.state,
		Messages:  c.session.Transcript.Messages(),
		Dirty:     c.session.Dirty,
		Path:      c.session.Path,
		Err:       c.lastErr,
		Usage:     c.usage.Report(),
	}
	if c.lastErr != nil {
		s.Error = c.lastErr.Error()
	}
	return s
}

func (c *SessionController) publishLocked(e Event) {
	e.Snapshot = c.snapshotLocked()
	c.events.push(e)
}

// Wait bloquea hasta que no quede ninguna goroutine de petición en curso.
func (c *SessionController) Wait() {
	c.wg.Wait()
}

// Close abandona la petición en curso y detiene el despacho de eventos.
func (c *SessionController) Close() {
	c.mu.Lock()
	c.abandonLocked()
	c.state = StateIdle
	c.mu.Unlock()
	c.stop()
	c.events.close()
}
