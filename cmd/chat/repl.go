package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"deepseek-chat/internal/domain"
	"deepseek-chat/internal/render"
	"deepseek-chat/internal/repository"
	"deepseek-chat/internal/service"
)

// modelSelector es la parte del cliente LLM que la REPL expone al usuario.
type modelSelector interface {
	Model() string
	SetModel(model string)
	ListModels(ctx context.Context) ([]string, error)
}

const helpText = `Comandos:
  /new            nueva conversación (/new! descarta cambios sin guardar)
  /save [nombre]  guardar la conversación
  /load <nombre>  cargar una conversación guardada
  /list           listar conversaciones guardadas
  /retry          reenviar el último mensaje sin respuesta
  /ack            descartar el error actual
  /export <file>  exportar la conversación a HTML
  /model [nombre] ver o cambiar el modelo
  /models         listar modelos disponibles
  /usage          tokens consumidos y costo estimado
  /quit           salir (/quit! descarta cambios sin guardar)
Cualquier otra línea se envía como mensaje.`

type repl struct {
	logger *zap.Logger
	ctrl   *service.SessionController
	models modelSelector
	md     *render.Markdown
	out    io.Writer

	last     service.State
	streamed bool
}

func newREPL(logger *zap.Logger, ctrl *service.SessionController, models modelSelector, md *render.Markdown, out io.Writer) *repl {
	if md == nil {
		md = render.NewMarkdown()
	}
	return &repl{
		logger: logger,
		ctrl:   ctrl,
		models: models,
		md:     md,
		out:    out,
		last:   service.StateIdle,
	}
}

// Run lee líneas en su propia goroutine para que el loop siga atendiendo eventos
// del controlador mientras se espera una respuesta.
func (r *repl) Run(ctx context.Context, in io.Reader) error {
	inbox := service.NewEventInbox()
	unsubscribe := r.ctrl.Subscribe(inbox.Push)
	defer unsubscribe()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(r.out, "DeepSeek chat. Escribe /help para ver los comandos.")
	r.prompt()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-inbox.Ready():
			for _, e := range inbox.Drain() {
				r.render(e)
			}
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if r.handle(ctx, line) {
				return nil
			}
		}
	}
}

func (r *repl) prompt() {
	fmt.Fprint(r.out, "> ")
}

func (r *repl) render(e service.Event) {
	switch e.Type {
	case service.EventDelta:
		if !r.streamed {
			fmt.Fprint(r.out, "\nassistant: ")
			r.streamed = true
		}
		fmt.Fprint(r.out, e.Delta)
	case service.EventStateChanged:
		prev := r.last
		r.last = e.Snapshot.State
		if prev != service.StateAwaitingResponse || e.Snapshot.State == service.StateAwaitingResponse {
			return
		}
		switch e.Snapshot.State {
		case service.StateIdle:
			if r.streamed {
				fmt.Fprintln(r.out)
			} else if n := len(e.Snapshot.Messages); n > 0 && e.Snapshot.Messages[n-1].Role == domain.RoleAssistant {
				fmt.Fprintf(r.out, "\nassistant: %s\n", e.Snapshot.Messages[n-1].Content)
			}
		case service.StateError:
			if r.streamed {
				fmt.Fprintln(r.out)
			}
			fmt.Fprintf(r.out, "\nerror: %s\nUsa /ack para continuar y /retry para reenviar.\n", e.Snapshot.Error)
		}
		r.streamed = false
		r.prompt()
	}
}

// handle ejecuta una línea; devuelve true cuando hay que salir.
func (r *repl) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		r.prompt()
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if err := r.ctrl.Submit(line); err != nil {
			r.report(err)
			r.prompt()
		}
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/help":
		fmt.Fprintln(r.out, helpText)
	case "/quit", "/exit":
		if r.ctrl.Snapshot().Dirty {
			fmt.Fprintln(r.out, "Hay cambios sin guardar. Usa /save o /quit! para salir igual.")
			break
		}
		return true
	case "/quit!":
		return true
	case "/new":
		if r.ctrl.Snapshot().Dirty {
			fmt.Fprintln(r.out, "Hay cambios sin guardar. Usa /save o /new! para descartarlos.")
			break
		}
		if err := r.ctrl.NewChat(); err != nil {
			r.report(err)
			break
		}
		fmt.Fprintln(r.out, "Nueva conversación.")
	case "/new!":
		r.ctrl.ForceNewChat()
		fmt.Fprintln(r.out, "Nueva conversación.")
	case "/save":
		location, err := r.ctrl.Save(ctx, arg)
		if err != nil {
			r.report(err)
			break
		}
		fmt.Fprintf(r.out, "Guardado en %s\n", location)
	case "/load":
		if arg == "" {
			fmt.Fprintln(r.out, "Uso: /load <nombre>")
			break
		}
		if err := r.ctrl.Load(ctx, arg); err != nil {
			r.report(err)
			break
		}
		r.printTranscript()
	case "/list":
		r.listConversations(ctx)
	case "/retry":
		if err := r.ctrl.Retry(); err != nil {
			r.report(err)
			break
		}
		return false
	case "/ack":
		if err := r.ctrl.Acknowledge(); err != nil {
			r.report(err)
		}
	case "/export":
		r.export(arg)
	case "/model":
		r.model(arg)
	case "/models":
		r.listModels(ctx)
	case "/usage":
		u := r.ctrl.Snapshot().Usage
		fmt.Fprintf(r.out, "peticiones: %d  prompt: %d  respuesta: %d  costo estimado: $%s\n",
			u.Requests, u.PromptTokens, u.CompletionTokens, u.Cost.StringFixed(6))
	default:
		fmt.Fprintf(r.out, "Comando desconocido %s. Escribe /help.\n", cmd)
	}
	r.prompt()
	return false
}

func (r *repl) report(err error) {
	switch {
	case errors.Is(err, domain.ErrSessionBusy):
		fmt.Fprintln(r.out, "Esperando la respuesta anterior. Usa /new! para abandonarla.")
	case errors.Is(err, domain.ErrPendingMessage):
		fmt.Fprintln(r.out, "El último mensaje sigue sin respuesta. Usa /retry o /new.")
	case errors.Is(err, domain.ErrInvalidState):
		fmt.Fprintf(r.out, "No disponible ahora: %v\n", err)
	default:
		r.logger.Debug("repl command failed", zap.Error(err))
		fmt.Fprintf(r.out, "error: %v\n", err)
	}
}

func (r *repl) printTranscript() {
	snap := r.ctrl.Snapshot()
	fmt.Fprintf(r.out, "Cargada %s (%d mensajes)\n", repository.DisplayName(snap.Path), len(snap.Messages))
	for _, m := range snap.Messages {
		fmt.Fprintf(r.out, "%s: %s\n", m.Role, m.Content)
	}
}

func (r *repl) listConversations(ctx context.Context) {
	list, err := r.ctrl.Conversations(ctx)
	if err != nil {
		r.report(err)
		return
	}
	if len(list) == 0 {
		fmt.Fprintln(r.out, "No hay conversaciones guardadas.")
		return
	}
	for i, c := range list {
		fmt.Fprintf(r.out, "[%d] %s  (%s)\n", i+1, c.DisplayName, c.Name)
	}
}

func (r *repl) export(path string) {
	if path == "" {
		fmt.Fprintln(r.out, "Uso: /export <archivo.html>")
		return
	}
	snap := r.ctrl.Snapshot()
	title := "Conversación"
	if snap.Path != "" {
		title = repository.DisplayName(snap.Path)
	}
	doc, err := r.md.Document(title, snap.Messages)
	if err != nil {
		r.report(err)
		return
	}
	if err := os.WriteFile(path, doc, 0o644); err != nil {
		r.report(fmt.Errorf("write export: %w", err))
		return
	}
	fmt.Fprintf(r.out, "Exportado a %s\n", path)
}

func (r *repl) model(name string) {
	if r.models == nil {
		fmt.Fprintln(r.out, "Cambio de modelo no disponible.")
		return
	}
	if name != "" {
		r.models.SetModel(name)
	}
	fmt.Fprintf(r.out, "Modelo: %s\n", r.models.Model())
}

func (r *repl) listModels(ctx context.Context) {
	if r.models == nil {
		fmt.Fprintln(r.out, "Cambio de modelo no disponible.")
		return
	}
	models, err := r.models.ListModels(ctx)
	if err != nil {
		r.report(err)
		return
	}
	current := r.models.Model()
	for _, m := range models {
		marker := " "
		if m == current {
			marker = "*"
		}
		fmt.Fprintf(r.out, "%s %s\n", marker, m)
	}
}
