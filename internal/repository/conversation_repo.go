package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"deepseek-chat/internal/domain"
)

const timestampLayout = "20060102_150405"

// ConversationRepository persiste transcripts ya serializados.
type ConversationRepository interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
	Load(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context) ([]domain.ConversationInfo, error)
}

// DefaultName genera el nombre conversation_YYYYMMDD_HHMMSS.json.
func DefaultName(now time.Time) string {
	return "conversation_" + now.Format(timestampLayout) + ".json"
}

// DisplayName convierte conversation_YYYYMMDD_HHMMSS.json en una fecha legible.
func DisplayName(name string) string {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, "conversation_") || !strings.HasSuffix(base, ".json") {
		return base
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(base, "conversation_"), ".json")
	ts, err := time.ParseInLocation(timestampLayout, stamp, time.Local)
	if err != nil {
		return base
	}
	return ts.Format("2006-01-02 15:04:05")
}

// normalizeName agrega la extensión .json a nombres simples.
func normalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if filepath.Ext(name) == "" {
		name += ".json"
	}
	return name
}

// FileConversationRepository guarda cada conversación como un archivo JSON.
type FileConversationRepository struct {
	dir string
}

func NewFileConversationRepository(dir string) *FileConversationRepository {
	if strings.TrimSpace(dir) == "" {
		dir = "conversations"
	}
	return &FileConversationRepository{dir: dir}
}

func (r *FileConversationRepository) Dir() string {
	return r.dir
}

// resolve deja las rutas con separador tal cual y ubica los nombres simples en dir.
func (r *FileConversationRepository) resolve(name string) string {
	if filepath.IsAbs(name) || strings.ContainsRune(name, filepath.Separator) || strings.ContainsRune(name, '/') {
		return filepath.Clean(name)
	}
	return filepath.Join(r.dir, name)
}

func (r *FileConversationRepository) Save(_ context.Context, name string, data []byte) (string, error) {
	name = normalizeName(name)
	if name == "" {
		name = DefaultName(time.Now())
	}
	path := r.resolve(name)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create conversations dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".conversation-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write conversation: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close conversation: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename conversation: %w", err)
	}
	return path, nil
}

func (r *FileConversationRepository) Load(_ context.Context, name string) ([]byte, error) {
	name = normalizeName(name)
	if name == "" {
		return nil, domain.ErrConversationNotFound
	}
	data, err := os.ReadFile(r.resolve(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", domain.ErrConversationNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read conversation: %w", err)
	}
	return data, nil
}

// List devuelve los .json del directorio, los más recientes primero.
func (r *FileConversationRepository) List(_ context.Context) ([]domain.ConversationInfo, error) {
	entries, err := os.ReadDir(r.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []domain.ConversationInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read conversations dir: %w", err)
	}

	out := make([]domain.ConversationInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, domain.ConversationInfo{
			Name:        e.Name(),
			DisplayName: DisplayName(e.Name()),
			Location:    filepath.Join(r.dir, e.Name()),
			UpdatedAt:   info.ModTime().UTC(),
		})
	}

	// Los nombres con timestamp ordenan cronológicamente; el resto por fecha de modificación.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].Name > out[j].Name
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}
