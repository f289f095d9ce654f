// Package runlog keeps the raw per-run logs of agent ticks as JSON lines,
// one blob per bot per UTC day.
package runlog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"ralph/pkg/utils"
)

var ErrInvalidKey = errors.New("invalid-log-key")

// Key returns the blob key holding botID's logs for the UTC day of t.
func Key(botID string, t time.Time) string {
	return fmt.Sprintf("logs/%s/%s.jsonl", botID, utils.UTCDate(t))
}

// BlobStore is an append-only object store addressed by slash separated keys.
type BlobStore interface {
	Append(ctx context.Context, key string, line []byte) error
	Read(ctx context.Context, key string) ([]byte, error)
}

// FSStore stores blobs as files below a root directory.
type FSStore struct {
	root string
	mu   sync.Mutex
}

func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		root = "runlogs"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create run log dir: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *FSStore) Append(_ context.Context, key string, line []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(line, '\n')
	}
	_, err = f.Write(line)
	return err
}

// Read returns the blob at key, or nil when it does not exist.
func (s *FSStore) Read(_ context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return b, err
}

// Hook mirrors every entry of a tick logger into the run log blob.
type Hook struct {
	store     BlobStore
	key       string
	formatter log.Formatter
}

func NewHook(store BlobStore, key string) *Hook {
	return &Hook{
		store: store,
		key:   key,
		formatter: &log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap:        log.FieldMap{log.FieldKeyTime: "ts", log.FieldKeyMsg: "msg"},
		},
	}
}

func (h *Hook) Key() string { return h.key }

func (h *Hook) Levels() []log.Level { return log.AllLevels }

// Fire never fails the log call; blob errors are reported on stderr only.
func (h *Hook) Fire(entry *log.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return nil
	}
	if err := h.store.Append(context.Background(), h.key, line); err != nil {
		fmt.Fprintf(os.Stderr, "runlog append %s: %v\n", h.key, err)
	}
	return nil
}

// NewLogger returns a logger writing to base's output and formatter that also
// appends every entry to the run log blob for botID.
func NewLogger(base *log.Logger, store BlobStore, botID string, now time.Time) (*log.Logger, string) {
	key := Key(botID, now)
	l := log.New()
	l.SetOutput(base.Out)
	l.SetFormatter(base.Formatter)
	l.SetLevel(base.GetLevel())
	if store != nil {
		l.AddHook(NewHook(store, key))
	}
	return l, key
}

var secretKeys = []string{"apikey", "token", "secret", "password", "privatekey", "authorization"}

func isSecretKey(k string) bool {
	k = strings.ToLower(strings.NewReplacer("_", "", "-", "").Replace(k))
	for _, s := range secretKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// Redact returns a copy of v with values under secret-like keys replaced by
// "***". Maps and slices are walked recursively.
func Redact(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if isSecretKey(k) {
				out[k] = "***"
				continue
			}
			out[k] = Redact(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = Redact(val)
		}
		return out
	default:
		return v
	}
}
