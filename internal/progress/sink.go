// Package progress stores the single shared status record of the running
// pipeline, polled by the CLI and the HTTP API.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/mailfinder/internal/model"
)

// Backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// Sink holds the latest progress record. Read returns an idle record when
// nothing was written yet.
type Sink interface {
	Write(ctx context.Context, p model.Progress) error
	Read(ctx context.Context) (model.Progress, error)
	Clear(ctx context.Context) error
}

// Idle is the record reported before any run.
func Idle() model.Progress {
	return model.Progress{Message: "Aucune tâche en cours."}
}

// New builds the sink for backend.
func New(backend, path string, rdb *redis.Client, key string) (Sink, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendFile:
		if path == "" {
			return nil, eris.New("progress: file backend needs a path")
		}
		return NewFile(path), nil
	case BackendRedis:
		if rdb == nil {
			return nil, eris.New("progress: redis backend needs a client")
		}
		return NewRedis(rdb, key), nil
	}
	return nil, eris.Errorf("progress: unknown backend %q", backend)
}

// Memory keeps the record in process.
type Memory struct {
	mu  sync.RWMutex
	p   model.Progress
	set bool
}

// NewMemory returns an empty in-process sink.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Write(_ context.Context, p model.Progress) error {
	m.mu.Lock()
	m.p, m.set = p, true
	m.mu.Unlock()
	return nil
}

func (m *Memory) Read(context.Context) (model.Progress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.set {
		return Idle(), nil
	}
	return m.p, nil
}

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	m.p, m.set = model.Progress{}, false
	m.mu.Unlock()
	return nil
}

// File persists the record as JSON, replacing it atomically on each write.
type File struct {
	path string
	mu   sync.Mutex
}

// NewFile returns a sink writing to path. Parent directories are created on
// first write.
func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Write(_ context.Context, p model.Progress) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return eris.Wrap(err, "progress: marshal")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return eris.Wrap(err, "progress: create dir")
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil { //nolint:gosec
		return eris.Wrap(err, "progress: write")
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return eris.Wrap(err, "progress: rename")
	}
	return nil
}

func (f *File) Read(context.Context) (model.Progress, error) {
	f.mu.Lock()
	data, err := os.ReadFile(f.path)
	f.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return Idle(), nil
	}
	if err != nil {
		return model.Progress{}, eris.Wrap(err, "progress: read")
	}
	var p model.Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return model.Progress{}, eris.Wrap(err, "progress: unmarshal")
	}
	return p, nil
}

func (f *File) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return eris.Wrap(err, "progress: remove")
	}
	return nil
}

// Redis stores the record under one key, shared by every process.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis returns a sink on key.
func NewRedis(client *redis.Client, key string) *Redis {
	if key == "" {
		key = "mailfinder:progress"
	}
	return &Redis{client: client, key: key}
}

func (r *Redis) Write(ctx context.Context, p model.Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "progress: marshal")
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return eris.Wrapf(err, "progress: set %s", r.key)
	}
	return nil
}

func (r *Redis) Read(ctx context.Context) (model.Progress, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Idle(), nil
	}
	if err != nil {
		return model.Progress{}, eris.Wrapf(err, "progress: get %s", r.key)
	}
	var p model.Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return model.Progress{}, eris.Wrap(err, "progress: unmarshal")
	}
	return p, nil
}

func (r *Redis) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return eris.Wrapf(err, "progress: del %s", r.key)
	}
	return nil
}
