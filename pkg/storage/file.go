package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/hubbridge/hubbridge/pkg/log"
	"github.com/hubbridge/hubbridge/pkg/types"
	"github.com/levenlabs/go-lflag"
)

const defaultSettingsPath = "userdata/settings.json"

// FileProvider implements Database on a single JSON document on disk. The
// whole document is rewritten on every save.
type FileProvider struct {
	mu   sync.Mutex
	path string
}

// configuredFile sets up the file provider. It registers flags for
// configuration.
func configuredFile() *FileProvider {
	path := lflag.String("settings-path", defaultSettingsPath, "Path of the settings JSON document")

	f := &FileProvider{}

	lflag.Do(func() {
		f.path = *path
	})

	return f
}

// NewFileProvider returns a file provider writing to the given path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// GetSettings reads the settings document. A missing file means nothing has
// been saved yet and returns zero settings.
func (f *FileProvider) GetSettings(ctx context.Context) (types.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return types.Settings{}, nil
		}
		return types.Settings{}, fmt.Errorf("failed to read settings file: %w", err)
	}

	var s types.Settings
	if err := json.Unmarshal(data, &s); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal settings file", slog.String("path", f.path), slog.Any("error", err))
		return types.Settings{}, fmt.Errorf("failed to unmarshal settings file: %w", err)
	}
	return s, nil
}

// SetSettings rewrites the settings document in full, creating the directory
// on the first save.
func (f *FileProvider) SetSettings(ctx context.Context, settings types.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create settings directory: %w", err)
		}
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "settings saved", slog.String("path", f.path))
	return nil
}

// Close is a no-op for the file provider.
func (f *FileProvider) Close() error {
	return nil
}
