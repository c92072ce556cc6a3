package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/hubbridge/hubbridge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("Missing File", func(t *testing.T) {
		f := NewFileProvider(filepath.Join(t.TempDir(), "nope", "settings.json"))
		s, err := f.GetSettings(ctx)
		require.NoError(t, err)
		assert.Equal(t, types.Settings{}, s)
	})

	t.Run("Round Trip", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "userdata", "settings.json")
		f := NewFileProvider(path)

		want := types.Settings{
			Email:            "user@example.com",
			Password:         "secret",
			IHostAccessToken: "hub-token",
		}
		require.NoError(t, f.SetSettings(ctx, want))

		got, err := f.GetSettings(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("Full Rewrite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "settings.json")
		f := NewFileProvider(path)

		require.NoError(t, f.SetSettings(ctx, types.Settings{
			Email:            "old@example.com",
			Password:         "old",
			IHostAccessToken: "old-token",
		}))
		require.NoError(t, f.SetSettings(ctx, types.Settings{Email: "new@example.com"}))

		// the document on disk holds only the latest save
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		var raw map[string]string
		require.NoError(t, json.Unmarshal(data, &raw))
		assert.Equal(t, "new@example.com", raw["email"])
		assert.Empty(t, raw["password"])
		assert.Empty(t, raw["ihostAccessToken"])
	})

	t.Run("Corrupt File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "settings.json")
		require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))

		f := NewFileProvider(path)
		_, err := f.GetSettings(ctx)
		require.Error(t, err)
	})
}
