package storage

import (
	"context"
	"fmt"

	"github.com/hubbridge/hubbridge/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// Database persists the bridge settings document.
type Database interface {
	// GetSettings returns the persisted settings, or the zero value when
	// nothing has been saved yet.
	GetSettings(ctx context.Context) (types.Settings, error)
	// SetSettings rewrites the whole settings document.
	SetSettings(ctx context.Context, settings types.Settings) error

	// Lifecycle
	Close() error
}

// Configured sets up the storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "file", "Storage provider to use (available: file, firestore)")

	var p struct{ Database }

	file := configuredFile()
	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "file":
			p.Database = file
		case "firestore":
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
