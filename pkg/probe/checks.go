package probe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Pinger is anything with a liveness check, e.g. the metadata store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Writable is a storage directory that can verify it accepts writes.
type Writable interface {
	CheckWritable() error
}

// Database checks that the metadata store answers.
func Database(p Pinger) Probe {
	return Probe{
		Name:     "Database",
		Critical: true,
		Check:    p.Ping,
	}
}

// Storage checks that the upload directory accepts writes.
func Storage(w Writable) Probe {
	return Probe{
		Name:     "Images Directory",
		Critical: true,
		Check: func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return w.CheckWritable()
		},
	}
}

// StaticDir checks that the page directory holds the given files. An empty
// dir means the embedded pages are used, which always passes.
func StaticDir(dir string, files ...string) Probe {
	return Probe{
		Name: "Static Assets",
		Check: func(ctx context.Context) error {
			if dir == "" {
				return nil
			}
			for _, f := range files {
				if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
					return fmt.Errorf("missing page %s: %w", f, err)
				}
			}
			return nil
		},
	}
}
