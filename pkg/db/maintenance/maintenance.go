// Package maintenance repairs drift between the image directory and the
// metadata table.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"imagehost/pkg/imagefs"
	"imagehost/pkg/model"
	"imagehost/pkg/store"
)

// Catalog is the part of the store reconciliation needs.
type Catalog interface {
	store.FilenameLister
	DeleteImageByFilename(ctx context.Context, filename string) (*model.Image, error)
}

// Options tune a reconciliation pass.
type Options struct {
	// Grace spares files younger than this; an upload in flight has its
	// file on disk before its row exists.
	Grace  time.Duration
	DryRun bool
	Now    func() time.Time
}

// Report summarizes a pass.
type Report struct {
	Files       int
	Rows        int
	OrphanFiles []string // on disk without a row
	OrphanRows  []string // row without a file
	// Skipped is set when orphans were found but no row matched any file.
	// That points at a misconfigured directory or database, so nothing
	// was removed.
	Skipped  bool
	Duration time.Duration
}

// Clean reports whether nothing needed repair.
func (r Report) Clean() bool {
	return len(r.OrphanFiles) == 0 && len(r.OrphanRows) == 0
}

// Reconcile removes files that have no metadata row and rows whose file is
// missing. With DryRun set it only reports. Nothing is removed unless at
// least one row has its file on disk.
func Reconcile(ctx context.Context, c Catalog, dir *imagefs.Dir, opts Options) (Report, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	start := now()
	var rep Report

	names, err := c.ListFilenames(ctx)
	if err != nil {
		return rep, fmt.Errorf("failed to list metadata: %w", err)
	}
	entries, err := dir.List()
	if err != nil {
		return rep, err
	}
	rep.Rows = len(names)
	rep.Files = len(entries)

	rows := make(map[string]struct{}, len(names))
	for _, n := range names {
		rows[n] = struct{}{}
	}
	onDisk := make(map[string]struct{}, len(entries))
	matched := 0

	cutoff := start.Add(-opts.Grace)
	for _, e := range entries {
		onDisk[e.Name] = struct{}{}
		if _, ok := rows[e.Name]; ok {
			matched++
			continue
		}
		if e.ModTime.After(cutoff) {
			continue
		}
		rep.OrphanFiles = append(rep.OrphanFiles, e.Name)
	}
	for _, n := range names {
		if _, ok := onDisk[n]; !ok {
			rep.OrphanRows = append(rep.OrphanRows, n)
		}
	}
	sort.Strings(rep.OrphanFiles)
	sort.Strings(rep.OrphanRows)

	if matched == 0 && !rep.Clean() {
		rep.Skipped = true
		slog.Warn("No metadata row matches a file on disk, skipping repair",
			"dir", dir.Root(),
			"files", rep.Files,
			"rows", rep.Rows,
		)
	}

	if !opts.DryRun && !rep.Skipped {
		for _, name := range rep.OrphanFiles {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			if err := dir.Remove(name); err != nil {
				slog.Error("Failed to remove orphan file", "file", name, "error", err)
				continue
			}
			slog.Info("Removed orphan file", "file", name)
		}
		for _, name := range rep.OrphanRows {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			if _, err := c.DeleteImageByFilename(ctx, name); err != nil {
				slog.Error("Failed to remove orphan row", "file", name, "error", err)
				continue
			}
			slog.Info("Removed orphan metadata", "file", name)
		}
	}

	rep.Duration = now().Sub(start)
	slog.Info("Reconciliation finished",
		"files", rep.Files,
		"rows", rep.Rows,
		"orphan_files", len(rep.OrphanFiles),
		"orphan_rows", len(rep.OrphanRows),
		"dry_run", opts.DryRun,
		"skipped", rep.Skipped,
	)
	return rep, nil
}

// RunEvery reconciles on each tick until ctx is cancelled. Errors are logged,
// not returned, so one bad pass does not stop the loop.
func RunEvery(ctx context.Context, interval time.Duration, c Catalog, dir *imagefs.Dir, opts Options) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := Reconcile(ctx, c, dir, opts); err != nil && ctx.Err() == nil {
				slog.Error("Reconciliation failed", "error", err)
			}
		}
	}
}
