// Package watcher keeps the subject registry in step with the raw-data directory.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/bryanwahyu/brainvol/internal/domain/subjects"
)

// DefaultInterval between passes of Run.
const DefaultInterval = 30 * time.Second

// Registry is the part of the subject registry the watcher writes through.
type Registry interface {
	Upsert(ctx context.Context, id, fileName, rawPath string) (*domain.Subject, bool, error)
	List(ctx context.Context, f domain.Filter) ([]*domain.Subject, error)
	MarkOrphaned(ctx context.Context, id string) error
}

// Watcher polls Dir and registers scans found there.
type Watcher struct {
	Dir         string
	Recursive   bool
	Extensions  []string // matched case-insensitively against the file name suffix; empty accepts all
	MarkOrphans bool
	Interval    time.Duration
	Registry    Registry
	Logger      *log.Logger

	mu       sync.Mutex
	lastPass time.Time
	lastErr  error
}

// Report summarises one pass.
type Report struct {
	Scanned    int `json:"scanned"`
	Created    int `json:"created"`
	Moved      int `json:"moved"`
	Reappeared int `json:"reappeared"`
	Orphaned   int `json:"orphaned"`
	Unchanged  int `json:"unchanged"`
	Failed     int `json:"failed"`
}

// Changed counts registry mutations made by the pass.
func (r Report) Changed() int { return r.Created + r.Moved + r.Reappeared + r.Orphaned }

type rawFile struct {
	name string
	path string
}

func (w *Watcher) logf(format string, args ...any) {
	if w.Logger != nil {
		w.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// RunOnce performs a single diff of the directory against the registry.
// Failures on individual files are logged and counted; only an unreadable
// directory or a failed registry listing aborts the pass.
func (w *Watcher) RunOnce(ctx context.Context) (Report, error) {
	rep, err := w.pass(ctx)
	w.mu.Lock()
	w.lastPass, w.lastErr = time.Now().UTC(), err
	w.mu.Unlock()
	return rep, err
}

// LastPass reports when the latest pass ended and how. The time is zero
// until the first pass completes.
func (w *Watcher) LastPass() (time.Time, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastPass, w.lastErr
}

func (w *Watcher) pass(ctx context.Context) (Report, error) {
	var rep Report
	files, err := w.scan(&rep)
	if err != nil {
		return rep, fmt.Errorf("scan %s: %w", w.Dir, err)
	}
	rep.Scanned = len(files)

	known, err := w.Registry.List(ctx, domain.Filter{IncludeOrphaned: true})
	if err != nil {
		return rep, fmt.Errorf("list subjects: %w", err)
	}
	byID := make(map[string]*domain.Subject, len(known))
	for _, s := range known {
		byID[s.ID] = s
	}

	ids := make([]string, 0, len(files))
	for id := range files {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		f := files[id]
		prev, exists := byID[id]
		if exists && prev.RawPath == f.path && prev.FileName == f.name && !prev.Orphaned {
			rep.Unchanged++
			continue
		}
		if _, _, err := w.Registry.Upsert(ctx, id, f.name, f.path); err != nil {
			rep.Failed++
			w.logf("watcher: register subject=%s path=%s err=%v", id, f.path, err)
			continue
		}
		switch {
		case !exists:
			rep.Created++
			w.logf("watcher: new subject=%s path=%s", id, f.path)
		case prev.Orphaned:
			rep.Reappeared++
			w.logf("watcher: subject=%s reappeared path=%s", id, f.path)
		default:
			rep.Moved++
			w.logf("watcher: subject=%s moved %s → %s", id, prev.RawPath, f.path)
		}
	}

	if w.MarkOrphans {
		for _, s := range known {
			if _, present := files[s.ID]; present || s.Orphaned {
				continue
			}
			if err := w.Registry.MarkOrphaned(ctx, s.ID); err != nil {
				rep.Failed++
				w.logf("watcher: orphan subject=%s err=%v", s.ID, err)
				continue
			}
			rep.Orphaned++
			w.logf("watcher: subject=%s orphaned (raw file gone)", s.ID)
		}
	}
	return rep, nil
}

// Run executes RunOnce immediately and then every Interval until ctx is done.
// Passes never overlap.
func (w *Watcher) Run(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	w.logf("watcher: watching dir=%s interval=%s recursive=%t", w.Dir, interval, w.Recursive)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		rep, err := w.RunOnce(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			w.logf("watcher: pass failed: %v", err)
		case rep.Changed() > 0 || rep.Failed > 0:
			w.logf("watcher: pass scanned=%d created=%d moved=%d reappeared=%d orphaned=%d failed=%d",
				rep.Scanned, rep.Created, rep.Moved, rep.Reappeared, rep.Orphaned, rep.Failed)
		}
		timer.Reset(interval)
	}
}

// scan lists candidate files keyed by subject id. Two files mapping to the
// same id resolve to the lexically last path.
func (w *Watcher) scan(rep *Report) (map[string]rawFile, error) {
	var paths []string
	if w.Recursive {
		err := filepath.WalkDir(w.Dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == w.Dir {
					return err
				}
				rep.Failed++
				w.logf("watcher: skip path=%s err=%v", path, err)
				return nil
			}
			if path == w.Dir {
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.IsDir() {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else {
		entries, err := os.ReadDir(w.Dir)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			paths = append(paths, filepath.Join(w.Dir, e.Name()))
		}
	}
	sort.Strings(paths)

	files := make(map[string]rawFile, len(paths))
	for _, p := range paths {
		name := filepath.Base(p)
		if !w.accepts(name) {
			continue
		}
		if info, err := os.Stat(p); err != nil || info.IsDir() {
			// dangling symlink or link to a directory
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				rep.Failed++
				w.logf("watcher: stat path=%s err=%v", p, err)
			}
			continue
		}
		id := domain.IDFromFileName(name)
		if err := domain.ValidateID(id); err != nil {
			rep.Failed++
			w.logf("watcher: skip path=%s err=%v", p, err)
			continue
		}
		if prev, dup := files[id]; dup {
			w.logf("watcher: subject=%s has several raw files, using %s over %s", id, p, prev.path)
		}
		files[id] = rawFile{name: name, path: p}
	}
	return files, nil
}

func (w *Watcher) accepts(name string) bool {
	if len(w.Extensions) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, ext := range w.Extensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}
