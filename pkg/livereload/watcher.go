package livereload

import (
	"context"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// ChangeKind classifies a changed file.
type ChangeKind int

const (
	ChangeTemplate ChangeKind = iota
	ChangeCSS
	ChangeOther
)

// Change is a created, modified or deleted file, relative to the root.
type Change struct {
	Path string
	Kind ChangeKind
}

// DefaultIgnore skips editor droppings, VCS data and the local databases.
var DefaultIgnore = []string{
	".git",
	"node_modules",
	"*.swp",
	"*.tmp",
	"*~",
	"*.db",
	"*.db-journal",
	"*.db-wal",
	"*.db-shm",
}

type fileStamp struct {
	modTime time.Time
	size    int64
}

// Watcher polls a content root for changes.
type Watcher struct {
	root     fs.FS
	interval time.Duration
	ignore   []string

	mu       sync.Mutex
	onChange func([]Change)
	stamps   map[string]fileStamp
}

// NewWatcher creates a watcher over root using cfg's interval and ignore
// patterns.
func NewWatcher(root fs.FS, cfg Config) *Watcher {
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ignore := cfg.Ignore
	if len(ignore) == 0 {
		ignore = DefaultIgnore
	}
	return &Watcher{root: root, interval: interval, ignore: ignore}
}

// OnChange sets the callback receiving each non-empty batch of changes.
func (w *Watcher) OnChange(fn func([]Change)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = fn
}

// Run records the current state of the root, then polls until ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	w.stamps = w.scan()
	w.mu.Unlock()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Poll()
		}
	}
}

// Poll compares the root with the last scan and reports differences.
func (w *Watcher) Poll() []Change {
	current := w.scan()

	w.mu.Lock()
	previous := w.stamps
	w.stamps = current
	callback := w.onChange
	w.mu.Unlock()

	if previous == nil {
		return nil
	}
	var changes []Change
	for p, stamp := range current {
		if old, ok := previous[p]; !ok || !old.modTime.Equal(stamp.modTime) || old.size != stamp.size {
			changes = append(changes, Change{Path: p, Kind: classifyChange(p)})
		}
	}
	for p := range previous {
		if _, ok := current[p]; !ok {
			changes = append(changes, Change{Path: p, Kind: classifyChange(p)})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })

	if len(changes) > 0 && callback != nil {
		callback(changes)
	}
	return changes
}

func (w *Watcher) scan() map[string]fileStamp {
	stamps := map[string]fileStamp{}
	fs.WalkDir(w.root, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if p != "." && w.shouldIgnore(p) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		stamps[p] = fileStamp{modTime: info.ModTime(), size: info.Size()}
		return nil
	})
	return stamps
}

// shouldIgnore matches patterns against the base name, or against any
// path segment for patterns without wildcards.
func (w *Watcher) shouldIgnore(p string) bool {
	name := path.Base(p)
	for _, pattern := range w.ignore {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if strings.ContainsAny(pattern, "*?[") {
			if matched, _ := path.Match(pattern, name); matched {
				return true
			}
			continue
		}
		for _, segment := range strings.Split(p, "/") {
			if segment == pattern {
				return true
			}
		}
	}
	return false
}

func classifyChange(p string) ChangeKind {
	switch strings.ToLower(path.Ext(p)) {
	case ".html", ".htm", ".liquid":
		return ChangeTemplate
	case ".css":
		return ChangeCSS
	default:
		return ChangeOther
	}
}
