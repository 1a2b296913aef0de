package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"consilium.app/panel/core/config"
	"consilium.app/panel/internal/model"
)

const (
	sessionPrefix = "run_"
	markdownExt   = ".md"
	jsonExt       = ".json"
)

var (
	ErrSessionNotFound = errors.New("session not found")

	sessionStem = regexp.MustCompile(`^run_(\d+)$`)
)

// Writer stores session artifacts as flat file pairs under one
// directory: run_00001.md and run_00001.json. Old sessions are pruned so
// the directory never holds more than the configured count.
type Writer struct {
	dir         string
	maxSessions int

	mu sync.Mutex
}

func NewWriter(cfg config.ArtifactsConfig) (*Writer, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("artifacts directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifacts directory: %w", err)
	}

	return &Writer{dir: cfg.Dir, maxSessions: cfg.MaxSessions}, nil
}

// Save writes both artifacts for the record and returns the session
// name. A record without a session is assigned the next free run_NNNNN
// name; a record that already carries one overwrites its own artifacts.
func (w *Writer) Save(ctx context.Context, rec *model.RunRecord) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	session := rec.Session
	if session == "" {
		next, err := w.nextSessionName()
		if err != nil {
			return "", err
		}
		session = next
	}

	data, err := RenderJSON(rec)
	if err != nil {
		return "", err
	}

	if err := w.writeAtomic(session+markdownExt, []byte(RenderMarkdown(rec))); err != nil {
		return "", err
	}
	if err := w.writeAtomic(session+jsonExt, data); err != nil {
		return "", err
	}

	if err := w.prune(); err != nil {
		slog.WarnContext(ctx, "pruning old sessions failed", "error", err)
	}

	slog.InfoContext(ctx, "session artifacts saved", "session", session, "dir", w.dir)
	return session, nil
}

// ReadMarkdown returns the rendered transcript for a stored session.
func (w *Writer) ReadMarkdown(session string) (string, error) {
	if !sessionStem.MatchString(session) {
		return "", ErrSessionNotFound
	}
	content, err := os.ReadFile(filepath.Join(w.dir, session+markdownExt))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrSessionNotFound
		}
		return "", fmt.Errorf("reading transcript: %w", err)
	}
	return string(content), nil
}

// Sessions lists stored session names, newest first.
func (w *Writer) Sessions() ([]string, error) {
	stems, err := w.sessionStems()
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(stems)))
	return stems, nil
}

// nextSessionName scans existing artifacts and picks max index + 1.
func (w *Writer) nextSessionName() (string, error) {
	stems, err := w.sessionStems()
	if err != nil {
		return "", err
	}

	maxIdx := 0
	for _, stem := range stems {
		m := sessionStem.FindStringSubmatch(stem)
		if m == nil {
			continue
		}
		var idx int
		if _, err := fmt.Sscanf(m[1], "%d", &idx); err == nil && idx > maxIdx {
			maxIdx = idx
		}
	}

	return fmt.Sprintf("%s%05d", sessionPrefix, maxIdx+1), nil
}

func (w *Writer) sessionStems() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts directory: %w", err)
	}

	seen := make(map[string]bool)
	var stems []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		if ext != markdownExt && ext != jsonExt {
			continue
		}
		stem := name[:len(name)-len(ext)]
		if !sessionStem.MatchString(stem) || seen[stem] {
			continue
		}
		seen[stem] = true
		stems = append(stems, stem)
	}

	sort.Strings(stems)
	return stems, nil
}

func (w *Writer) writeAtomic(name string, content []byte) error {
	fullPath := filepath.Join(w.dir, name)
	tmpPath := fullPath + ".tmp"

	if err := os.WriteFile(tmpPath, content, 0o644); err != nil {
		return fmt.Errorf("writing temp artifact: %w", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming artifact: %w", err)
	}
	return nil
}

// prune deletes the oldest sessions past the retention bound. A session's
// age is the newest mtime of its artifact pair.
func (w *Writer) prune() error {
	if w.maxSessions <= 0 {
		return nil
	}

	stems, err := w.sessionStems()
	if err != nil {
		return err
	}
	if len(stems) <= w.maxSessions {
		return nil
	}

	mtime := func(stem string) time.Time {
		var newest time.Time
		for _, ext := range []string{markdownExt, jsonExt} {
			if info, err := os.Stat(filepath.Join(w.dir, stem+ext)); err == nil && info.ModTime().After(newest) {
				newest = info.ModTime()
			}
		}
		return newest
	}

	sort.Slice(stems, func(i, j int) bool { return mtime(stems[i]).After(mtime(stems[j])) })

	var errs []error
	for _, stem := range stems[w.maxSessions:] {
		for _, ext := range []string{markdownExt, jsonExt} {
			if err := os.Remove(filepath.Join(w.dir, stem+ext)); err != nil && !os.IsNotExist(err) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
