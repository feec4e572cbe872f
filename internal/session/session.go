// Package session organizes the files a capture run writes: one directory
// per run under a shared base, with a metadata file and one PNG per step.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cboone/termsnap/internal/capture"
	"github.com/cboone/termsnap/internal/config"
	"github.com/cboone/termsnap/internal/render"
)

// DefaultBase is where sessions are created unless configured otherwise.
const DefaultBase = "/tmp/termsnap"

// MetadataFile is written into every initialized session directory.
const MetadataFile = ".session.json"

const maxNameLen = 60

// Session is one run's output directory.
type Session struct {
	ID  string
	Dir string
	// Keep prevents Cleanup from removing the directory.
	Keep bool
	// Size is recorded in the metadata when set.
	Size *config.Size

	created time.Time
}

// New returns a session under base. With a name the ID is the sanitized
// name plus a UTC timestamp; without one it is derived from the time and
// process ID.
func New(base, name string, now time.Time) *Session {
	if base == "" {
		base = DefaultBase
	}
	var id string
	if name == "" {
		id = fmt.Sprintf("session_%d_%d", now.UnixMilli(), os.Getpid())
	} else {
		id = SanitizeName(name) + "_" + now.UTC().Format("20060102_150405")
	}
	return &Session{ID: id, Dir: filepath.Join(base, id), created: now}
}

// InDir returns a session that writes into dir. Such sessions are kept.
func InDir(dir string) *Session {
	id := filepath.Base(filepath.Clean(dir))
	if id == "." || id == string(filepath.Separator) {
		id = fmt.Sprintf("session_%d_%d", time.Now().UnixMilli(), os.Getpid())
	}
	return &Session{ID: id, Dir: dir, Keep: true, created: time.Now()}
}

// WithSize records the terminal size and returns s.
func (s *Session) WithSize(size config.Size) *Session {
	s.Size = &size
	return s
}

type metadata struct {
	ID           string    `json:"id"`
	Created      time.Time `json:"created"`
	TerminalSize *[2]int   `json:"terminal_size"`
}

// Init creates the directory and writes its metadata file.
func (s *Session) Init() error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("session %s: %w", s.ID, err)
	}
	meta := metadata{ID: s.ID, Created: s.created.UTC()}
	if s.Size != nil {
		meta.TerminalSize = &[2]int{s.Size.Cols, s.Size.Rows}
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("session %s: %w", s.ID, err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir, MetadataFile), data, 0o644); err != nil {
		return fmt.Errorf("session %s: %w", s.ID, err)
	}
	return nil
}

// StatePath returns the file for a step's screenshot.
func (s *Session) StatePath(step int, input string) string {
	var name string
	switch {
	case step == 0:
		name = "state_0_initial.png"
	case input == "":
		name = fmt.Sprintf("state_%d.png", step)
	default:
		name = fmt.Sprintf("state_%d_%s.png", step, SanitizeName(input))
	}
	return filepath.Join(s.Dir, name)
}

// CapturePath returns the file for a single named capture.
func (s *Session) CapturePath(name string) string {
	return filepath.Join(s.Dir, SanitizeName(name)+".png")
}

// SizeDir returns a session nested in s for runs at one of several sizes.
func (s *Session) SizeDir(size config.Size) *Session {
	sub := size.String()
	return &Session{
		ID:      s.ID + "/" + sub,
		Dir:     filepath.Join(s.Dir, sub),
		Keep:    s.Keep,
		Size:    &size,
		created: s.created,
	}
}

// Store writes img as the step's PNG and returns its path. It implements
// capture.Sink.
func (s *Session) Store(_ context.Context, step capture.Step, img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := render.EncodePNG(&buf, img); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", err
	}
	path := s.StatePath(step.Index, step.Input)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// ListCaptures returns the PNG files directly in the session directory,
// sorted by name.
func (s *Session) ListCaptures() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".png" {
			out = append(out, filepath.Join(s.Dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Cleanup removes the session directory unless the session is kept.
func (s *Session) Cleanup() error {
	if s.Keep {
		return nil
	}
	return os.RemoveAll(s.Dir)
}

// Info describes an existing session directory.
type Info struct {
	ID       string      `json:"id"`
	Dir      string      `json:"dir"`
	Modified time.Time   `json:"modified"`
	Size     config.Size `json:"size,omitzero"`
	Captures int         `json:"captures"`
}

// List returns the session directories under base, sorted by name. A
// missing base yields no sessions.
func List(base string) ([]Info, error) {
	entries, err := os.ReadDir(base)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []Info
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		info := Info{
			ID:       e.Name(),
			Dir:      filepath.Join(base, e.Name()),
			Modified: fi.ModTime(),
		}
		if data, err := os.ReadFile(filepath.Join(info.Dir, MetadataFile)); err == nil {
			var meta metadata
			if json.Unmarshal(data, &meta) == nil && meta.TerminalSize != nil {
				info.Size = config.Size{Cols: meta.TerminalSize[0], Rows: meta.TerminalSize[1]}
			}
		}
		caps, _ := (&Session{Dir: info.Dir}).ListCaptures()
		info.Captures = len(caps)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CleanupOld removes session directories under base last modified more than
// maxAge before now, and returns how many were removed.
func CleanupOld(base string, maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(base)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(fi.ModTime()) <= maxAge {
			continue
		}
		if os.RemoveAll(filepath.Join(base, e.Name())) == nil {
			removed++
		}
	}
	return removed, nil
}

// SanitizeName replaces characters that are not filesystem-safe with
// underscores and truncates long names.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := b.String()
	if len(s) > maxNameLen {
		s = s[:maxNameLen]
	}
	return s
}
