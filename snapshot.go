package termsnap

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cboone/termsnap/internal/render"
	"github.com/cboone/termsnap/internal/session"
)

// updateEnv names the variable that switches snapshots to update mode.
const updateEnv = "TERMSNAP_UPDATE"

// MatchSnapshot fails the test unless the visible screen's text equals the
// golden file name.txt kept in a per-test directory under testdata. With
// TERMSNAP_UPDATE=1 it writes the file instead.
func (term *Terminal) MatchSnapshot(name string) {
	term.t.Helper()
	term.Screen().MatchSnapshot(term.t, name)
}

// MatchImageSnapshot compares the rendered screen, pixel for pixel, against
// a golden PNG stored next to the text snapshots.
func (term *Terminal) MatchImageSnapshot(name string) {
	term.t.Helper()

	img := term.renderer.Render(term.emu.Snapshot())
	path := goldenPath(term.t, name, ".png")

	if shouldUpdate() {
		var buf bytes.Buffer
		if err := render.EncodePNG(&buf, img); err != nil {
			term.t.Fatalf("termsnap: snapshot: %v", err)
		}
		writeGolden(term.t, path, buf.Bytes())
		return
	}

	f, err := os.Open(path)
	if err != nil {
		missingGolden(term.t, path, err, "")
	}
	defer f.Close()
	decoded, err := png.Decode(f)
	if err != nil {
		term.t.Fatalf("termsnap: snapshot: failed to decode golden image: %v", err)
	}
	golden := image.NewRGBA(decoded.Bounds())
	draw.Draw(golden, golden.Rect, decoded, decoded.Bounds().Min, draw.Src)

	if golden.Rect != img.Rect {
		term.t.Fatalf("termsnap: snapshot: image size mismatch for %q: golden %v, actual %v\nRun with %s=1 to update.",
			name, golden.Rect.Size(), img.Rect.Size(), updateEnv)
	}
	if !bytes.Equal(golden.Pix, img.Pix) {
		term.t.Fatalf("termsnap: snapshot: image mismatch for %q\nGolden file: %s\nRun with %s=1 to update.\n\nActual screen:\n%s",
			name, path, updateEnv, formatScreenBox(term.Screen()))
	}
}

// MatchSnapshot compares a screen captured earlier against the golden text
// file name. It behaves like [Terminal.MatchSnapshot].
func (s *Screen) MatchSnapshot(t testing.TB, name string) {
	t.Helper()

	path := goldenPath(t, name, ".txt")
	content := snapshotText(s.raw)

	if shouldUpdate() {
		writeGolden(t, path, []byte(content))
		return
	}

	golden, err := os.ReadFile(path)
	if err != nil {
		missingGolden(t, path, err, content)
	}
	if string(golden) != content {
		t.Fatalf("termsnap: snapshot: mismatch for %q\nGolden file: %s\nRun with %s=1 to update.\n\n--- golden ---\n%s\n--- actual ---\n%s",
			name, path, updateEnv, golden, content)
	}
}

func writeGolden(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("termsnap: snapshot: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("termsnap: snapshot: %v", err)
	}
}

func missingGolden(t testing.TB, path string, err error, actual string) {
	t.Helper()
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("termsnap: snapshot: %v", err)
	}
	msg := fmt.Sprintf("termsnap: snapshot: no golden file at %s\nRun with %s=1 to create it.", path, updateEnv)
	if actual != "" {
		msg += "\n\nActual screen:\n" + actual
	}
	t.Fatal(msg)
}

// goldenPath places the file for name under
// testdata/<test name>-<first 8 hex digits of its SHA-256>/. The hash keeps
// subtests whose names sanitize alike apart.
func goldenPath(t testing.TB, name, ext string) string {
	sum := sha256.Sum256([]byte(t.Name()))
	dir := session.SanitizeName(t.Name()) + "-" + hex.EncodeToString(sum[:4])
	return filepath.Join("testdata", dir, session.SanitizeName(name)+ext)
}

// snapshotText drops trailing spaces and trailing blank lines and ends the
// text with a single newline, so golden files diff cleanly.
func snapshotText(raw string) string {
	var b strings.Builder
	blank := 0
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, " ")
		if line == "" {
			blank++
			continue
		}
		for ; blank > 0; blank-- {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if b.Len() == 0 {
		return "\n"
	}
	return b.String()
}

func shouldUpdate() bool {
	switch strings.ToLower(os.Getenv(updateEnv)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
