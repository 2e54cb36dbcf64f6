// Package archive persists fixed-duration PCM segments for later retrieval:
// one segment, one blob, keyed by session id and a monotonically increasing
// segment index.
package archive

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/auricle-audio/auricle/pkg/audio/segment"
)

// Store is the archival sink for audio segments. Write failures are
// reported to the caller for logging; they never block or abort the audio
// path.
type Store interface {
	// Put persists one segment blob for the given session.
	Put(sessionID string, seg *segment.Segment) error
}

// Dir is a file-backed [Store] writing one file per segment under
// <root>/<sessionID>/seg-<index>.pcm.
type Dir struct {
	root string
}

// NewDir creates the root directory if needed and returns a Dir store.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create root %q: %w", root, err)
	}
	return &Dir{root: root}, nil
}

// Put writes the segment PCM to its blob file.
func (d *Dir) Put(sessionID string, seg *segment.Segment) error {
	dir := filepath.Join(d.root, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("archive: create session dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("seg-%06d.pcm", seg.Index))
	if err := os.WriteFile(path, seg.PCM, 0o644); err != nil {
		return fmt.Errorf("archive: write %q: %w", path, err)
	}
	return nil
}

// Ensure Dir implements Store at compile time.
var _ Store = (*Dir)(nil)

// Discard is a [Store] that drops all segments. Used when archival is
// disabled.
type Discard struct{}

// Put discards the segment and succeeds.
func (Discard) Put(string, *segment.Segment) error { return nil }
