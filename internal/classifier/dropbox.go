package classifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/autoscope/internal/debug"
)

const (
	readyMarker  = "READY"
	responseFile = "cell_counts.txt"
)

// DropBox exchanges batches with the counting service through a shared
// directory. Each batch gets its own folder:
//
//	<dir>/<token>/1.jpg … 9.jpg
//	<dir>/<token>/READY           written last, batch complete
//	<dir>/<token>/cell_counts.txt written by the service
//
// The service is expected to create cell_counts.txt atomically.
type DropBox struct {
	dir      string
	interval time.Duration

	// Progress, if set, is called on every pending poll with the time
	// waited so far.
	Progress func(token Token, waited time.Duration)
}

// NewDropBox returns a DropBox rooted at dir, polling every interval.
func NewDropBox(dir string, interval time.Duration) *DropBox {
	if interval <= 0 {
		interval = time.Second
	}
	return &DropBox{dir: dir, interval: interval}
}

// Submit copies the tiles into a new batch folder and marks it ready.
func (d *DropBox) Submit(ctx context.Context, tiles []string) (Token, error) {
	if len(tiles) != TileCount {
		return "", fmt.Errorf("classifier: batch has %d tiles, want %d", len(tiles), TileCount)
	}

	token := Token(uuid.NewString())
	batch := d.batchDir(token)
	if err := os.MkdirAll(batch, 0o755); err != nil {
		return "", fmt.Errorf("create batch folder: %w", err)
	}

	for i, src := range tiles {
		if err := ctx.Err(); err != nil {
			return "", errors.Join(err, os.RemoveAll(batch))
		}
		dst := filepath.Join(batch, strconv.Itoa(i+1)+".jpg")
		if err := copyFile(src, dst); err != nil {
			return "", errors.Join(fmt.Errorf("upload tile %d: %w", i+1, err), os.RemoveAll(batch))
		}
	}

	if err := os.WriteFile(filepath.Join(batch, readyMarker), []byte(time.Now().Format(time.RFC3339)+"\n"), 0o644); err != nil {
		return "", errors.Join(fmt.Errorf("mark batch ready: %w", err), os.RemoveAll(batch))
	}
	debug.Info("Submitted %d tiles for counting (batch %s)", len(tiles), token)
	return token, nil
}

// Poll returns the counts of a batch, or ErrProcessingPending while the
// service has not answered.
func (d *DropBox) Poll(token Token) (Counts, error) {
	data, err := os.ReadFile(filepath.Join(d.batchDir(token), responseFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrProcessingPending
	}
	if err != nil {
		return nil, fmt.Errorf("read counts: %w", err)
	}
	return ParseCounts(data)
}

// Await polls until the counts arrive, timeout elapses or ctx is done. A
// non-positive timeout waits indefinitely.
func (d *DropBox) Await(ctx context.Context, token Token, timeout time.Duration) (Counts, error) {
	start := time.Now()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		counts, err := d.Poll(token)
		if !errors.Is(err, ErrProcessingPending) {
			return counts, err
		}

		waited := time.Since(start)
		if timeout > 0 && waited >= timeout {
			return nil, fmt.Errorf("%w: batch %s after %s", ErrProcessingTimeout, token, timeout)
		}
		if d.Progress != nil {
			d.Progress(token, waited)
		}
		debug.Verbose("Waiting for cell counts (%s)", waited.Truncate(time.Second))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Discard removes a batch folder.
func (d *DropBox) Discard(token Token) error {
	return os.RemoveAll(d.batchDir(token))
}

func (d *DropBox) batchDir(token Token) string {
	return filepath.Join(d.dir, string(token))
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = io.Copy(out, in)
	return err
}
