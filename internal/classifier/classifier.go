// Package classifier is the boundary to the external cell-counting
// service. Tiles go out in a batch and per-tile counts come back
// asynchronously.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrProcessingPending is returned by a poll before counts are available.
	ErrProcessingPending = errors.New("classifier: processing pending")

	// ErrProcessingTimeout is returned when counts do not arrive in time.
	ErrProcessingTimeout = errors.New("classifier: processing timeout")

	// ErrMalformedResponse is returned for a counts file that does not hold
	// exactly one count for each of the nine tiles.
	ErrMalformedResponse = errors.New("classifier: malformed response")
)

// TileCount is the batch size the service expects.
const TileCount = 9

// Token identifies one submitted batch.
type Token string

// Counts maps a tile index (1..9) to its cell count.
type Counts map[int]int

// Classifier submits tile batches and waits for their counts. Tiles are
// image paths in index order 1..9.
type Classifier interface {
	Submit(ctx context.Context, tiles []string) (Token, error)
	Await(ctx context.Context, token Token, timeout time.Duration) (Counts, error)
}

// ParseCounts reads whitespace-separated (tile index, count) pairs. Every
// tile index 1..9 must appear exactly once with a non-negative count.
func ParseCounts(data []byte) (Counts, error) {
	fields := strings.Fields(string(data))
	if len(fields) != 2*TileCount {
		return nil, fmt.Errorf("%w: %d values, want %d", ErrMalformedResponse, len(fields), 2*TileCount)
	}

	counts := make(Counts, TileCount)
	for i := 0; i < len(fields); i += 2 {
		index, err := strconv.Atoi(fields[i])
		if err != nil {
			return nil, fmt.Errorf("%w: tile index %q", ErrMalformedResponse, fields[i])
		}
		count, err := strconv.Atoi(fields[i+1])
		if err != nil {
			return nil, fmt.Errorf("%w: count %q", ErrMalformedResponse, fields[i+1])
		}
		if index < 1 || index > TileCount {
			return nil, fmt.Errorf("%w: tile index %d out of range", ErrMalformedResponse, index)
		}
		if count < 0 {
			return nil, fmt.Errorf("%w: negative count %d for tile %d", ErrMalformedResponse, count, index)
		}
		if _, dup := counts[index]; dup {
			return nil, fmt.Errorf("%w: tile %d listed twice", ErrMalformedResponse, index)
		}
		counts[index] = count
	}
	return counts, nil
}
