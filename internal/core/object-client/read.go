package objectclient

import (
	"fmt"
	"io"

	"github.com/markdave123-py/contexta-ingest/internal/core"
)

// ReadCapped reads r to the end, failing with core.ErrOversizedInput as soon
// as more than max bytes arrive. max <= 0 reads without a cap.
func ReadCapped(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return io.ReadAll(r)
	}
	b, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	if int64(len(b)) > max {
		return nil, fmt.Errorf("%w: object exceeds %d bytes", core.ErrOversizedInput, max)
	}
	return b, nil
}
