package sources

import (
	"errors"
	"fmt"
	"io"
)

// DefaultMaxBytes caps a blocklist body when no limit is configured.
const DefaultMaxBytes int64 = 16 << 20

// ErrTooLarge is returned when a blocklist exceeds its size limit.
var ErrTooLarge = errors.New("blocklist exceeds size limit")

// readAllLimited reads r fully, failing if it holds more than limit bytes.
func readAllLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w of %d bytes", ErrTooLarge, limit)
	}
	return data, nil
}
