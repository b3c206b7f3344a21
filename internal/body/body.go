// Package body is the only path by which request bodies enter the core.
// It collects a streaming body while enforcing a hard byte ceiling, so a
// lying Content-Length or an unbounded chunked stream can never exhaust
// memory.
package body

import (
	"bytes"
	"io"

	gwerr "github.com/YASSERRMD/naseejmesh/internal/errors"
)

// DefaultMaxSize is the default body ceiling: 2MB.
const DefaultMaxSize int64 = 2 << 20

// Read collects r up to maxSize bytes. The reader is drained at most
// maxSize+1 bytes; the extra byte distinguishes "exactly at the limit"
// from "over it". Content-Length is never trusted.
func Read(r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, gwerr.BodyReadError(err)
	}
	if n > maxSize {
		return nil, gwerr.PayloadTooLarge(maxSize)
	}
	return buf.Bytes(), nil
}
