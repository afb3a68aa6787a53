// Package download copies a remote artifact body into a sink in fixed-size
// chunks, reporting progress after every chunk.
package download

import (
	"context"
	"errors"
	"io"

	"veogen/internal/domain"
)

// ChunkSize is the size of the single copy buffer.
const ChunkSize = 8192

// ProgressFunc receives the running byte count and the declared total
// (-1 when the server sent no length).
type ProgressFunc func(written, total int64)

// Streamer copies bodies chunk by chunk. The zero value uses ChunkSize.
type Streamer struct {
	BufferSize int
}

// Stream copies src into dst and returns the number of bytes written.
// A declared total that is not reached yields io.ErrUnexpectedEOF.
func (s Streamer) Stream(ctx context.Context, src io.Reader, total int64, dst io.Writer, fn ProgressFunc) (int64, error) {
	size := s.BufferSize
	if size <= 0 {
		size = ChunkSize
	}
	buf := make([]byte, size)

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, domain.CancelledError("download", err)
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			wn, writeErr := dst.Write(buf[:n])
			written += int64(wn)
			if writeErr != nil {
				return written, writeErr
			}
			if wn != n {
				return written, io.ErrShortWrite
			}
			if fn != nil {
				fn(written, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return written, domain.CancelledError("download", ctx.Err())
			}
			if errors.Is(readErr, io.ErrUnexpectedEOF) {
				return written, readErr
			}
			return written, domain.TransportError("read body", readErr)
		}
	}

	if total >= 0 && written < total {
		return written, io.ErrUnexpectedEOF
	}
	return written, nil
}
