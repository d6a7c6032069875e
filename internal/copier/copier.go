// Package copier implements buffered stream copying with pooled buffers
// and cooperative cancellation between chunks.
package copier

import (
	"context"
	"io"
	"sync"
)

const defaultBufferSize = 32 * 1024

type Copier struct {
	pool *sync.Pool
}

// NewPooledCopier makes a Copier reusing buffers of bufferSize.
func NewPooledCopier(bufferSize int64) *Copier {
	return &Copier{
		pool: &sync.Pool{
			New: func() interface{} {
				ret := make([]byte, bufferSize)
				return &ret
			},
		},
	}
}

func NewCopier() *Copier {
	return &Copier{}
}

type writerOnly struct{ io.Writer }

type readerOnly struct{ io.Reader }

// Copy transfers bytes from r to w until EOF, checking ctx between
// chunks. On cancellation it returns ctx.Err() together with the byte
// count transferred so far.
func (c *Copier) Copy(ctx context.Context, w io.Writer, r io.Reader) (int64, error) {
	var buf []byte

	if c.pool != nil {
		// Here we are blocking ReaderFrom and WriterTo optimisations to prevent fallback to io.Copy
		// https://github.com/golang/go/issues/67074 (or analogs) implementation should eliminate this hack
		hold := c.pool.Get().(*[]byte)
		defer c.pool.Put(hold)
		buf = *hold
	} else {
		buf = make([]byte, defaultBufferSize)
	}

	w = writerOnly{w}
	r = readerOnly{r}

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		nr, rerr := r.Read(buf)
		if nr > 0 {
			nw, werr := w.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw < nr {
				return written, io.ErrShortWrite
			}
		}

		switch rerr {
		case nil:
		case io.EOF:
			return written, nil
		default:
			return written, rerr
		}
	}
}
