// Package chunker turns an arbitrary byte stream into a sequence of bounded
// buffers suitable for range-addressed uploads.
package chunker

import (
	"bytes"
	"io"
)

// DefaultThreshold is used when no explicit chunk threshold is provided.
const DefaultThreshold = 65536

const readBufferSize = 32 * 1024

// Chunker accumulates reads from a source until the running buffer reaches
// the threshold, then yields the buffer whole. The sequence is lazy,
// single-pass and preserves the source's byte order: concatenating the
// yielded chunks reproduces the source exactly.
type Chunker struct {
	src       io.Reader
	threshold int
	buf       bytes.Buffer
	readBuf   []byte
	done      bool
	err       error
}

// New creates a Chunker over src. Every yielded chunk except possibly the
// last has at least threshold bytes; a chunk can exceed the threshold when
// the final read that filled it overshoots. A non-positive threshold falls
// back to DefaultThreshold.
func New(src io.Reader, threshold int) *Chunker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	return &Chunker{
		src:       src,
		threshold: threshold,
		readBuf:   make([]byte, readBufferSize),
	}
}

// Next returns the next chunk, or io.EOF once the source is exhausted and
// all buffered bytes were yielded. A source that produces zero bytes yields
// zero chunks. The returned slice is owned by the caller; the Chunker keeps
// no reference to it.
func (c *Chunker) Next() ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}

	for !c.done && c.buf.Len() < c.threshold {
		n, err := c.src.Read(c.readBuf)
		if n > 0 {
			c.buf.Write(c.readBuf[:n])
		}
		if err == io.EOF {
			c.done = true
			break
		}
		if err != nil {
			c.err = err
			return nil, err
		}
	}

	if c.buf.Len() == 0 {
		c.err = io.EOF
		return nil, io.EOF
	}

	chunk := make([]byte, c.buf.Len())
	copy(chunk, c.buf.Bytes())
	c.buf.Reset()

	return chunk, nil
}
