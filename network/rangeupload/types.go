// Package rangeupload implements the sequential chunk upload protocol of the
// file-hosting service: one POST per chunk against a session location URL,
// each tagged with a Content-Range header describing the chunk's byte offsets
// within the declared total.
package rangeupload

import (
	"fmt"
)

// RangeDescriptor identifies a chunk's position within the full transfer.
// End is inclusive; for the final chunk of a well-formed transfer
// End+1 == Total.
type RangeDescriptor struct {
	Start int64
	End   int64
	Total int64
}

// ContentRange renders the descriptor in Content-Range header form.
func (d RangeDescriptor) ContentRange() string {
	return fmt.Sprintf("bytes %d-%d/%d", d.Start, d.End, d.Total)
}

// Result is the outcome of one upload call.
type Result struct {
	// Location is set instead of transfer fields when RedirectManual
	// short-circuits the upload.
	Location string

	// StatusCode and Body belong to the final chunk's response. The body is
	// passed through opaquely; the remote service puts the finished-file
	// metadata there.
	StatusCode int
	Body       []byte

	BytesSent  int64
	ChunksSent int

	Stats *Stats
}

// ChunkTransferError reports a chunk request that came back with a
// non-success status. The upload stops at the failing chunk; bytes already
// sent are not rolled back.
type ChunkTransferError struct {
	StatusCode int
	Range      RangeDescriptor
	Body       string
}

func (e *ChunkTransferError) Error() string {
	return fmt.Sprintf("chunk %s failed with status %d: %s", e.Range.ContentRange(), e.StatusCode, e.Body)
}

// RedirectRequestedError is returned in RedirectError mode before any chunk
// is sent.
type RedirectRequestedError struct {
	Location string
}

func (e *RedirectRequestedError) Error() string {
	return fmt.Sprintf("redirection requested to %s", e.Location)
}
