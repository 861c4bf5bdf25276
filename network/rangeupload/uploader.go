package rangeupload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"

	"github.com/filebeam/filebeam/chunker"
)

const errorBodyLimit = 1024

// Driver sends a byte source to a session location URL as a strict sequence
// of range-tagged chunk requests. A Driver holds only immutable
// configuration; concurrent Upload calls never share transfer state.
type Driver struct {
	config     Config
	httpClient *http.Client
	logger     log.Logger
}

// New creates a new Driver with the given configuration.
func New(config Config, logger log.Logger) *Driver {
	if config.ChunkSizeBytes <= 0 {
		config.ChunkSizeBytes = DefaultChunkSizeBytes
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = DefaultHTTPClient()
	}

	return &Driver{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Upload streams source to location, one chunk fully in flight at a time.
// totalSize is the size declared when the upload session was created; headers
// is the authenticated session header template (any basic-auth Authorization
// in it is dropped, it must never reach the session endpoint).
//
// The first chunk response with a non-success status aborts the transfer with
// a ChunkTransferError; nothing is retried and bytes already sent are not
// rolled back. On success the final chunk's response is the result.
func (d *Driver) Upload(ctx context.Context, location string, totalSize int64, source io.Reader, headers map[string]string) (*Result, error) {
	switch d.config.RedirectMode {
	case RedirectManual:
		d.logger.Debugf("Manual redirect mode, skipping transfer and returning location")
		return &Result{Location: location}, nil
	case RedirectError:
		return nil, &RedirectRequestedError{Location: location}
	}

	stats := NewStats()
	chunks := chunker.New(source, d.config.ChunkSizeBytes)

	result := &Result{Stats: stats}
	var bytesSent int64
	var chunkIndex int
	for {
		chunk, err := chunks.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read chunk %d: %w", chunkIndex+1, err)
		}

		chunkRange := RangeDescriptor{
			Start: bytesSent,
			End:   bytesSent + int64(len(chunk)) - 1,
			Total: totalSize,
		}
		d.logger.Debugf("Uploading chunk %d (%s) as %s", chunkIndex+1,
			units.BytesSize(float64(len(chunk))), chunkRange.ContentRange())

		start := time.Now()
		statusCode, body, err := d.uploadChunk(ctx, location, chunkRange, chunk, headers)
		bytesSent += int64(len(chunk))
		chunkIndex++
		if err != nil {
			return nil, fmt.Errorf("upload chunk %d: %w", chunkIndex, err)
		}
		if statusCode < 200 || statusCode >= 300 {
			return nil, &ChunkTransferError{
				StatusCode: statusCode,
				Range:      chunkRange,
				Body:       truncateBody(body),
			}
		}

		stats.Update(time.Since(start), int64(len(chunk)))
		result.StatusCode = statusCode
		result.Body = body
		result.BytesSent = bytesSent
		result.ChunksSent = chunkIndex

		d.logger.Infof("Chunk %d uploaded in %v (%s of %s sent)", chunkIndex,
			time.Since(start).Round(time.Millisecond),
			units.BytesSize(float64(bytesSent)), units.BytesSize(float64(totalSize)))
	}

	if bytesSent != totalSize {
		d.logger.Warnf("Transferred %d bytes but %d were declared at session creation", bytesSent, totalSize)
	}

	if took := stats.TotalDuration(); took > 0 {
		rate := float64(bytesSent) / took.Seconds()
		d.logger.Printf("Uploaded %s in %v (%s/s)",
			units.HumanSizeWithPrecision(float64(bytesSent), 3),
			took.Round(time.Millisecond), units.HumanSize(rate))
	}

	return result, nil
}

func (d *Driver) uploadChunk(ctx context.Context, location string, chunkRange RangeDescriptor, chunk []byte, headers map[string]string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, location, bytes.NewReader(chunk))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}

	for k, v := range headers {
		if strings.EqualFold(k, "Authorization") && strings.HasPrefix(v, "Basic ") {
			continue
		}
		req.Header.Set(k, v)
	}

	// Conventional headers the remote service expects; they carry no
	// protocol meaning.
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	req.Header.Set("Connection", "keep-alive")

	req.Header.Set("Content-Range", chunkRange.ContentRange())
	req.ContentLength = int64(len(chunk))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, fmt.Errorf("chunk upload cancelled: %w", ctx.Err())
		}
		return 0, nil, fmt.Errorf("do request: %w", err)
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			d.logger.Printf(err.Error())
		}
	}(resp.Body)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}

	return resp.StatusCode, body, nil
}

func truncateBody(body []byte) string {
	if len(body) > errorBodyLimit {
		body = body[:errorBodyLimit]
	}
	return string(body)
}
