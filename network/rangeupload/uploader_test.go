package rangeupload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// chunkRecorder captures what the session endpoint received, per request.
type chunkRecorder struct {
	mu             sync.Mutex
	methods        []string
	contentRanges  []string
	contentLengths []int64
	headers        []http.Header
	bodies         [][]byte
	failFromIndex  int // fail requests at this index and later with HTTP 500; -1 disables
}

func newChunkRecorder() *chunkRecorder {
	return &chunkRecorder{failFromIndex: -1}
}

func (rec *chunkRecorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		rec.mu.Lock()
		index := len(rec.bodies)
		rec.methods = append(rec.methods, r.Method)
		rec.contentRanges = append(rec.contentRanges, r.Header.Get("Content-Range"))
		rec.contentLengths = append(rec.contentLengths, r.ContentLength)
		rec.headers = append(rec.headers, r.Header.Clone())
		rec.bodies = append(rec.bodies, body)
		rec.mu.Unlock()

		if rec.failFromIndex >= 0 && index >= rec.failFromIndex {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, "chunk rejected")
			return
		}
		fmt.Fprintf(w, `{"chunk":%d}`, index)
	}
}

func (rec *chunkRecorder) requestCount() int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.bodies)
}

// fragmentReader returns at most fragmentSize bytes per Read so the chunker
// has to accumulate across several upstream reads.
type fragmentReader struct {
	data         []byte
	fragmentSize int
}

func (r *fragmentReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.fragmentSize
	if n > len(r.data) {
		n = len(r.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestDriver_Upload_RangePartition(t *testing.T) {
	rec := newChunkRecorder()
	server := httptest.NewServer(rec.handler(t))
	defer server.Close()

	data := testData(40)
	source := &fragmentReader{data: append([]byte(nil), data...), fragmentSize: 8}

	config := DefaultConfig()
	config.ChunkSizeBytes = 16
	driver := New(config, log.NewLogger())

	result, err := driver.Upload(context.Background(), server.URL, 40, source, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"bytes 0-15/40",
		"bytes 16-31/40",
		"bytes 32-39/40",
	}, rec.contentRanges)
	assert.Equal(t, []string{"POST", "POST", "POST"}, rec.methods)
	assert.Equal(t, []int64{16, 16, 8}, rec.contentLengths)

	var received []byte
	for _, body := range rec.bodies {
		received = append(received, body...)
	}
	assert.Equal(t, data, received, "server must receive the source bytes in order")

	assert.Equal(t, int64(40), result.BytesSent)
	assert.Equal(t, 3, result.ChunksSent)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, `{"chunk":2}`, string(result.Body), "result carries the final chunk's response body")
	assert.Equal(t, int64(3), result.Stats.FinishedCount())
	assert.Equal(t, int64(40), result.Stats.TotalBytes())
}

func TestDriver_Upload_SingleChunk(t *testing.T) {
	rec := newChunkRecorder()
	server := httptest.NewServer(rec.handler(t))
	defer server.Close()

	config := DefaultConfig()
	config.ChunkSizeBytes = 16
	driver := New(config, log.NewLogger())

	result, err := driver.Upload(context.Background(), server.URL, 16, bytes.NewReader(testData(16)), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"bytes 0-15/16"}, rec.contentRanges)
	assert.Equal(t, int64(16), result.BytesSent)
	assert.Equal(t, 1, result.ChunksSent)
}

func TestDriver_Upload_StopsAtFirstFailure(t *testing.T) {
	rec := newChunkRecorder()
	rec.failFromIndex = 1
	server := httptest.NewServer(rec.handler(t))
	defer server.Close()

	config := DefaultConfig()
	config.ChunkSizeBytes = 16
	driver := New(config, log.NewLogger())

	source := &fragmentReader{data: testData(48), fragmentSize: 8}
	result, err := driver.Upload(context.Background(), server.URL, 48, source, nil)
	require.Error(t, err)
	assert.Nil(t, result)

	var transferErr *ChunkTransferError
	require.ErrorAs(t, err, &transferErr)
	assert.Equal(t, http.StatusInternalServerError, transferErr.StatusCode)
	assert.Equal(t, RangeDescriptor{Start: 16, End: 31, Total: 48}, transferErr.Range)
	assert.Equal(t, "chunk rejected", transferErr.Body)

	assert.Equal(t, 2, rec.requestCount(), "no chunk request after the failing one")
}

func TestDriver_Upload_RedirectModes(t *testing.T) {
	tests := []struct {
		name         string
		mode         RedirectMode
		wantLocation bool
		wantErr      bool
	}{
		{
			name:         "manual returns location without transfer",
			mode:         RedirectManual,
			wantLocation: true,
		},
		{
			name:    "error fails before transfer",
			mode:    RedirectError,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newChunkRecorder()
			server := httptest.NewServer(rec.handler(t))
			defer server.Close()

			config := DefaultConfig()
			config.RedirectMode = tt.mode
			driver := New(config, log.NewLogger())

			result, err := driver.Upload(context.Background(), server.URL, 40, bytes.NewReader(testData(40)), nil)

			assert.Zero(t, rec.requestCount(), "no chunk request may be issued")
			if tt.wantErr {
				var redirectErr *RedirectRequestedError
				require.ErrorAs(t, err, &redirectErr)
				assert.Equal(t, server.URL, redirectErr.Location)
				return
			}
			require.NoError(t, err)
			if tt.wantLocation {
				assert.Equal(t, server.URL, result.Location)
			}
		})
	}
}

func TestDriver_Upload_ManualModeLogging(t *testing.T) {
	// Given
	mockLogger := new(mocks.Logger)
	mockLogger.On("Debugf", mock.Anything).Return()

	driver := New(Config{RedirectMode: RedirectManual}, mockLogger)

	// When
	result, err := driver.Upload(context.Background(), "https://upload.example.com/s/1", 10, bytes.NewReader(testData(10)), nil)

	// Then
	require.NoError(t, err)
	assert.Equal(t, "https://upload.example.com/s/1", result.Location)
	mockLogger.AssertExpectations(t)
}

func TestDriver_Upload_EmptySource(t *testing.T) {
	rec := newChunkRecorder()
	server := httptest.NewServer(rec.handler(t))
	defer server.Close()

	driver := New(DefaultConfig(), log.NewLogger())

	result, err := driver.Upload(context.Background(), server.URL, 0, bytes.NewReader(nil), nil)
	require.NoError(t, err)

	assert.Zero(t, rec.requestCount())
	assert.Equal(t, int64(0), result.BytesSent)
	assert.Equal(t, 0, result.ChunksSent)
}

func TestDriver_Upload_HeaderPolicy(t *testing.T) {
	rec := newChunkRecorder()
	server := httptest.NewServer(rec.handler(t))
	defer server.Close()

	config := DefaultConfig()
	config.ChunkSizeBytes = 16
	driver := New(config, log.NewLogger())

	headers := map[string]string{
		"Authorization": "Basic dXNlcjpwYXNz",
		"X-Session":     "session-cookie-value",
	}
	_, err := driver.Upload(context.Background(), server.URL, 16, bytes.NewReader(testData(16)), headers)
	require.NoError(t, err)

	require.Equal(t, 1, rec.requestCount())
	received := rec.headers[0]
	assert.Empty(t, received.Get("Authorization"), "basic auth must never reach the session endpoint")
	assert.Equal(t, "session-cookie-value", received.Get("X-Session"))
	assert.Equal(t, "*/*", received.Get("Accept"))
	assert.Equal(t, "bytes 0-15/16", received.Get("Content-Range"))
}

func TestDriver_Upload_BearerTokenForwarded(t *testing.T) {
	rec := newChunkRecorder()
	server := httptest.NewServer(rec.handler(t))
	defer server.Close()

	config := DefaultConfig()
	config.ChunkSizeBytes = 16
	driver := New(config, log.NewLogger())

	headers := map[string]string{"Authorization": "Bearer token-123"}
	_, err := driver.Upload(context.Background(), server.URL, 16, bytes.NewReader(testData(16)), headers)
	require.NoError(t, err)

	require.Equal(t, 1, rec.requestCount())
	assert.Equal(t, "Bearer token-123", rec.headers[0].Get("Authorization"))
}

func TestDriver_Upload_DeclaredSizeMismatchIsVisible(t *testing.T) {
	rec := newChunkRecorder()
	server := httptest.NewServer(rec.handler(t))
	defer server.Close()

	config := DefaultConfig()
	config.ChunkSizeBytes = 40
	driver := New(config, log.NewLogger())

	// Caller declared 100 bytes but the source only yields 90: the transfer
	// completes and the discrepancy shows up in the final range.
	source := &fragmentReader{data: testData(90), fragmentSize: 40}
	result, err := driver.Upload(context.Background(), server.URL, 100, source, nil)
	require.NoError(t, err)

	require.NotEmpty(t, rec.contentRanges)
	last := rec.contentRanges[len(rec.contentRanges)-1]
	assert.Equal(t, "bytes 80-89/100", last)
	assert.Equal(t, int64(90), result.BytesSent)
	assert.NotEqual(t, int64(100), result.BytesSent)
}
