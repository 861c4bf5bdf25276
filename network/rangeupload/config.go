package rangeupload

import (
	"net/http"
	"time"
)

// DefaultChunkSizeBytes is the chunk threshold used when the caller does not
// override it. Matches the remote service's preferred part size.
const DefaultChunkSizeBytes = 16 * 1024 * 1024

// RedirectMode controls whether Upload performs the transfer, hands back the
// destination URL, or fails fast when a redirect-style destination is in play.
type RedirectMode int

const (
	// RedirectFollow performs the full chunked transfer.
	RedirectFollow RedirectMode = iota
	// RedirectManual skips the transfer and returns the destination URL in the result.
	RedirectManual
	// RedirectError fails with RedirectRequestedError before any chunk is sent.
	RedirectError
)

// Config holds configuration for the range upload driver.
type Config struct {
	// ChunkSizeBytes is the chunk threshold handed to the stream chunker.
	// Default: DefaultChunkSizeBytes
	ChunkSizeBytes int

	// RedirectMode selects the transfer semantics. Default: RedirectFollow
	RedirectMode RedirectMode

	// HTTPClient is the HTTP client used for chunk requests.
	// If nil, a default client will be created. Chunk requests are never
	// retried, so a plain client belongs here, not a retrying one.
	HTTPClient *http.Client
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSizeBytes: DefaultChunkSizeBytes,
		RedirectMode:   RedirectFollow,
	}
}

// DefaultHTTPClient creates an HTTP client suited to long-running chunk requests.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		// No timeout - chunk requests are bounded via context
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxConnsPerHost:     5,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
			Proxy:               http.ProxyFromEnvironment,
		},
	}
}
