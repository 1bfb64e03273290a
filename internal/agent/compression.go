package agent

import "context"

// CompressionStatus reports what a compression attempt did to the
// conversation history.
type CompressionStatus string

const (
	// CompressionCompressed means the returned history replaces the
	// current one.
	CompressionCompressed CompressionStatus = "COMPRESSED"

	// CompressionFailedInflated means the attempt made the token count
	// worse; the driver latches and does not retry for the rest of the
	// run.
	CompressionFailedInflated CompressionStatus = "COMPRESSION_FAILED_INFLATED_TOKEN_COUNT"

	// CompressionNone means nothing was done (history already small
	// enough, or the service declined).
	CompressionNone CompressionStatus = "NONE"
)

// CompressionService is the optional, remote-adapter-only chat-compression
// hook invoked before each turn. previousInflated tells the service that an
// earlier attempt inflated the token count, so it can pick a cheaper
// strategy or decline.
type CompressionService interface {
	Compress(ctx context.Context, history []CompletionMessage, previousInflated bool) (newHistory []CompletionMessage, status CompressionStatus, err error)
}
