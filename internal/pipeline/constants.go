package pipeline

import "time"

// Tunables for the ingestion pipeline. Each can be overridden through Config.
const (
	// DefaultMinTextLength is the shortest trimmed text layer, in runes, that
	// is trusted for text extraction. Anything shorter is treated as a
	// scanned document and rendered to images.
	DefaultMinTextLength = 50

	// DefaultJobTimeout bounds one asynchronous job end to end.
	DefaultJobTimeout = 5 * time.Minute

	// maxErrorMessageLen caps the failure text stored on a statement.
	maxErrorMessageLen = 2000

	// failureWriteTimeout bounds recording a failure after the job's own
	// deadline may already have passed.
	failureWriteTimeout = 15 * time.Second
)

// ExtractionPath records which route a statement took through the extractor.
type ExtractionPath string

const (
	PathText   ExtractionPath = "text"
	PathVision ExtractionPath = "vision"
)

// User-facing failure messages.
const (
	MsgUnrenderable = "Could not render this PDF."
	MsgTimedOut     = "Processing timed out. Please try again."
	msgFailedPrefix = "Failed to process statement: "
)
