package model

import "errors"

// Error kinds of the pipeline. Per-message errors are converted into failure
// ExportResults at the orchestrator boundary; per-attachment errors are
// recorded on the AttachmentRef.
var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrMalformedSource   = errors.New("malformed source")
	ErrAttachmentRead    = errors.New("attachment read failed")
	ErrTemplate          = errors.New("template error")
	ErrRenderIO          = errors.New("render io error")
	ErrPathResolution    = errors.New("path resolution error")
	ErrWriteIO           = errors.New("write io error")
	ErrAggregatorClosed  = errors.New("aggregator closed")
	ErrCancelled         = errors.New("batch cancelled")
)

// Result kinds that are not error classifications.
const (
	KindSkipped   = "Skipped"
	KindCancelled = "Cancelled"
	KindDryRun    = "DryRun"
)

// Classify maps an error to its report kind string.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSourceUnavailable):
		return "SourceUnavailable"
	case errors.Is(err, ErrMalformedSource):
		return "MalformedSource"
	case errors.Is(err, ErrAttachmentRead):
		return "AttachmentReadError"
	case errors.Is(err, ErrTemplate):
		return "TemplateError"
	case errors.Is(err, ErrRenderIO):
		return "RenderIOError"
	case errors.Is(err, ErrPathResolution):
		return "PathResolutionError"
	case errors.Is(err, ErrWriteIO):
		return "WriteIOError"
	case errors.Is(err, ErrAggregatorClosed):
		return "AggregatorClosed"
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	default:
		return "Error"
	}
}
