package errors

// ErrorCodeInfo contains metadata about an error code.
type ErrorCodeInfo struct {
	Code            ErrorCode
	Retryable       bool
	Description     string
	SuggestedAction string
}

// ErrorCodeRegistry maps error codes to their metadata.
var ErrorCodeRegistry = map[ErrorCode]ErrorCodeInfo{
	ErrCodeSourceNotFound: {
		Code:            ErrCodeSourceNotFound,
		Retryable:       false,
		Description:     "Input audio or artifact file does not exist",
		SuggestedAction: "Check the path and rerun: meetmem process <audio>",
	},
	ErrCodeMalformedSegment: {
		Code:            ErrCodeMalformedSegment,
		Retryable:       false,
		Description:     "Transcription segment is missing start, end or text",
		SuggestedAction: "Inspect the raw transcription, then rerun: meetmem format <raw.json>",
	},
	ErrCodeExtractionFailure: {
		Code:            ErrCodeExtractionFailure,
		Retryable:       true,
		Description:     "An extraction task returned output that failed validation",
		SuggestedAction: "Rerun the analysis: meetmem analyze <stem>_transcript.json",
	},
	ErrCodeIndexUnavailable: {
		Code:            ErrCodeIndexUnavailable,
		Retryable:       true,
		Description:     "Memory store or embedding service unavailable",
		SuggestedAction: "Check memory backend settings, then rerun: meetmem memory add <stem>_analysis.json",
	},
	ErrCodeTimeout: {
		Code:            ErrCodeTimeout,
		Retryable:       true,
		Description:     "Operation exceeded time limit",
		SuggestedAction: "Retry the failed stage from its last artifact",
	},
	ErrCodeContextCancelled: {
		Code:            ErrCodeContextCancelled,
		Retryable:       false,
		Description:     "Operation cancelled by user or system",
		SuggestedAction: "Check if cancellation was intentional",
	},
	ErrCodeRateLimit: {
		Code:            ErrCodeRateLimit,
		Retryable:       true,
		Description:     "API rate limit exceeded",
		SuggestedAction: "Wait and retry, or check quota limits with the model provider",
	},
	ErrCodeModelUnavailable: {
		Code:            ErrCodeModelUnavailable,
		Retryable:       true,
		Description:     "Transcription or language model service unavailable",
		SuggestedAction: "Check that uvx and whisperx are installed and llm.base_url in the config file",
	},
	ErrCodeWriteFailed: {
		Code:            ErrCodeWriteFailed,
		Retryable:       false,
		Description:     "Artifact could not be written to the output directory",
		SuggestedAction: "Check permissions and free space of output_dir",
	},
	ErrCodeProcessingError: {
		Code:            ErrCodeProcessingError,
		Retryable:       false,
		Description:     "Unclassified processing error",
		SuggestedAction: "Rerun with --debug and check the logs",
	},
}

// IsRetryable returns true if the given error code represents a transient, retryable error.
func IsRetryable(code ErrorCode) bool {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Retryable
	}
	return false
}

// GetSuggestedAction returns the suggested action for the given error code.
func GetSuggestedAction(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.SuggestedAction
	}
	return ""
}

// GetDescription returns the description for the given error code.
func GetDescription(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Description
	}
	return ""
}
