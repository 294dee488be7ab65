package capture

import (
	"context"
	"errors"
	"os/exec"
	"strings"
)

// ErrorClass groups capture failures by what the caller should do next.
type ErrorClass int

const (
	// ErrorClassRetryable indicates another attempt may succeed (network hiccups, throttling).
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassOffline indicates the channel has no live stream to capture.
	ErrorClassOffline
	// ErrorClassFatal indicates retrying cannot help (missing binary, bad channel).
	ErrorClassFatal
)

// String returns a human-readable name for the error class.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassRetryable:
		return "retryable"
	case ErrorClassOffline:
		return "offline"
	case ErrorClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var offlinePatterns = []string{
	"no playable streams found",
	"is offline",
	"no streams found",
	"stream is not live",
}

var fatalPatterns = []string{
	"executable file not found",
	"permission denied",
	"no plugin can handle url",
	"unsupported url",
	"invalid url",
	"404",
	"not found",
}

// Classify maps a capture error onto an ErrorClass. Unknown errors are retryable.
func Classify(err error) ErrorClass {
	if err == nil || errors.Is(err, context.Canceled) {
		return ErrorClassRetryable
	}
	if errors.Is(err, exec.ErrNotFound) {
		return ErrorClassFatal
	}
	lower := strings.ToLower(err.Error())

	// offline messages also contain "not found"; check them first
	for _, p := range offlinePatterns {
		if strings.Contains(lower, p) {
			return ErrorClassOffline
		}
	}
	for _, p := range fatalPatterns {
		if strings.Contains(lower, p) {
			return ErrorClassFatal
		}
	}
	return ErrorClassRetryable
}

// IsOffline reports whether err means the stream is not live.
func IsOffline(err error) bool { return Classify(err) == ErrorClassOffline }

// IsFatal reports whether err cannot be fixed by retrying.
func IsFatal(err error) bool { return err != nil && Classify(err) == ErrorClassFatal }
