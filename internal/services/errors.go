package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSourceUnavailable       = errors.New("source unavailable")
	ErrEncoderCapacity         = errors.New("encoder capacity exceeded")
	ErrEgressUnavailable       = errors.New("egress unavailable")
	ErrConfiguration           = errors.New("configuration error")
	ErrOverlayStoreUnreachable = errors.New("overlay store unreachable")
	ErrValidation              = errors.New("validation error")
	ErrNotFound                = errors.New("not found")
	ErrExternalTool            = errors.New("external tool error")
)

// Disposition describes how the relay reacts to a stage error.
type Disposition string

const (
	// DispositionRecoverable errors are retried after a backoff.
	DispositionRecoverable Disposition = "recoverable"
	// DispositionDrop errors discard the current frame and continue.
	DispositionDrop Disposition = "drop"
	// DispositionFatal errors stop the relay and exit non-zero.
	DispositionFatal Disposition = "fatal"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrExternalTool
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps a stage error to the relay disposition. Unmarked errors are
// treated as recoverable so an unexpected stage failure never kills the stream.
func Classify(err error) Disposition {
	switch {
	case err == nil:
		return DispositionRecoverable
	case errors.Is(err, ErrConfiguration):
		return DispositionFatal
	case errors.Is(err, ErrEncoderCapacity):
		return DispositionDrop
	default:
		return DispositionRecoverable
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
