package provider

import (
	"context"
	"fmt"
)

// Kind classifies provider failures so callers can tell "fix your credential"
// from "try again later" from "fix your input".
type Kind string

const (
	KindInvalidCredential Kind = "invalid_credential"
	KindRateLimited       Kind = "provider_rate_limited"
	KindUnavailable       Kind = "provider_unavailable"
	KindRejected          Kind = "provider_rejected"
	KindEmptyTranscript   Kind = "empty_transcript"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient.
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindUnavailable
}

func errf(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

type Transcript struct {
	Text     string
	Language string
	Seconds  float64
	Usage    Usage
}

type Summary struct {
	Text      string
	KeyTopics []string
	Usage     Usage
}

// Provider is the capability set every AI backend implements. A Provider is
// constructed per job with the caller's credential and discarded with it; the
// pipeline never branches on the concrete variant.
type Provider interface {
	Name() string
	Model() string
	Transcribe(ctx context.Context, audioPath, mimeType string) (*Transcript, error)
	Summarize(ctx context.Context, transcript string) (*Summary, error)
}
