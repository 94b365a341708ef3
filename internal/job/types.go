package job

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/caiolacerdamt/cognistream/internal/provider"
	"github.com/caiolacerdamt/cognistream/internal/source"
)

// Stage is a step in the pipeline state machine.
type Stage string

const (
	StageQueued       Stage = "queued"
	StageDownloading  Stage = "downloading"
	StageTranscribing Stage = "transcribing"
	StageSummarizing  Stage = "summarizing"
	StageSaving       Stage = "saving"
	StageCompleted    Stage = "completed"
	StageFailed       Stage = "failed"
)

// stageOrder drives the monotonic-transition check. Failed is reachable from
// any non-terminal stage and is absorbing, like Completed.
var stageOrder = map[Stage]int{
	StageQueued:       0,
	StageDownloading:  1,
	StageTranscribing: 2,
	StageSummarizing:  3,
	StageSaving:       4,
	StageCompleted:    5,
}

func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// ErrorKind is the closed failure taxonomy surfaced to callers.
type ErrorKind string

const (
	ErrUnsupportedFormat   ErrorKind = "unsupported_format"
	ErrSourceUnavailable   ErrorKind = "source_unavailable"
	ErrNoAudioTrack        ErrorKind = "no_audio_track"
	ErrSourceTooLarge      ErrorKind = "source_too_large"
	ErrInvalidCredential   ErrorKind = "invalid_credential"
	ErrProviderRejected    ErrorKind = "provider_rejected"
	ErrProviderRateLimited ErrorKind = "provider_rate_limited"
	ErrProviderUnavailable ErrorKind = "provider_unavailable"
	ErrEmptyTranscript     ErrorKind = "empty_transcript"
	ErrPersistenceFailed   ErrorKind = "persistence_failed"
	ErrInternal            ErrorKind = "internal"
)

// Failure is a classified terminal error.
type Failure struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (f *Failure) Error() string {
	return string(f.Kind) + ": " + f.Message
}

// classify maps leaf-package errors onto the unified taxonomy.
func classify(err error) *Failure {
	switch e := err.(type) {
	case *source.Error:
		return &Failure{Kind: ErrorKind(e.Kind), Message: e.Message}
	case *provider.Error:
		return &Failure{Kind: ErrorKind(e.Kind), Message: e.Message}
	case *Failure:
		return e
	default:
		return &Failure{Kind: ErrInternal, Message: err.Error()}
	}
}

func retryable(err error) bool {
	if e, ok := err.(*provider.Error); ok {
		return e.Retryable()
	}
	return false
}

// Request is one transcription request as it enters the pipeline.
type Request struct {
	UserID   int64
	Provider string
	APIKey   string
	Source   source.Source
}

// FlightKey is the idempotency key for single-flight enforcement: same user
// plus same content hash (uploads) or same URL (remote) share one execution.
func (r Request) FlightKey() string {
	switch {
	case r.Source.Upload != nil:
		sum := sha256.Sum256(r.Source.Upload.Data)
		return fmt.Sprintf("%d|upload|%x", r.UserID, sum[:])
	case r.Source.Remote != nil:
		return fmt.Sprintf("%d|url|%s", r.UserID, strings.TrimSpace(r.Source.Remote.URL))
	default:
		return fmt.Sprintf("%d|empty", r.UserID)
	}
}

// SourceURL returns the remote URL, or "" for uploads.
func (r Request) SourceURL() string {
	if r.Source.Remote != nil {
		return r.Source.Remote.URL
	}
	return ""
}

// SourceName returns the uploaded filename, or "" for remote sources.
func (r Request) SourceName() string {
	if r.Source.Upload != nil {
		return r.Source.Upload.Filename
	}
	return ""
}

// Job is one in-flight transcription request. It is owned exclusively by the
// pipeline until it reaches a terminal stage.
type Job struct {
	ID          string    `json:"id"`
	UserID      int64     `json:"user_id"`
	Provider    string    `json:"provider"`
	Stage       Stage     `json:"stage"`
	Transcript  string    `json:"-"`
	Summary     string    `json:"-"`
	KeyTopics   []string  `json:"-"`
	Failure     *Failure  `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// advance moves the job to the next stage, enforcing monotonic order.
func (j *Job) advance(next Stage) error {
	if j.Stage.Terminal() {
		return fmt.Errorf("job %s is already terminal (%s)", j.ID, j.Stage)
	}
	if next == StageFailed {
		j.Stage = StageFailed
		j.CompletedAt = time.Now()
		return nil
	}
	cur, curOK := stageOrder[j.Stage]
	nxt, nxtOK := stageOrder[next]
	if !curOK || !nxtOK || nxt != cur+1 {
		return fmt.Errorf("invalid transition %s -> %s", j.Stage, next)
	}
	j.Stage = next
	if next == StageCompleted {
		j.CompletedAt = time.Now()
	}
	return nil
}

// Result is the terminal payload of a completed job.
type Result struct {
	ID            string   `json:"id"`
	Transcription string   `json:"transcription"`
	Summary       string   `json:"summary"`
	KeyTopics     []string `json:"key_topics"`
	Duration      float64  `json:"duration"`
	Provider      string   `json:"provider"`
	Model         string   `json:"model"`
}
