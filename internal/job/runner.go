package job

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/caiolacerdamt/cognistream/internal/config"
	"github.com/caiolacerdamt/cognistream/internal/db/models"
	"github.com/caiolacerdamt/cognistream/internal/provider"
	"github.com/caiolacerdamt/cognistream/internal/source"
)

// ResultStore is the persistence collaborator the pipeline writes to.
// *db.Database satisfies it.
type ResultStore interface {
	SaveResult(r *models.Result, usage models.Usage) error
}

// Runner executes the pipeline state machine for one job. Both delivery modes
// (buffered and streaming) are driven by this single implementation; they
// differ only in how they consume the emitted events.
type Runner struct {
	Resolver  source.Resolver
	Providers *provider.Registry
	Store     ResultStore

	ProviderRetries   int
	PersistRetries    int
	RetryBackoff      time.Duration
	ResolveTimeout    time.Duration
	TranscribeTimeout time.Duration
	SummarizeTimeout  time.Duration
	SaveTimeout       time.Duration
}

func NewRunner(resolver source.Resolver, providers *provider.Registry, store ResultStore, cfg *config.Config) *Runner {
	return &Runner{
		Resolver:          resolver,
		Providers:         providers,
		Store:             store,
		ProviderRetries:   cfg.ProviderRetries,
		PersistRetries:    cfg.PersistRetries,
		RetryBackoff:      cfg.RetryBackoff,
		ResolveTimeout:    cfg.ResolveTimeout,
		TranscribeTimeout: cfg.TranscribeTimeout,
		SummarizeTimeout:  cfg.SummarizeTimeout,
		SaveTimeout:       cfg.SaveTimeout,
	}
}

// Run drives the job to a terminal stage, emitting one event per transition
// (plus one per retry attempt). It always emits exactly one terminal event.
func (r *Runner) Run(ctx context.Context, j *Job, req Request, emit func(Event)) (*Result, *Failure) {
	fail := func(err error) (*Result, *Failure) {
		f := classify(err)
		at := j.Stage
		j.Failure = f
		j.advance(StageFailed)
		log.Printf("[job] %s failed at %s: %v", j.ID, at, f)
		emit(Event{Stage: StageFailed, Failure: f})
		return nil, f
	}

	// Provider dispatch happens once, here. Every stage below is
	// provider-agnostic.
	prov, err := r.Providers.New(req.Provider, req.APIKey)
	if err != nil {
		return fail(err)
	}

	// Downloading
	if err := j.advance(StageDownloading); err != nil {
		return fail(err)
	}
	emit(Event{Stage: StageDownloading, Detail: "resolving media source"})

	resolveCtx, cancelResolve := context.WithTimeout(ctx, r.ResolveTimeout)
	audio, err := r.Resolver.Resolve(resolveCtx, req.Source)
	cancelResolve()
	if err != nil {
		return fail(err)
	}
	defer audio.Release()

	// Transcribing
	if err := j.advance(StageTranscribing); err != nil {
		return fail(err)
	}
	var transcript *provider.Transcript
	err = r.withRetries(ctx, StageTranscribing, emit, "transcribing audio", func(callCtx context.Context) error {
		var terr error
		transcript, terr = prov.Transcribe(callCtx, audio.Path, audio.MimeType)
		return terr
	}, r.TranscribeTimeout)
	if err != nil {
		return fail(err)
	}
	if transcript.Text == "" {
		return fail(&Failure{Kind: ErrEmptyTranscript, Message: "provider returned an empty transcript"})
	}
	j.Transcript = transcript.Text

	// Summarizing
	if err := j.advance(StageSummarizing); err != nil {
		return fail(err)
	}
	var summary *provider.Summary
	err = r.withRetries(ctx, StageSummarizing, emit, "summarizing transcript", func(callCtx context.Context) error {
		var serr error
		summary, serr = prov.Summarize(callCtx, transcript.Text)
		return serr
	}, r.SummarizeTimeout)
	if err != nil {
		return fail(err)
	}
	if summary.Text == "" {
		return fail(&Failure{Kind: ErrProviderRejected, Message: "provider returned an empty summary"})
	}
	j.Summary = summary.Text
	j.KeyTopics = summary.KeyTopics

	// Saving
	if err := j.advance(StageSaving); err != nil {
		return fail(err)
	}
	emit(Event{Stage: StageSaving, Detail: "persisting result"})

	seconds := transcript.Seconds
	if seconds == 0 {
		seconds = audio.Seconds
	}
	stored := &models.Result{
		ID:            j.ID,
		UserID:        j.UserID,
		SourceURL:     req.SourceURL(),
		SourceName:    req.SourceName(),
		Provider:      prov.Name(),
		Model:         prov.Model(),
		Transcription: transcript.Text,
		Summary:       summary.Text,
		KeyTopics:     summary.KeyTopics,
		AudioSeconds:  seconds,
		CreatedAt:     j.CreatedAt,
	}
	usage := models.Usage{
		InputTokens:  transcript.Usage.InputTokens + summary.Usage.InputTokens,
		OutputTokens: transcript.Usage.OutputTokens + summary.Usage.OutputTokens,
	}
	if err := r.persist(ctx, stored, usage); err != nil {
		return fail(&Failure{Kind: ErrPersistenceFailed, Message: err.Error()})
	}

	// Completed
	if err := j.advance(StageCompleted); err != nil {
		return fail(err)
	}
	result := &Result{
		ID:            j.ID,
		Transcription: transcript.Text,
		Summary:       summary.Text,
		KeyTopics:     summary.KeyTopics,
		Duration:      seconds,
		Provider:      prov.Name(),
		Model:         prov.Model(),
	}
	log.Printf("[job] %s completed (provider=%s, %.0fs audio)", j.ID, prov.Name(), seconds)
	emit(Event{Stage: StageCompleted, Result: result})
	return result, nil
}

// withRetries runs one provider call with a bounded attempt budget. Each
// attempt is announced as a same-stage event so streaming consumers observe
// retries rather than silence. Only retryable provider errors are retried.
func (r *Runner) withRetries(ctx context.Context, stage Stage, emit func(Event), detail string, call func(context.Context) error, timeout time.Duration) error {
	attempts := r.ProviderRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		emit(Event{Stage: stage, Detail: detail, Attempt: attempt})

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		err := call(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) || attempt == attempts {
			return err
		}
		log.Printf("[job] %s attempt %d/%d failed, retrying in %s: %v", stage, attempt, attempts, r.RetryBackoff, err)
		select {
		case <-time.After(r.RetryBackoff):
		case <-ctx.Done():
			return lastErr
		}
	}
	return lastErr
}

func (r *Runner) persist(ctx context.Context, stored *models.Result, usage models.Usage) error {
	attempts := r.PersistRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		saveCtx, cancel := context.WithTimeout(ctx, r.SaveTimeout)
		done := make(chan error, 1)
		go func() { done <- r.Store.SaveResult(stored, usage) }()
		select {
		case err := <-done:
			cancel()
			if err == nil {
				return nil
			}
			lastErr = err
		case <-saveCtx.Done():
			cancel()
			lastErr = fmt.Errorf("result store write timed out after %s", r.SaveTimeout)
		}
		log.Printf("[job] persist attempt %d/%d failed: %v", attempt, attempts, lastErr)
	}
	return lastErr
}
