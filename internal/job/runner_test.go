package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/caiolacerdamt/cognistream/internal/db/models"
	"github.com/caiolacerdamt/cognistream/internal/provider"
	"github.com/caiolacerdamt/cognistream/internal/source"
)

type fakeResolver struct {
	audio *source.Audio
	err   error
	gate  chan struct{}
}

func (f *fakeResolver) Resolve(ctx context.Context, src source.Source) (*source.Audio, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.audio != nil {
		return f.audio, nil
	}
	return &source.Audio{Path: "/tmp/fake.mp3", MimeType: "audio/mpeg", Seconds: 120}, nil
}

type fakeProvider struct {
	mu         sync.Mutex
	transcribe func(attempt int) (*provider.Transcript, error)
	summarize  func(attempt int) (*provider.Summary, error)

	transcribeCalls int
	summarizeCalls  int
}

func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return "fake-1" }

func (f *fakeProvider) Transcribe(ctx context.Context, audioPath, mimeType string) (*provider.Transcript, error) {
	f.mu.Lock()
	f.transcribeCalls++
	n := f.transcribeCalls
	f.mu.Unlock()
	if f.transcribe != nil {
		return f.transcribe(n)
	}
	return &provider.Transcript{Text: "olá mundo", Seconds: 120, Usage: provider.Usage{InputTokens: 10, OutputTokens: 20}}, nil
}

func (f *fakeProvider) Summarize(ctx context.Context, transcript string) (*provider.Summary, error) {
	f.mu.Lock()
	f.summarizeCalls++
	n := f.summarizeCalls
	f.mu.Unlock()
	if f.summarize != nil {
		return f.summarize(n)
	}
	return &provider.Summary{Text: "um resumo", KeyTopics: []string{"saudação"}, Usage: provider.Usage{InputTokens: 5, OutputTokens: 8}}, nil
}

type fakeStore struct {
	mu    sync.Mutex
	fails int
	saved []*models.Result
	usage []models.Usage
}

func (f *fakeStore) SaveResult(r *models.Result, usage models.Usage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("disk full")
	}
	f.saved = append(f.saved, r)
	f.usage = append(f.usage, usage)
	return nil
}

func newTestRunner(resolver source.Resolver, prov *fakeProvider, store ResultStore) *Runner {
	registry := provider.NewRegistry()
	registry.Register("fake", func(apiKey string) provider.Provider { return prov })
	return &Runner{
		Resolver:          resolver,
		Providers:         registry,
		Store:             store,
		ProviderRetries:   3,
		PersistRetries:    2,
		RetryBackoff:      time.Millisecond,
		ResolveTimeout:    time.Second,
		TranscribeTimeout: time.Second,
		SummarizeTimeout:  time.Second,
		SaveTimeout:       time.Second,
	}
}

func uploadRequest(userID int64) Request {
	return Request{
		UserID:   userID,
		Provider: "fake",
		APIKey:   "sk-test",
		Source:   source.Source{Upload: &source.UploadSource{Data: []byte("fake audio"), MimeType: "audio/mpeg", Filename: "talk.mp3"}},
	}
}

func collectEvents() (func(Event), func() []Event) {
	var mu sync.Mutex
	var events []Event
	emit := func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}
	snapshot := func() []Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]Event(nil), events...)
	}
	return emit, snapshot
}

func stagesOf(events []Event) []Stage {
	stages := make([]Stage, len(events))
	for i, e := range events {
		stages[i] = e.Stage
	}
	return stages
}

func TestRunCompletesThroughAllStages(t *testing.T) {
	prov := &fakeProvider{}
	store := &fakeStore{}
	r := newTestRunner(&fakeResolver{}, prov, store)
	emit, snapshot := collectEvents()

	j := &Job{ID: "j1", UserID: 7, Stage: StageQueued, CreatedAt: time.Now()}
	result, failure := r.Run(context.Background(), j, uploadRequest(7), emit)
	if failure != nil {
		t.Fatalf("unexpected failure: %v", failure)
	}
	if result.Transcription != "olá mundo" || result.Summary != "um resumo" {
		t.Errorf("unexpected result payload: %+v", result)
	}
	if result.Provider != "fake" || result.Model != "fake-1" {
		t.Errorf("result provider/model = %s/%s", result.Provider, result.Model)
	}
	if j.Stage != StageCompleted {
		t.Errorf("job stage = %s, want %s", j.Stage, StageCompleted)
	}

	want := []Stage{StageDownloading, StageTranscribing, StageSummarizing, StageSaving, StageCompleted}
	got := stagesOf(snapshot())
	if len(got) != len(want) {
		t.Fatalf("event stages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event stages = %v, want %v", got, want)
		}
	}

	last := snapshot()[len(got)-1]
	if !last.Terminal() || last.Result == nil {
		t.Error("final event must be terminal and carry the result")
	}

	if len(store.saved) != 1 {
		t.Fatalf("saved %d results, want 1", len(store.saved))
	}
	saved := store.saved[0]
	if saved.UserID != 7 || saved.SourceName != "talk.mp3" || saved.SourceURL != "" {
		t.Errorf("stored result = %+v", saved)
	}
	if store.usage[0].InputTokens != 15 || store.usage[0].OutputTokens != 28 {
		t.Errorf("usage = %+v, want aggregated transcribe+summarize tokens", store.usage[0])
	}
}

func TestRunInvalidCredentialFailsWithoutRetry(t *testing.T) {
	prov := &fakeProvider{
		transcribe: func(attempt int) (*provider.Transcript, error) {
			return nil, &provider.Error{Kind: provider.KindInvalidCredential, Message: "bad key"}
		},
	}
	store := &fakeStore{}
	r := newTestRunner(&fakeResolver{}, prov, store)
	emit, snapshot := collectEvents()

	j := &Job{ID: "j2", UserID: 1, Stage: StageQueued}
	result, failure := r.Run(context.Background(), j, uploadRequest(1), emit)
	if result != nil {
		t.Fatal("expected failure, got result")
	}
	if failure.Kind != ErrInvalidCredential {
		t.Errorf("failure kind = %s, want %s", failure.Kind, ErrInvalidCredential)
	}
	if prov.transcribeCalls != 1 {
		t.Errorf("transcribe called %d times, want 1 (no retry on credential errors)", prov.transcribeCalls)
	}
	if j.Stage != StageFailed {
		t.Errorf("job stage = %s, want %s", j.Stage, StageFailed)
	}
	if len(store.saved) != 0 {
		t.Error("failed jobs must not persist results")
	}

	events := snapshot()
	last := events[len(events)-1]
	if last.Stage != StageFailed || last.Failure == nil {
		t.Errorf("final event = %+v, want terminal failure", last)
	}
}

func TestRunRetriesTransientProviderErrors(t *testing.T) {
	prov := &fakeProvider{
		transcribe: func(attempt int) (*provider.Transcript, error) {
			if attempt < 3 {
				return nil, &provider.Error{Kind: provider.KindRateLimited, Message: "slow down"}
			}
			return &provider.Transcript{Text: "terceira tentativa", Seconds: 30}, nil
		},
	}
	r := newTestRunner(&fakeResolver{}, prov, &fakeStore{})
	emit, snapshot := collectEvents()

	j := &Job{ID: "j3", UserID: 1, Stage: StageQueued}
	result, failure := r.Run(context.Background(), j, uploadRequest(1), emit)
	if failure != nil {
		t.Fatalf("unexpected failure: %v", failure)
	}
	if result.Transcription != "terceira tentativa" {
		t.Errorf("transcription = %q", result.Transcription)
	}
	if prov.transcribeCalls != 3 {
		t.Errorf("transcribe called %d times, want 3", prov.transcribeCalls)
	}

	// Each attempt is visible to consumers as a same-stage event.
	attempts := 0
	for _, e := range snapshot() {
		if e.Stage == StageTranscribing {
			attempts++
			if e.Attempt != attempts {
				t.Errorf("attempt counter = %d, want %d", e.Attempt, attempts)
			}
		}
	}
	if attempts != 3 {
		t.Errorf("observed %d transcribing events, want 3", attempts)
	}
}

func TestRunExhaustsRetryBudget(t *testing.T) {
	prov := &fakeProvider{
		transcribe: func(attempt int) (*provider.Transcript, error) {
			return nil, &provider.Error{Kind: provider.KindUnavailable, Message: "upstream down"}
		},
	}
	r := newTestRunner(&fakeResolver{}, prov, &fakeStore{})
	emit, _ := collectEvents()

	j := &Job{ID: "j4", UserID: 1, Stage: StageQueued}
	_, failure := r.Run(context.Background(), j, uploadRequest(1), emit)
	if failure == nil || failure.Kind != ErrProviderUnavailable {
		t.Fatalf("failure = %v, want %s", failure, ErrProviderUnavailable)
	}
	if prov.transcribeCalls != 3 {
		t.Errorf("transcribe called %d times, want full budget of 3", prov.transcribeCalls)
	}
}

func TestRunEmptyTranscriptFails(t *testing.T) {
	prov := &fakeProvider{
		transcribe: func(attempt int) (*provider.Transcript, error) {
			return &provider.Transcript{Text: ""}, nil
		},
	}
	r := newTestRunner(&fakeResolver{}, prov, &fakeStore{})
	emit, _ := collectEvents()

	j := &Job{ID: "j5", UserID: 1, Stage: StageQueued}
	_, failure := r.Run(context.Background(), j, uploadRequest(1), emit)
	if failure == nil || failure.Kind != ErrEmptyTranscript {
		t.Fatalf("failure = %v, want %s", failure, ErrEmptyTranscript)
	}
	if prov.summarizeCalls != 0 {
		t.Error("summarize must not run after an empty transcript")
	}
}

func TestRunSourceErrorsAreClassified(t *testing.T) {
	resolver := &fakeResolver{err: &source.Error{Kind: source.KindUnsupportedFormat, Message: "not audio"}}
	r := newTestRunner(resolver, &fakeProvider{}, &fakeStore{})
	emit, _ := collectEvents()

	j := &Job{ID: "j6", UserID: 1, Stage: StageQueued}
	_, failure := r.Run(context.Background(), j, uploadRequest(1), emit)
	if failure == nil || failure.Kind != ErrUnsupportedFormat {
		t.Fatalf("failure = %v, want %s", failure, ErrUnsupportedFormat)
	}
}

func TestRunUnknownProviderFailsBeforeResolving(t *testing.T) {
	r := newTestRunner(&fakeResolver{}, &fakeProvider{}, &fakeStore{})
	emit, snapshot := collectEvents()

	req := uploadRequest(1)
	req.Provider = "nonexistent"
	j := &Job{ID: "j7", UserID: 1, Stage: StageQueued}
	_, failure := r.Run(context.Background(), j, req, emit)
	if failure == nil || failure.Kind != ErrProviderRejected {
		t.Fatalf("failure = %v, want %s", failure, ErrProviderRejected)
	}
	if len(snapshot()) != 1 {
		t.Errorf("expected only the terminal event, got %v", stagesOf(snapshot()))
	}
}

func TestRunRetriesPersistence(t *testing.T) {
	store := &fakeStore{fails: 1}
	r := newTestRunner(&fakeResolver{}, &fakeProvider{}, store)
	emit, _ := collectEvents()

	j := &Job{ID: "j8", UserID: 1, Stage: StageQueued}
	result, failure := r.Run(context.Background(), j, uploadRequest(1), emit)
	if failure != nil {
		t.Fatalf("unexpected failure after persist retry: %v", failure)
	}
	if result == nil || len(store.saved) != 1 {
		t.Error("result should be saved on the second persist attempt")
	}
}

func TestRunPersistenceFailureIsTerminal(t *testing.T) {
	store := &fakeStore{fails: 10}
	r := newTestRunner(&fakeResolver{}, &fakeProvider{}, store)
	emit, _ := collectEvents()

	j := &Job{ID: "j9", UserID: 1, Stage: StageQueued}
	_, failure := r.Run(context.Background(), j, uploadRequest(1), emit)
	if failure == nil || failure.Kind != ErrPersistenceFailed {
		t.Fatalf("failure = %v, want %s", failure, ErrPersistenceFailed)
	}
}
