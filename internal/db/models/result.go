package models

import "time"

// Result is a persisted completed transcription job.
type Result struct {
	ID            string    `json:"id"`
	UserID        int64     `json:"user_id"`
	SourceURL     string    `json:"source_url,omitempty"` // empty for file uploads
	SourceName    string    `json:"source_name,omitempty"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	Transcription string    `json:"transcription,omitempty"`
	Summary       string    `json:"summary"`
	KeyTopics     []string  `json:"key_topics"`
	AudioSeconds  float64   `json:"audio_seconds"`
	CreatedAt     time.Time `json:"created_at"`
}

// Usage records provider token consumption for one completed job.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}
