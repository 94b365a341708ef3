package provider

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	openAIChatModel     = "gpt-5-mini"
	maxSummarizeInput   = 100000 // transcript characters sent to the chat model
	analysisSystemRole  = "You are an expert content analyst. Analyze the provided transcription."
	analysisInstruction = `Return a JSON object with exactly two fields:
"summary": a professional executive summary in Portuguese (PT-BR),
"key_topics": an array of short strings naming the main topics discussed.`
)

// OpenAI transcribes with Whisper and summarizes with a chat model.
type OpenAI struct {
	client *openai.Client
}

func NewOpenAI(apiKey string) *OpenAI {
	return &OpenAI{client: openai.NewClient(apiKey)}
}

func (o *OpenAI) Name() string  { return "openai" }
func (o *OpenAI) Model() string { return openAIChatModel }

func (o *OpenAI) Transcribe(ctx context.Context, audioPath, mimeType string) (*Transcript, error) {
	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: audioPath,
		Language: "pt",
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, classifyOpenAI(err, "transcription")
	}

	if strings.TrimSpace(resp.Text) == "" {
		return nil, errf(KindRejected, nil, "whisper returned an empty transcript")
	}

	return &Transcript{
		Text:     resp.Text,
		Language: resp.Language,
		Seconds:  resp.Duration,
	}, nil
}

func (o *OpenAI) Summarize(ctx context.Context, transcript string) (*Summary, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, errf(KindEmptyTranscript, nil, "cannot summarize an empty transcript")
	}
	if len(transcript) > maxSummarizeInput {
		transcript = transcript[:maxSummarizeInput]
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: openAIChatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: analysisSystemRole + "\n" + analysisInstruction},
			{Role: openai.ChatMessageRoleUser, Content: "Transcription:\n" + transcript},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, classifyOpenAI(err, "summary")
	}
	if len(resp.Choices) == 0 {
		return nil, errf(KindUnavailable, nil, "empty completion response")
	}

	var analysis struct {
		Summary   string   `json:"summary"`
		KeyTopics []string `json:"key_topics"`
	}
	content := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), &analysis); err != nil {
		return nil, errf(KindRejected, err, "parse analysis response")
	}
	if strings.TrimSpace(analysis.Summary) == "" {
		return nil, errf(KindRejected, nil, "model returned no summary")
	}

	return &Summary{
		Text:      analysis.Summary,
		KeyTopics: analysis.KeyTopics,
		Usage: Usage{
			InputTokens:  int64(resp.Usage.PromptTokens),
			OutputTokens: int64(resp.Usage.CompletionTokens),
		},
	}, nil
}

func classifyOpenAI(err error, op string) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusUnauthorized:
			return errf(KindInvalidCredential, err, "OpenAI rejected the API key")
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return errf(KindRateLimited, err, "OpenAI rate limit on %s", op)
		case apiErr.HTTPStatusCode >= 500:
			return errf(KindUnavailable, err, "OpenAI %s unavailable", op)
		default:
			return errf(KindRejected, err, "OpenAI rejected the %s request", op)
		}
	}
	log.Printf("[openai] %s transport error: %v", op, err)
	return errf(KindUnavailable, err, "OpenAI %s request failed", op)
}
