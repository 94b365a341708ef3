package provider

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"strings"

	"google.golang.org/genai"
)

const geminiModel = "gemini-2.5-flash"

const geminiTranscribePrompt = `You are an expert transcriber.
Transcribe the following audio intelligently in Portuguese (PT-BR). Ignore filler words.
Return a JSON object with a single field "transcription" containing the full transcript.`

const geminiSummarizePrompt = `You are an expert content analyst.
Provide a concise, structured executive summary of the key points IN PORTUGUESE (PT-BR)
and extract a list of key topics discussed.
Return a JSON object with fields "summary" (string) and "key_topics" (array of short strings).

Transcription:
`

// Gemini transcribes and summarizes through the Gemini API with JSON output.
type Gemini struct {
	apiKey string
	model  string
}

func NewGemini(apiKey string) *Gemini {
	return &Gemini{apiKey: apiKey, model: geminiModel}
}

func (g *Gemini) Name() string  { return "gemini" }
func (g *Gemini) Model() string { return g.model }

func (g *Gemini) Transcribe(ctx context.Context, audioPath, mimeType string) (*Transcript, error) {
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, errf(KindRejected, err, "read audio file")
	}
	if mimeType == "" {
		mimeType = "audio/mp3"
	}

	parts := []*genai.Part{
		genai.NewPartFromText(geminiTranscribePrompt),
		genai.NewPartFromBytes(data, mimeType),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	text, usage, err := g.generate(ctx, contents)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Transcription string `json:"transcription"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, errf(KindRejected, err, "parse transcription response")
	}
	if strings.TrimSpace(payload.Transcription) == "" {
		return nil, errf(KindRejected, nil, "Gemini returned an empty transcript")
	}

	return &Transcript{
		Text:     payload.Transcription,
		Language: "pt",
		Usage:    usage,
	}, nil
}

func (g *Gemini) Summarize(ctx context.Context, transcript string) (*Summary, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, errf(KindEmptyTranscript, nil, "cannot summarize an empty transcript")
	}
	if len(transcript) > maxSummarizeInput {
		transcript = transcript[:maxSummarizeInput]
	}

	text, usage, err := g.generate(ctx, genai.Text(geminiSummarizePrompt+transcript))
	if err != nil {
		return nil, err
	}

	var payload struct {
		Summary   string   `json:"summary"`
		KeyTopics []string `json:"key_topics"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, errf(KindRejected, err, "parse summary response")
	}
	if strings.TrimSpace(payload.Summary) == "" {
		return nil, errf(KindRejected, nil, "Gemini returned no summary")
	}

	return &Summary{
		Text:      payload.Summary,
		KeyTopics: payload.KeyTopics,
		Usage:     usage,
	}, nil
}

func (g *Gemini) generate(ctx context.Context, contents []*genai.Content) (string, Usage, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", Usage{}, errf(KindUnavailable, err, "create Gemini client")
	}

	result, err := client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", Usage{}, classifyGemini(err)
	}

	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", Usage{}, errf(KindUnavailable, nil, "empty Gemini response")
	}

	var text strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part.Text != "" {
			text.WriteString(part.Text)
		}
	}

	var usage Usage
	if result.UsageMetadata != nil {
		usage.InputTokens = int64(result.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int64(result.UsageMetadata.CandidatesTokenCount)
	}

	return text.String(), usage, nil
}

// classifyGemini maps API failures onto the error taxonomy. The SDK surfaces
// status through error strings, so match the way caption pipelines do.
func classifyGemini(err error) *Error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "quota") || strings.Contains(msg, "RESOURCE_EXHAUSTED"):
		return errf(KindRateLimited, err, "Gemini rate limit")
	case strings.Contains(msg, "API key") || strings.Contains(msg, "API_KEY_INVALID") ||
		strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "PERMISSION_DENIED") || strings.Contains(msg, "UNAUTHENTICATED"):
		return errf(KindInvalidCredential, err, "Gemini rejected the API key")
	case strings.Contains(msg, "500") || strings.Contains(msg, "503") ||
		strings.Contains(msg, "UNAVAILABLE") || strings.Contains(msg, "INTERNAL") ||
		strings.Contains(msg, "deadline exceeded"):
		return errf(KindUnavailable, err, "Gemini unavailable")
	default:
		log.Printf("[gemini] request rejected: %v", err)
		return errf(KindRejected, err, "Gemini rejected the request")
	}
}
