package source

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// cobaltRequest asks a Cobalt-compatible API for an audio-only download URL.
type cobaltRequest struct {
	URL         string `json:"url"`
	VCodec      string `json:"vCodec"`
	VQuality    string `json:"vQuality"`
	AFormat     string `json:"aFormat"`
	IsAudioOnly bool   `json:"isAudioOnly"`
}

type cobaltResponse struct {
	Status string `json:"status"`
	URL    string `json:"url"`
	Text   string `json:"text"`
}

func (m *MediaResolver) resolveRemote(ctx context.Context, r *RemoteSource) (*Audio, error) {
	parsed, err := url.Parse(strings.TrimSpace(r.URL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, errf(KindUnavailable, nil, "invalid media URL %q", r.URL)
	}

	downloadURL, err := m.requestDownloadURL(ctx, parsed.String())
	if err != nil {
		return nil, err
	}

	path, size, err := m.download(ctx, downloadURL)
	if err != nil {
		return nil, err
	}
	log.Printf("[source] downloaded %d bytes for %s", size, parsed.Host)

	return m.finish(ctx, path, "audio/mpeg", parsed.String())
}

func (m *MediaResolver) requestDownloadURL(ctx context.Context, mediaURL string) (string, error) {
	body, err := json.Marshal(cobaltRequest{
		URL:         mediaURL,
		VCodec:      "h264",
		VQuality:    "720",
		AFormat:     "mp3",
		IsAudioOnly: true,
	})
	if err != nil {
		return "", errf(KindUnavailable, err, "marshal extraction request")
	}

	req, err := http.NewRequestWithContext(ctx, "POST", m.cobaltURL, bytes.NewReader(body))
	if err != nil {
		return "", errf(KindUnavailable, err, "build extraction request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", errf(KindUnavailable, err, "extraction API request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errf(KindUnavailable, err, "read extraction response")
	}

	var cr cobaltResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return "", errf(KindUnavailable, err, "parse extraction response (status %d)", resp.StatusCode)
	}

	if cr.URL == "" {
		msg := cr.Text
		if msg == "" {
			msg = "no download URL in extraction response"
		}
		// The API reports pages without extractable media in the text field
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "audio") || strings.Contains(lower, "media") || strings.Contains(lower, "unsupported") {
			return "", errf(KindNoAudioTrack, nil, "%s", msg)
		}
		return "", errf(KindUnavailable, nil, "%s", msg)
	}

	return cr.URL, nil
}

// download streams the extracted audio to scratch storage, enforcing the
// byte ceiling while reading.
func (m *MediaResolver) download(ctx context.Context, downloadURL string) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", downloadURL, nil)
	if err != nil {
		return "", 0, errf(KindUnavailable, err, "build download request")
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", 0, errf(KindUnavailable, err, "download audio")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, errf(KindUnavailable, nil, "download failed (status %d)", resp.StatusCode)
	}
	if resp.ContentLength > m.maxDownloadBytes {
		return "", 0, errf(KindTooLarge, nil, "remote audio is %d bytes, ceiling is %d", resp.ContentLength, m.maxDownloadBytes)
	}

	tmp, err := os.CreateTemp(m.scratchPath, "remote-*.mp3")
	if err != nil {
		return "", 0, errf(KindUnavailable, err, "create scratch file")
	}
	path := tmp.Name()

	written, err := io.Copy(tmp, io.LimitReader(resp.Body, m.maxDownloadBytes+1))
	tmp.Close()
	if err != nil {
		os.Remove(path)
		return "", 0, errf(KindUnavailable, err, "write downloaded audio")
	}
	if written > m.maxDownloadBytes {
		os.Remove(path)
		return "", 0, errf(KindTooLarge, nil, "remote audio exceeds %d byte ceiling", m.maxDownloadBytes)
	}
	if written == 0 {
		os.Remove(path)
		return "", 0, errf(KindUnavailable, nil, "empty download body")
	}

	return path, written, nil
}
