package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

type probeResult struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

type probeFormat struct {
	Duration string `json:"duration"`
	Size     string `json:"size"`
}

type probeStream struct {
	Index     int    `json:"index"`
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"` // video, audio, subtitle
}

type MediaInfo struct {
	DurationSeconds float64
	HasAudio        bool
	AudioCodec      string
}

// Probe inspects a media file with ffprobe.
func Probe(ctx context.Context, filePath string) (*MediaInfo, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	)

	output, err := cmd.Output()
	if err != nil {
		return nil, err
	}

	var result probeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, err
	}

	info := &MediaInfo{}
	info.DurationSeconds, _ = strconv.ParseFloat(result.Format.Duration, 64)
	for _, s := range result.Streams {
		if s.CodecType == "audio" {
			info.HasAudio = true
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
			}
		}
	}

	return info, nil
}

// extractAudioMP3 extracts the audio track of a video container as MP3.
func extractAudioMP3(ctx context.Context, videoPath string) (string, error) {
	tmpFile, err := os.CreateTemp(os.TempDir(), "audio-*.mp3")
	if err != nil {
		return "", errf(KindUnavailable, err, "create scratch file")
	}
	tmpFile.Close()

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner",
		"-loglevel", "error",
		"-i", videoPath,
		"-vn",
		"-acodec", "libmp3lame",
		"-q:a", "4", // ~130kbps VBR
		"-y",
		tmpFile.Name(),
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(tmpFile.Name())
		if containsNoStream(output) {
			return "", errf(KindNoAudioTrack, nil, "container has no audio track")
		}
		return "", errf(KindUnavailable, fmt.Errorf("%s: %w", string(output), err), "ffmpeg audio extraction")
	}

	return tmpFile.Name(), nil
}

func containsNoStream(ffmpegOutput []byte) bool {
	s := string(ffmpegOutput)
	return strings.Contains(s, "does not contain any stream") ||
		strings.Contains(s, "Stream map 'a' matches no streams")
}
