package source

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caiolacerdamt/cognistream/internal/config"
)

// Kind classifies resolution failures. None of these are retryable.
type Kind string

const (
	KindUnsupportedFormat Kind = "unsupported_format"
	KindUnavailable       Kind = "source_unavailable"
	KindNoAudioTrack      Kind = "no_audio_track"
	KindTooLarge          Kind = "source_too_large"
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

func errf(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Source is a tagged union: exactly one of Upload or Remote is set.
type Source struct {
	Upload *UploadSource
	Remote *RemoteSource
}

type UploadSource struct {
	Data     []byte
	MimeType string
	Filename string
}

type RemoteSource struct {
	URL string
}

// Audio is a decoded audio artifact on scratch storage. Callers must invoke
// Release when done with it, success or failure.
type Audio struct {
	Path     string
	MimeType string
	Seconds  float64
	Size     int64

	releaseOnce sync.Once
	releasePath string
}

// Release removes the scratch artifact. Safe to call more than once.
func (a *Audio) Release() {
	a.releaseOnce.Do(func() {
		if a.releasePath != "" {
			os.Remove(a.releasePath)
		}
	})
}

// Resolver turns a job source into a local decoded audio asset.
type Resolver interface {
	Resolve(ctx context.Context, src Source) (*Audio, error)
}

// supportedExtensions maps allow-listed file extensions to canonical mime types.
// mp4/webm are accepted as containers; their audio track is extracted.
var supportedExtensions = map[string]string{
	".mp3":  "audio/mpeg",
	".mpga": "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".flac": "audio/flac",
	".webm": "video/webm",
	".mp4":  "video/mp4",
	".mpeg": "video/mpeg",
}

var supportedMimeTypes = map[string]bool{
	"audio/mpeg":  true,
	"audio/mp3":   true,
	"audio/wav":   true,
	"audio/wave":  true,
	"audio/x-wav": true,
	"audio/mp4":   true,
	"audio/x-m4a": true,
	"audio/aac":   true,
	"audio/ogg":   true,
	"audio/flac":  true,
	"audio/webm":  true,
	"video/webm":  true,
	"video/mp4":   true,
	"video/mpeg":  true,
}

// videoContainers are allow-listed types that need their audio track extracted.
var videoContainers = map[string]bool{
	"video/mp4":  true,
	"video/webm": true,
	"video/mpeg": true,
}

// MediaResolver resolves uploads and remote URLs into scratch audio files.
type MediaResolver struct {
	scratchPath      string
	cobaltURL        string
	maxUploadBytes   int64
	maxDownloadBytes int64
	maxMediaSeconds  float64
	httpClient       *http.Client
}

func NewMediaResolver(cfg *config.Config) *MediaResolver {
	os.MkdirAll(cfg.ScratchPath, 0755)
	return &MediaResolver{
		scratchPath:      cfg.ScratchPath,
		cobaltURL:        cfg.CobaltURL,
		maxUploadBytes:   cfg.MaxUploadBytes,
		maxDownloadBytes: cfg.MaxDownloadBytes,
		maxMediaSeconds:  cfg.MaxMediaSeconds,
		httpClient:       &http.Client{Timeout: cfg.ResolveTimeout},
	}
}

func (m *MediaResolver) Resolve(ctx context.Context, src Source) (*Audio, error) {
	switch {
	case src.Upload != nil:
		return m.resolveUpload(ctx, src.Upload)
	case src.Remote != nil:
		return m.resolveRemote(ctx, src.Remote)
	default:
		return nil, errf(KindUnavailable, nil, "empty source")
	}
}

func (m *MediaResolver) resolveUpload(ctx context.Context, u *UploadSource) (*Audio, error) {
	// Cheap checks first: this is the common rejection path and must not
	// touch the filesystem or ffmpeg.
	mimeType, err := ValidateUpload(u)
	if err != nil {
		return nil, err
	}
	if int64(len(u.Data)) > m.maxUploadBytes {
		return nil, errf(KindTooLarge, nil, "upload exceeds %d bytes", m.maxUploadBytes)
	}

	ext := strings.ToLower(filepath.Ext(u.Filename))
	if ext == "" {
		ext = ".mp3"
	}
	tmp, err := os.CreateTemp(m.scratchPath, "upload-*"+ext)
	if err != nil {
		return nil, errf(KindUnavailable, err, "create scratch file")
	}
	path := tmp.Name()
	if _, err := tmp.Write(u.Data); err != nil {
		tmp.Close()
		os.Remove(path)
		return nil, errf(KindUnavailable, err, "write scratch file")
	}
	tmp.Close()

	if videoContainers[mimeType] {
		audioPath, err := extractAudioMP3(ctx, path)
		os.Remove(path)
		if err != nil {
			return nil, err
		}
		path = audioPath
		mimeType = "audio/mpeg"
	}

	return m.finish(ctx, path, mimeType, u.Filename)
}

// finish probes the decoded file, enforces the duration ceiling and wraps it
// in an Audio with cleanup attached.
func (m *MediaResolver) finish(ctx context.Context, path, mimeType, name string) (*Audio, error) {
	info, err := os.Stat(path)
	if err != nil {
		os.Remove(path)
		return nil, errf(KindUnavailable, err, "stat scratch file")
	}

	var seconds float64
	if probed, err := Probe(ctx, path); err == nil {
		seconds = probed.DurationSeconds
		if !probed.HasAudio {
			os.Remove(path)
			return nil, errf(KindNoAudioTrack, nil, "media has no audio track")
		}
		if m.maxMediaSeconds > 0 && seconds > m.maxMediaSeconds {
			os.Remove(path)
			return nil, errf(KindTooLarge, nil, "media duration %.0fs exceeds ceiling %.0fs", seconds, m.maxMediaSeconds)
		}
	} else {
		// ffprobe missing or unparsable container: proceed without a duration,
		// the byte ceilings above still bound resource use
		log.Printf("[source] probe failed for %s: %v", name, err)
	}

	return &Audio{
		Path:        path,
		MimeType:    mimeType,
		Seconds:     seconds,
		Size:        info.Size(),
		releasePath: path,
	}, nil
}

// ValidateUpload checks the declared/inferred media type against the
// allow-list without doing any decoding work.
func ValidateUpload(u *UploadSource) (string, error) {
	if len(u.Data) == 0 {
		return "", errf(KindUnavailable, nil, "empty upload")
	}

	declared := u.MimeType
	if mt, _, err := mime.ParseMediaType(u.MimeType); err == nil {
		declared = mt
	}
	declared = strings.ToLower(declared)

	ext := strings.ToLower(filepath.Ext(u.Filename))
	extMime, extOK := supportedExtensions[ext]

	mimeType := ""
	switch {
	case supportedMimeTypes[declared]:
		mimeType = declared
	case extOK:
		mimeType = extMime
	default:
		return "", errf(KindUnsupportedFormat, nil, "unsupported media type %q (file %q)", u.MimeType, u.Filename)
	}

	// A declared audio type does not make the bytes audio. Catch the obvious
	// mislabels (executables, archives, documents) before any provider call.
	if k := sniffNonMedia(u.Data); k != "" {
		return "", errf(KindUnsupportedFormat, nil, "content looks like %s, not audio", k)
	}

	return mimeType, nil
}

var nonMediaMagic = []struct {
	prefix []byte
	name   string
}{
	{[]byte("\x7fELF"), "an ELF executable"},
	{[]byte("MZ"), "a Windows executable"},
	{[]byte("%PDF"), "a PDF document"},
	{[]byte("PK\x03\x04"), "a zip archive"},
	{[]byte("\x89PNG"), "a PNG image"},
	{[]byte("GIF8"), "a GIF image"},
	{[]byte("\xff\xd8\xff"), "a JPEG image"},
}

func sniffNonMedia(data []byte) string {
	for _, m := range nonMediaMagic {
		if bytes.HasPrefix(data, m.prefix) {
			return m.name
		}
	}
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	sniffed := http.DetectContentType(head)
	if strings.HasPrefix(sniffed, "text/html") {
		return "an HTML page"
	}
	return ""
}
