package audio

import (
	"bytes"
	"strings"
	"time"

	"github.com/go-audio/wav"
)

// Info describes an uploaded segment. Duration and format fields are only
// known for WAV payloads; other formats are passed through opaque.
type Info struct {
	SizeBytes  int64
	Duration   time.Duration
	SampleRate int
	Channels   int
	BitDepth   int
	IsWAV      bool
}

// Inspect reads what it can from a segment payload without decoding samples.
func Inspect(data []byte, mimeType string) Info {
	info := Info{SizeBytes: int64(len(data))}
	if !looksLikeWAV(data, mimeType) {
		return info
	}

	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return info
	}
	info.IsWAV = true
	info.SampleRate = int(decoder.SampleRate)
	info.Channels = int(decoder.NumChans)
	info.BitDepth = int(decoder.BitDepth)

	if d, err := decoder.Duration(); err == nil {
		info.Duration = d
	}
	return info
}

// Extension returns the filename extension used when sending a payload of
// the given MIME type to a provider.
func Extension(mimeType string) string {
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	switch base {
	case "audio/wav", "audio/wave", "audio/x-wav", "audio/vnd.wave":
		return ".wav"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a", "audio/aac":
		return ".m4a"
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/webm", "video/webm":
		return ".webm"
	case "audio/flac", "audio/x-flac":
		return ".flac"
	case "video/mp4":
		return ".mp4"
	default:
		return ".wav"
	}
}

func looksLikeWAV(data []byte, mimeType string) bool {
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		return true
	}
	return Extension(mimeType) == ".wav" && strings.Contains(strings.ToLower(mimeType), "wav")
}
