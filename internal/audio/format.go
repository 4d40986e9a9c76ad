package audio

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat wraps extension lookups that miss the whitelist.
type ErrUnsupportedFormat struct {
	FileName string
}

// Error formats the unsupported-format failure for logs and API responses.
func (e *ErrUnsupportedFormat) Error() string {
	return fmt.Sprintf("unsupported audio format: %s", e.FileName)
}

// formatByExtension maps supported file extensions to ffmpeg demuxer names.
// The names must match libavformat demuxers, which differ from the extension
// where the codec lives inside a container (m4a in mp4, wma in asf).
var formatByExtension = map[string]string{
	"wav":  "wav",
	"mp3":  "mp3",
	"ogg":  "ogg",
	"flac": "flac",
	"aac":  "aac",
	"m4a":  "mp4",
	"wma":  "asf",
}

// ResolveFormat maps a filename to the decoder format identifier for its
// extension. The match is case-insensitive. Filenames without an extension
// or with an extension outside the whitelist fail with ErrUnsupportedFormat.
func ResolveFormat(fileName string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	if ext == "" {
		return "", &ErrUnsupportedFormat{FileName: fileName}
	}

	format, ok := formatByExtension[ext]
	if !ok {
		return "", &ErrUnsupportedFormat{FileName: fileName}
	}
	return format, nil
}
