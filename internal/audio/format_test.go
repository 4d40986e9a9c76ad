package audio

import (
	"errors"
	"testing"
)

// TestResolveFormatWhitelist checks every supported extension maps correctly.
func TestResolveFormatWhitelist(t *testing.T) {
	cases := map[string]string{
		"voice.wav":  "wav",
		"voice.mp3":  "mp3",
		"voice.ogg":  "ogg",
		"voice.flac": "flac",
		"voice.aac":  "aac",
		"voice.m4a":  "mp4",
		"voice.wma":  "asf",
	}

	for fileName, want := range cases {
		got, err := ResolveFormat(fileName)
		if err != nil {
			t.Fatalf("ResolveFormat(%q) error = %v", fileName, err)
		}
		if got != want {
			t.Fatalf("ResolveFormat(%q) = %q, want %q", fileName, got, want)
		}
	}
}

// TestResolveFormatCaseInsensitive checks extension match ignores case.
func TestResolveFormatCaseInsensitive(t *testing.T) {
	got, err := ResolveFormat("RECORDING.MP3")
	if err != nil {
		t.Fatalf("ResolveFormat() error = %v", err)
	}
	if got != "mp3" {
		t.Fatalf("format = %q, want mp3", got)
	}
}

// TestResolveFormatUnsupported checks rejection before any decoding happens.
func TestResolveFormatUnsupported(t *testing.T) {
	for _, fileName := range []string{"clip.mov", "notes.txt", "noextension", "trailingdot."} {
		_, err := ResolveFormat(fileName)
		if err == nil {
			t.Fatalf("ResolveFormat(%q) expected error", fileName)
		}

		var unsupported *ErrUnsupportedFormat
		if !errors.As(err, &unsupported) {
			t.Fatalf("ResolveFormat(%q) error type = %T", fileName, err)
		}
	}
}
