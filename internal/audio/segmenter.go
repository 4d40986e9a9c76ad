package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"audio-transcriber/internal/domain"
)

// Request contains input audio and execution callbacks for one segmentation run.
type Request struct {
	InputPath          string
	FileName           string
	ChunkLengthSeconds int
	OnLog              func(log CommandLog)
}

// SegmentSet contains the ordered segments of one job plus their temp workspace.
// The caller owns the set: segment files must be removed once consumed, and
// Cleanup must run when the job finishes or aborts.
type SegmentSet struct {
	Segments        []domain.AudioSegment
	DurationSeconds float64

	tempDir   string
	removeAll func(path string) error
	remove    func(path string) error
}

// RemoveSegmentFile deletes one segment's temporary file after its
// transcription attempt completed, regardless of the attempt's outcome.
func (s *SegmentSet) RemoveSegmentFile(index int) error {
	if s == nil || index < 0 || index >= len(s.Segments) {
		return nil
	}
	path := s.Segments[index].SourcePath
	if path == "" {
		return nil
	}
	s.Segments[index].SourcePath = ""
	if err := s.remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Cleanup removes the whole temporary segment workspace.
func (s *SegmentSet) Cleanup() error {
	if s == nil || s.tempDir == "" {
		return nil
	}

	if err := s.removeAll(s.tempDir); err != nil {
		return err
	}
	s.tempDir = ""
	return nil
}

// CommandLog captures one external command invocation result.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// ProcessError is a stage-aware audio processing error with command context.
type ProcessError struct {
	Stage      string     `json:"stage"`
	Message    string     `json:"message"`
	CommandLog CommandLog `json:"commandLog"`
	Err        error      `json:"-"`
}

// Error formats processing failures for logs and API responses.
func (e *ProcessError) Error() string {
	if e == nil {
		return ""
	}
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}

	return fmt.Sprintf(
		"%s: %s (cmd=%s exit=%d)",
		e.Stage,
		e.Message,
		e.CommandLog.Command,
		e.CommandLog.ExitCode,
	)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *ProcessError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}

// Segmenter decodes source audio and slices it into bounded WAV segments.
// ffprobe reports the source duration and ffmpeg extracts each window,
// re-encoded to mono 16 kHz PCM WAV for uniform downstream handling.
type Segmenter struct {
	ffmpegPath  string
	ffprobePath string
	runner      commandRunner
	mkdirTemp   func(dir, pattern string) (string, error)
	removeAll   func(path string) error
	remove      func(path string) error
	stat        func(name string) (os.FileInfo, error)
}

// NewSegmenter constructs the production segmenter with OS dependencies.
func NewSegmenter() *Segmenter {
	return &Segmenter{
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
		runner:      &execRunner{},
		mkdirTemp:   os.MkdirTemp,
		removeAll:   os.RemoveAll,
		remove:      os.Remove,
		stat:        os.Stat,
	}
}

// Segment probes the source duration and extracts chunk windows.
// Sources no longer than the chunk length produce exactly one segment.
func (s *Segmenter) Segment(ctx context.Context, req Request) (*SegmentSet, error) {
	if req.ChunkLengthSeconds <= 0 {
		return nil, &ProcessError{
			Stage:   "segmenting",
			Message: fmt.Sprintf("chunk length must be positive, got %d", req.ChunkLengthSeconds),
		}
	}
	if strings.TrimSpace(req.InputPath) == "" {
		return nil, &ProcessError{
			Stage:   "decoding",
			Message: "input audio path is required",
		}
	}

	fileName := req.FileName
	if strings.TrimSpace(fileName) == "" {
		fileName = filepath.Base(req.InputPath)
	}
	format, err := ResolveFormat(fileName)
	if err != nil {
		return nil, &ProcessError{
			Stage:   "decoding",
			Message: err.Error(),
			Err:     err,
		}
	}

	if _, err := s.stat(req.InputPath); err != nil {
		return nil, &ProcessError{
			Stage:   "decoding",
			Message: fmt.Sprintf("cannot access input audio: %s", req.InputPath),
			Err:     err,
		}
	}

	duration, probeLog, err := s.probeDuration(ctx, req.InputPath)
	emitLog(req.OnLog, probeLog)
	if err != nil {
		return nil, &ProcessError{
			Stage:      "decoding",
			Message:    "ffprobe duration probe failed",
			CommandLog: probeLog,
			Err:        err,
		}
	}
	if duration <= 0 {
		return nil, &ProcessError{
			Stage:      "decoding",
			Message:    "source audio has zero duration",
			CommandLog: probeLog,
		}
	}

	tempDir, err := s.mkdirTemp("", "audio-transcriber-*")
	if err != nil {
		return nil, &ProcessError{
			Stage:   "segmenting",
			Message: "failed to create temporary workspace",
			Err:     err,
		}
	}

	windows := splitWindows(duration, req.ChunkLengthSeconds)
	segments := make([]domain.AudioSegment, 0, len(windows))
	for i, w := range windows {
		outPath := filepath.Join(tempDir, fmt.Sprintf("segment_%d.wav", i))
		args := buildExtractArgs(format, req.InputPath, w.start, w.length, outPath)

		cmdResult, runErr := s.runner.Run(ctx, s.ffmpegPath, args...)
		log := CommandLog{
			Command:  s.ffmpegPath,
			Args:     args,
			ExitCode: cmdResult.ExitCode,
			Stdout:   cmdResult.Stdout,
			Stderr:   cmdResult.Stderr,
		}
		emitLog(req.OnLog, log)
		if runErr != nil {
			_ = s.removeAll(tempDir)
			return nil, &ProcessError{
				Stage:      "segmenting",
				Message:    fmt.Sprintf("ffmpeg extraction failed for segment %d", i),
				CommandLog: log,
				Err:        runErr,
			}
		}
		if _, err := s.stat(outPath); err != nil {
			_ = s.removeAll(tempDir)
			return nil, &ProcessError{
				Stage:      "segmenting",
				Message:    fmt.Sprintf("ffmpeg completed but segment %d file is missing", i),
				CommandLog: log,
				Err:        err,
			}
		}

		segments = append(segments, domain.AudioSegment{
			SourcePath:      outPath,
			Index:           i,
			TotalCount:      len(windows),
			StartSeconds:    w.start,
			DurationSeconds: w.length,
		})
	}

	return &SegmentSet{
		Segments:        segments,
		DurationSeconds: duration,
		tempDir:         tempDir,
		removeAll:       s.removeAll,
		remove:          s.remove,
	}, nil
}

// probeDuration asks ffprobe for the container duration in seconds.
func (s *Segmenter) probeDuration(ctx context.Context, inputPath string) (float64, CommandLog, error) {
	args := buildProbeArgs(inputPath)
	cmdResult, runErr := s.runner.Run(ctx, s.ffprobePath, args...)
	log := CommandLog{
		Command:  s.ffprobePath,
		Args:     args,
		ExitCode: cmdResult.ExitCode,
		Stdout:   cmdResult.Stdout,
		Stderr:   cmdResult.Stderr,
	}
	if runErr != nil {
		return 0, log, runErr
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(cmdResult.Stdout), 64)
	if err != nil {
		return 0, log, fmt.Errorf("parse ffprobe duration %q: %w", cmdResult.Stdout, err)
	}
	return duration, log, nil
}

// emitLog forwards command logs when callback is configured.
func emitLog(cb func(log CommandLog), log CommandLog) {
	if cb != nil {
		cb(log)
	}
}

// window is one chunk's position on the source timeline.
type window struct {
	start  float64
	length float64
}

// splitWindows partitions [0, duration) into consecutive non-overlapping
// windows of chunkLengthSeconds, the final window shortened to the remainder.
func splitWindows(duration float64, chunkLengthSeconds int) []window {
	chunk := float64(chunkLengthSeconds)
	if duration <= chunk {
		return []window{{start: 0, length: duration}}
	}

	count := int(math.Ceil(duration / chunk))
	// ffprobe durations carry float drift; a sub-10ms trailing remainder
	// would become an empty segment, so it folds into the previous window.
	if count > 1 && duration-float64(count-1)*chunk < minWindowSeconds {
		count--
	}

	windows := make([]window, 0, count)
	for i := 0; i < count; i++ {
		start := float64(i) * chunk
		length := chunk
		if i == count-1 {
			length = duration - start
		}
		windows = append(windows, window{start: start, length: length})
	}
	return windows
}

// minWindowSeconds is the smallest trailing window worth its own segment.
const minWindowSeconds = 0.01

// buildProbeArgs builds ffprobe args that print only the duration in seconds.
func buildProbeArgs(inputPath string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inputPath,
	}
}

// buildExtractArgs builds ffmpeg args extracting one window as mono 16k PCM WAV.
func buildExtractArgs(format, inputPath string, start, length float64, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-f", format,
		"-i", inputPath,
		"-ss", formatSeconds(start),
		"-t", formatSeconds(length),
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

// formatSeconds renders a timeline offset with millisecond precision.
func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// NewSegmentSetForTests builds a set over an existing workspace directory.
func NewSegmentSetForTests(segments []domain.AudioSegment, tempDir string) *SegmentSet {
	return &SegmentSet{
		Segments:  segments,
		tempDir:   tempDir,
		removeAll: os.RemoveAll,
		remove:    os.Remove,
	}
}

// NewSegmenterForTests constructs a segmenter with injectable dependencies.
func NewSegmenterForTests(
	ffmpegPath string,
	ffprobePath string,
	runner commandRunner,
	mkdirTemp func(dir, pattern string) (string, error),
	removeAll func(path string) error,
	stat func(name string) (os.FileInfo, error),
) *Segmenter {
	return &Segmenter{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		runner:      runner,
		mkdirTemp:   mkdirTemp,
		removeAll:   removeAll,
		remove:      os.Remove,
		stat:        stat,
	}
}
