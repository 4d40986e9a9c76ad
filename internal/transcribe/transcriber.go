package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"audio-transcriber/internal/domain"
)

// ErrTimeout marks a segment attempt that exceeded its response deadline.
var ErrTimeout = errors.New("timeout")

// Outcome is the result of exactly one transcription attempt for a segment.
// A failed outcome never aborts the remaining segments of a job; the
// orchestrator renders it inline and keeps the last successful context.
type Outcome struct {
	Text string
	Err  error
}

// Success wraps transcribed text into a successful outcome.
func Success(text string) Outcome {
	return Outcome{Text: text}
}

// Failure wraps an error into a failed outcome.
func Failure(err error) Outcome {
	return Outcome{Err: err}
}

// Failed reports whether the attempt produced no usable text.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Reason renders the failure cause for inline error markers.
func (o Outcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// transcriptionClient isolates the remote speech-to-text call for testability.
type transcriptionClient interface {
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// Transcriber sends single audio segments to the remote transcription
// service. Each call makes exactly one attempt; retry policy, if any,
// belongs to the caller.
type Transcriber struct {
	client   transcriptionClient
	model    string
	openFile func(name string) (*os.File, error)
}

// New builds a transcriber against an OpenAI-compatible endpoint.
func New(apiKey, baseURL, model string) (*Transcriber, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("missing transcription API key")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &Transcriber{
		client:   openai.NewClientWithConfig(cfg),
		model:    model,
		openFile: os.Open,
	}, nil
}

// Transcribe uploads one segment plus its position-aware instruction and
// waits for the response bounded by timeout. Success carries the response
// text with surrounding whitespace trimmed; timeout and remote errors come
// back as failed outcomes for the orchestrator to absorb.
func (t *Transcriber) Transcribe(ctx context.Context, segment domain.AudioSegment, previousContext string, timeout time.Duration) Outcome {
	file, err := t.openFile(segment.SourcePath)
	if err != nil {
		return Failure(fmt.Errorf("read segment audio: %w", err))
	}
	defer file.Close()

	req := openai.AudioRequest{
		Model:    t.model,
		FilePath: segment.SourcePath,
		Reader:   file,
		Prompt:   buildSegmentPrompt(segment.Index, segment.TotalCount, previousContext),
		Format:   openai.AudioResponseFormatJSON,
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := t.client.CreateTranscription(callCtx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return Failure(ErrTimeout)
		}
		return Failure(err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return Failure(errors.New("empty transcription"))
	}
	return Success(text)
}

// NewForTests constructs a transcriber with an injectable remote client.
func NewForTests(client transcriptionClient, model string, openFile func(name string) (*os.File, error)) *Transcriber {
	return &Transcriber{
		client:   client,
		model:    model,
		openFile: openFile,
	}
}
