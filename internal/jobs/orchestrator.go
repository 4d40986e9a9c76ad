package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"audio-transcriber/internal/audio"
	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/transcribe"
)

// Segmenter slices source audio into bounded, re-encoded segments.
type Segmenter interface {
	Segment(ctx context.Context, req audio.Request) (*audio.SegmentSet, error)
}

// Transcriber performs exactly one remote attempt for one segment.
type Transcriber interface {
	Transcribe(ctx context.Context, segment domain.AudioSegment, previousContext string, timeout time.Duration) transcribe.Outcome
}

// RunRequest describes one transcription job and its progress callbacks.
type RunRequest struct {
	InputPath          string
	FileName           string
	ChunkLengthSeconds int
	Timeout            time.Duration
	OnStage            func(stage string)
	OnSegment          func(index, totalCount int, outcome transcribe.Outcome)
	OnLog              func(log audio.CommandLog)
}

// Orchestrator drives segments through the transcriber in strict index
// order, carrying the last successful transcription forward as context for
// the next segment's instruction. Segment failures are absorbed into the
// transcript as inline markers; only segmentation failures are fatal.
type Orchestrator struct {
	segmenter   Segmenter
	transcriber Transcriber
}

// NewOrchestrator wires the segmenter and transcriber for job runs.
func NewOrchestrator(segmenter Segmenter, transcriber Transcriber) *Orchestrator {
	return &Orchestrator{
		segmenter:   segmenter,
		transcriber: transcriber,
	}
}

// Run executes one job and returns the assembled transcript.
//
// The next segment is never dispatched before the current outcome is known:
// its instruction embeds the previous segment's text. Each segment's temp
// file is removed right after its attempt, success or failure, and the
// whole workspace is removed when the job settles.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (string, error) {
	emitStage(req.OnStage, "segmenting")
	set, err := o.segmenter.Segment(ctx, audio.Request{
		InputPath:          req.InputPath,
		FileName:           req.FileName,
		ChunkLengthSeconds: req.ChunkLengthSeconds,
		OnLog:              req.OnLog,
	})
	if err != nil {
		return "", err
	}
	defer func() {
		_ = set.Cleanup()
	}()

	emitStage(req.OnStage, "transcribing")
	totalCount := len(set.Segments)
	texts := make([]string, totalCount)
	previousContext := ""

	for i, segment := range set.Segments {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		outcome := o.transcriber.Transcribe(ctx, segment, previousContext, req.Timeout)
		_ = set.RemoveSegmentFile(i)

		// An abandoned job lets the in-flight call finish but discards
		// its result.
		if err := ctx.Err(); err != nil {
			return "", err
		}

		if outcome.Failed() {
			texts[i] = fmt.Sprintf("[error transcribing segment %d: %s]", i+1, outcome.Reason())
		} else {
			texts[i] = outcome.Text
			previousContext = outcome.Text
		}
		emitSegment(req.OnSegment, i, totalCount, outcome)
	}

	return assemble(texts), nil
}

// assemble joins per-segment entries into the final transcript. Single
// segment jobs pass their text through unmodified; multi-segment jobs get
// "(i/n) " numbering with blank-line separators.
func assemble(texts []string) string {
	if len(texts) == 1 {
		return texts[0]
	}

	var b strings.Builder
	for i, text := range texts {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "(%d/%d) %s", i+1, len(texts), text)
	}
	return b.String()
}

// emitStage forwards stage updates when callback is configured.
func emitStage(cb func(stage string), stage string) {
	if cb != nil {
		cb(stage)
	}
}

// emitSegment forwards per-segment outcomes when callback is configured.
func emitSegment(cb func(index, totalCount int, outcome transcribe.Outcome), index, totalCount int, outcome transcribe.Outcome) {
	if cb != nil {
		cb(index, totalCount, outcome)
	}
}
