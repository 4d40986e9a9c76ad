package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"audio-transcriber/internal/audio"
	"audio-transcriber/internal/config"
	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/jobs"
	"audio-transcriber/internal/transcribe"
)

// fakeRunner plays a scripted orchestrator outcome and drives callbacks.
type fakeRunner struct {
	transcript string
	err        error
}

// Run emits the stage and segment callbacks a real run would produce.
func (f *fakeRunner) Run(ctx context.Context, req jobs.RunRequest) (string, error) {
	if req.OnStage != nil {
		req.OnStage("segmenting")
		req.OnStage("transcribing")
	}
	if f.err != nil {
		return "", f.err
	}
	if req.OnSegment != nil {
		req.OnSegment(0, 1, transcribe.Success(f.transcript))
	}
	return f.transcript, nil
}

// gatedRunner blocks inside Run until released, so tests can observe jobs
// while they are in flight or queued behind the concurrency ceiling.
type gatedRunner struct {
	release chan struct{}
	runs    atomic.Int32
	// cancelErr is returned when the job context is cancelled mid-run,
	// standing in for whatever error the killed pipeline surfaces.
	cancelErr error
}

func (g *gatedRunner) Run(ctx context.Context, req jobs.RunRequest) (string, error) {
	g.runs.Add(1)
	if req.OnStage != nil {
		req.OnStage("segmenting")
		req.OnStage("transcribing")
	}
	select {
	case <-g.release:
		return "gated text", nil
	case <-ctx.Done():
		if g.cancelErr != nil {
			return "", g.cancelErr
		}
		return "", ctx.Err()
	}
}

// newTestApp builds an app around temp directories and a fake runner.
func newTestApp(t *testing.T, runner jobRunner) *App {
	t.Helper()
	return newTestAppWithLimit(t, runner, config.DefaultMaxConcurrentJobs)
}

// newTestAppWithLimit allows tuning the job concurrency ceiling.
func newTestAppWithLimit(t *testing.T, runner jobRunner, maxJobs int) *App {
	t.Helper()
	settings := domain.Settings{
		APIKey:             "key",
		Model:              "whisper-1",
		ChunkLengthSeconds: config.DefaultChunkLengthSeconds,
		TimeoutSeconds:     config.DefaultTimeoutSeconds,
		FragmentLength:     config.DefaultFragmentLength,
		MaxConcurrentJobs:  maxJobs,
		WorkDir:            t.TempDir(),
		OutputDir:          t.TempDir(),
	}
	return NewForTests(settings, jobs.NewManager(), runner)
}

// newUploadRequest builds a multipart job submission.
func newUploadRequest(t *testing.T, fileName string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte("audio-bytes")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	for key, value := range fields {
		if err := mw.WriteField(key, value); err != nil {
			t.Fatalf("write field %s: %v", key, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// waitForStatus polls the registry until the job settles.
func waitForStatus(t *testing.T, app *App, jobID string, want domain.JobStatus) domain.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if job, ok := app.Jobs.Get(jobID); ok && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := app.Jobs.Get(jobID)
	t.Fatalf("job status = %s, want %s", job.Status, want)
	return domain.Job{}
}

// TestCreateJobRunsToCompletion checks the full accepted-to-done flow.
func TestCreateJobRunsToCompletion(t *testing.T) {
	app := newTestApp(t, &fakeRunner{transcript: "hello world"})
	router := app.router()

	resp, err := router.Test(newUploadRequest(t, "memo.wav", nil), -1)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var created domain.Job
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.ID == "" || created.FileName != "memo.wav" {
		t.Fatalf("created job = %+v", created)
	}

	job := waitForStatus(t, app, created.ID, domain.JobStatusDone)
	if job.Transcript != "hello world" {
		t.Fatalf("transcript = %q", job.Transcript)
	}
	if len(job.Fragments) != 1 || job.Fragments[0] != "hello world" {
		t.Fatalf("fragments = %v", job.Fragments)
	}
	if job.TranscriptPath == "" {
		t.Fatal("expected archived transcript path")
	}
	if content, err := os.ReadFile(job.TranscriptPath); err != nil || string(content) != "hello world" {
		t.Fatalf("archived transcript = %q, err = %v", content, err)
	}

	// The stored upload is removed once the job settles. Cleanup runs
	// right after the done transition, so poll briefly.
	waitForEmptyDir(t, app.Settings.WorkDir)
}

// waitForEmptyDir polls until dir has no entries left.
func waitForEmptyDir(t *testing.T, dir string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("read dir: %v", err)
		}
		if len(entries) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("directory %s never emptied", dir)
}

// TestCreateJobRejectsUnsupportedExtension checks the fail-fast format gate.
func TestCreateJobRejectsUnsupportedExtension(t *testing.T) {
	app := newTestApp(t, &fakeRunner{transcript: "x"})
	router := app.router()

	resp, err := router.Test(newUploadRequest(t, "clip.mov", nil), -1)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	// Nothing was stored for the rejected upload.
	entries, _ := os.ReadDir(app.Settings.WorkDir)
	if len(entries) != 0 {
		t.Fatalf("work dir entries = %d, want 0", len(entries))
	}
}

// TestCreateJobRejectsOutOfRangeOverride checks form knob validation.
func TestCreateJobRejectsOutOfRangeOverride(t *testing.T) {
	app := newTestApp(t, &fakeRunner{transcript: "x"})
	router := app.router()

	for field, value := range map[string]string{
		"chunkLengthSeconds": "5",
		"timeoutSeconds":     "500",
	} {
		resp, err := router.Test(newUploadRequest(t, "memo.wav", map[string]string{field: value}), -1)
		if err != nil {
			t.Fatalf("request error: %v", err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s=%s status = %d, want 400", field, value, resp.StatusCode)
		}
	}
}

// TestJobFatalErrorSurfaces checks decode failures settle the job as failed.
func TestJobFatalErrorSurfaces(t *testing.T) {
	processErr := &audio.ProcessError{Stage: "decoding", Message: "cannot decode source"}
	app := newTestApp(t, &fakeRunner{err: processErr})
	router := app.router()

	resp, err := router.Test(newUploadRequest(t, "memo.wav", nil), -1)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	var created domain.Job
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	job := waitForStatus(t, app, created.ID, domain.JobStatusFailed)
	if job.Error == "" {
		t.Fatal("expected recorded job error")
	}
}

// TestGetJobNotFound checks unknown IDs return 404.
func TestGetJobNotFound(t *testing.T) {
	app := newTestApp(t, &fakeRunner{})
	router := app.router()

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/nope", nil)
	resp, err := router.Test(req, -1)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

// TestJobEventsFeed checks the incremental event endpoint.
func TestJobEventsFeed(t *testing.T) {
	app := newTestApp(t, &fakeRunner{transcript: "hello"})
	router := app.router()

	resp, err := router.Test(newUploadRequest(t, "memo.wav", nil), -1)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	var created domain.Job
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	waitForStatus(t, app, created.ID, domain.JobStatusDone)

	// The result event lands right after the done transition, so poll.
	var events []jobs.Event
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		req := httptest.NewRequest(http.MethodGet, "/v1/jobs/"+created.ID+"/events?since=0", nil)
		eventsResp, err := router.Test(req, -1)
		if err != nil {
			t.Fatalf("request error: %v", err)
		}
		if eventsResp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", eventsResp.StatusCode)
		}
		raw, _ := io.ReadAll(eventsResp.Body)
		if err := json.Unmarshal(raw, &events); err != nil {
			t.Fatalf("decode events: %v", err)
		}
		if len(events) > 0 && events[len(events)-1].Type == jobs.EventTypeResult {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(events) == 0 {
		t.Fatal("expected events for completed job")
	}
	last := events[len(events)-1]
	if last.Type != jobs.EventTypeResult {
		t.Fatalf("last event type = %s, want result", last.Type)
	}
	if last.TranscriptPath == "" {
		t.Fatal("result event missing transcript path")
	}
	rel, err := filepath.Rel(app.Settings.OutputDir, last.TranscriptPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		t.Fatalf("transcript archived outside output dir: %s", last.TranscriptPath)
	}
}

// createJob submits an upload and returns the accepted job.
func createJob(t *testing.T, router *fiber.App, fileName string) domain.Job {
	t.Helper()
	resp, err := router.Test(newUploadRequest(t, fileName, nil), -1)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var created domain.Job
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return created
}

// TestCancelRunningJobSettlesCancelled checks a DELETE of an in-flight job.
// The killed pipeline surfaces a process error rather than context.Canceled;
// the job must still settle as cancelled, not failed.
func TestCancelRunningJobSettlesCancelled(t *testing.T) {
	runner := &gatedRunner{
		release: make(chan struct{}),
		cancelErr: &audio.ProcessError{
			Stage:   "segmenting",
			Message: "ffmpeg extraction failed for segment 0",
			Err:     errors.New("signal: killed"),
		},
	}
	app := newTestApp(t, runner)
	router := app.router()

	created := createJob(t, router, "memo.wav")
	waitForStatus(t, app, created.ID, domain.JobStatusTranscribing)

	req := httptest.NewRequest(http.MethodDelete, "/v1/jobs/"+created.ID, nil)
	resp, err := router.Test(req, -1)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	job := waitForStatus(t, app, created.ID, domain.JobStatusCancelled)
	if job.Error != "" {
		t.Fatalf("cancelled job recorded error %q", job.Error)
	}

	// Upload cleanup marks the run as fully settled.
	waitForEmptyDir(t, app.Settings.WorkDir)

	for _, event := range app.events.Since(created.ID, 0) {
		if event.Type == jobs.EventTypeError || event.Status == domain.JobStatusFailed {
			t.Fatalf("cancelled job published failure event: %+v", event)
		}
	}
}

// TestConcurrencyCeilingQueuesJobs checks the job slot limit: a queued job
// stays pending without reaching the runner, and cancelling it while queued
// settles it without ever running.
func TestConcurrencyCeilingQueuesJobs(t *testing.T) {
	runner := &gatedRunner{release: make(chan struct{})}
	app := newTestAppWithLimit(t, runner, 1)
	router := app.router()

	first := createJob(t, router, "first.wav")
	waitForStatus(t, app, first.ID, domain.JobStatusTranscribing)

	second := createJob(t, router, "second.wav")
	time.Sleep(50 * time.Millisecond)
	if got := runner.runs.Load(); got != 1 {
		t.Fatalf("runner invocations = %d, want 1 while slot is held", got)
	}
	queued, _ := app.Jobs.Get(second.ID)
	if queued.Status != domain.JobStatusPending {
		t.Fatalf("queued job status = %s, want pending", queued.Status)
	}

	req := httptest.NewRequest(http.MethodDelete, "/v1/jobs/"+second.ID, nil)
	resp, err := router.Test(req, -1)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	waitForStatus(t, app, second.ID, domain.JobStatusCancelled)
	if got := runner.runs.Load(); got != 1 {
		t.Fatalf("runner invocations = %d, cancelled queued job must not run", got)
	}

	close(runner.release)
	waitForStatus(t, app, first.ID, domain.JobStatusDone)
}

// TestCancelSettledJobKeepsStatus checks a DELETE racing job completion:
// the final status wins and no cancelled event is published.
func TestCancelSettledJobKeepsStatus(t *testing.T) {
	app := newTestApp(t, &fakeRunner{})
	router := app.router()

	if _, err := app.Jobs.Create("job-1", "memo.wav"); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, status := range []domain.JobStatus{
		domain.JobStatusSegmenting,
		domain.JobStatusTranscribing,
		domain.JobStatusDone,
	} {
		if err := app.Jobs.Transition("job-1", status); err != nil {
			t.Fatalf("transition to %s: %v", status, err)
		}
	}

	// Stale cancel handle: the job settled while DELETE was in flight.
	app.mu.Lock()
	app.cancels["job-1"] = func() {}
	app.mu.Unlock()

	req := httptest.NewRequest(http.MethodDelete, "/v1/jobs/job-1", nil)
	resp, err := router.Test(req, -1)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	job, _ := app.Jobs.Get("job-1")
	if job.Status != domain.JobStatusDone {
		t.Fatalf("status = %s, want done", job.Status)
	}
	for _, event := range app.events.Since("job-1", 0) {
		if event.Status == domain.JobStatusCancelled {
			t.Fatalf("settled job got cancelled event: %+v", event)
		}
	}
}

// TestCancelJobNotFound checks cancellation of unknown IDs.
func TestCancelJobNotFound(t *testing.T) {
	app := newTestApp(t, &fakeRunner{})
	router := app.router()

	req := httptest.NewRequest(http.MethodDelete, "/v1/jobs/nope", nil)
	resp, err := router.Test(req, -1)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
