// Package bootstrap wires configuration, jobs, and the HTTP surface.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"audio-transcriber/internal/audio"
	"audio-transcriber/internal/config"
	"audio-transcriber/internal/diagnostics"
	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/jobs"
	"audio-transcriber/internal/output"
	"audio-transcriber/internal/transcribe"
)

// jobRunner isolates the orchestrator behind an interface.
type jobRunner interface {
	Run(ctx context.Context, req jobs.RunRequest) (string, error)
}

// App wires configuration, diagnostics, the job registry, and the runner.
type App struct {
	Settings    domain.Settings
	Jobs        *jobs.Manager
	Runner      jobRunner
	Diagnostics domain.DiagnosticReport

	events *jobs.EventBus
	slots  chan struct{}

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New builds the application from environment settings and runs startup
// diagnostics.
func New() (*App, error) {
	settings, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	transcriber, err := transcribe.New(settings.APIKey, settings.BaseURL, settings.Model)
	if err != nil {
		return nil, fmt.Errorf("build transcriber: %w", err)
	}

	for _, dir := range []string{settings.WorkDir, settings.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("prepare directory %s: %w", dir, err)
		}
	}

	return &App{
		Settings:    settings,
		Jobs:        jobs.NewManager(),
		Runner:      jobs.NewOrchestrator(audio.NewSegmenter(), transcriber),
		Diagnostics: diagnostics.NewChecker().Run(settings),
		events:      jobs.NewEventBus(1000),
		slots:       make(chan struct{}, settings.MaxConcurrentJobs),
		cancels:     make(map[string]context.CancelFunc),
	}, nil
}

// Run starts the HTTP server and blocks until it stops.
func (a *App) Run() error {
	return a.router().Listen(a.Settings.HTTPAddr)
}

// router builds the fiber application with all job endpoints.
func (a *App) router() *fiber.App {
	app := fiber.New()

	v1 := app.Group("/v1")
	v1.Post("/jobs", a.handleCreateJob)
	v1.Get("/jobs/:id", a.handleGetJob)
	v1.Get("/jobs/:id/events", a.handleJobEvents)
	v1.Delete("/jobs/:id", a.handleCancelJob)
	v1.Get("/diagnostics", a.handleDiagnostics)

	return app
}

// handleCreateJob accepts a multipart upload and starts a job for it.
func (a *App) handleCreateJob(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "multipart field `file` is required"})
	}

	// Fail fast on unsupported formats before anything touches the bytes.
	if _, err := audio.ResolveFormat(fileHeader.Filename); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	chunkLength, err := formIntInRange(c, "chunkLengthSeconds",
		a.Settings.ChunkLengthSeconds, config.MinChunkLengthSeconds, config.MaxChunkLengthSeconds)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	timeoutSeconds, err := formIntInRange(c, "timeoutSeconds",
		a.Settings.TimeoutSeconds, config.MinTimeoutSeconds, config.MaxTimeoutSeconds)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	jobID := uuid.NewString()
	inputPath := filepath.Join(a.Settings.WorkDir, jobID+filepath.Ext(fileHeader.Filename))
	if err := c.SaveFile(fileHeader, inputPath); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to store upload"})
	}

	job, err := a.Jobs.Create(jobID, fileHeader.Filename)
	if err != nil {
		_ = os.Remove(inputPath)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	a.startJob(jobID, inputPath, fileHeader.Filename, chunkLength, timeoutSeconds)
	return c.Status(fiber.StatusAccepted).JSON(job)
}

// handleGetJob returns one job snapshot, including fragments once done.
func (a *App) handleGetJob(c *fiber.Ctx) error {
	job, ok := a.Jobs.Get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "job not found"})
	}
	return c.JSON(job)
}

// handleJobEvents returns the job's events after the `since` sequence.
func (a *App) handleJobEvents(c *fiber.Ctx) error {
	jobID := c.Params("id")
	if _, ok := a.Jobs.Get(jobID); !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "job not found"})
	}

	since, _ := strconv.ParseInt(c.Query("since", "0"), 10, 64)
	events := a.events.Since(jobID, since)
	if events == nil {
		events = []jobs.Event{}
	}
	return c.JSON(events)
}

// handleCancelJob abandons a running job. In-flight remote calls finish,
// but their results are discarded.
func (a *App) handleCancelJob(c *fiber.Ctx) error {
	jobID := c.Params("id")

	a.mu.Lock()
	cancel, ok := a.cancels[jobID]
	a.mu.Unlock()
	if !ok {
		if _, exists := a.Jobs.Get(jobID); !exists {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "job not found"})
		}
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": jobs.ErrJobNotRunning.Error()})
	}

	cancel()
	err := a.Jobs.Cancel(jobID)
	if err != nil && !errors.Is(err, jobs.ErrJobNotRunning) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	}
	// A job that settled while the request was in flight keeps its final
	// status and gets no cancelled event.
	if err == nil {
		a.publishStatus(jobID, domain.JobStatusCancelled, "Cancellation requested")
	}

	job, _ := a.Jobs.Get(jobID)
	return c.JSON(job)
}

// handleDiagnostics returns the cached startup report.
func (a *App) handleDiagnostics(c *fiber.Ctx) error {
	return c.JSON(a.Diagnostics)
}

// startJob registers cancellation handles and runs the job asynchronously.
func (a *App) startJob(jobID, inputPath, fileName string, chunkLength, timeoutSeconds int) {
	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.cancels[jobID] = cancel
	a.mu.Unlock()

	a.publishStatus(jobID, domain.JobStatusPending, "Job accepted")
	go a.runJob(ctx, jobID, inputPath, fileName, chunkLength, timeoutSeconds)
}

// runJob executes the orchestrator and maps outcomes to job events.
func (a *App) runJob(ctx context.Context, jobID, inputPath, fileName string, chunkLength, timeoutSeconds int) {
	defer a.clearJob(jobID, inputPath)

	// Concurrency ceiling across independent jobs. Waiting jobs stay
	// pending; a cancellation while queued settles without running.
	select {
	case a.slots <- struct{}{}:
		defer func() { <-a.slots }()
	case <-ctx.Done():
		a.settleCancelled(jobID)
		return
	}

	transcript, err := a.Runner.Run(ctx, jobs.RunRequest{
		InputPath:          inputPath,
		FileName:           fileName,
		ChunkLengthSeconds: chunkLength,
		Timeout:            time.Duration(timeoutSeconds) * time.Second,
		OnStage: func(stage string) {
			status, ok := mapStageToStatus(stage)
			if !ok {
				return
			}
			if err := a.Jobs.Transition(jobID, status); err == nil {
				a.publishStatus(jobID, status, "Running "+stage+" stage")
			}
		},
		OnSegment: func(index, totalCount int, outcome transcribe.Outcome) {
			_ = a.Jobs.SetProgress(jobID, index+1, totalCount)
			message := "Segment transcribed"
			if outcome.Failed() {
				message = "Segment failed: " + outcome.Reason()
			}
			a.publishEvent(jobs.Event{
				JobID:         jobID,
				Type:          jobs.EventTypeSegment,
				Message:       message,
				SegmentIndex:  index,
				TotalSegments: totalCount,
			})
		},
	})
	if err != nil {
		// A cancelled context can also surface as a process error when
		// ffmpeg is killed mid-segmentation, so the context decides.
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			a.settleCancelled(jobID)
			return
		}

		_ = a.Jobs.Transition(jobID, domain.JobStatusFailed)
		_ = a.Jobs.SetError(jobID, err.Error())
		a.publishStatus(jobID, domain.JobStatusFailed, "Job failed")
		a.publishEvent(jobs.Event{
			JobID:   jobID,
			Type:    jobs.EventTypeError,
			Status:  domain.JobStatusFailed,
			Message: err.Error(),
		})
		return
	}

	fragments := output.Split(transcript, a.Settings.FragmentLength)
	transcriptPath, writeErr := a.writeTranscript(jobID, transcript)
	if writeErr != nil {
		log.Printf("archive transcript for job %s: %v", jobID, writeErr)
	}

	_ = a.Jobs.SetResult(jobID, transcript, fragments, transcriptPath)
	if err := a.Jobs.Transition(jobID, domain.JobStatusDone); err == nil {
		a.publishStatus(jobID, domain.JobStatusDone, "Job completed")
	}
	a.publishEvent(jobs.Event{
		JobID:          jobID,
		Type:           jobs.EventTypeResult,
		Status:         domain.JobStatusDone,
		Message:        fmt.Sprintf("Transcript assembled into %d fragment(s)", len(fragments)),
		TranscriptPath: transcriptPath,
	})
}

// writeTranscript archives the assembled transcript in the output dir.
func (a *App) writeTranscript(jobID, transcript string) (string, error) {
	name := fmt.Sprintf("%s_%s.txt", time.Now().Format("2006-01-02_15-04-05"), jobID)
	path := filepath.Join(a.Settings.OutputDir, name)
	if err := os.WriteFile(path, []byte(transcript), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// settleCancelled finalizes a job abandoned by its caller.
func (a *App) settleCancelled(jobID string) {
	if err := a.Jobs.Cancel(jobID); err == nil {
		a.publishStatus(jobID, domain.JobStatusCancelled, "Job cancelled")
	}
}

// publishStatus sends a normalized status event.
func (a *App) publishStatus(jobID string, status domain.JobStatus, message string) {
	a.publishEvent(jobs.Event{
		JobID:   jobID,
		Type:    jobs.EventTypeStatus,
		Status:  status,
		Message: message,
	})
}

// publishEvent stores event history for polling clients.
func (a *App) publishEvent(event jobs.Event) {
	a.events.Publish(event)
}

// clearJob removes the stored upload and the cancellation handle.
func (a *App) clearJob(jobID, inputPath string) {
	if err := os.Remove(inputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("remove upload for job %s: %v", jobID, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.cancels, jobID)
}

// mapStageToStatus maps orchestrator stage names to job statuses.
func mapStageToStatus(stage string) (domain.JobStatus, bool) {
	switch stage {
	case "segmenting":
		return domain.JobStatusSegmenting, true
	case "transcribing":
		return domain.JobStatusTranscribing, true
	default:
		return "", false
	}
}

// formIntInRange parses an optional form override and enforces its range.
func formIntInRange(c *fiber.Ctx, field string, fallback, min, max int) (int, error) {
	raw := c.FormValue(field)
	if raw == "" {
		return fallback, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", field)
	}
	if value < min || value > max {
		return 0, fmt.Errorf("%s %d out of range [%d, %d]", field, value, min, max)
	}
	return value, nil
}

// NewForTests constructs an app with injectable settings and runner.
func NewForTests(settings domain.Settings, manager *jobs.Manager, runner jobRunner) *App {
	return &App{
		Settings: settings,
		Jobs:     manager,
		Runner:   runner,
		events:   jobs.NewEventBus(1000),
		slots:    make(chan struct{}, settings.MaxConcurrentJobs),
		cancels:  make(map[string]context.CancelFunc),
	}
}
