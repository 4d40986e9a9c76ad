package domain

// JobStatus tracks each lifecycle stage for a single transcription job.
type JobStatus string

const (
	JobStatusPending      JobStatus = "pending"
	JobStatusSegmenting   JobStatus = "segmenting"
	JobStatusTranscribing JobStatus = "transcribing"
	JobStatusDone         JobStatus = "done"
	JobStatusFailed       JobStatus = "failed"
	JobStatusCancelled    JobStatus = "cancelled"
)

// AudioSegment is one contiguous slice of the source audio timeline,
// re-encoded to the canonical WAV intermediate and written to its own
// temporary file. Segments of one job are contiguous and gapless.
type AudioSegment struct {
	SourcePath      string  `json:"sourcePath"`
	Index           int     `json:"index"`
	TotalCount      int     `json:"totalCount"`
	StartSeconds    float64 `json:"startSeconds"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// Job stores job identity, lifecycle status, and progress counters.
type Job struct {
	ID             string    `json:"id"`
	FileName       string    `json:"fileName"`
	Status         JobStatus `json:"status"`
	TotalSegments  int       `json:"totalSegments"`
	DoneSegments   int       `json:"doneSegments"`
	Transcript     string    `json:"transcript,omitempty"`
	Fragments      []string  `json:"fragments,omitempty"`
	TranscriptPath string    `json:"transcriptPath,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// Settings contains runtime configuration loaded from the environment.
type Settings struct {
	APIKey             string `json:"-"`
	BaseURL            string `json:"baseURL"`
	Model              string `json:"model"`
	ChunkLengthSeconds int    `json:"chunkLengthSeconds"`
	TimeoutSeconds     int    `json:"timeoutSeconds"`
	FragmentLength     int    `json:"fragmentLength"`
	MaxConcurrentJobs  int    `json:"maxConcurrentJobs"`
	WorkDir            string `json:"workDir"`
	OutputDir          string `json:"outputDir"`
	HTTPAddr           string `json:"httpAddr"`
}
