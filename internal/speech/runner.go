package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// JobState is the observable lifecycle of a synthesis job.
type JobState string

const (
	StatePending   JobState = "pending"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
)

// ErrInvalidJobID is returned for job identifiers that are empty, too long,
// or contain path separators.
var ErrInvalidJobID = errors.New("invalid job id")

// Job is a snapshot of a synthesis job.
type Job struct {
	ID        string    `json:"id"`
	Identity  string    `json:"identity"`
	State     JobState  `json:"state"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// synthesizer abstracts the TTS backend for the runner.
type synthesizer interface {
	Synthesize(ctx context.Context, text, style string) ([]byte, error)
}

// Runner executes synthesis jobs on background goroutines. Submission never
// blocks the caller; outcomes are observable through Status. Failures are
// logged and recorded on the job, never returned to the submitter.
type Runner struct {
	tts    synthesizer
	dir    string
	logger *slog.Logger

	// bgCtx outlives individual requests. wg tracks job goroutines and is
	// waited on by App.Close for graceful shutdown.
	bgCtx context.Context //nolint:containedctx
	wg    *sync.WaitGroup

	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewRunner creates a Runner writing MP3 artifacts under dir. bgCtx bounds
// job lifetimes; a nil bgCtx means jobs run until process exit.
func NewRunner(tts synthesizer, dir string, bgCtx context.Context, wg *sync.WaitGroup, logger *slog.Logger) *Runner {
	if bgCtx == nil {
		bgCtx = context.Background()
	}
	if wg == nil {
		wg = &sync.WaitGroup{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		tts:    tts,
		dir:    dir,
		logger: logger.With("component", "speech-runner"),
		bgCtx:  bgCtx,
		wg:     wg,
		jobs:   make(map[string]*Job),
	}
}

// Submit starts a detached synthesis job for the given identity and returns
// its job ID immediately. The ID doubles as the artifact filename stem.
func (r *Runner) Submit(identity, text, style string) (string, error) {
	id := fmt.Sprintf("%s_%d", identity, time.Now().Unix())
	if err := validateJobID(id); err != nil {
		return "", err
	}

	job := &Job{
		ID:        id,
		Identity:  identity,
		State:     StatePending,
		Path:      r.ArtifactPath(id),
		CreatedAt: time.Now(),
	}

	r.mu.Lock()
	r.jobs[id] = job
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(job, text, style)
	}()

	return id, nil
}

// Status returns a snapshot of the job, or false if the ID is unknown.
func (r *Runner) Status(jobID string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// ArtifactPath returns where the job's MP3 is (or will be) written.
func (r *Runner) ArtifactPath(jobID string) string {
	return filepath.Join(r.dir, jobID+".mp3")
}

// Wait blocks until all in-flight jobs finish. Called during shutdown.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) run(job *Job, text, style string) {
	ctx, cancel := context.WithTimeout(r.bgCtx, synthesizeTimeout)
	defer cancel()

	audio, err := r.tts.Synthesize(ctx, text, style)
	if err != nil {
		r.fail(job, err)
		return
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		r.fail(job, fmt.Errorf("create audio dir: %w", err))
		return
	}
	if err := os.WriteFile(job.Path, audio, 0o644); err != nil {
		r.fail(job, fmt.Errorf("write audio file: %w", err))
		return
	}

	r.mu.Lock()
	job.State = StateSucceeded
	r.mu.Unlock()
	r.logger.Info("audio job succeeded", "job_id", job.ID, "path", job.Path, "bytes", len(audio))
}

func (r *Runner) fail(job *Job, err error) {
	r.mu.Lock()
	job.State = StateFailed
	r.mu.Unlock()
	r.logger.Warn("audio job failed", "job_id", job.ID, "error", err)
}

// validateJobID rejects identifiers that could escape the audio directory.
// Rules:
//   - Non-empty, at most 255 bytes
//   - No path separators or null bytes
//   - Not "." or ".."
func validateJobID(id string) error {
	if id == "" || len(id) > 255 {
		return ErrInvalidJobID
	}
	for _, c := range id {
		if c == '/' || c == '\\' || c == '\x00' {
			return ErrInvalidJobID
		}
	}
	if id == "." || id == ".." {
		return ErrInvalidJobID
	}
	return nil
}
