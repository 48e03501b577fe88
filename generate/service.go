package generate

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mediagenapi/config"
	"mediagenapi/job"
	"mediagenapi/replicate"
)

// Service owns the generation orchestrators. Each accepted request creates a
// job in the registry and spawns one background goroutine that drives it to a
// terminal state; callers never wait on provider latency.
type Service struct {
	cfg  *config.Config
	res  *config.Resolver
	jobs *job.Registry
	ctx  context.Context

	// download fetches materialized results. Separate from the provider
	// clients because result downloads can be much larger than API calls.
	download *http.Client
}

func NewService(cfg *config.Config, store *config.Store, jobs *job.Registry) *Service {
	return &Service{
		cfg:      cfg,
		res:      &config.Resolver{Cfg: cfg, Store: store},
		jobs:     jobs,
		ctx:      context.Background(),
		download: &http.Client{Timeout: 2 * time.Minute},
	}
}

// Start pins the context background jobs run under. Jobs are tied to the
// process, not to the submitting request.
func (s *Service) Start(ctx context.Context) {
	s.ctx = ctx
}

// Resolver exposes the call-time configuration view (used by the settings
// endpoint to report effective values).
func (s *Service) Resolver() *config.Resolver {
	return s.res
}

// EnsureStorageDirs creates the kind-partitioned result directories.
func (s *Service) EnsureStorageDirs() error {
	for _, kind := range []job.Kind{job.KindImage, job.KindVideo, job.KindSpeech} {
		if err := os.MkdirAll(filepath.Join(s.cfg.StoragePath, partition(kind)), 0o755); err != nil {
			return err
		}
	}
	return nil
}

func partition(kind job.Kind) string {
	switch kind {
	case job.KindImage:
		return "images"
	case job.KindVideo:
		return "videos"
	default:
		return "speech"
	}
}

func (s *Service) client() *replicate.Client {
	return replicate.NewClient(s.res.ReplicateToken(), s.cfg.ReplicateBase)
}

func (s *Service) pollInterval() time.Duration {
	if s.cfg.PollInterval > 0 {
		return s.cfg.PollInterval
	}
	return time.Second
}

// spawn runs fn as the job's detached background task. Every error (and any
// panic) ends as a terminal failed update; nothing propagates to a caller.
func (s *Service) spawn(jobID, label string, fn func(ctx context.Context) (string, error)) {
	ctx := s.ctx
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("%s job %s panicked: %v", label, jobID, r)
				s.fail(jobID, label, fmt.Sprintf("internal error: %v", r))
			}
		}()

		resultPath, err := fn(ctx)
		if err != nil {
			log.Printf("%s generation failed for job %s: %v", label, jobID, err)
			s.fail(jobID, label, err.Error())
			return
		}
		s.jobs.Update(jobID, job.Update{
			Status:     job.StatusPtr(job.StatusCompleted),
			Progress:   job.IntPtr(100),
			Message:    job.StrPtr(label + " generation completed!"),
			ResultPath: job.StrPtr(resultPath),
		})
	}()
}

func (s *Service) fail(jobID, label, errText string) {
	s.jobs.Update(jobID, job.Update{
		Status:  job.StatusPtr(job.StatusFailed),
		Message: job.StrPtr(label + " generation failed"),
		Error:   job.StrPtr(errText),
	})
}

func (s *Service) update(jobID string, progress int, message string) {
	s.jobs.Update(jobID, job.Update{Progress: job.IntPtr(progress), Message: job.StrPtr(message)})
}

func (s *Service) markProcessing(jobID string, progress int, message string) {
	s.jobs.Update(jobID, job.Update{
		Status:   job.StatusPtr(job.StatusProcessing),
		Progress: job.IntPtr(progress),
		Message:  job.StrPtr(message),
	})
}

// progressTick maps polling elapsed time into a bounded progress estimate:
// monotonic, capped at 95 until the result is actually fetched.
func (s *Service) progressTick(jobID string, base int) func(*replicate.Prediction, time.Duration) {
	interval := s.pollInterval()
	return func(pred *replicate.Prediction, elapsed time.Duration) {
		progress := base + int(elapsed/interval)*3
		if progress > 95 {
			progress = 95
		}
		msg := fmt.Sprintf("%s... (%ds)", strings.ToLower(pred.Status), int(elapsed.Seconds()))
		s.update(jobID, progress, msg)
	}
}

// runPrediction drives the shared submit -> poll -> fetch sequence against
// the task API and materializes the result locally.
func (s *Service) runPrediction(ctx context.Context, jobID string, kind job.Kind, client *replicate.Client, model string, input map[string]any, baseProgress int) (string, error) {
	pred, err := client.CreatePrediction(ctx, model, input)
	if err != nil {
		return "", err
	}
	if pred.ID == "" {
		return "", fmt.Errorf("provider did not return a task id for model %s", model)
	}
	s.jobs.Update(jobID, job.Update{
		RemoteTaskID: job.StrPtr(pred.ID),
		Progress:     job.IntPtr(baseProgress),
		Message:      job.StrPtr("Queued..."),
	})

	final, err := client.WaitForPrediction(ctx, pred.ID, s.cfg.JobTimeout, s.pollInterval(), s.progressTick(jobID, baseProgress))
	if err != nil {
		return "", err
	}

	if strings.ToLower(final.Status) != "succeeded" {
		if msg := final.ErrorText(); msg != "" {
			return "", fmt.Errorf("remote task %s: %s", final.Status, msg)
		}
		return "", fmt.Errorf("remote task ended in status %s", final.Status)
	}
	url, ok := replicate.ExtractOutputURL(final.Output)
	if !ok {
		return "", fmt.Errorf("no output URL received from provider")
	}

	// Message only: the polling ticks may already sit above any fixed value,
	// and progress must never move backwards.
	s.jobs.Update(jobID, job.Update{Message: job.StrPtr("Downloading result...")})
	return s.saveResult(ctx, url, jobID, kind)
}

// saveResult downloads a remote result and persists it under the kind
// partition, named by job id. Re-invocation for the same job overwrites the
// same path.
func (s *Service) saveResult(ctx context.Context, rawURL, jobID string, kind job.Kind) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.download.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &replicate.APIError{StatusCode: resp.StatusCode, Body: "result download failed"}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	filename := jobID + "." + extensionFor(resp.Header.Get("Content-Type"), kind)
	path := filepath.Join(s.cfg.StoragePath, partition(kind), filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	log.Printf("Saved %s result to %s", kind, path)
	return "/storage/" + partition(kind) + "/" + filename, nil
}

// writeLocal persists already-held bytes under the kind partition, used by
// the degraded lip-sync path where the source video is returned untouched.
func (s *Service) writeLocal(jobID string, kind job.Kind, ext string, data []byte) (string, error) {
	filename := jobID + "." + ext
	path := filepath.Join(s.cfg.StoragePath, partition(kind), filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return "/storage/" + partition(kind) + "/" + filename, nil
}

func extensionFor(contentType string, kind job.Kind) string {
	switch {
	case strings.Contains(contentType, "png"):
		return "png"
	case strings.Contains(contentType, "jpeg"), strings.Contains(contentType, "jpg"):
		return "jpg"
	case strings.Contains(contentType, "webp"):
		return "webp"
	case strings.Contains(contentType, "gif"):
		return "gif"
	case strings.Contains(contentType, "webm"):
		return "webm"
	case strings.Contains(contentType, "mpeg"), strings.Contains(contentType, "mp3"):
		return "mp3"
	}
	if kind == job.KindImage {
		return "png"
	}
	return "mp4"
}

func dataURI(mime string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))
}

// pollRemote is the generic long-poll loop for providers that do not share
// the task API shape (Sync Labs, D-ID). check reports (done, resultURL);
// tick fires before each poll for progress propagation. Budget exhaustion
// surfaces as *replicate.TimeoutError, same as the task API path.
func pollRemote(ctx context.Context, remoteID string, timeout, interval time.Duration, tick func(attempt int), check func(ctx context.Context) (bool, string, error)) (string, error) {
	if interval <= 0 {
		interval = time.Second
	}
	maxAttempts := int(timeout / interval)
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	start := time.Now()
	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}

		if tick != nil {
			tick(attempt)
		}
		done, url, err := check(ctx)
		if err != nil {
			return "", err
		}
		if done {
			return url, nil
		}
	}
	return "", &replicate.TimeoutError{Elapsed: time.Since(start), PredictionID: remoteID}
}
