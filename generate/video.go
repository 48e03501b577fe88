package generate

import (
	"context"
	"errors"
	"log"

	"mediagenapi/job"
	"mediagenapi/replicate"
)

type VideoRequest struct {
	Prompt      string
	AspectRatio string
	Motion      string // optional motion-style preset
}

// motionPrompts maps motion-style presets to descriptive sub-prompts, used
// when the caller gives no explicit prompt.
var motionPrompts = map[string]string{
	"subtle":    "subtle natural movement, gentle breathing, slight head motion",
	"dynamic":   "dynamic expressive movement, energetic gestures",
	"cinematic": "slow cinematic camera push-in, dramatic lighting shifts",
	"orbit":     "smooth orbital camera movement around the subject",
}

// GenerateVideo creates a video job. startImage is required; callers supply
// either an optional endImage or an optional drivingVideo (not both).
func (s *Service) GenerateVideo(req VideoRequest, startImage, endImage, drivingVideo []byte) (*job.Job, error) {
	j := job.New(job.KindVideo, "Initializing video generation...", map[string]any{
		"prompt":            req.Prompt,
		"aspect_ratio":      req.AspectRatio,
		"motion":            req.Motion,
		"has_end_image":     len(endImage) > 0,
		"has_driving_video": len(drivingVideo) > 0,
		"provider":          "replicate",
	})
	if err := s.jobs.Create(j); err != nil {
		return nil, err
	}

	s.spawn(j.ID, "Video", func(ctx context.Context) (string, error) {
		return s.processVideo(ctx, j.ID, req, startImage, endImage, drivingVideo)
	})
	return j, nil
}

func (s *Service) processVideo(ctx context.Context, jobID string, req VideoRequest, startImage, endImage, drivingVideo []byte) (string, error) {
	s.markProcessing(jobID, 10, "Preparing video request...")

	model := s.res.VideoModel()
	if model == "" {
		return "", errors.New("video model is not configured; set MEDIAGEN_VIDEO_MODEL or save one from the settings dashboard")
	}
	client := s.client()

	prompt := req.Prompt
	if prompt == "" {
		prompt = motionPrompts[req.Motion]
	}

	imageURI := dataURI("image/png", startImage)
	var endImageURI string
	if len(endImage) > 0 {
		endImageURI = dataURI("image/png", endImage)
	}

	// Driving videos are too large to inline; models expect a file reference.
	var drivingURI string
	if len(drivingVideo) > 0 {
		s.update(jobID, 20, "Uploading driving video...")
		uri, err := client.UploadFile(ctx, "driving.mp4", drivingVideo, "video/mp4")
		if err != nil {
			return "", err
		}
		drivingURI = uri
	}

	input := map[string]any{
		"image":        imageURI,
		"prompt":       prompt,
		"aspect_ratio": req.AspectRatio,
	}
	if endImageURI != "" {
		input["end_image"] = endImageURI
	}
	if drivingURI != "" {
		input["driving_video"] = drivingURI
	}

	s.update(jobID, 40, "Generating video...")
	result, err := s.runPrediction(ctx, jobID, job.KindVideo, client, model, input, 55)
	if err == nil {
		return result, nil
	}

	fallback := s.res.VideoFallbackModel()
	if fallback == "" || !fallbackEligible(err) {
		return "", err
	}

	log.Printf("Video job %s: primary model %s failed (%v), retrying with %s", jobID, model, err, fallback)
	s.update(jobID, 55, "Retrying with fallback model...")

	// The fallback model takes a different payload shape.
	adapted := map[string]any{
		"first_frame_image": imageURI,
		"prompt":            prompt,
		"aspect_ratio":      req.AspectRatio,
	}
	if endImageURI != "" {
		adapted["last_frame_image"] = endImageURI
	}
	if drivingURI != "" {
		adapted["driving_video"] = drivingURI
	}
	return s.runPrediction(ctx, jobID, job.KindVideo, client, fallback, adapted, 60)
}

// fallbackEligible restricts the fallback chain to explicit remote failures.
// Exhausting the primary attempt's polling budget, losing the context, or a
// missing credential never triggers a second attempt.
func fallbackEligible(err error) bool {
	var timeout *replicate.TimeoutError
	if errors.As(err, &timeout) {
		return false
	}
	if errors.Is(err, replicate.ErrMissingToken) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
