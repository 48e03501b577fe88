package generate

import (
	"context"
	"errors"

	"mediagenapi/job"
)

// maxReferenceImages caps how many reference images are inlined into a single
// request payload.
const maxReferenceImages = 4

type ImageRequest struct {
	Prompt      string
	AspectRatio string
}

// GenerateImage creates an image job and schedules its background work.
// Returns immediately with the pending job.
func (s *Service) GenerateImage(req ImageRequest, referenceImages [][]byte) (*job.Job, error) {
	j := job.New(job.KindImage, "Initializing image generation...", map[string]any{
		"prompt":           req.Prompt,
		"aspect_ratio":     req.AspectRatio,
		"reference_images": len(referenceImages),
		"provider":         "replicate",
	})
	if err := s.jobs.Create(j); err != nil {
		return nil, err
	}

	s.spawn(j.ID, "Image", func(ctx context.Context) (string, error) {
		return s.processImage(ctx, j.ID, req, referenceImages)
	})
	return j, nil
}

func (s *Service) processImage(ctx context.Context, jobID string, req ImageRequest, referenceImages [][]byte) (string, error) {
	s.markProcessing(jobID, 10, "Preparing image request...")

	model := s.res.ImageModel()
	if model == "" {
		return "", errors.New("image model is not configured; set MEDIAGEN_IMAGE_MODEL or save one from the settings dashboard")
	}

	input := map[string]any{
		"prompt": req.Prompt,
	}
	if len(referenceImages) > maxReferenceImages {
		referenceImages = referenceImages[:maxReferenceImages]
	}
	if len(referenceImages) > 0 {
		uris := make([]string, len(referenceImages))
		for i, img := range referenceImages {
			uris[i] = dataURI("image/png", img)
		}
		input["image"] = uris[0]
		if len(uris) > 1 {
			input["image_input"] = uris
		}
	}
	if req.AspectRatio != "" && req.AspectRatio != "auto" {
		input["aspect_ratio"] = req.AspectRatio
	}

	s.update(jobID, 30, "Sending to image model...")
	return s.runPrediction(ctx, jobID, job.KindImage, s.client(), model, input, 60)
}
