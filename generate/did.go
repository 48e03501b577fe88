package generate

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"mediagenapi/job"
	"mediagenapi/replicate"
)

// processDID drives a D-ID talking-avatar job: one JSON create call, then a
// long poll on the talk resource.
func (s *Service) processDID(ctx context.Context, jobID string, req SpeechRequest, sourceVideo []byte) (string, error) {
	s.markProcessing(jobID, 15, "Creating with D-ID...")

	key := s.res.DIDKey()
	if key == "" {
		return "", fmt.Errorf("D-ID API key is not configured; set MEDIAGEN_DID_KEY or save one from the settings dashboard")
	}

	payload := map[string]any{
		"source_url": base64.StdEncoding.EncodeToString(sourceVideo),
		"script": map[string]any{
			"type":  "text",
			"input": req.Text,
			"provider": map[string]any{
				"type":     "microsoft",
				"voice_id": voiceFor("d-id", req.Voice),
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.DIDBase+"/talks", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Basic "+key)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.download.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", &replicate.APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil {
		return "", fmt.Errorf("could not decode D-ID response: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("D-ID did not return a task id")
	}

	s.jobs.Update(jobID, job.Update{
		RemoteTaskID: job.StrPtr(created.ID),
		Progress:     job.IntPtr(40),
		Message:      job.StrPtr("Generating talking video..."),
	})

	resultURL, err := s.didAwait(ctx, jobID, key, created.ID)
	if err != nil {
		return "", err
	}
	return s.saveResult(ctx, resultURL, jobID, job.KindSpeech)
}

func (s *Service) didAwait(ctx context.Context, jobID, key, remoteID string) (string, error) {
	interval := s.pollInterval()
	tick := func(attempt int) {
		progress := 40 + attempt*4
		if progress > 95 {
			progress = 95
		}
		s.update(jobID, progress, fmt.Sprintf("Creating talking video... (%ds)", attempt*int(interval.Seconds())))
	}

	return pollRemote(ctx, remoteID, s.cfg.JobTimeout, interval, tick, func(ctx context.Context) (bool, string, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/talks/%s", s.cfg.DIDBase, remoteID), nil)
		if err != nil {
			return false, "", err
		}
		httpReq.Header.Set("Authorization", "Basic "+key)

		resp, err := s.download.Do(httpReq)
		if err != nil {
			return false, "", err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			return false, "", nil
		}

		var out struct {
			Status    string `json:"status"`
			ResultURL string `json:"result_url"`
			Error     struct {
				Description string `json:"description"`
			} `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return false, "", err
		}

		switch strings.ToLower(out.Status) {
		case "done", "completed":
			if out.ResultURL == "" {
				return false, "", fmt.Errorf("D-ID completed without a result URL")
			}
			return true, out.ResultURL, nil
		case "error", "failed":
			if out.Error.Description != "" {
				return false, "", fmt.Errorf("D-ID failed: %s", out.Error.Description)
			}
			return false, "", fmt.Errorf("D-ID failed")
		}
		return false, "", nil
	})
}
