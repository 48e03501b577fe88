package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"mediagenapi/job"
	"mediagenapi/replicate"
)

// processSyncLabs drives a native Sync Labs lip-sync job: multipart upload of
// the source video with the transcript, then a long poll for the result.
func (s *Service) processSyncLabs(ctx context.Context, jobID string, req SpeechRequest, sourceVideo []byte) (string, error) {
	s.markProcessing(jobID, 15, "Uploading to Sync Labs...")

	key := s.res.SyncLabsKey()
	if key == "" {
		return "", fmt.Errorf("Sync Labs API key is not configured; set MEDIAGEN_SYNCLABS_KEY or save one from the settings dashboard")
	}

	fields := map[string]string{
		"transcript": req.Text,
		"voice":      voiceFor("sync_labs", req.Voice),
		"language":   req.Language,
	}
	files := map[string]filePart{
		"video": {name: "input.mp4", contentType: "video/mp4", data: sourceVideo},
	}
	remoteID, err := s.syncLabsSubmit(ctx, key, s.cfg.SyncLabsBase+"/lipsync", fields, files)
	if err != nil {
		return "", err
	}

	s.jobs.Update(jobID, job.Update{
		RemoteTaskID: job.StrPtr(remoteID),
		Progress:     job.IntPtr(40),
		Message:      job.StrPtr("Processing lip sync..."),
	})

	resultURL, err := s.syncLabsAwait(ctx, jobID, key, remoteID, "Syncing lips")
	if err != nil {
		return "", err
	}
	return s.saveResult(ctx, resultURL, jobID, job.KindSpeech)
}

// syncLabsLipsyncAudio composes pre-synthesized audio with the source video,
// used by the ElevenLabs path.
func (s *Service) syncLabsLipsyncAudio(ctx context.Context, jobID string, sourceVideo, audio []byte) (string, error) {
	key := s.res.SyncLabsKey()
	files := map[string]filePart{
		"video": {name: "input.mp4", contentType: "video/mp4", data: sourceVideo},
		"audio": {name: "audio.mp3", contentType: "audio/mpeg", data: audio},
	}
	remoteID, err := s.syncLabsSubmit(ctx, key, s.cfg.SyncLabsBase+"/lipsync/audio", nil, files)
	if err != nil {
		return "", err
	}
	s.jobs.Update(jobID, job.Update{RemoteTaskID: job.StrPtr(remoteID)})

	resultURL, err := s.syncLabsAwait(ctx, jobID, key, remoteID, "Syncing lips")
	if err != nil {
		return "", err
	}
	return s.saveResult(ctx, resultURL, jobID, job.KindSpeech)
}

type filePart struct {
	name        string
	contentType string
	data        []byte
}

func (s *Service) syncLabsSubmit(ctx context.Context, key, url string, fields map[string]string, files map[string]filePart) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for field, f := range files {
		part, err := mw.CreateFormFile(field, f.name)
		if err != nil {
			return "", err
		}
		if _, err := part.Write(f.data); err != nil {
			return "", err
		}
	}
	for field, value := range fields {
		if err := mw.WriteField(field, value); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("x-api-key", key)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.download.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", &replicate.APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("could not decode Sync Labs response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("Sync Labs did not return a task id")
	}
	return out.ID, nil
}

func (s *Service) syncLabsAwait(ctx context.Context, jobID, key, remoteID, phase string) (string, error) {
	interval := s.pollInterval()
	tick := func(attempt int) {
		progress := 40 + attempt*4
		if progress > 95 {
			progress = 95
		}
		s.update(jobID, progress, fmt.Sprintf("%s... (%ds)", phase, attempt*int(interval.Seconds())))
	}

	return pollRemote(ctx, remoteID, s.cfg.JobTimeout, interval, tick, func(ctx context.Context) (bool, string, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/lipsync/%s", s.cfg.SyncLabsBase, remoteID), nil)
		if err != nil {
			return false, "", err
		}
		httpReq.Header.Set("x-api-key", key)

		resp, err := s.download.Do(httpReq)
		if err != nil {
			return false, "", err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			// Transient poll miss; keep waiting.
			io.Copy(io.Discard, resp.Body)
			return false, "", nil
		}

		var out struct {
			Status   string `json:"status"`
			VideoURL string `json:"video_url"`
			Result   struct {
				URL string `json:"url"`
			} `json:"result"`
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return false, "", err
		}

		switch strings.ToLower(out.Status) {
		case "completed", "done":
			url := out.VideoURL
			if url == "" {
				url = out.Result.URL
			}
			if url == "" {
				return false, "", fmt.Errorf("Sync Labs completed without a result URL")
			}
			return true, url, nil
		case "failed", "error":
			if out.Error != "" {
				return false, "", fmt.Errorf("Sync Labs failed: %s", out.Error)
			}
			return false, "", fmt.Errorf("Sync Labs failed")
		}
		return false, "", nil
	})
}
