package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"mediagenapi/job"
	"mediagenapi/replicate"
)

type VoiceType string

const (
	VoiceFemaleYoung  VoiceType = "female_young"
	VoiceFemaleMature VoiceType = "female_mature"
	VoiceFemaleSoft   VoiceType = "female_soft"
	VoiceMaleYoung    VoiceType = "male_young"
	VoiceMaleDeep     VoiceType = "male_deep"
)

// DefaultVoice is used when a provider has no mapping for the requested
// voice category.
const DefaultVoice = VoiceFemaleYoung

// voiceMappings translates the closed voice-category set into each
// provider's own voice identifiers.
var voiceMappings = map[string]map[VoiceType]string{
	"elevenlabs": {
		VoiceFemaleYoung:  "EXAVITQu4vr4xnSDxMaL", // Bella
		VoiceFemaleMature: "pNInz6obpgDQGcFmaJgB", // Sarah
		VoiceFemaleSoft:   "jBpfuIE2acCO8z3wKNLl", // Rachel
		VoiceMaleYoung:    "pqHfZKP75CvOlQylNhV4", // Bill
		VoiceMaleDeep:     "VR6AewLTigWG4xSOukaG", // Arnold
	},
	"sync_labs": {
		VoiceFemaleYoung:  "female_young",
		VoiceFemaleMature: "female_mature",
		VoiceFemaleSoft:   "female_soft",
		VoiceMaleYoung:    "male_young",
		VoiceMaleDeep:     "male_deep",
	},
	"d-id": {
		VoiceFemaleYoung:  "en-US-JennyNeural",
		VoiceFemaleMature: "en-US-AriaNeural",
		VoiceFemaleSoft:   "en-US-SaraNeural",
		VoiceMaleYoung:    "en-US-GuyNeural",
		VoiceMaleDeep:     "en-US-DavisNeural",
	},
}

func voiceFor(provider string, voice VoiceType) string {
	table := voiceMappings[provider]
	if id, ok := table[voice]; ok {
		return id
	}
	return table[DefaultVoice]
}

type SpeechRequest struct {
	Text     string
	Voice    VoiceType
	Language string
}

// GenerateSpeech creates a lip-sync job routed to the configured provider.
// Provider selection is a deployment choice, not a per-request one.
func (s *Service) GenerateSpeech(req SpeechRequest, sourceVideo []byte) (*job.Job, error) {
	provider := s.res.LipsyncProvider()
	j := job.New(job.KindSpeech, fmt.Sprintf("Initializing lip sync with %s...", provider), map[string]any{
		"text":       req.Text,
		"voice_type": string(req.Voice),
		"language":   req.Language,
		"provider":   provider,
	})
	if err := s.jobs.Create(j); err != nil {
		return nil, err
	}

	var process func(ctx context.Context) (string, error)
	switch provider {
	case "elevenlabs":
		process = func(ctx context.Context) (string, error) {
			return s.processElevenLabs(ctx, j.ID, req, sourceVideo)
		}
	case "sync_labs":
		process = func(ctx context.Context) (string, error) {
			return s.processSyncLabs(ctx, j.ID, req, sourceVideo)
		}
	case "d-id":
		process = func(ctx context.Context) (string, error) {
			return s.processDID(ctx, j.ID, req, sourceVideo)
		}
	default:
		process = func(ctx context.Context) (string, error) {
			return "", fmt.Errorf("unknown lip sync provider %q", provider)
		}
	}
	s.spawn(j.ID, "Lip sync", process)
	return j, nil
}

// processElevenLabs synthesizes speech first, then composes a lip-sync call
// with the custom audio. When Sync Labs is unconfigured it degrades
// gracefully: the audio is persisted next to the untouched source video and
// the job still completes.
func (s *Service) processElevenLabs(ctx context.Context, jobID string, req SpeechRequest, sourceVideo []byte) (string, error) {
	s.markProcessing(jobID, 10, "Generating voice with ElevenLabs...")

	key := s.res.ElevenLabsKey()
	if key == "" {
		return "", errors.New("ElevenLabs API key is not configured; set MEDIAGEN_ELEVENLABS_KEY or save one from the settings dashboard")
	}

	audio, err := s.synthesizeSpeech(ctx, key, req)
	if err != nil {
		return "", err
	}

	// Keep the synthesized audio alongside the job's result.
	audioPath := filepath.Join(s.cfg.StoragePath, partition(job.KindSpeech), jobID+"_audio.mp3")
	if err := os.WriteFile(audioPath, audio, 0o644); err != nil {
		return "", err
	}

	s.update(jobID, 50, "Applying lip sync...")

	if s.res.SyncLabsKey() == "" {
		// Degraded path: no lip-sync provider, return the source video as-is.
		return s.writeLocal(jobID, job.KindSpeech, "mp4", sourceVideo)
	}
	return s.syncLabsLipsyncAudio(ctx, jobID, sourceVideo, audio)
}

func (s *Service) synthesizeSpeech(ctx context.Context, key string, req SpeechRequest) ([]byte, error) {
	payload := map[string]any{
		"text":     req.Text,
		"model_id": "eleven_multilingual_v2",
		"voice_settings": map[string]any{
			"stability":        0.75,
			"similarity_boost": 0.75,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/text-to-speech/%s", s.cfg.ElevenLabsBase, voiceFor("elevenlabs", req.Voice))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("xi-api-key", key)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.download.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &replicate.APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}
