package generate

import (
	"context"
	"testing"
	"time"

	"mediagenapi/config"
	"mediagenapi/job"
	"mediagenapi/replicate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, mutate func(*config.Config)) (*Service, *job.Registry) {
	t.Helper()

	cfg := &config.Config{
		ReplicateToken: "test-token",
		JobTimeout:     2 * time.Second,
		PollInterval:   5 * time.Millisecond,
		StoragePath:    t.TempDir(),
	}
	if mutate != nil {
		mutate(cfg)
	}

	registry := job.NewRegistry()
	svc := NewService(cfg, config.NewStore(cfg.StoragePath), registry)
	require.NoError(t, svc.EnsureStorageDirs())
	svc.Start(context.Background())
	return svc, registry
}

func waitForTerminal(t *testing.T, r *job.Registry, id string) *job.Job {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if j, ok := r.Get(id); ok && j.Status.Terminal() {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state", id)
	return nil
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, "png", extensionFor("image/png", job.KindImage))
	assert.Equal(t, "jpg", extensionFor("image/jpeg", job.KindImage))
	assert.Equal(t, "webp", extensionFor("image/webp", job.KindImage))
	assert.Equal(t, "png", extensionFor("", job.KindImage))
	assert.Equal(t, "mp4", extensionFor("video/mp4", job.KindVideo))
	assert.Equal(t, "webm", extensionFor("video/webm", job.KindVideo))
	assert.Equal(t, "mp4", extensionFor("application/octet-stream", job.KindSpeech))
	assert.Equal(t, "mp3", extensionFor("audio/mpeg", job.KindSpeech))
}

func TestMotionPrompts_KnownPresets(t *testing.T) {
	for _, preset := range []string{"subtle", "dynamic", "cinematic", "orbit"} {
		assert.NotEmpty(t, motionPrompts[preset], "preset %s must map to a sub-prompt", preset)
	}
	assert.Empty(t, motionPrompts["unknown"])
}

func TestPollRemote_Timeout(t *testing.T) {
	start := time.Now()
	_, err := pollRemote(context.Background(), "task-7", 50*time.Millisecond, 10*time.Millisecond, nil,
		func(ctx context.Context) (bool, string, error) {
			return false, "", nil
		})

	var timeout *replicate.TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "task-7", timeout.PredictionID)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestVoiceFor_FallsBackToDefault(t *testing.T) {
	assert.Equal(t, "pNInz6obpgDQGcFmaJgB", voiceFor("elevenlabs", VoiceFemaleMature))
	assert.Equal(t, voiceFor("elevenlabs", DefaultVoice), voiceFor("elevenlabs", VoiceType("robot")))
	assert.Equal(t, "male_deep", voiceFor("sync_labs", VoiceMaleDeep))
	assert.Equal(t, "en-US-JennyNeural", voiceFor("d-id", VoiceType("unmapped")))
}
