package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"mediagenapi/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	store := config.NewStore(dir)

	assert.Empty(t, store.Load(), "a fresh store has no settings")

	require.NoError(t, store.Save(map[string]string{
		"replicateKey": "r8_one",
		"imageModel":   "owner/img",
	}))

	// Saves merge instead of replacing.
	require.NoError(t, store.Save(map[string]string{"replicateKey": "r8_two"}))

	data := store.Load()
	assert.Equal(t, "r8_two", data["replicateKey"])
	assert.Equal(t, "owner/img", data["imageModel"])
}

func TestStoreSurvivesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app_settings.json"), []byte("{not json"), 0o644))

	store := config.NewStore(dir)
	assert.Empty(t, store.Load())

	// A save from this state still works.
	require.NoError(t, store.Save(map[string]string{"imageModel": "owner/img"}))
	assert.Equal(t, "owner/img", store.Load()["imageModel"])
}

func TestResolverPrecedence(t *testing.T) {
	dir := t.TempDir()
	store := config.NewStore(dir)
	require.NoError(t, store.Save(map[string]string{
		"replicateKey":    "r8_stored",
		"videoModel":      "owner/video-stored",
		"lipsyncProvider": "sync_labs",
	}))

	cfg := &config.Config{
		ReplicateToken:  "r8_env",
		LipsyncProvider: "",
	}
	res := &config.Resolver{Cfg: cfg, Store: store}

	// Environment wins when set.
	assert.Equal(t, "r8_env", res.ReplicateToken())
	// The overlay fills the gaps.
	assert.Equal(t, "owner/video-stored", res.VideoModel())
	assert.Equal(t, "sync_labs", res.LipsyncProvider())
	// Neither source has it.
	assert.Equal(t, "", res.ImageModel())
}

func TestResolverReflectsRuntimeSaves(t *testing.T) {
	dir := t.TempDir()
	store := config.NewStore(dir)
	res := &config.Resolver{Cfg: &config.Config{}, Store: store}

	assert.Equal(t, "", res.ElevenLabsKey())
	require.NoError(t, store.Save(map[string]string{"elevenLabsKey": "el_live"}))
	assert.Equal(t, "el_live", res.ElevenLabsKey(), "saved keys take effect without a restart")
}
