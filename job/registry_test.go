package job

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CreateAndGet(t *testing.T) {
	r := NewRegistry()

	j := New(KindImage, "Initializing...", map[string]any{"prompt": "a face"})
	require.NoError(t, r.Create(j))
	assert.NotEmpty(t, j.ID)
	assert.Equal(t, StatusPending, j.Status)

	got, found := r.Get(j.ID)
	require.True(t, found)
	assert.Equal(t, j.ID, got.ID)
	assert.Equal(t, KindImage, got.Kind)
	assert.Equal(t, "a face", got.Metadata["prompt"])

	_, found = r.Get("nonexistent")
	assert.False(t, found)
}

func TestRegistry_DuplicateID(t *testing.T) {
	r := NewRegistry()

	j := New(KindVideo, "", nil)
	require.NoError(t, r.Create(j))
	assert.Error(t, r.Create(j))
}

func TestRegistry_UpdatePartial(t *testing.T) {
	r := NewRegistry()
	j := New(KindImage, "start", nil)
	require.NoError(t, r.Create(j))

	updated, found := r.Update(j.ID, Update{
		Status:   StatusPtr(StatusProcessing),
		Progress: IntPtr(25),
		Message:  StrPtr("working"),
	})
	require.True(t, found)
	assert.Equal(t, StatusProcessing, updated.Status)
	assert.Equal(t, 25, updated.Progress)
	assert.Equal(t, "working", updated.Message)
	assert.Nil(t, updated.CompletedAt)

	// Fields left nil stay untouched.
	updated, found = r.Update(j.ID, Update{Progress: IntPtr(50)})
	require.True(t, found)
	assert.Equal(t, 50, updated.Progress)
	assert.Equal(t, "working", updated.Message)
	assert.Equal(t, StatusProcessing, updated.Status)

	_, found = r.Update("nonexistent", Update{Progress: IntPtr(1)})
	assert.False(t, found)
}

func TestRegistry_TerminalInvariants(t *testing.T) {
	t.Run("completed sets CompletedAt and ResultPath", func(t *testing.T) {
		r := NewRegistry()
		j := New(KindImage, "", nil)
		require.NoError(t, r.Create(j))

		updated, found := r.Update(j.ID, Update{
			Status:     StatusPtr(StatusCompleted),
			Progress:   IntPtr(100),
			ResultPath: StrPtr("/storage/images/x.png"),
		})
		require.True(t, found)
		assert.Equal(t, StatusCompleted, updated.Status)
		require.NotNil(t, updated.CompletedAt)
		assert.Equal(t, "/storage/images/x.png", updated.ResultPath)
		assert.Empty(t, updated.Error)
	})

	t.Run("failed sets CompletedAt and Error", func(t *testing.T) {
		r := NewRegistry()
		j := New(KindVideo, "", nil)
		require.NoError(t, r.Create(j))

		updated, found := r.Update(j.ID, Update{
			Status: StatusPtr(StatusFailed),
			Error:  StrPtr("provider exploded"),
		})
		require.True(t, found)
		assert.Equal(t, StatusFailed, updated.Status)
		require.NotNil(t, updated.CompletedAt)
		assert.Equal(t, "provider exploded", updated.Error)
		assert.Empty(t, updated.ResultPath)
	})

	t.Run("terminal jobs absorb further updates", func(t *testing.T) {
		r := NewRegistry()
		j := New(KindSpeech, "", nil)
		require.NoError(t, r.Create(j))

		first, _ := r.Update(j.ID, Update{Status: StatusPtr(StatusFailed), Error: StrPtr("boom")})
		completedAt := *first.CompletedAt

		after, found := r.Update(j.ID, Update{
			Status:   StatusPtr(StatusProcessing),
			Progress: IntPtr(99),
			Message:  StrPtr("late tick"),
		})
		require.True(t, found)
		assert.Equal(t, StatusFailed, after.Status)
		assert.Equal(t, 0, after.Progress)
		assert.NotEqual(t, "late tick", after.Message)
		assert.Equal(t, completedAt, *after.CompletedAt)
	})
}

func TestRegistry_ListOrderingAndFilter(t *testing.T) {
	r := NewRegistry()

	ids := make([]string, 0, 6)
	kinds := []Kind{KindImage, KindVideo, KindImage, KindSpeech, KindVideo, KindImage}
	for i, kind := range kinds {
		j := New(kind, "", nil)
		j.CreatedAt = time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC)
		require.NoError(t, r.Create(j))
		ids = append(ids, j.ID)
	}

	all := r.List("")
	require.Len(t, all, 6)
	for i := 0; i < len(all)-1; i++ {
		assert.False(t, all[i].CreatedAt.Before(all[i+1].CreatedAt), "list must be newest first")
	}
	assert.Equal(t, ids[5], all[0].ID)
	assert.Equal(t, ids[0], all[5].ID)

	images := r.List(KindImage)
	require.Len(t, images, 3)
	for _, j := range images {
		assert.Equal(t, KindImage, j.Kind)
	}
	assert.Equal(t, ids[5], images[0].ID)
	assert.Equal(t, ids[2], images[1].ID)
	assert.Equal(t, ids[0], images[2].ID)
}

func TestRegistry_ListTiesByInsertionOrder(t *testing.T) {
	r := NewRegistry()
	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 4; i++ {
		j := New(KindImage, "", nil)
		j.CreatedAt = created
		require.NoError(t, r.Create(j))
		ids = append(ids, j.ID)
	}

	out := r.List(KindImage)
	require.Len(t, out, 4)
	for i, j := range out {
		assert.Equal(t, ids[len(ids)-1-i], j.ID)
	}
}

func TestRegistry_ConcurrentUpdates(t *testing.T) {
	r := NewRegistry()
	j := New(KindImage, "", nil)
	require.NoError(t, r.Create(j))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := fmt.Sprintf("tick %d", i)
			r.Update(j.ID, Update{Progress: IntPtr(i), Message: &msg})
		}(i)
	}
	wg.Wait()

	got, found := r.Get(j.ID)
	require.True(t, found)
	// Whatever interleaving won, progress and message come from the same update.
	assert.Equal(t, fmt.Sprintf("tick %d", got.Progress), got.Message)
}
