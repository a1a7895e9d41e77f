package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fieldnote-ai/homeagent/internal/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreCreateSessionIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s1, err := store.CreateSession(context.Background(), "sess-1", created)
	require.NoError(t, err)
	s2, err := store.CreateSession(context.Background(), "sess-1", created.Add(time.Hour))
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Equal(t, created, s2.CreatedAt)
}

func TestFileStoreLoadSessionMissingReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	_, err = store.LoadSession(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

// TestFileStorePersistenceRoundTrip exercises the testable property that
// serializing a session to disk and reloading it (from a fresh store backed
// by the same directory) reproduces an equivalent session.
func TestFileStorePersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err = store.CreateSession(ctx, "sess-2", created)
	require.NoError(t, err)

	interaction := &Interaction{
		InteractionID: "interaction-1",
		Request:       "create a slideshow and email it",
		Plan: &plan.Plan{
			Goal: "create a slideshow and email it",
			Steps: []*plan.Step{
				{ID: 1, Action: "create_keynote"},
			},
		},
		Reply: Reply{
			Message:     "Sent the slideshow to your inbox.",
			Attachments: []string{"/tmp/slideshow.key"},
		},
		Status:      "success",
		FinalizedAt: created.Add(time.Minute),
	}
	require.NoError(t, store.AppendInteraction(ctx, "sess-2", interaction))
	require.NoError(t, store.Close(ctx))

	assert.FileExists(t, filepath.Join(dir, "sess-2.json"))

	reloaded, err := NewFileStore(dir)
	require.NoError(t, err)
	s, err := reloaded.LoadSession(ctx, "sess-2")
	require.NoError(t, err)

	assert.Equal(t, "sess-2", s.SessionID)
	assert.True(t, created.Equal(s.CreatedAt))
	require.Len(t, s.Interactions, 1)
	assert.Equal(t, interaction.InteractionID, s.Interactions[0].InteractionID)
	assert.Equal(t, interaction.Request, s.Interactions[0].Request)
	assert.Equal(t, interaction.Reply, s.Interactions[0].Reply)
	require.NotNil(t, s.Interactions[0].Plan)
	assert.Equal(t, interaction.Plan.Goal, s.Interactions[0].Plan.Goal)
}

// TestFileStoreAppendInteractionAccumulates checks that multiple finalized
// interactions on the same session are appended in order, not overwritten.
func TestFileStoreAppendInteractionAccumulates(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		err := store.AppendInteraction(ctx, "sess-3", &Interaction{
			InteractionID: "i" + string(rune('0'+i)),
			Status:        "success",
		})
		require.NoError(t, err)
	}
	require.NoError(t, store.Close(ctx))

	reloaded, err := NewFileStore(dir)
	require.NoError(t, err)
	s, err := reloaded.LoadSession(ctx, "sess-3")
	require.NoError(t, err)
	assert.Len(t, s.Interactions, 3)
}

// TestFileStoreRunWriteBehindFlushesOnTicker confirms the background ticker
// persists dirty sessions without an explicit Close.
func TestFileStoreRunWriteBehindFlushesOnTicker(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go store.RunWriteBehind(ctx, 10*time.Millisecond)

	require.NoError(t, store.AppendInteraction(context.Background(), "sess-4", &Interaction{
		InteractionID: "i1",
		Status:        "success",
	}))

	require.Eventually(t, func() bool {
		return fileExists(filepath.Join(dir, "sess-4.json"))
	}, time.Second, 5*time.Millisecond)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
