package sweeper

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkhub/inkhub/internal/config"
	"github.com/inkhub/inkhub/internal/room"
	"github.com/inkhub/inkhub/internal/store"
)

func testSetup(t *testing.T) (*Sweeper, *store.Store, *room.Engine, string, string) {
	t.Helper()
	dir := t.TempDir()
	roomsDir := filepath.Join(dir, "rooms")
	assetsDir := filepath.Join(dir, "assets")
	st, err := store.New(roomsDir, assetsDir)
	require.NoError(t, err)

	cfg := config.Config{
		RoomRetention:  7 * 24 * time.Hour,
		AssetRetention: 30 * 24 * time.Hour,
		CleanupEnabled: true,
		FlushDebounce:  20 * time.Millisecond,
		MaintTick:      25 * time.Millisecond,
		IdleGrace:      40 * time.Millisecond,
	}
	engine := room.NewEngine(cfg, st)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		engine.Shutdown(ctx)
	})
	return New(cfg, st, engine), st, engine, roomsDir, assetsDir
}

func backdate(t *testing.T, path string, age time.Duration) {
	t.Helper()
	old := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, old, old))
}

func TestSweepDeletesExpiredRoom(t *testing.T) {
	s, st, _, roomsDir, _ := testSetup(t)

	require.NoError(t, st.WriteRoom("epsilon", []byte(`{"clock":1,"records":{}}`)))
	backdate(t, filepath.Join(roomsDir, "epsilon"), 10*24*time.Hour)

	s.Sweep()

	_, err := st.ReadRoom("epsilon")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSweepKeepsFreshRoom(t *testing.T) {
	s, st, _, _, _ := testSetup(t)

	require.NoError(t, st.WriteRoom("fresh", []byte(`{}`)))

	s.Sweep()

	_, err := st.ReadRoom("fresh")
	assert.NoError(t, err)
}

func TestSweepRespectsLiveSessions(t *testing.T) {
	s, st, engine, roomsDir, _ := testSetup(t)

	require.NoError(t, st.WriteRoom("epsilon", []byte(`{"clock":1,"records":{}}`)))
	backdate(t, filepath.Join(roomsDir, "epsilon"), 10*24*time.Hour)

	r, err := engine.Obtain(context.Background(), "epsilon")
	require.NoError(t, err)
	sess, err := r.Attach("s1")
	require.NoError(t, err)

	s.Sweep()
	_, err = st.ReadRoom("epsilon")
	assert.NoError(t, err, "room with live session must not be evicted")

	// After the session leaves, the same sweep deletes the file.
	r.Detach(sess)
	s.Sweep()
	_, err = st.ReadRoom("epsilon")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSweepDeletesExpiredAssets(t *testing.T) {
	s, st, _, _, assetsDir := testSetup(t)

	require.NoError(t, st.WriteAsset("old.png", []byte("x")))
	require.NoError(t, st.WriteAsset("new.png", []byte("y")))

	// Backdate only the old asset past the 30-day retention.
	backdate(t, filepath.Join(assetsDir, "old.png"), 31*24*time.Hour)

	s.Sweep()

	_, err := st.ReadAsset("old.png")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.ReadAsset("new.png")
	assert.NoError(t, err)
}

func TestRunDisabled(t *testing.T) {
	s, _, _, _, _ := testSetup(t)
	s.cfg.CleanupEnabled = false

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled sweeper did not return")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s, _, _, _, _ := testSetup(t)
	s.cfg.SweepWarmup = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on cancel")
	}
}
