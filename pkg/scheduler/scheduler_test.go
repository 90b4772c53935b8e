package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bagleyctf/labrange/pkg/catalog"
	"github.com/bagleyctf/labrange/pkg/config"
	"github.com/bagleyctf/labrange/pkg/manager"
	"github.com/bagleyctf/labrange/pkg/runtime"
	"github.com/bagleyctf/labrange/pkg/storage"
)

// TestSchedulerSweepsExpiredLabs tests that the loop removes labs past
// their TTL without being asked
func TestSchedulerSweepsExpiredLabs(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Quota.TTL = time.Nanosecond

	store, err := storage.NewBoltStore(cfg.DataDir)
	require.NoError(t, err)
	defer store.Close()

	driver := runtime.NewFakeDriver()
	mgr := manager.NewManager(cfg, catalog.Builtin(), store, driver, nil)

	_, err = mgr.Create(context.Background(), "alice", "dvwa")
	require.NoError(t, err)

	sched := NewScheduler(mgr, 10*time.Millisecond)
	sched.Start()
	defer sched.Stop()

	assert.Eventually(t, func() bool {
		labs, err := store.ListLabs()
		return err == nil && len(labs) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

// TestSchedulerStopWaits tests that Stop returns only after the loop
// has exited
func TestSchedulerStopWaits(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	store, err := storage.NewBoltStore(cfg.DataDir)
	require.NoError(t, err)
	defer store.Close()

	mgr := manager.NewManager(cfg, catalog.Builtin(), store, runtime.NewFakeDriver(), nil)

	sched := NewScheduler(mgr, time.Hour)
	sched.Start()

	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
