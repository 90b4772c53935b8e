package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bagleyctf/labrange/pkg/catalog"
	"github.com/bagleyctf/labrange/pkg/config"
	"github.com/bagleyctf/labrange/pkg/runtime"
	"github.com/bagleyctf/labrange/pkg/storage"
	"github.com/bagleyctf/labrange/pkg/types"
)

type testHarness struct {
	mgr    *Manager
	driver *runtime.FakeDriver
	store  storage.Store
	clock  time.Time
}

func newTestManager(t *testing.T, mutate func(*config.Config)) *testHarness {
	t.Helper()

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	driver := runtime.NewFakeDriver()
	mgr := NewManager(cfg, catalog.Builtin(), store, driver, nil)

	h := &testHarness{
		mgr:    mgr,
		driver: driver,
		store:  store,
		clock:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	mgr.now = func() time.Time { return h.clock }

	seq := 0
	mgr.newID = func() string {
		seq++
		return fmt.Sprintf("%08d", seq)
	}
	return h
}

// TestCreateRoundTrip tests the full create path: registry record,
// container spec, and the result handed to the caller
func TestCreateRoundTrip(t *testing.T) {
	h := newTestManager(t, nil)

	result, err := h.mgr.Create(context.Background(), "alice", "dvwa")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(result.Name, "dvwa-alice-"))
	assert.NotEmpty(t, result.Address)
	assert.Equal(t, 80, result.Port)
	assert.Equal(t, fmt.Sprintf("http://%s:80", result.Address), result.URL)
	assert.Equal(t, 4.0, result.TTLHours)

	lab, err := h.store.GetLab(result.Name)
	require.NoError(t, err)
	assert.Equal(t, types.InstanceRunning, lab.Status)
	assert.Equal(t, "alice", lab.Owner)
	assert.Equal(t, result.Address, lab.Address)

	spec, ok := h.driver.Spec(result.Name)
	require.True(t, ok)
	assert.Equal(t, "vulnerables/web-dvwa", spec.Image)
	assert.Equal(t, "ctf-isolated", spec.Network)
	assert.NotEmpty(t, spec.Tmpfs)
	assert.Equal(t, "alice", spec.Labels["labrange.owner"])
}

// TestCreateUnknownType tests the catalog miss path
func TestCreateUnknownType(t *testing.T) {
	h := newTestManager(t, nil)

	_, err := h.mgr.Create(context.Background(), "alice", "nonexistent")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrNotFound))
	// The denial lists what is available
	assert.Contains(t, err.Error(), "dvwa")
	assert.Zero(t, h.driver.CreateAttempts)
}

// TestOwnerQuota tests the per-owner ceiling against live labs
func TestOwnerQuota(t *testing.T) {
	h := newTestManager(t, nil)
	ctx := context.Background()

	for _, lt := range []string{"dvwa", "webgoat", "juice-shop"} {
		_, err := h.mgr.Create(ctx, "alice", lt)
		require.NoError(t, err)
	}

	_, err := h.mgr.Create(ctx, "alice", "crypto-lab")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrQuotaExceeded))

	var qe *types.QuotaError
	require.True(t, errors.As(err, &qe))
	assert.False(t, qe.Global)
	assert.Equal(t, 3, qe.Limit)
	assert.ElementsMatch(t, []string{"dvwa", "webgoat", "juice-shop"}, qe.Running)

	// Another owner is unaffected
	_, err = h.mgr.Create(ctx, "bob", "dvwa")
	assert.NoError(t, err)
}

// TestDeadLabFreesQuotaSlot tests that a container dying out of band
// does not hold a quota slot
func TestDeadLabFreesQuotaSlot(t *testing.T) {
	h := newTestManager(t, nil)
	ctx := context.Background()

	var names []string
	for _, lt := range []string{"dvwa", "webgoat", "juice-shop"} {
		result, err := h.mgr.Create(ctx, "alice", lt)
		require.NoError(t, err)
		names = append(names, result.Name)
	}

	h.driver.Kill(names[0])

	result, err := h.mgr.Create(ctx, "alice", "crypto-lab")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.Name, "crypto-lab-alice-"))

	// The dead lab was downgraded in the registry during the check
	lab, err := h.store.GetLab(names[0])
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStopped, lab.Status)
}

// TestGlobalQuota tests the host-wide ceiling
func TestGlobalQuota(t *testing.T) {
	h := newTestManager(t, func(cfg *config.Config) {
		cfg.Quota.MaxTotal = 2
	})
	ctx := context.Background()

	_, err := h.mgr.Create(ctx, "alice", "dvwa")
	require.NoError(t, err)
	_, err = h.mgr.Create(ctx, "bob", "webgoat")
	require.NoError(t, err)

	_, err = h.mgr.Create(ctx, "carol", "juice-shop")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrQuotaExceeded))

	var qe *types.QuotaError
	require.True(t, errors.As(err, &qe))
	assert.True(t, qe.Global)
	assert.Contains(t, qe.Error(), "capacity")
}

// TestCreateFailureLeavesNoRecord tests rollback when the engine refuses
// to create the container
func TestCreateFailureLeavesNoRecord(t *testing.T) {
	h := newTestManager(t, nil)
	h.driver.FailCreate = errors.New("image broken")

	_, err := h.mgr.Create(context.Background(), "alice", "dvwa")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrRuntimeFailure))

	labs, err := h.store.ListLabs()
	require.NoError(t, err)
	assert.Empty(t, labs)
}

// TestAddresslessCreateRollsBack tests that a container that never
// receives an address is torn down and reported distinctly
func TestAddresslessCreateRollsBack(t *testing.T) {
	h := newTestManager(t, nil)
	h.driver.WithholdAddr = true

	_, err := h.mgr.Create(context.Background(), "alice", "dvwa")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrRuntimeFailure))
	assert.Contains(t, err.Error(), "no network address")

	labs, err := h.store.ListLabs()
	require.NoError(t, err)
	assert.Empty(t, labs)
	assert.Zero(t, h.driver.ContainerCount())
}

// TestStop tests the stop transition and ownership enforcement
func TestStop(t *testing.T) {
	h := newTestManager(t, nil)
	ctx := context.Background()

	result, err := h.mgr.Create(ctx, "alice", "dvwa")
	require.NoError(t, err)

	err = h.mgr.Stop(ctx, "bob", result.Name)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrPermissionDenied))

	require.NoError(t, h.mgr.Stop(ctx, "alice", result.Name))

	lab, err := h.store.GetLab(result.Name)
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStopped, lab.Status)

	running, err := h.driver.IsRunning(ctx, result.Name)
	require.NoError(t, err)
	assert.False(t, running)
}

// TestDelete tests container removal and record erasure
func TestDelete(t *testing.T) {
	h := newTestManager(t, nil)
	ctx := context.Background()

	result, err := h.mgr.Create(ctx, "alice", "dvwa")
	require.NoError(t, err)

	err = h.mgr.Delete(ctx, "bob", result.Name)
	assert.True(t, errors.Is(err, types.ErrPermissionDenied))

	require.NoError(t, h.mgr.Delete(ctx, "alice", result.Name))

	_, err = h.store.GetLab(result.Name)
	assert.True(t, errors.Is(err, types.ErrNotFound))
	assert.Zero(t, h.driver.ContainerCount())

	err = h.mgr.Delete(ctx, "alice", result.Name)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

// TestStatus tests uptime and remaining-time reporting against the
// reconciled registry
func TestStatus(t *testing.T) {
	h := newTestManager(t, nil)
	ctx := context.Background()

	first, err := h.mgr.Create(ctx, "alice", "dvwa")
	require.NoError(t, err)
	second, err := h.mgr.Create(ctx, "alice", "webgoat")
	require.NoError(t, err)

	h.clock = h.clock.Add(time.Hour)
	h.driver.Kill(second.Name)

	reports, err := h.mgr.Status(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, first.Name, reports[0].Name)
	assert.InDelta(t, 1.0, reports[0].UptimeHours, 0.01)
	assert.InDelta(t, 3.0, reports[0].RemainingHours, 0.01)

	reports, err = h.mgr.Status(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, reports)
}

// TestAutoCleanupExpiresLabs tests TTL enforcement
func TestAutoCleanupExpiresLabs(t *testing.T) {
	h := newTestManager(t, nil)
	ctx := context.Background()

	expired, err := h.mgr.Create(ctx, "alice", "dvwa")
	require.NoError(t, err)

	h.clock = h.clock.Add(3 * time.Hour)
	fresh, err := h.mgr.Create(ctx, "bob", "webgoat")
	require.NoError(t, err)

	h.clock = h.clock.Add(90 * time.Minute)

	cleaned, err := h.mgr.AutoCleanup(ctx)
	require.NoError(t, err)
	require.Len(t, cleaned, 1)
	assert.Equal(t, expired.Name, cleaned[0].Name)
	assert.Equal(t, "alice", cleaned[0].Owner)
	assert.InDelta(t, 4.5, cleaned[0].UptimeHours, 0.01)

	_, err = h.store.GetLab(expired.Name)
	assert.True(t, errors.Is(err, types.ErrNotFound))
	_, err = h.store.GetLab(fresh.Name)
	assert.NoError(t, err)

	// A second sweep finds nothing
	cleaned, err = h.mgr.AutoCleanup(ctx)
	require.NoError(t, err)
	assert.Empty(t, cleaned)
}

// TestAutoCleanupPurgesDrift tests that records whose containers
// vanished out of band are purged by the sweep
func TestAutoCleanupPurgesDrift(t *testing.T) {
	h := newTestManager(t, nil)
	ctx := context.Background()

	result, err := h.mgr.Create(ctx, "alice", "dvwa")
	require.NoError(t, err)

	h.driver.Destroy(result.Name)

	cleaned, err := h.mgr.AutoCleanup(ctx)
	require.NoError(t, err)
	assert.Empty(t, cleaned)

	_, err = h.store.GetLab(result.Name)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

// TestForceCleanup tests operator teardown of one owner and of everyone
func TestForceCleanup(t *testing.T) {
	h := newTestManager(t, nil)
	ctx := context.Background()

	_, err := h.mgr.Create(ctx, "alice", "dvwa")
	require.NoError(t, err)
	_, err = h.mgr.Create(ctx, "alice", "webgoat")
	require.NoError(t, err)
	_, err = h.mgr.Create(ctx, "bob", "juice-shop")
	require.NoError(t, err)

	cleaned, err := h.mgr.ForceCleanup(ctx, "alice", "root")
	require.NoError(t, err)
	assert.Len(t, cleaned, 2)

	labs, err := h.store.ListLabs()
	require.NoError(t, err)
	require.Len(t, labs, 1)
	assert.Equal(t, "bob", labs[0].Owner)

	cleaned, err = h.mgr.ForceCleanup(ctx, "", "root")
	require.NoError(t, err)
	assert.Len(t, cleaned, 1)
	assert.Zero(t, h.driver.ContainerCount())
}

// TestServerStats tests the capacity report
func TestServerStats(t *testing.T) {
	h := newTestManager(t, nil)
	ctx := context.Background()

	_, err := h.mgr.Create(ctx, "alice", "dvwa")
	require.NoError(t, err)

	stats, err := h.mgr.ServerStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ActiveInstances)
	assert.Equal(t, 50, stats.MaxInstances)
	assert.NotEmpty(t, stats.CPUCores)
}

// TestStopByLabType tests resolving a bare lab type to the caller's own
// instance, the way the create command hands the type back to the user
func TestStopByLabType(t *testing.T) {
	h := newTestManager(t, nil)
	ctx := context.Background()

	mine, err := h.mgr.Create(ctx, "alice", "dvwa")
	require.NoError(t, err)
	other, err := h.mgr.Create(ctx, "bob", "dvwa")
	require.NoError(t, err)

	require.NoError(t, h.mgr.Stop(ctx, "alice", "dvwa"))

	lab, err := h.store.GetLab(mine.Name)
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStopped, lab.Status)

	// Another owner's same-type lab is untouched
	lab, err = h.store.GetLab(other.Name)
	require.NoError(t, err)
	assert.Equal(t, types.InstanceRunning, lab.Status)

	// No instance of the type for this owner
	err = h.mgr.Stop(ctx, "carol", "dvwa")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

// TestDeleteByLabType tests that delete resolves a lab type even after
// the instance was stopped
func TestDeleteByLabType(t *testing.T) {
	h := newTestManager(t, nil)
	ctx := context.Background()

	result, err := h.mgr.Create(ctx, "alice", "dvwa")
	require.NoError(t, err)
	require.NoError(t, h.mgr.Stop(ctx, "alice", "dvwa"))

	require.NoError(t, h.mgr.Delete(ctx, "alice", "dvwa"))

	_, err = h.store.GetLab(result.Name)
	assert.True(t, errors.Is(err, types.ErrNotFound))
	assert.Zero(t, h.driver.ContainerCount())
}

// TestDeleteStopsContainerFirst tests that removal is preceded by a stop
// so the workload gets its termination grace period
func TestDeleteStopsContainerFirst(t *testing.T) {
	h := newTestManager(t, nil)
	ctx := context.Background()

	result, err := h.mgr.Create(ctx, "alice", "dvwa")
	require.NoError(t, err)

	require.NoError(t, h.mgr.Delete(ctx, "alice", result.Name))
	assert.Equal(t, 1, h.driver.StopCalls)
	assert.Zero(t, h.driver.ContainerCount())
}

// TestStopRacingExpirySweep tests that a stop landing during the expiry
// sweep never resurrects a deleted registry record
func TestStopRacingExpirySweep(t *testing.T) {
	h := newTestManager(t, nil)
	ctx := context.Background()

	result, err := h.mgr.Create(ctx, "alice", "dvwa")
	require.NoError(t, err)
	h.clock = h.clock.Add(5 * time.Hour)

	done := make(chan error, 1)
	go func() {
		_, err := h.mgr.AutoCleanup(ctx)
		done <- err
	}()
	stopErr := h.mgr.Stop(ctx, "alice", result.Name)
	require.NoError(t, <-done)

	// The stop either won the race or found the record already swept
	if stopErr != nil {
		assert.True(t, errors.Is(stopErr, types.ErrNotFound))
	}

	// Whatever the interleaving, no registry record may outlive its
	// container
	labs, err := h.store.ListLabs()
	require.NoError(t, err)
	for _, lab := range labs {
		exists, err := h.driver.Exists(ctx, lab.Name)
		require.NoError(t, err)
		assert.True(t, exists, "record %s has no container", lab.Name)
	}
}

// TestInstanceNameSanitization tests owner names with characters Docker
// rejects
func TestInstanceNameSanitization(t *testing.T) {
	h := newTestManager(t, nil)

	result, err := h.mgr.Create(context.Background(), "Alice O'Malley!", "dvwa")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.Name, "dvwa-alice-o-malley-"))
}
