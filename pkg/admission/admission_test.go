package admission

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bagleyctf/labrange/pkg/config"
	"github.com/bagleyctf/labrange/pkg/events"
	"github.com/bagleyctf/labrange/pkg/storage"
	"github.com/bagleyctf/labrange/pkg/types"
)

func newTestGate(t *testing.T) (*Gate, storage.Store) {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	cfg.Access.SuperuserIDs = []int64{42}
	return NewGate(cfg, store, nil), store
}

// TestAdmitPipeline tests the happy path through all three stages
func TestAdmitPipeline(t *testing.T) {
	gate, _ := newTestGate(t)

	cleaned, warning, err := gate.Admit(Identity{Name: "alice", Roles: []string{"Operator"}}, "  dvwa  ")
	require.NoError(t, err)
	assert.Equal(t, "dvwa", cleaned)
	assert.Empty(t, warning)
}

// TestAdmitStageOrder tests that rejection at an earlier stage leaves
// later stages untouched
func TestAdmitStageOrder(t *testing.T) {
	gate, store := newTestGate(t)

	// Permission rejection: the rate limiter must not record the request
	_, _, err := gate.Admit(Identity{Name: "eve"}, "dvwa")
	assert.True(t, errors.Is(err, types.ErrPermissionDenied))

	entry, err := store.GetRateLimit("eve")
	require.NoError(t, err)
	assert.Empty(t, entry.Timestamps)

	// Sanitizer rejection: same, for an otherwise-permitted identity
	_, _, err = gate.Admit(Identity{Name: "alice", Roles: []string{"Operator"}}, "$(whoami)")
	assert.True(t, errors.Is(err, types.ErrValidation))

	entry, err = store.GetRateLimit("alice")
	require.NoError(t, err)
	assert.Empty(t, entry.Timestamps)
}

// TestAdmitRateLimitDenial tests the final stage wiring
func TestAdmitRateLimitDenial(t *testing.T) {
	gate, _ := newTestGate(t)

	id := Identity{Name: "mallory", Roles: []string{"Operator"}}
	for i := 0; i < 20; i++ {
		_, _, err := gate.Admit(id, "dvwa")
		require.NoError(t, err)
	}

	_, _, err := gate.Admit(id, "dvwa")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrRateLimited))
}

// TestAdmitCommand tests the argument-less variant
func TestAdmitCommand(t *testing.T) {
	gate, _ := newTestGate(t)

	_, err := gate.AdmitCommand(Identity{Name: "root", NumericID: 42})
	assert.NoError(t, err)

	_, err = gate.AdmitCommand(Identity{Name: "eve"})
	assert.True(t, errors.Is(err, types.ErrPermissionDenied))
}

func newBrokerGate(t *testing.T) (*Gate, events.Subscriber) {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	cfg := config.Default()
	cfg.Access.SuperuserIDs = []int64{42}
	return NewGate(cfg, store, broker), broker.Subscribe()
}

func waitEvent(t *testing.T, sub events.Subscriber) *events.Event {
	t.Helper()
	select {
	case event := <-sub:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return nil
	}
}

// TestRejectionsAnnounced tests that each rejecting stage publishes its
// event alongside the audit log
func TestRejectionsAnnounced(t *testing.T) {
	gate, sub := newBrokerGate(t)

	_, _, err := gate.Admit(Identity{Name: "eve"}, "dvwa")
	require.Error(t, err)
	event := waitEvent(t, sub)
	assert.Equal(t, events.EventAccessDenied, event.Type)
	assert.Equal(t, "eve", event.Owner)

	_, _, err = gate.Admit(Identity{Name: "alice", Roles: []string{"Operator"}}, "$(whoami)")
	require.Error(t, err)
	event = waitEvent(t, sub)
	assert.Equal(t, events.EventInputBlocked, event.Type)
	assert.Equal(t, "alice", event.Owner)

	// Admitted requests publish nothing, so the next event is the
	// rate-limit denial
	id := Identity{Name: "mallory", Roles: []string{"Operator"}}
	for i := 0; i < 20; i++ {
		_, _, err := gate.Admit(id, "dvwa")
		require.NoError(t, err)
	}
	_, _, err = gate.Admit(id, "dvwa")
	require.Error(t, err)
	event = waitEvent(t, sub)
	assert.Equal(t, events.EventRateLimited, event.Type)
	assert.Equal(t, "mallory", event.Owner)
}

// TestVerifyAnnouncesGrant tests that recording a grant publishes
// member.granted with the granting operator
func TestVerifyAnnouncesGrant(t *testing.T) {
	gate, sub := newBrokerGate(t)

	member := &types.VerifiedMember{
		Identity:   "alice",
		NumericID:  1234,
		GrantedBy:  "root",
		VerifiedAt: time.Now(),
	}
	require.NoError(t, gate.Verify(member))

	event := waitEvent(t, sub)
	assert.Equal(t, events.EventMemberGranted, event.Type)
	assert.Equal(t, "alice", event.Owner)
	assert.Contains(t, event.Message, "root")
}
