package manager

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bagleyctf/labrange/pkg/catalog"
	"github.com/bagleyctf/labrange/pkg/config"
	"github.com/bagleyctf/labrange/pkg/events"
	"github.com/bagleyctf/labrange/pkg/log"
	"github.com/bagleyctf/labrange/pkg/metrics"
	"github.com/bagleyctf/labrange/pkg/reconciler"
	"github.com/bagleyctf/labrange/pkg/runtime"
	"github.com/bagleyctf/labrange/pkg/storage"
	"github.com/bagleyctf/labrange/pkg/types"
)

// Manager is the lifecycle controller. It is the only writer of the lab
// registry: every create, stop, delete, and sweep flows through here, so
// quota decisions and state transitions are always made against
// reconciled registry state.
type Manager struct {
	cfg     *config.Config
	catalog *catalog.Catalog
	store   storage.Store
	driver  runtime.Driver
	recon   *reconciler.Reconciler
	broker  *events.Broker

	// createMu serializes the global capacity check against the record
	// insert that reserves the slot
	createMu sync.Mutex

	mu         sync.Mutex
	ownerLocks map[string]*sync.Mutex

	// replaceable in tests
	now   func() time.Time
	newID func() string
}

// NewManager creates the lifecycle controller
func NewManager(cfg *config.Config, cat *catalog.Catalog, store storage.Store, driver runtime.Driver, broker *events.Broker) *Manager {
	return &Manager{
		cfg:        cfg,
		catalog:    cat,
		store:      store,
		driver:     driver,
		recon:      reconciler.NewReconciler(store, driver, cfg.Timeouts.Inspect, broker),
		broker:     broker,
		ownerLocks: make(map[string]*sync.Mutex),
		now:        time.Now,
		newID:      func() string { return uuid.NewString()[:8] },
	}
}

func (m *Manager) lockFor(owner string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.ownerLocks[owner]
	if !ok {
		l = &sync.Mutex{}
		m.ownerLocks[owner] = l
	}
	return l
}

var nameSanitizer = regexp.MustCompile(`[^a-z0-9-]+`)

// instanceName builds a unique container name from the lab type, the
// owner, and a short random disambiguator.
func (m *Manager) instanceName(labType, owner string) string {
	clean := nameSanitizer.ReplaceAllString(strings.ToLower(owner), "-")
	clean = strings.Trim(clean, "-")
	if clean == "" {
		clean = "user"
	}
	return fmt.Sprintf("%s-%s-%s", labType, clean, m.newID())
}

// confirmedRunning reconciles the given labs against the engine and
// returns those still running.
func (m *Manager) confirmedRunning(ctx context.Context, labs []*types.LabInstance) []*types.LabInstance {
	var running []*types.LabInstance
	for _, lab := range labs {
		alive, err := m.recon.ConfirmRunning(ctx, lab)
		if err != nil {
			log.Errorf("failed to reconcile lab", err)
			continue
		}
		if alive {
			running = append(running, lab)
		}
	}
	return running
}

// Create provisions a new lab instance for owner. Quota is checked
// against reconciled state under the owner's lock, so a dead container
// never holds a slot and concurrent creates by one owner serialize.
func (m *Manager) Create(ctx context.Context, owner, labTypeID string) (*types.CreateResult, error) {
	lt, ok := m.catalog.Get(labTypeID)
	if !ok {
		return nil, fmt.Errorf("unknown lab type %q, available: %s: %w",
			labTypeID, strings.Join(m.catalog.IDs(), ", "), types.ErrNotFound)
	}

	l := m.lockFor(owner)
	l.Lock()
	defer l.Unlock()

	owned, err := m.store.ListLabsByOwner(owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list labs for %s: %w", owner, err)
	}
	running := m.confirmedRunning(ctx, owned)
	if len(running) >= m.cfg.Quota.MaxPerOwner {
		var kinds []string
		for _, lab := range running {
			kinds = append(kinds, lab.LabType)
		}
		metrics.QuotaDenials.WithLabelValues("owner").Inc()
		return nil, &types.QuotaError{Owner: owner, Limit: m.cfg.Quota.MaxPerOwner, Running: kinds}
	}

	// Reserve the slot: the created record counts against global
	// capacity from the moment it is persisted.
	lab := &types.LabInstance{
		Owner:     owner,
		LabType:   lt.ID,
		Port:      lt.Port,
		Status:    types.InstanceCreated,
		CreatedAt: m.now(),
	}

	m.createMu.Lock()
	all, err := m.store.ListLabs()
	if err != nil {
		m.createMu.Unlock()
		return nil, fmt.Errorf("failed to list labs: %w", err)
	}
	total := 0
	for _, existing := range all {
		if existing.Status == types.InstanceRunning || existing.Status == types.InstanceCreated {
			total++
		}
	}
	if total >= m.cfg.Quota.MaxTotal {
		m.createMu.Unlock()
		metrics.QuotaDenials.WithLabelValues("global").Inc()
		return nil, &types.QuotaError{Owner: owner, Limit: m.cfg.Quota.MaxTotal, Global: true}
	}

	for attempt := 0; attempt < 5; attempt++ {
		name := m.instanceName(lt.ID, owner)
		if _, err := m.store.GetLab(name); errors.Is(err, types.ErrNotFound) {
			lab.Name = name
			break
		}
	}
	if lab.Name == "" {
		m.createMu.Unlock()
		return nil, fmt.Errorf("failed to allocate a unique instance name for %s", owner)
	}
	if err := m.store.PutLab(lab); err != nil {
		m.createMu.Unlock()
		return nil, fmt.Errorf("failed to persist lab record: %w", err)
	}
	m.createMu.Unlock()

	result, err := m.launch(ctx, lab, lt)
	if err != nil {
		// The reservation must not outlive a failed launch
		if delErr := m.store.DeleteLab(lab.Name); delErr != nil {
			log.Errorf("failed to roll back lab record", delErr)
		}
		return nil, err
	}
	return result, nil
}

// launch drives the container engine for a reserved record and promotes
// it to running.
func (m *Manager) launch(ctx context.Context, lab *types.LabInstance, lt types.LabType) (*types.CreateResult, error) {
	netCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeouts.Create)
	err := m.driver.EnsureNetwork(netCtx, m.cfg.Network.Name, m.cfg.Network.Subnet, m.cfg.Network.ProtectedRange)
	cancel()
	if err != nil {
		return nil, m.driverErr("ensure_network", err)
	}

	spec := runtime.CreateSpec{
		Name:      lab.Name,
		Image:     lt.Image,
		Network:   m.cfg.Network.Name,
		Port:      lt.Port,
		Resources: m.cfg.Resources,
		Tmpfs:     lt.Tmpfs,
		Labels: map[string]string{
			"labrange.owner": lab.Owner,
			"labrange.type":  lab.LabType,
		},
	}

	createCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeouts.Create)
	timer := metrics.NewTimer()
	_, err = m.driver.CreateLab(createCtx, spec)
	timer.ObserveDriverCall("create")
	cancel()
	if err != nil {
		return nil, m.driverErr("create", err)
	}

	inspectCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeouts.Inspect)
	addr, err := m.driver.InstanceAddress(inspectCtx, lab.Name)
	cancel()
	if err != nil {
		m.forceRemove(ctx, lab.Name)
		return nil, m.driverErr("inspect", err)
	}
	if addr == "" {
		// A lab nobody can reach is worse than no lab. Tear it down and
		// report the distinct failure.
		m.forceRemove(ctx, lab.Name)
		log.Audit("LAB_NO_ADDRESS").
			Str("lab", lab.Name).
			Str("owner", lab.Owner).
			Send()
		return nil, fmt.Errorf("lab %s started but received no network address: %w", lab.Name, types.ErrRuntimeFailure)
	}

	lab.Address = addr
	lab.StartedAt = m.now()
	if err := transition(lab, types.InstanceRunning); err != nil {
		return nil, err
	}
	if err := m.store.PutLab(lab); err != nil {
		return nil, fmt.Errorf("failed to persist lab record: %w", err)
	}

	metrics.LabsStarted.WithLabelValues(lab.LabType).Inc()
	metrics.LabsRunning.Inc()
	log.Audit("LAB_STARTED").
		Str("lab", lab.Name).
		Str("owner", lab.Owner).
		Str("type", lab.LabType).
		Str("address", addr).
		Send()
	m.publish(events.EventLabCreated, lab, "")

	return &types.CreateResult{
		Name:     lab.Name,
		Address:  addr,
		Port:     lab.Port,
		URL:      fmt.Sprintf("http://%s:%d", addr, lab.Port),
		TTLHours: m.cfg.Quota.TTL.Hours(),
	}, nil
}

// Stop stops a running lab owned by the caller. The reference may be
// the instance name or a lab type the owner has running. The owner lock
// keeps the registry write from racing a cleanup sweep.
func (m *Manager) Stop(ctx context.Context, owner, ref string) error {
	l := m.lockFor(owner)
	l.Lock()
	defer l.Unlock()

	lab, err := m.ownedLab(owner, ref)
	if err != nil {
		return err
	}

	stopCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeouts.Stop)
	timer := metrics.NewTimer()
	err = m.driver.Stop(stopCtx, lab.Name)
	timer.ObserveDriverCall("stop")
	cancel()
	if err != nil {
		return m.driverErr("stop", err)
	}

	wasRunning := lab.Status == types.InstanceRunning
	if err := transition(lab, types.InstanceStopped); err != nil {
		return err
	}
	if err := m.store.PutLab(lab); err != nil {
		return fmt.Errorf("failed to persist lab record: %w", err)
	}
	if wasRunning {
		metrics.LabsRunning.Dec()
	}
	log.Audit("LAB_STOPPED").
		Str("lab", lab.Name).
		Str("owner", owner).
		Send()
	m.publish(events.EventLabStopped, lab, "")
	return nil
}

// Delete stops a lab if it is running, removes its container, and
// erases its registry record. The reference may be the instance name or
// a lab type the owner has provisioned. The record is retained when
// removal fails so the delete can be retried.
func (m *Manager) Delete(ctx context.Context, owner, ref string) error {
	l := m.lockFor(owner)
	l.Lock()
	defer l.Unlock()

	lab, err := m.ownedLab(owner, ref)
	if err != nil {
		return err
	}

	if err := m.teardown(ctx, lab, "deleted"); err != nil {
		return err
	}
	log.Audit("LAB_DELETED").
		Str("lab", lab.Name).
		Str("owner", lab.Owner).
		Send()
	m.publish(events.EventLabDeleted, lab, "")
	return nil
}

// Status reports the caller's labs after confirming each against the
// engine, so a crashed container never shows as running.
func (m *Manager) Status(ctx context.Context, owner string) ([]types.InstanceStatusReport, error) {
	owned, err := m.store.ListLabsByOwner(owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list labs for %s: %w", owner, err)
	}

	now := m.now()
	var reports []types.InstanceStatusReport
	for _, lab := range m.confirmedRunning(ctx, owned) {
		uptime := now.Sub(lab.StartedAt)
		remaining := m.cfg.Quota.TTL - uptime
		if remaining < 0 {
			remaining = 0
		}
		reports = append(reports, types.InstanceStatusReport{
			Name:           lab.Name,
			LabType:        lab.LabType,
			Address:        lab.Address,
			Port:           lab.Port,
			UptimeHours:    uptime.Hours(),
			RemainingHours: remaining.Hours(),
		})
	}
	return reports, nil
}

// List returns every registry entry, unreconciled
func (m *Manager) List() ([]*types.LabInstance, error) {
	return m.store.ListLabs()
}

// AutoCleanup removes every lab past its TTL and purges registry
// entries whose containers are gone. Safe to run concurrently with
// itself; a lab already removed by a racing sweep is skipped.
func (m *Manager) AutoCleanup(ctx context.Context) ([]types.CleanedInstance, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SweepDuration)
	metrics.SweepsTotal.Inc()

	labs, err := m.store.ListLabs()
	if err != nil {
		return nil, fmt.Errorf("failed to list labs: %w", err)
	}

	now := m.now()
	var cleaned []types.CleanedInstance
	for _, lab := range labs {
		if lab.Status != types.InstanceRunning {
			continue
		}
		uptime := now.Sub(lab.StartedAt)
		if uptime < m.cfg.Quota.TTL {
			continue
		}
		if err := m.lockedTeardown(ctx, lab, "expired", true); err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			log.Errorf("failed to clean up expired lab", err)
			continue
		}
		cleaned = append(cleaned, types.CleanedInstance{
			Name:        lab.Name,
			Owner:       lab.Owner,
			UptimeHours: uptime.Hours(),
		})
		log.Audit("AUTO_CLEANUP").
			Str("lab", lab.Name).
			Str("owner", lab.Owner).
			Float64("uptime_hours", uptime.Hours()).
			Send()
		m.publish(events.EventLabExpired, lab, "ttl expired")
	}

	purged, err := m.recon.Sweep(ctx)
	if err != nil {
		log.Errorf("failed to sweep stale registry entries", err)
	}
	for range purged {
		metrics.LabsCleaned.WithLabelValues("drift").Inc()
	}

	return cleaned, nil
}

// ForceCleanup removes all of one owner's labs regardless of state, or
// every lab when owner is empty. Operator-only; callers gate this.
func (m *Manager) ForceCleanup(ctx context.Context, owner, requestedBy string) ([]types.CleanedInstance, error) {
	var labs []*types.LabInstance
	var err error
	if owner == "" {
		labs, err = m.store.ListLabs()
	} else {
		labs, err = m.store.ListLabsByOwner(owner)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list labs: %w", err)
	}

	now := m.now()
	var cleaned []types.CleanedInstance
	for _, lab := range labs {
		if err := m.lockedTeardown(ctx, lab, "forced", false); err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			log.Errorf("failed to force-clean lab", err)
			continue
		}
		cleaned = append(cleaned, types.CleanedInstance{
			Name:        lab.Name,
			Owner:       lab.Owner,
			UptimeHours: now.Sub(lab.StartedAt).Hours(),
		})
		log.Audit("FORCE_CLEANUP").
			Str("lab", lab.Name).
			Str("owner", lab.Owner).
			Str("requested_by", requestedBy).
			Send()
		m.publish(events.EventLabForced, lab, "forced by "+requestedBy)
	}
	return cleaned, nil
}

// ServerStats reports current capacity usage plus host resource info
func (m *Manager) ServerStats(ctx context.Context) (*types.ServerStats, error) {
	labs, err := m.store.ListLabs()
	if err != nil {
		return nil, fmt.Errorf("failed to list labs: %w", err)
	}
	active := 0
	for _, lab := range labs {
		if lab.Status == types.InstanceRunning {
			active++
		}
	}

	host, err := m.driver.HostStats(ctx)
	if err != nil {
		log.Errorf("failed to collect host stats", err)
	}
	return &types.ServerStats{
		ActiveInstances: active,
		MaxInstances:    m.cfg.Quota.MaxTotal,
		HostStats:       host,
	}, nil
}

// lockedTeardown re-reads the record under the owner lock before
// tearing it down, so a sweep never undoes a racing stop or delete.
// When requireRunning is set, a record no longer running is reported as
// absent rather than torn down.
func (m *Manager) lockedTeardown(ctx context.Context, lab *types.LabInstance, reason string, requireRunning bool) error {
	l := m.lockFor(lab.Owner)
	l.Lock()
	defer l.Unlock()

	current, err := m.store.GetLab(lab.Name)
	if err != nil {
		return err
	}
	if requireRunning && current.Status != types.InstanceRunning {
		return fmt.Errorf("lab %s no longer running: %w", lab.Name, types.ErrNotFound)
	}
	return m.teardown(ctx, current, reason)
}

// teardown stops and removes one lab's container and erases its record
func (m *Manager) teardown(ctx context.Context, lab *types.LabInstance, reason string) error {
	stopCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeouts.Stop)
	err := m.driver.Stop(stopCtx, lab.Name)
	cancel()
	if err != nil {
		log.Errorf("failed to stop lab during teardown", err)
	}

	removeCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeouts.Remove)
	err = m.driver.Remove(removeCtx, lab.Name)
	cancel()
	if err != nil {
		return m.driverErr("remove", err)
	}

	if lab.Status == types.InstanceRunning {
		metrics.LabsRunning.Dec()
	}
	if err := m.store.DeleteLab(lab.Name); err != nil {
		return fmt.Errorf("failed to delete lab record: %w", err)
	}
	metrics.LabsCleaned.WithLabelValues(reason).Inc()
	return nil
}

// forceRemove is best-effort cleanup of a container that never became
// usable; a fresh timeout is used because the caller's may be spent.
func (m *Manager) forceRemove(ctx context.Context, name string) {
	removeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.Timeouts.Remove)
	defer cancel()
	if err := m.driver.Remove(removeCtx, name); err != nil {
		log.Errorf("failed to remove unusable lab container", err)
	}
}

// ownedLab resolves ref, an instance name or a lab type, to one of the
// owner's labs and verifies ownership. Type resolution prefers a
// running instance. An empty owner bypasses the ownership check for
// operator paths and resolves by name only. Callers hold the owner
// lock.
func (m *Manager) ownedLab(owner, ref string) (*types.LabInstance, error) {
	lab, err := m.store.GetLab(ref)
	if err == nil {
		if owner != "" && lab.Owner != owner {
			return nil, fmt.Errorf("lab %s belongs to another user: %w", ref, types.ErrPermissionDenied)
		}
		return lab, nil
	}
	if !errors.Is(err, types.ErrNotFound) || owner == "" {
		return nil, err
	}

	owned, listErr := m.store.ListLabsByOwner(owner)
	if listErr != nil {
		return nil, fmt.Errorf("failed to list labs for %s: %w", owner, listErr)
	}
	var fallback *types.LabInstance
	for _, candidate := range owned {
		if candidate.LabType != ref {
			continue
		}
		if candidate.Status == types.InstanceRunning {
			return candidate, nil
		}
		if fallback == nil {
			fallback = candidate
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, err
}

// driverErr classifies a runtime driver failure into the taxonomy
func (m *Manager) driverErr(op string, err error) error {
	metrics.DriverFailures.WithLabelValues(op).Inc()
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s exceeded its deadline: %w", op, types.ErrTimeout)
	}
	return fmt.Errorf("%s failed: %w: %v", op, types.ErrRuntimeFailure, err)
}

func (m *Manager) publish(t events.EventType, lab *types.LabInstance, msg string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{
		Type:     t,
		Owner:    lab.Owner,
		Instance: lab.Name,
		Message:  msg,
		Metadata: map[string]string{"lab_type": lab.LabType},
	})
}
