package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/bagleyctf/labrange/pkg/events"
	"github.com/bagleyctf/labrange/pkg/log"
	"github.com/bagleyctf/labrange/pkg/runtime"
	"github.com/bagleyctf/labrange/pkg/storage"
	"github.com/bagleyctf/labrange/pkg/types"
)

// Reconciler corrects registry drift against runtime truth. A registry
// entry is believed running only until the engine contradicts it; a
// negative or erroring liveness response is authoritative. This is what
// keeps quota from leaking when a sandbox dies outside the
// orchestrator's control.
type Reconciler struct {
	store          storage.Store
	driver         runtime.Driver
	inspectTimeout time.Duration
	broker         *events.Broker
}

// NewReconciler creates a reconciler over the given store and driver
func NewReconciler(store storage.Store, driver runtime.Driver, inspectTimeout time.Duration, broker *events.Broker) *Reconciler {
	return &Reconciler{
		store:          store,
		driver:         driver,
		inspectTimeout: inspectTimeout,
		broker:         broker,
	}
}

// ConfirmRunning checks one registry entry against the engine. If the
// entry claims running but the engine disagrees, the entry is
// downgraded to stopped and the correction persisted before returning.
func (r *Reconciler) ConfirmRunning(ctx context.Context, lab *types.LabInstance) (bool, error) {
	if lab.Status != types.InstanceRunning {
		return false, nil
	}

	inspectCtx, cancel := context.WithTimeout(ctx, r.inspectTimeout)
	defer cancel()

	running, err := r.driver.IsRunning(inspectCtx, lab.Name)
	if err != nil {
		// An erroring response is treated the same as "not running"
		logger := log.WithComponent("reconciler")
		logger.Warn().
			Err(err).
			Str("lab", lab.Name).
			Msg("liveness query failed, downgrading")
		running = false
	}
	if running {
		return true, nil
	}

	lab.Status = types.InstanceStopped
	if err := r.store.PutLab(lab); err != nil {
		return false, fmt.Errorf("failed to persist downgrade of %s: %w", lab.Name, err)
	}
	log.Audit("LAB_RECONCILED").
		Str("lab", lab.Name).
		Str("owner", lab.Owner).
		Send()
	if r.broker != nil {
		r.broker.Publish(&events.Event{
			Type:     events.EventLabReconciled,
			Owner:    lab.Owner,
			Instance: lab.Name,
			Message:  "downgraded to stopped",
		})
	}
	return false, nil
}

// Sweep purges registry entries whose containers no longer exist in the
// engine, regardless of recorded status. Returns the purged names.
func (r *Reconciler) Sweep(ctx context.Context) ([]string, error) {
	labs, err := r.store.ListLabs()
	if err != nil {
		return nil, fmt.Errorf("failed to list labs: %w", err)
	}

	var purged []string
	for _, lab := range labs {
		inspectCtx, cancel := context.WithTimeout(ctx, r.inspectTimeout)
		exists, err := r.driver.Exists(inspectCtx, lab.Name)
		cancel()
		if err != nil {
			// Engine unreachable; leave the entry for the next sweep
			continue
		}
		if exists {
			continue
		}
		if err := r.store.DeleteLab(lab.Name); err != nil {
			log.Errorf("failed to purge stale lab entry", err)
			continue
		}
		purged = append(purged, lab.Name)
	}
	return purged, nil
}
