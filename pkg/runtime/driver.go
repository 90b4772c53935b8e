package runtime

import (
	"context"

	"github.com/bagleyctf/labrange/pkg/types"
)

// CreateSpec describes one lab container to launch
type CreateSpec struct {
	Name      string
	Image     string
	Network   string
	Port      int
	Resources types.ResourceProfile

	// Tmpfs entries are "path:options" writable in-memory mounts
	// carved out of the read-only root filesystem.
	Tmpfs []string

	Labels map[string]string
}

// Driver executes container engine operations on behalf of the
// lifecycle controller. Every call honors the context deadline; the
// controller treats a deadline hit like any other driver failure and
// persists nothing as running.
type Driver interface {
	// EnsureNetwork idempotently creates the isolated lab network. On
	// first creation it also installs an egress drop toward the
	// protected range.
	EnsureNetwork(ctx context.Context, name, subnet, protectedRange string) error

	// CreateLab launches a lab container and returns its engine id
	CreateLab(ctx context.Context, spec CreateSpec) (string, error)

	// InstanceAddress returns the container's address on the lab
	// network, or "" when none is assigned.
	InstanceAddress(ctx context.Context, name string) (string, error)

	// IsRunning reports whether the container is actively running.
	// A missing container is simply not running.
	IsRunning(ctx context.Context, name string) (bool, error)

	// Exists reports whether the engine knows the container at all
	Exists(ctx context.Context, name string) (bool, error)

	// Stop gracefully stops a running container
	Stop(ctx context.Context, name string) error

	// Remove force-removes a container
	Remove(ctx context.Context, name string) error

	// HostStats returns host capacity summaries for server_stats
	HostStats(ctx context.Context) (types.HostStats, error)

	// Close releases the engine connection
	Close() error
}
