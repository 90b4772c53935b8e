package types

import (
	"time"
)

// LabType is a catalog entry describing a kind of sandbox that can be
// provisioned: the image to run, where it listens, and how tightly it is
// resource-bounded.
type LabType struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Image       string `yaml:"image" json:"image"`
	Category    string `yaml:"category" json:"category"`
	Difficulty  string `yaml:"difficulty" json:"difficulty"`
	Port        int    `yaml:"port" json:"port"`
	Description string `yaml:"description" json:"description"`

	// Tmpfs lists writable in-memory mounts granted to the otherwise
	// read-only container, e.g. "/tmp:rw,noexec,nosuid,size=50m".
	Tmpfs []string `yaml:"tmpfs" json:"tmpfs,omitempty"`
}

// LabInstance is one provisioned sandbox tied to a single owner and lab
// type. Instances are owned by the lifecycle manager and persisted in the
// registry; nothing else mutates them.
type LabInstance struct {
	Name      string         `json:"name"`
	Owner     string         `json:"owner"`
	LabType   string         `json:"lab_type"`
	Address   string         `json:"address"`
	Port      int            `json:"port"`
	Status    InstanceStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	StartedAt time.Time      `json:"started_at"`
}

// InstanceStatus represents the lifecycle state of a lab instance
type InstanceStatus string

const (
	InstanceCreated InstanceStatus = "created"
	InstanceRunning InstanceStatus = "running"
	InstanceStopped InstanceStatus = "stopped"
	InstanceFailed  InstanceStatus = "failed"
)

// QuotaPolicy bounds how many instances may run concurrently and how long
// any instance may live before forced expiry.
type QuotaPolicy struct {
	MaxPerOwner int           `yaml:"max_per_owner"`
	MaxTotal    int           `yaml:"max_total"`
	TTL         time.Duration `yaml:"ttl"`
}

// RateLimitEntry is the persisted sliding-window state for one requester.
// Created lazily on first request; timestamps older than the window are
// pruned on every check.
type RateLimitEntry struct {
	Timestamps   []time.Time `json:"timestamps"`
	BlockedUntil time.Time   `json:"blocked_until"`
	Warned       bool        `json:"warned"`
}

// VerifiedMember records an out-of-band access grant. The grant survives
// the member losing their chat roles.
type VerifiedMember struct {
	Identity   string    `json:"identity"`
	NumericID  int64     `json:"numeric_id"`
	GrantedBy  string    `json:"granted_by"`
	VerifiedAt time.Time `json:"verified_at"`
}

// ResourceProfile is the per-container resource ceiling applied at create
type ResourceProfile struct {
	MemoryBytes int64   `yaml:"memory_bytes"`
	CPUs        float64 `yaml:"cpus"`
	PidsLimit   int64   `yaml:"pids_limit"`
}

// CreateResult is returned to the caller after a successful create
type CreateResult struct {
	Name     string  `json:"lab_name"`
	Address  string  `json:"ip_address"`
	Port     int     `json:"port"`
	URL      string  `json:"url"`
	TTLHours float64 `json:"auto_cleanup_hours"`
}

// InstanceStatusReport is one row of a status() response
type InstanceStatusReport struct {
	Name           string  `json:"name"`
	LabType        string  `json:"type"`
	Address        string  `json:"ip"`
	Port           int     `json:"port"`
	UptimeHours    float64 `json:"uptime_hours"`
	RemainingHours float64 `json:"remaining_hours"`
}

// CleanedInstance describes one instance removed by an expiry sweep
type CleanedInstance struct {
	Name        string  `json:"name"`
	Owner       string  `json:"owner"`
	UptimeHours float64 `json:"uptime_hours"`
}

// HostStats summarizes host capacity as reported by the runtime driver
type HostStats struct {
	DockerDisk string `json:"docker_disk"`
	CPUCores   string `json:"cpu_cores"`
	Memory     string `json:"memory"`
	GPU        string `json:"gpu"`
}

// ServerStats is the read-only capacity report
type ServerStats struct {
	ActiveInstances int `json:"active_containers"`
	MaxInstances    int `json:"max_containers"`
	HostStats
}
