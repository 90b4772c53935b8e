package storage

import (
	"github.com/bagleyctf/labrange/pkg/types"
)

// Store is the persistence boundary for orchestrator state: the lab
// registry, rate-limiter windows, and out-of-band access grants. All
// stores tolerate absence (treated as empty) and tolerate unreadable
// records by skipping them rather than failing the read.
type Store interface {
	// Lab registry
	PutLab(lab *types.LabInstance) error
	GetLab(name string) (*types.LabInstance, error)
	ListLabs() ([]*types.LabInstance, error)
	ListLabsByOwner(owner string) ([]*types.LabInstance, error)
	DeleteLab(name string) error

	// Rate limiter state
	GetRateLimit(identity string) (*types.RateLimitEntry, error)
	PutRateLimit(identity string, entry *types.RateLimitEntry) error

	// Verified members
	PutVerifiedMember(member *types.VerifiedMember) error
	GetVerifiedMember(identity string) (*types.VerifiedMember, error)
	ListVerifiedMembers() ([]*types.VerifiedMember, error)

	// Utility
	Close() error
}
