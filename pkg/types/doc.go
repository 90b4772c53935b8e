/*
Package types defines the core data structures shared across labrange.

This package contains the domain model for lab orchestration: catalog
entries, provisioned instances and their lifecycle states, quota and
resource policies, rate-limiter state, verified-member grants, and the
result shapes returned by the lifecycle controller. All other packages
depend on types; types depends on nothing but the standard library.

# Error Taxonomy

The package also defines the sentinel errors every failure is classified
into (ErrValidation, ErrPermissionDenied, ErrQuotaExceeded, ErrNotFound,
ErrRuntimeFailure, ErrTimeout, ErrRateLimited, ErrPersistenceCorrupt)
plus the structured wrappers that carry denial context. Call sites wrap
sentinels with %w so callers classify with errors.Is instead of parsing
messages.

# Usage

	lab := &types.LabInstance{
		Name:    "dvwa-alice-3f2a91c4",
		Owner:   "alice",
		LabType: "dvwa",
		Status:  types.InstanceCreated,
	}
*/
package types
