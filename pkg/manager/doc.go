// Package manager implements the lab lifecycle controller: provisioning
// against quota, stop and delete on demand, TTL expiry sweeps, and
// forced cleanup. It is the single writer of the lab registry.
package manager
