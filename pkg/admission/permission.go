package admission

import (
	"fmt"
	"strings"

	"github.com/bagleyctf/labrange/pkg/config"
	"github.com/bagleyctf/labrange/pkg/log"
	"github.com/bagleyctf/labrange/pkg/storage"
	"github.com/bagleyctf/labrange/pkg/types"
)

// Identity carries who is asking. Roles come from the chat platform and
// are passed in, never derived here.
type Identity struct {
	Name      string
	NumericID int64
	Roles     []string
}

// AccessDecision is the structured result of a permission check
type AccessDecision struct {
	Allowed   bool   `json:"allowed"`
	Superuser bool   `json:"admin,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message,omitempty"`
}

// PermissionChecker grants or denies access based on the superuser
// allow-list, the configured role set, and the persisted verified-member
// store.
type PermissionChecker struct {
	policy config.AccessPolicy
	store  storage.Store
}

// NewPermissionChecker creates a permission checker
func NewPermissionChecker(policy config.AccessPolicy, store storage.Store) *PermissionChecker {
	return &PermissionChecker{policy: policy, store: store}
}

// Check evaluates the identity against the access policy. Every decision
// is audit-logged with the identity and outcome.
func (p *PermissionChecker) Check(id Identity) AccessDecision {
	for _, su := range p.policy.SuperuserIDs {
		if id.NumericID != 0 && id.NumericID == su {
			log.Audit("ACCESS_GRANTED").
				Str("user", id.Name).
				Int64("id", id.NumericID).
				Bool("admin", true).
				Send()
			return AccessDecision{Allowed: true, Superuser: true}
		}
	}

	for _, role := range id.Roles {
		for _, allowed := range p.policy.AllowedRoles {
			if role == allowed {
				log.Audit("ACCESS_GRANTED").
					Str("user", id.Name).
					Str("role", role).
					Send()
				return AccessDecision{Allowed: true}
			}
		}
	}

	if p.isVerified(id) {
		log.Audit("ACCESS_GRANTED").
			Str("user", id.Name).
			Bool("verified", true).
			Send()
		return AccessDecision{Allowed: true}
	}

	log.AuditWarn("ACCESS_DENIED").
		Str("user", id.Name).
		Int64("id", id.NumericID).
		Str("roles", strings.Join(id.Roles, ",")).
		Send()
	return AccessDecision{
		Allowed: false,
		Reason:  "no_role",
		Message: p.policy.Remediation,
	}
}

// CheckErr is Check returning the taxonomy error on denial
func (p *PermissionChecker) CheckErr(id Identity) error {
	decision := p.Check(id)
	if decision.Allowed {
		return nil
	}
	return &types.PermissionError{
		Identity:    id.Name,
		Reason:      decision.Reason,
		Remediation: decision.Message,
	}
}

func (p *PermissionChecker) isVerified(id Identity) bool {
	if _, err := p.store.GetVerifiedMember(id.Name); err == nil {
		return true
	}
	if id.NumericID != 0 {
		key := fmt.Sprintf("%d", id.NumericID)
		if _, err := p.store.GetVerifiedMember(key); err == nil {
			return true
		}
	}
	return false
}

// Verify persists an out-of-band access grant so the member stays
// allowed even without the chat roles.
func (p *PermissionChecker) Verify(member *types.VerifiedMember) error {
	if err := p.store.PutVerifiedMember(member); err != nil {
		return fmt.Errorf("failed to persist verified member: %w", err)
	}
	log.Audit("MEMBER_VERIFIED").
		Str("user", member.Identity).
		Int64("id", member.NumericID).
		Str("granted_by", member.GrantedBy).
		Send()
	return nil
}
