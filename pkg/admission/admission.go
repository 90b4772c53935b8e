// Package admission gatekeeps every mutating request before it touches
// the lab registry or the container runtime: permission check, input
// sanitizer, then rate limiter, in that order. The request is rejected
// at the first failing stage with no side effects from later stages.
package admission

import (
	"github.com/bagleyctf/labrange/pkg/config"
	"github.com/bagleyctf/labrange/pkg/events"
	"github.com/bagleyctf/labrange/pkg/metrics"
	"github.com/bagleyctf/labrange/pkg/storage"
	"github.com/bagleyctf/labrange/pkg/types"
)

// Gate composes the three admission stages. Rejections are published on
// the event broker alongside the audit log.
type Gate struct {
	Permissions *PermissionChecker
	Limiter     *RateLimiter

	broker *events.Broker
}

// NewGate creates the admission gate over shared configuration and store
func NewGate(cfg *config.Config, store storage.Store, broker *events.Broker) *Gate {
	return &Gate{
		Permissions: NewPermissionChecker(cfg.Access, store),
		Limiter:     NewRateLimiter(cfg.RateLimit, store),
		broker:      broker,
	}
}

// Admit runs the full pipeline for a mutating request carrying one
// free-text argument. It returns the cleaned argument and an optional
// one-time rate warning to attach to the response.
func (g *Gate) Admit(id Identity, rawInput string) (cleaned, warning string, err error) {
	if err := g.Permissions.CheckErr(id); err != nil {
		metrics.AdmissionRejections.WithLabelValues("permission").Inc()
		g.notify(events.EventAccessDenied, id, err.Error())
		return "", "", err
	}

	cleaned, err = Sanitize(rawInput)
	if err != nil {
		metrics.AdmissionRejections.WithLabelValues("sanitizer").Inc()
		g.notify(events.EventInputBlocked, id, err.Error())
		return "", "", err
	}

	warning, err = g.Limiter.CheckErr(id.Name)
	if err != nil {
		metrics.AdmissionRejections.WithLabelValues("ratelimit").Inc()
		g.notify(events.EventRateLimited, id, err.Error())
		return "", "", err
	}

	return cleaned, warning, nil
}

// AdmitCommand runs the pipeline for a request carrying no free-text
// argument, skipping the sanitizer stage.
func (g *Gate) AdmitCommand(id Identity) (warning string, err error) {
	if err := g.Permissions.CheckErr(id); err != nil {
		metrics.AdmissionRejections.WithLabelValues("permission").Inc()
		g.notify(events.EventAccessDenied, id, err.Error())
		return "", err
	}

	warning, err = g.Limiter.CheckErr(id.Name)
	if err != nil {
		metrics.AdmissionRejections.WithLabelValues("ratelimit").Inc()
		g.notify(events.EventRateLimited, id, err.Error())
		return "", err
	}
	return warning, nil
}

// Verify records an out-of-band access grant and announces it
func (g *Gate) Verify(member *types.VerifiedMember) error {
	if err := g.Permissions.Verify(member); err != nil {
		return err
	}
	if g.broker != nil {
		g.broker.Publish(&events.Event{
			Type:    events.EventMemberGranted,
			Owner:   member.Identity,
			Message: "granted by " + member.GrantedBy,
		})
	}
	return nil
}

func (g *Gate) notify(t events.EventType, id Identity, msg string) {
	if g.broker == nil {
		return
	}
	g.broker.Publish(&events.Event{
		Type:    t,
		Owner:   id.Name,
		Message: msg,
	})
}
