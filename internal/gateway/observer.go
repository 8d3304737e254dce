package gateway

import (
	"context"
	"time"

	"github.com/ppiankov/cmdgate/internal/alert"
	"github.com/ppiankov/cmdgate/internal/approval"
	"github.com/ppiankov/cmdgate/internal/audit"
	"github.com/ppiankov/cmdgate/internal/authz"
	"github.com/ppiankov/cmdgate/internal/breakglass"
	"github.com/ppiankov/cmdgate/internal/logging"
	"github.com/ppiankov/cmdgate/internal/metrics"
	"github.com/ppiankov/cmdgate/internal/model"
)

// ObserverDeps are the optional sinks fed by every authorization decision.
type ObserverDeps struct {
	Approvals *approval.Store
	Alerts    *alert.Dispatcher
	Metrics   *metrics.Metrics
}

// DecisionObserver returns an authz.Observer that counts decisions, opens
// elevation requests for insufficient levels and dispatches alerts.
func DecisionObserver(deps ObserverDeps) authz.Observer {
	log := logging.Logger("gateway")
	return func(ctx context.Context, d authz.Decision) {
		deps.Metrics.ObserveDecision(d.Allowed, string(d.Kind))
		if d.Allowed {
			return
		}

		if d.Kind == authz.KindPermission && deps.Approvals != nil && d.Identity != "" {
			if _, err := deps.Approvals.Request(d.Identity, d.Method, d.IdentityLevel, d.RequiredLevel, d.Reason); err != nil {
				log.Warn("elevation request not recorded", "identity", d.Identity, "err", err)
			}
		}

		deps.Alerts.Dispatch(ctx, alertFor(d))
	}
}

func alertFor(d authz.Decision) alert.AlertEvent {
	ev := alert.AlertEvent{
		Timestamp:     nowString(),
		Identity:      d.Identity,
		Method:        d.Method,
		Decision:      audit.DecisionDeny,
		Reason:        d.Reason,
		RequiredLevel: int(d.RequiredLevel),
	}
	switch d.Kind {
	case authz.KindReplay:
		ev.Type = alert.TypeReplay
	case authz.KindStepUp:
		ev.Type = alert.TypeStepUpFailed
	case authz.KindRateLimit:
		ev.Type = alert.TypeRateLimited
	}
	if d.Allowed {
		ev.Decision = audit.DecisionAllow
	}
	return ev
}

// BreakglassAlert returns a callback that alerts on every consumed
// break-glass token.
func BreakglassAlert(d *alert.Dispatcher) func(*breakglass.Token) {
	return func(t *breakglass.Token) {
		d.Dispatch(context.Background(), alert.AlertEvent{
			Timestamp:     nowString(),
			Identity:      t.Identity,
			Method:        t.Method,
			Decision:      audit.DecisionAllow,
			Reason:        "break-glass: " + t.Reason,
			RequiredLevel: int(model.LevelRoot),
			Type:          alert.TypeBreakglassUsed,
		})
	}
}

func nowString() string {
	return time.Now().UTC().Format(audit.TimestampFormat)
}
