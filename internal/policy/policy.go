package policy

import (
	"time"

	"github.com/watchtowerbot/watchtower/internal/bot"
	"github.com/watchtowerbot/watchtower/internal/config"
	"github.com/watchtowerbot/watchtower/internal/risk"
)

// GroupStatus is the persisted per-group state machine value. It always
// reflects the latest assessed level; there is no smoothing or hysteresis.
type GroupStatus string

const (
	StatusSafe     GroupStatus = "safe"
	StatusWarning  GroupStatus = "warning"
	StatusHighRisk GroupStatus = "high_risk"
)

// NextStatus maps the latest risk level onto the group status. Downgrades
// are immediate, matching the live status display.
func NextStatus(level risk.Level) GroupStatus {
	switch level {
	case risk.LevelHigh:
		return StatusHighRisk
	case risk.LevelMedium:
		return StatusWarning
	default:
		return StatusSafe
	}
}

type ActionTaken string

const (
	ActionNone             ActionTaken = "none"
	ActionDeleted          ActionTaken = "deleted"
	ActionRestricted       ActionTaken = "restricted"
	ActionBanned           ActionTaken = "banned"
	ActionFailedPermission ActionTaken = "failed_insufficient_permission"
	ActionFailedPlatform   ActionTaken = "failed_platform_error"
)

const (
	EscalationBan      = "ban"
	EscalationRestrict = "restrict"

	MediumActionDelete   = "delete"
	MediumActionRestrict = "restrict"
)

type (
	// Decision is the per-event outcome of the policy, before any platform
	// call is attempted. PermissionDenied marks the alert-only degradation
	// path; it is a branch, not an error.
	Decision struct {
		Delete           bool
		Restrict         bool
		Ban              bool
		IncrementWarning bool
		Alert            bool
		PermissionDenied bool
	}

	Engine struct {
		cfg           config.Policy
		reportAtLevel risk.Level
	}
)

func NewEngine(cfg config.Policy) *Engine {
	return &Engine{
		cfg:           cfg,
		reportAtLevel: risk.ParseLevel(cfg.ReportingLevel),
	}
}

func (e *Engine) RestrictDuration() time.Duration {
	return e.cfg.RestrictDuration
}

// Decide maps a risk level, the bot's rights and the sender's prior warning
// count onto concrete actions. priorWarnings is the count before this event;
// the engine increments it afterwards when IncrementWarning is set.
func (e *Engine) Decide(level risk.Level, perms bot.Permissions, priorWarnings int) Decision {
	d := Decision{
		Alert: risk.Rank(level) >= risk.Rank(e.reportAtLevel),
	}

	switch level {
	case risk.LevelHigh:
		if !perms.IsAdmin || !perms.CanDelete {
			d.PermissionDenied = true
			return d
		}
		d.Delete = true
		d.IncrementWarning = true
		if priorWarnings+1 > e.cfg.WarningsBeforeBan && perms.CanRestrict {
			if e.cfg.HighEscalation == EscalationBan {
				d.Ban = true
			} else {
				d.Restrict = true
			}
		}
	case risk.LevelMedium:
		if !perms.IsAdmin {
			d.PermissionDenied = true
			return d
		}
		d.IncrementWarning = true
		if e.cfg.MediumAction == MediumActionDelete && perms.CanDelete {
			d.Delete = true
		} else if perms.CanRestrict {
			d.Restrict = true
		} else if perms.CanDelete {
			d.Delete = true
		} else {
			d.IncrementWarning = false
			d.PermissionDenied = true
		}
	}
	return d
}
