package reports

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/watchtowerbot/watchtower/internal/bot"
	"github.com/watchtowerbot/watchtower/internal/db"
	"github.com/watchtowerbot/watchtower/internal/policy"
	"github.com/watchtowerbot/watchtower/internal/risk"
)

const startMessage = "🛡 Watchtower activated!\n\n" +
	"I will monitor your groups for security risks.\n" +
	"Add me to your groups and make me an admin with appropriate permissions.\n\n" +
	"Available commands:\n" +
	"/start - Show this message\n" +
	"/report - Generate security report for this group\n" +
	"/groups - List all monitored groups\n" +
	"/scan - Perform live security scan of this group"

// Service answers the bot commands using the group state store. It never
// touches the platform SDK directly.
type Service struct {
	store  db.Store
	sink   bot.ActionSink
	window time.Duration
}

func NewService(store db.Store, sink bot.ActionSink, window time.Duration) *Service {
	return &Service{store: store, sink: sink, window: window}
}

func (s *Service) Handle(ctx context.Context, event bot.Event) error {
	switch event.Command {
	case "start":
		return s.sink.SendGroupMessage(ctx, event.Group.ID, startMessage)
	case "report":
		return s.Report(ctx, event.Group)
	case "groups":
		return s.Groups(ctx, event.Group.ID)
	case "scan":
		return s.Scan(ctx, event.Group)
	default:
		log.WithField("command", event.Command).Trace("ignoring unknown command")
		return nil
	}
}

// Report renders the 24h security report and re-derives the group status
// from the trailing high-risk alert count, persisting the result.
func (s *Service) Report(ctx context.Context, ref bot.GroupRef) error {
	group, err := s.store.GetGroup(ctx, ref.ID)
	if err != nil {
		if err == db.ErrNotFound {
			return s.sink.SendGroupMessage(ctx, ref.ID,
				"❌ This group is not being monitored yet. Make sure I'm added as admin.")
		}
		return err
	}

	since := time.Now().Add(-s.window)
	recentAlerts, err := s.store.RecentAlerts(ctx, ref.ID, since, 100)
	if err != nil {
		return err
	}
	activities, err := s.store.CountActivitiesSince(ctx, ref.ID, since)
	if err != nil {
		return err
	}

	highCount := 0
	for _, a := range recentAlerts {
		if risk.ParseLevel(a.RiskLevel) == risk.LevelHigh {
			highCount++
		}
	}
	var statusIcon string
	var status policy.GroupStatus
	switch {
	case highCount > 2:
		statusIcon, status = "🔴 HIGH RISK", policy.StatusHighRisk
	case highCount > 0:
		statusIcon, status = "🟡 MEDIUM RISK", policy.StatusWarning
	default:
		statusIcon, status = "🟢 SAFE", policy.StatusSafe
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 Security Report for: %s\n\n", group.Title)
	fmt.Fprintf(&b, "Total Members: %d\n", group.MemberCount)
	fmt.Fprintf(&b, "Activities (24h): %d\n", activities)
	fmt.Fprintf(&b, "Current Status: %s\n", statusIcon)
	fmt.Fprintf(&b, "Recent Alerts (24h): %d\n", len(recentAlerts))
	fmt.Fprintf(&b, "High Risk Alerts: %d\n\n", highCount)
	if len(recentAlerts) > 0 {
		b.WriteString("Recent Security Issues:\n")
		for i, a := range recentAlerts {
			if i >= 3 {
				break
			}
			fmt.Fprintf(&b, "• [%s] %s\n", a.CreatedAt.Format("15:04"), a.Kind)
		}
	} else {
		b.WriteString("✅ No recent security issues detected.\n")
	}

	group.Status = string(status)
	if err := s.store.UpsertGroup(ctx, group); err != nil {
		log.WithError(err).WithField("chat_id", ref.ID).Error("cant persist report status")
	}
	return s.sink.SendGroupMessage(ctx, ref.ID, b.String())
}

func (s *Service) Groups(ctx context.Context, replyTo int64) error {
	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		return s.sink.SendGroupMessage(ctx, replyTo, "📝 No groups are currently being monitored.")
	}

	var b strings.Builder
	b.WriteString("🛡 Monitored Groups:\n\n")
	totalMembers := 0
	atRisk := 0
	for _, group := range groups {
		icon := "🟢"
		switch policy.GroupStatus(group.Status) {
		case policy.StatusWarning:
			icon = "🟡"
		case policy.StatusHighRisk:
			icon = "🔴"
		}
		if policy.GroupStatus(group.Status) != policy.StatusSafe {
			atRisk++
		}
		fmt.Fprintf(&b, "%s %s\n", icon, group.Title)
		fmt.Fprintf(&b, "   Members: %d | Status: %s\n", group.MemberCount, group.Status)
		fmt.Fprintf(&b, "   ID: %d\n\n", group.ID)
		totalMembers += group.MemberCount
	}
	b.WriteString("📈 Summary:\n")
	fmt.Fprintf(&b, "Total Groups: %d\n", len(groups))
	fmt.Fprintf(&b, "Total Members: %d\n", totalMembers)
	fmt.Fprintf(&b, "Groups at Risk: %d\n", atRisk)

	return s.sink.SendGroupMessage(ctx, replyTo, b.String())
}

// Scan runs a live check of the group: trailing alert count plus a
// best-effort member count refresh, reported to the invoker and the
// operator. The scan itself is recorded as an activity.
func (s *Service) Scan(ctx context.Context, ref bot.GroupRef) error {
	if err := s.sink.SendGroupMessage(ctx, ref.ID, "🔍 Starting live security scan..."); err != nil {
		log.WithError(err).Debug("cant announce scan")
	}

	since := time.Now().Add(-s.window)
	var results []string

	alerts, err := s.store.CountAlertsSince(ctx, ref.ID, nil, since)
	if err != nil {
		return err
	}
	if alerts > 0 {
		results = append(results, fmt.Sprintf("⚠️ Found %d security alerts in last 24h", alerts))
	} else {
		results = append(results, "✅ No recent security alerts")
	}

	memberCount, err := s.sink.MemberCount(ctx, ref.ID)
	if err != nil {
		results = append(results, "👥 Could not retrieve member count")
	} else {
		results = append(results, fmt.Sprintf("👥 Group has %d members", memberCount))
	}

	now := time.Now()
	group, err := s.store.GetGroup(ctx, ref.ID)
	if err != nil {
		group = &db.Group{ID: ref.ID, Title: ref.Title, Type: ref.Type, Status: string(policy.StatusSafe), Active: true}
	}
	if memberCount > 0 {
		group.MemberCount = memberCount
	}
	group.LastScanAt = &now
	if err := s.store.UpsertGroup(ctx, group); err != nil {
		log.WithError(err).WithField("chat_id", ref.ID).Error("cant persist scan result")
	}
	if err := s.store.RecordActivity(ctx, &db.Activity{
		ChatID:    ref.ID,
		Kind:      db.ActivityScan,
		RiskLevel: string(risk.LevelNone),
		CreatedAt: now,
	}); err != nil {
		log.WithError(err).WithField("chat_id", ref.ID).Error("cant record scan activity")
	}

	report := fmt.Sprintf("🔍 Live Scan Results for: %s\n\n%s\n\nScan completed at: %s",
		ref.Title, strings.Join(results, "\n"), now.Format("2006-01-02 15:04:05"))
	if err := s.sink.SendGroupMessage(ctx, ref.ID, report); err != nil {
		return err
	}
	return s.sink.SendOperatorMessage(ctx, fmt.Sprintf("Live scan completed for %s", ref.Title))
}
