package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/watchtowerbot/watchtower/internal/alert"
	"github.com/watchtowerbot/watchtower/internal/bot"
	"github.com/watchtowerbot/watchtower/internal/config"
	"github.com/watchtowerbot/watchtower/internal/db"
	"github.com/watchtowerbot/watchtower/internal/detect"
	"github.com/watchtowerbot/watchtower/internal/observability"
	"github.com/watchtowerbot/watchtower/internal/policy"
	"github.com/watchtowerbot/watchtower/internal/reports"
	"github.com/watchtowerbot/watchtower/internal/risk"
)

const alertKindMessageRisk = "message_risk"

// Engine runs the assessment pipeline. Events are partitioned by group ID
// so same-group events are processed in order while different groups run in
// parallel.
type Engine struct {
	source     bot.MessageSource
	sink       bot.ActionSink
	store      db.Store
	detector   *detect.Detector
	scorer     *risk.Scorer
	policy     *policy.Engine
	dispatcher *alert.Dispatcher
	reports    *reports.Service
	cfg        config.Engine

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(
	source bot.MessageSource,
	sink bot.ActionSink,
	store db.Store,
	detector *detect.Detector,
	scorer *risk.Scorer,
	policyEngine *policy.Engine,
	dispatcher *alert.Dispatcher,
	reportsService *reports.Service,
	cfg config.Engine,
) *Engine {
	return &Engine{
		source:     source,
		sink:       sink,
		store:      store,
		detector:   detector,
		scorer:     scorer,
		policy:     policyEngine,
		dispatcher: dispatcher,
		reports:    reportsService,
		cfg:        cfg,
	}
}

func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.started = true

	events, errs := e.source.Events(runCtx)

	partitions := make([]chan bot.Event, e.cfg.Workers)
	for i := range partitions {
		partitions[i] = make(chan bot.Event, e.cfg.QueueSize)
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	for i := range partitions {
		partition := partitions[i]
		group.Go(func() error {
			for event := range partition {
				e.processEvent(groupCtx, event)
			}
			return nil
		})
	}

	go func() {
		defer close(e.done)
		defer func() {
			for _, partition := range partitions {
				close(partition)
			}
			if err := group.Wait(); err != nil {
				log.WithError(err).Error("engine worker failed")
			}
		}()
		for {
			select {
			case <-runCtx.Done():
				return
			case err, ok := <-errs:
				if !ok {
					return
				}
				if err != nil && !errors.Is(err, context.Canceled) {
					log.WithError(err).Error("message source failed")
				}
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				idx := partitionFor(event.Group.ID, len(partitions))
				select {
				case partitions[idx] <- event:
				case <-runCtx.Done():
					return
				}
			}
		}
	}()
	return nil
}

func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	select {
	case <-done:
		return nil
	case <-time.After(e.cfg.ShutdownGrace):
		return fmt.Errorf("engine did not drain within %s", e.cfg.ShutdownGrace)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func partitionFor(chatID int64, workers int) int {
	if chatID < 0 {
		chatID = -chatID
	}
	return int(chatID % int64(workers))
}

// processEvent isolates failures per event: an error here is logged with
// enough context to reconstruct the decision and never aborts the pipeline.
func (e *Engine) processEvent(ctx context.Context, event bot.Event) {
	started := time.Now()
	status := "ok"
	if err := e.handle(ctx, event); err != nil {
		status = "error"
		log.WithError(err).WithFields(log.Fields{
			"chat_id":  event.Group.ID,
			"kind":     event.Kind,
			"trace_id": event.TraceID,
			"time":     event.Time,
		}).Error("cant process event")
	}
	observability.EventsProcessed.WithLabelValues(string(event.Kind), status).Inc()
	observability.ProcessingDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
}

func (e *Engine) handle(ctx context.Context, event bot.Event) error {
	switch event.Kind {
	case bot.EventCommand:
		return e.reports.Handle(ctx, event)
	case bot.EventMembership:
		return e.handleMembership(ctx, event)
	case bot.EventMessage:
		return e.handleMessage(ctx, event)
	default:
		return nil
	}
}

func (e *Engine) handleMembership(ctx context.Context, event bot.Event) error {
	if event.Membership == nil {
		return nil
	}
	switch {
	case event.Membership.BotJoined:
		group, err := e.ensureGroup(ctx, event.Group)
		if err != nil {
			return err
		}
		if count, err := e.sink.MemberCount(ctx, event.Group.ID); err == nil {
			group.MemberCount = count
			if err := e.store.UpsertGroup(ctx, group); err != nil {
				log.WithError(err).WithField("chat_id", group.ID).Error("cant persist member count")
			}
		}
		text := fmt.Sprintf("✅ Bot added to new group:\n\nGroup: %s\nID: %d\nMembers: %d\nStatus: Monitoring started",
			group.Title, group.ID, group.MemberCount)
		if err := e.sink.SendOperatorMessage(ctx, text); err != nil {
			log.WithError(err).Error("cant notify operator about new group")
		}
		return e.store.RecordActivity(ctx, &db.Activity{
			ChatID:    event.Group.ID,
			Kind:      db.ActivityJoin,
			RiskLevel: string(risk.LevelNone),
			TraceID:   event.TraceID,
			CreatedAt: event.Time,
		})
	case event.Membership.BotLeft:
		return e.store.DeactivateGroup(ctx, event.Group.ID)
	}
	return nil
}

func (e *Engine) handleMessage(ctx context.Context, event bot.Event) error {
	group, err := e.ensureGroup(ctx, event.Group)
	if err != nil {
		return err
	}

	perms, err := e.sink.GetBotPermissions(ctx, event.Group.ID)
	if err != nil {
		// Conservative degradation: treat the bot as unprivileged.
		log.WithError(err).WithField("chat_id", event.Group.ID).Warn("cant resolve permissions, assuming none")
		perms = bot.Permissions{}
	}

	since := event.Time.Add(-e.cfg.AlertWindow)
	recentAlerts, err := e.store.CountAlertsSince(ctx, event.Group.ID,
		[]string{string(risk.LevelMedium), string(risk.LevelHigh)}, since)
	if err != nil {
		log.WithError(err).WithField("chat_id", event.Group.ID).Warn("cant count recent alerts")
		recentAlerts = 0
	}

	detection := e.detector.Scan(event.Text)
	for _, match := range detection.Matches {
		observability.SignalsFired.WithLabelValues(string(match.Signal)).Inc()
	}

	assessment := e.scorer.Assess(risk.Input{
		Detection:           detection,
		Sender:              event.Sender,
		HasModerationRights: perms.IsAdmin && (perms.CanDelete || perms.CanRestrict),
		RecentAlerts:        recentAlerts,
	})

	var senderID int64
	if event.Sender != nil {
		senderID = event.Sender.ID
		if err := e.store.UpsertMember(ctx, &db.Member{
			ChatID:     event.Group.ID,
			UserID:     event.Sender.ID,
			Username:   event.Sender.Username,
			FirstName:  event.Sender.FirstName,
			IsBot:      event.Sender.IsBot,
			Suspicious: assessment.Score > 0,
			LastSeenAt: event.Time,
		}); err != nil {
			log.WithError(err).WithField("chat_id", event.Group.ID).Warn("cant upsert member")
		}
	}

	if err := e.store.RecordActivity(ctx, &db.Activity{
		ChatID:    event.Group.ID,
		UserID:    senderID,
		Kind:      db.ActivityMessage,
		Content:   db.Truncate(event.Text),
		RiskLevel: string(assessment.Level),
		TraceID:   event.TraceID,
		CreatedAt: event.Time,
	}); err != nil {
		log.WithError(err).WithField("chat_id", event.Group.ID).Warn("cant record activity")
	}

	// Group status always reflects the latest assessed level.
	nextStatus := policy.NextStatus(assessment.Level)
	if group.Status != string(nextStatus) {
		group.Status = string(nextStatus)
		if err := e.store.UpsertGroup(ctx, group); err != nil {
			log.WithError(err).WithField("chat_id", group.ID).Error("cant persist group status")
		}
	}

	priorWarnings := 0
	if event.Sender != nil {
		if priorWarnings, err = e.store.GetWarnings(ctx, event.Group.ID, event.Sender.ID); err != nil {
			log.WithError(err).Warn("cant read warning count")
			priorWarnings = 0
		}
	}

	decision := e.policy.Decide(assessment.Level, perms, priorWarnings)
	actionTaken := e.execute(ctx, event, decision)
	observability.ModerationActions.WithLabelValues(string(actionTaken)).Inc()

	if decision.IncrementWarning && event.Sender != nil {
		if _, err := e.store.IncrementWarnings(ctx, event.Group.ID, event.Sender.ID); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"chat_id": event.Group.ID,
				"user_id": event.Sender.ID,
			}).Error("cant increment warning count")
		}
	}

	if !decision.Alert {
		return nil
	}

	record := &db.Alert{
		ChatID:      event.Group.ID,
		Kind:        alertKindMessageRisk,
		RiskLevel:   string(assessment.Level),
		ActionTaken: string(actionTaken),
		TraceID:     event.TraceID,
		CreatedAt:   event.Time,
	}
	notification := alert.Notification{
		Alert:      *record,
		GroupTitle: group.Title,
		Reasons:    assessment.Reasons,
		Content:    event.Text,
	}
	record.Message = alert.Render(notification)
	stored, err := e.store.CreateAlert(ctx, record)
	if err != nil {
		return errors.WithMessage(err, "cant store alert")
	}
	notification.Alert = *stored
	e.dispatcher.Dispatch(notification)
	return nil
}

// execute performs the decided moderation actions. Platform failures are
// folded into the action_taken outcome so the operator always sees them.
func (e *Engine) execute(ctx context.Context, event bot.Event, decision policy.Decision) policy.ActionTaken {
	if decision.PermissionDenied {
		return policy.ActionFailedPermission
	}

	actionTaken := policy.ActionNone
	if decision.Delete && event.Message != nil {
		if err := e.sink.DeleteMessage(ctx, *event.Message); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"chat_id":    event.Group.ID,
				"message_id": event.Message.MessageID,
			}).Error("failed to delete message")
			return policy.ActionFailedPlatform
		}
		actionTaken = policy.ActionDeleted
	}
	if event.Sender == nil {
		return actionTaken
	}
	if decision.Ban {
		if err := e.sink.BanSender(ctx, event.Group.ID, event.Sender.ID); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"chat_id": event.Group.ID,
				"user_id": event.Sender.ID,
			}).Error("failed to ban sender")
			return policy.ActionFailedPlatform
		}
		return policy.ActionBanned
	}
	if decision.Restrict {
		if err := e.sink.RestrictSender(ctx, event.Group.ID, event.Sender.ID, e.policy.RestrictDuration()); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"chat_id": event.Group.ID,
				"user_id": event.Sender.ID,
			}).Error("failed to restrict sender")
			return policy.ActionFailedPlatform
		}
		return policy.ActionRestricted
	}
	return actionTaken
}

// ensureGroup loads the group record, recreating a default one when the
// store has no (or a broken) record for a group we are clearly inside of.
func (e *Engine) ensureGroup(ctx context.Context, ref bot.GroupRef) (*db.Group, error) {
	group, err := e.store.GetGroup(ctx, ref.ID)
	if err == nil && group != nil {
		if ref.Title != "" && group.Title != ref.Title {
			group.Title = ref.Title
		}
		return group, nil
	}
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		log.WithError(err).WithField("chat_id", ref.ID).Warn("broken group record, recreating")
	}
	group = &db.Group{
		ID:     ref.ID,
		Title:  ref.Title,
		Type:   ref.Type,
		Status: string(policy.StatusSafe),
		Active: true,
	}
	if err := e.store.UpsertGroup(ctx, group); err != nil {
		return nil, errors.WithMessage(err, "cant create group record")
	}
	return group, nil
}
