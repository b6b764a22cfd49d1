package alert

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"

	"github.com/watchtowerbot/watchtower/internal/bot"
	"github.com/watchtowerbot/watchtower/internal/db"
	"github.com/watchtowerbot/watchtower/internal/observability"
)

const (
	dedupeSize   = 1024
	dedupeWindow = 5 * time.Minute
)

// Notification is a stored alert plus the display context needed to render
// the operator payload.
type Notification struct {
	Alert      db.Alert
	GroupTitle string
	Reasons    []string
	Content    string
}

// Dispatcher delivers operator notifications off the critical decision
// path. The queue is bounded; when the operator channel is slow, overflow
// is logged and dropped rather than stalling moderation.
type Dispatcher struct {
	sink  bot.ActionSink
	queue chan Notification
	dedup *expirable.LRU[string, struct{}]

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewDispatcher(sink bot.ActionSink, queueSize int) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		sink:  sink,
		queue: make(chan Notification, queueSize),
		dedup: expirable.NewLRU[string, struct{}](dedupeSize, nil, dedupeWindow),
	}
}

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.started = true

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case notification := <-d.queue:
				d.deliver(runCtx, notification)
			}
		}
	}()
	return nil
}

func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	cancel := d.cancel
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.wg.Wait()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Dispatch enqueues a notification without blocking the caller.
func (d *Dispatcher) Dispatch(notification Notification) {
	select {
	case d.queue <- notification:
	default:
		observability.AlertsDispatched.WithLabelValues("dropped").Inc()
		log.WithFields(log.Fields{
			"chat_id": notification.Alert.ChatID,
			"kind":    notification.Alert.Kind,
		}).Warn("alert queue full, dropping notification")
	}
}

func (d *Dispatcher) deliver(ctx context.Context, notification Notification) {
	key := fmt.Sprintf("%d|%s|%s", notification.Alert.ChatID, notification.Alert.Kind, notification.Alert.RiskLevel)
	if _, seen := d.dedup.Get(key); seen {
		observability.AlertsDispatched.WithLabelValues("deduplicated").Inc()
		return
	}

	text := Render(notification)
	err := d.sink.SendOperatorMessage(ctx, text)
	if err != nil {
		log.WithError(err).WithField("chat_id", notification.Alert.ChatID).Debug("retrying alert delivery")
		err = d.sink.SendOperatorMessage(ctx, text)
	}
	if err != nil {
		observability.AlertsDispatched.WithLabelValues("failed").Inc()
		log.WithError(err).WithFields(log.Fields{
			"chat_id": notification.Alert.ChatID,
			"kind":    notification.Alert.Kind,
		}).Error("failed to deliver alert")
		return
	}
	d.dedup.Add(key, struct{}{})
	observability.AlertsDispatched.WithLabelValues("sent").Inc()
}

// Render produces the fixed-format operator payload.
func Render(notification Notification) string {
	var b strings.Builder
	b.WriteString("🚨 SECURITY ALERT\n\n")
	fmt.Fprintf(&b, "Group: %s\n", notification.GroupTitle)
	fmt.Fprintf(&b, "Group ID: %d\n", notification.Alert.ChatID)
	fmt.Fprintf(&b, "Risk Type: %s\n", notification.Alert.Kind)
	fmt.Fprintf(&b, "Risk Level: %s\n", notification.Alert.RiskLevel)
	fmt.Fprintf(&b, "Action Taken: %s\n", notification.Alert.ActionTaken)
	if len(notification.Reasons) > 0 {
		b.WriteString("Details:\n")
		for _, reason := range notification.Reasons {
			fmt.Fprintf(&b, "• %s\n", reason)
		}
	}
	if notification.Content != "" {
		fmt.Fprintf(&b, "Content: %s\n", db.Truncate(notification.Content))
	}
	fmt.Fprintf(&b, "Time: %s", notification.Alert.CreatedAt.Format("2006-01-02 15:04:05"))
	return b.String()
}
