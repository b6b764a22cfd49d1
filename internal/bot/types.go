package bot

import (
	"context"
	"time"
)

type EventKind string

const (
	EventMessage    EventKind = "message"
	EventMembership EventKind = "membership_change"
	EventCommand    EventKind = "command"
)

type (
	GroupRef struct {
		ID    int64
		Title string
		Type  string
	}

	SenderRef struct {
		ID        int64
		Username  string
		FirstName string
		IsBot     bool
	}

	MessageRef struct {
		ChatID    int64
		MessageID int
	}

	// MembershipChange carries the bits of a service update the engine
	// cares about: whether the bot itself entered or left the group.
	MembershipChange struct {
		BotJoined bool
		BotLeft   bool
	}

	// Event is the engine's view of a single platform update. TraceID ties
	// together the activity record, the alert and the log lines produced
	// while handling it.
	Event struct {
		Kind       EventKind
		Group      GroupRef
		Sender     *SenderRef
		Text       string
		Message    *MessageRef
		Command    string
		Membership *MembershipChange
		Time       time.Time
		TraceID    string
	}

	Permissions struct {
		IsAdmin     bool
		CanDelete   bool
		CanRestrict bool
	}
)

// MessageSource yields inbound events with at-least-once delivery. The error
// channel reports a terminal source failure; per-event problems are handled
// downstream.
type MessageSource interface {
	Events(ctx context.Context) (<-chan Event, <-chan error)
}

// ActionSink executes moderation actions against the platform and delivers
// operator notifications. Implementations retry transient failures at most
// once and degrade conservatively on permission lookups.
type ActionSink interface {
	DeleteMessage(ctx context.Context, ref MessageRef) error
	RestrictSender(ctx context.Context, chatID, userID int64, d time.Duration) error
	BanSender(ctx context.Context, chatID, userID int64) error
	SendOperatorMessage(ctx context.Context, text string) error
	SendGroupMessage(ctx context.Context, chatID int64, text string) error
	GetBotPermissions(ctx context.Context, chatID int64) (Permissions, error)
	MemberCount(ctx context.Context, chatID int64) (int, error)
}
