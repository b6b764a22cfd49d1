package db

import (
	"time"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("not found")

const (
	ActivityMessage = "message"
	ActivityJoin    = "join"
	ActivityScan    = "scan"
)

// ContentLimit bounds raw content stored in activity and alert records.
const ContentLimit = 500

type (
	Group struct {
		ID          int64      `db:"id"`
		Title       string     `db:"title"`
		Type        string     `db:"type"`
		MemberCount int        `db:"member_count"`
		Status      string     `db:"status"`
		LastScanAt  *time.Time `db:"last_scan_at"`
		Active      bool       `db:"active"`
	}

	Member struct {
		ChatID     int64     `db:"chat_id"`
		UserID     int64     `db:"user_id"`
		Username   string    `db:"username"`
		FirstName  string    `db:"first_name"`
		IsBot      bool      `db:"is_bot"`
		Warnings   int       `db:"warnings"`
		Suspicious bool      `db:"suspicious"`
		LastSeenAt time.Time `db:"last_seen_at"`
	}

	// Activity is an append-only log entry used for rolling-window queries.
	Activity struct {
		ID        int64     `db:"id"`
		ChatID    int64     `db:"chat_id"`
		UserID    int64     `db:"user_id"`
		Kind      string    `db:"kind"`
		Content   string    `db:"content"`
		RiskLevel string    `db:"risk_level"`
		TraceID   string    `db:"trace_id"`
		CreatedAt time.Time `db:"created_at"`
	}

	// Alert is immutable once created except for the resolved flag, which
	// is flipped by administrative tooling outside this process.
	Alert struct {
		ID          int64     `db:"id"`
		ChatID      int64     `db:"chat_id"`
		Kind        string    `db:"kind"`
		Message     string    `db:"message"`
		RiskLevel   string    `db:"risk_level"`
		ActionTaken string    `db:"action_taken"`
		Resolved    bool      `db:"resolved"`
		TraceID     string    `db:"trace_id"`
		CreatedAt   time.Time `db:"created_at"`
	}
)

// Truncate bounds raw message content before persisting it.
func Truncate(content string) string {
	runes := []rune(content)
	if len(runes) <= ContentLimit {
		return content
	}
	return string(runes[:ContentLimit])
}
