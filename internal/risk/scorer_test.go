package risk

import (
	"reflect"
	"testing"

	"github.com/watchtowerbot/watchtower/internal/bot"
	"github.com/watchtowerbot/watchtower/internal/config"
	"github.com/watchtowerbot/watchtower/internal/detect"
)

func testRiskConfig() config.Risk {
	return config.Risk{
		HighThreshold:   70,
		MediumThreshold: 30,

		BannedKeywordWeight:     45,
		RepeatedKeywordBonus:    25,
		InappropriateWeight:     45,
		ScamPhraseWeight:        40,
		SpamLinkStrongWeight:    35,
		SpamLinkWeakWeight:      20,
		ExcessiveCapsWeight:     35,
		RepetitiveWeight:        35,
		NoUsernameWeight:        5,
		SuspiciousNameWeight:    10,
		NewAccountWeight:        5,
		LongMessageWeight:       10,
		NoModeratorRightsWeight: 10,
		PerRecentAlertWeight:    3,
		RecentAlertWeightCap:    15,

		NewAccountIDFloor: 7000000000,
		LongMessageLength: 500,
	}
}

func testDetector() *detect.Detector {
	return detect.NewDetector(config.Lists{
		BannedKeywords: []string{"free money", "password steal", "hack"},
		Inappropriate:  []string{"nsfw"},
		ScamPhrases:    []string{"click here", "bitcoin scam"},
		SpamIndicators: []string{"http://", "https://", "t.me/"},
	})
}

func suspiciousNames() []string {
	return []string{"spam", "bot", "fake", "clone"}
}

func TestAssessScenarioSpamBlast(t *testing.T) {
	t.Parallel()

	scorer := NewScorer(testRiskConfig(), suspiciousNames())
	detection := testDetector().Scan("FREE MONEY CLICK HERE http://x.com http://y.com")

	got := scorer.Assess(Input{
		Detection:           detection,
		Sender:              &bot.SenderRef{ID: 42},
		HasModerationRights: true,
	})
	if got.Score < 70 {
		t.Fatalf("expected high-range score, got %d (%v)", got.Score, got.Reasons)
	}
	if got.Level != LevelHigh {
		t.Fatalf("expected level high, got %s", got.Level)
	}
	if !detection.Has(detect.SignalSpamLink) || detection.Count(detect.SignalSpamLink) < 2 {
		t.Fatalf("expected strong spam_link signal, got count %d", detection.Count(detect.SignalSpamLink))
	}
}

func TestAssessScenarioCleanMessage(t *testing.T) {
	t.Parallel()

	scorer := NewScorer(testRiskConfig(), suspiciousNames())
	detection := testDetector().Scan("hello, nice to meet you")

	got := scorer.Assess(Input{
		Detection:           detection,
		Sender:              &bot.SenderRef{ID: 42, Username: "alice"},
		HasModerationRights: true,
	})
	if got.Score != 0 {
		t.Fatalf("clean message must score 0, got %d (%v)", got.Score, got.Reasons)
	}
	if got.Level != LevelNone {
		t.Fatalf("expected level none, got %s", got.Level)
	}
	if len(got.Reasons) != 0 {
		t.Fatalf("clean message must not carry reasons: %v", got.Reasons)
	}
}

func TestAssessScenarioCapsOnly(t *testing.T) {
	t.Parallel()

	scorer := NewScorer(testRiskConfig(), suspiciousNames())
	detection := testDetector().Scan("AAAAAAAAAAAAAAb")

	got := scorer.Assess(Input{
		Detection:           detection,
		Sender:              &bot.SenderRef{ID: 42, Username: "alice"},
		HasModerationRights: true,
	})
	if got.Level != LevelMedium {
		t.Fatalf("caps-only message must land in medium range, got %s (score %d)", got.Level, got.Score)
	}
}

func TestAssessRecentAlertContributionIsCapped(t *testing.T) {
	t.Parallel()

	scorer := NewScorer(testRiskConfig(), suspiciousNames())
	detection := testDetector().Scan("hello, nice to meet you")

	got := scorer.Assess(Input{
		Detection:           detection,
		Sender:              &bot.SenderRef{ID: 42, Username: "alice"},
		HasModerationRights: true,
		RecentAlerts:        6,
	})
	if got.Level == LevelHigh {
		t.Fatalf("history modifier alone must never reach high, got score %d", got.Score)
	}
	if got.Score > testRiskConfig().RecentAlertWeightCap {
		t.Fatalf("recent alert contribution must be capped at %d, got %d",
			testRiskConfig().RecentAlertWeightCap, got.Score)
	}
}

func TestAssessClampedAndMonotonic(t *testing.T) {
	t.Parallel()

	scorer := NewScorer(testRiskConfig(), suspiciousNames())
	detector := testDetector()

	// Each successive text adds at least one matching signal.
	texts := []string{
		"hello",
		"get free money now",
		"get free money now click here",
		"get free money now click here http://a http://b",
		"get free money now and password steal and hack click here http://a http://b nsfw",
	}
	prev := -1
	for _, text := range texts {
		got := scorer.Assess(Input{
			Detection:           detector.Scan(text),
			Sender:              &bot.SenderRef{ID: 42, Username: "alice"},
			HasModerationRights: true,
		})
		if got.Score < 0 || got.Score > 100 {
			t.Fatalf("score out of bounds for %q: %d", text, got.Score)
		}
		if got.Score < prev {
			t.Fatalf("adding signals lowered score: %d -> %d for %q", prev, got.Score, text)
		}
		prev = got.Score
	}
}

func TestAssessIdempotent(t *testing.T) {
	t.Parallel()

	scorer := NewScorer(testRiskConfig(), suspiciousNames())
	in := Input{
		Detection:           testDetector().Scan("free money click here http://a http://b"),
		Sender:              &bot.SenderRef{ID: 9000000001},
		HasModerationRights: false,
		RecentAlerts:        3,
	}
	first := scorer.Assess(in)
	for i := 0; i < 5; i++ {
		if got := scorer.Assess(in); !reflect.DeepEqual(got, first) {
			t.Fatalf("assessment not idempotent: %#v vs %#v", got, first)
		}
	}
}

func TestAssessSenderModifiers(t *testing.T) {
	t.Parallel()

	scorer := NewScorer(testRiskConfig(), suspiciousNames())
	detection := testDetector().Scan("hello, nice to meet you")

	tests := []struct {
		name   string
		sender *bot.SenderRef
		want   int
	}{
		{"no sender", nil, 0},
		{"regular sender", &bot.SenderRef{ID: 42, Username: "alice"}, 0},
		{"no username", &bot.SenderRef{ID: 42}, 5},
		{"suspicious username", &bot.SenderRef{ID: 42, Username: "fake_alice"}, 10},
		{"new looking account", &bot.SenderRef{ID: 7000000001, Username: "alice"}, 5},
		{"new account without username", &bot.SenderRef{ID: 7000000001}, 10},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := scorer.Assess(Input{
				Detection:           detection,
				Sender:              tt.sender,
				HasModerationRights: true,
			})
			if got.Score != tt.want {
				t.Fatalf("score = %d, want %d (%v)", got.Score, tt.want, got.Reasons)
			}
		})
	}
}

func TestLevelThresholds(t *testing.T) {
	t.Parallel()

	scorer := NewScorer(testRiskConfig(), nil)
	tests := []struct {
		score int
		want  Level
	}{
		{0, LevelNone},
		{1, LevelLow},
		{30, LevelLow},
		{31, LevelMedium},
		{70, LevelMedium},
		{71, LevelHigh},
		{100, LevelHigh},
	}
	for _, tt := range tests {
		if got := scorer.level(tt.score); got != tt.want {
			t.Fatalf("level(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}
