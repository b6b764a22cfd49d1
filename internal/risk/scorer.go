package risk

import (
	"fmt"
	"strings"

	"github.com/watchtowerbot/watchtower/internal/bot"
	"github.com/watchtowerbot/watchtower/internal/config"
	"github.com/watchtowerbot/watchtower/internal/detect"
)

type Level string

const (
	LevelNone   Level = "none"
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Rank orders levels for threshold comparisons: none < low < medium < high.
func Rank(level Level) int {
	switch level {
	case LevelLow:
		return 1
	case LevelMedium:
		return 2
	case LevelHigh:
		return 3
	default:
		return 0
	}
}

func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "low":
		return LevelLow
	case "medium":
		return LevelMedium
	case "high":
		return LevelHigh
	default:
		return LevelNone
	}
}

type (
	// Input is everything the scorer is allowed to look at. The trailing
	// alert window is an explicit count, not hidden wall-clock state, so
	// identical inputs always produce identical assessments.
	Input struct {
		Detection           detect.Result
		Sender              *bot.SenderRef
		HasModerationRights bool
		RecentAlerts        int
	}

	Assessment struct {
		Score   int
		Level   Level
		Reasons []string
	}

	Scorer struct {
		cfg             config.Risk
		suspiciousNames []string
	}
)

func NewScorer(cfg config.Risk, suspiciousNames []string) *Scorer {
	lowered := make([]string, 0, len(suspiciousNames))
	for _, name := range suspiciousNames {
		lowered = append(lowered, strings.ToLower(name))
	}
	return &Scorer{cfg: cfg, suspiciousNames: lowered}
}

// Assess combines text signals, sender metadata and group history into a
// bounded score. Weights compound by summation and the total is clamped to
// [0,100], so adding a signal can never lower the score.
func (s *Scorer) Assess(in Input) Assessment {
	a := Assessment{}

	if count := in.Detection.Count(detect.SignalBannedKeyword); count > 0 {
		weight := s.cfg.BannedKeywordWeight
		if count >= 2 {
			weight += s.cfg.RepeatedKeywordBonus
		}
		a.add(weight, fmt.Sprintf("banned keywords detected (%d)", count))
	}
	if count := in.Detection.Count(detect.SignalInappropriate); count > 0 {
		weight := s.cfg.InappropriateWeight
		if count >= 2 {
			weight += s.cfg.RepeatedKeywordBonus
		}
		a.add(weight, fmt.Sprintf("inappropriate content detected (%d)", count))
	}
	if in.Detection.Has(detect.SignalScamPhrase) {
		a.add(s.cfg.ScamPhraseWeight, "scam phrase detected")
	}
	if count := in.Detection.Count(detect.SignalSpamLink); count >= 2 {
		a.add(s.cfg.SpamLinkStrongWeight, fmt.Sprintf("multiple spam indicators (%d)", count))
	} else if count == 1 {
		a.add(s.cfg.SpamLinkWeakWeight, "spam indicator detected")
	}
	if in.Detection.Has(detect.SignalExcessiveCaps) {
		a.add(s.cfg.ExcessiveCapsWeight, "excessive capital letters")
	}
	if in.Detection.Has(detect.SignalRepetitive) {
		a.add(s.cfg.RepetitiveWeight, "repetitive content")
	}
	if s.cfg.LongMessageLength > 0 && in.Detection.Length > s.cfg.LongMessageLength {
		a.add(s.cfg.LongMessageWeight, "very long message")
	}

	if in.Sender != nil {
		if in.Sender.Username == "" {
			a.add(s.cfg.NoUsernameWeight, "sender has no username")
		} else if s.suspiciousUsername(in.Sender.Username) {
			a.add(s.cfg.SuspiciousNameWeight, "suspicious username pattern")
		}
		if s.cfg.NewAccountIDFloor > 0 && in.Sender.ID > s.cfg.NewAccountIDFloor {
			a.add(s.cfg.NewAccountWeight, "recently created account")
		}
	}

	if !in.HasModerationRights {
		a.add(s.cfg.NoModeratorRightsWeight, "bot lacks moderation rights")
	}
	if in.RecentAlerts > 0 {
		weight := in.RecentAlerts * s.cfg.PerRecentAlertWeight
		if weight > s.cfg.RecentAlertWeightCap {
			weight = s.cfg.RecentAlertWeightCap
		}
		a.add(weight, fmt.Sprintf("%d recent alerts in group", in.RecentAlerts))
	}

	if a.Score > 100 {
		a.Score = 100
	}
	a.Level = s.level(a.Score)
	return a
}

func (a *Assessment) add(weight int, reason string) {
	if weight <= 0 {
		return
	}
	a.Score += weight
	a.Reasons = append(a.Reasons, reason)
}

func (s *Scorer) suspiciousUsername(username string) bool {
	lowered := strings.ToLower(username)
	for _, pattern := range s.suspiciousNames {
		if strings.Contains(lowered, pattern) {
			return true
		}
	}
	return false
}

func (s *Scorer) level(score int) Level {
	switch {
	case score > s.cfg.HighThreshold:
		return LevelHigh
	case score > s.cfg.MediumThreshold:
		return LevelMedium
	case score > 0:
		return LevelLow
	default:
		return LevelNone
	}
}
