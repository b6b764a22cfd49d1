package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v2"
)

type (
	// Config is assembled once at startup and injected by reference into
	// every component. A missing required value is fatal before the bot
	// starts consuming updates.
	Config struct {
		TelegramAPIToken string `env:"TOKEN,required"`
		OperatorChatID   int64  `env:"OPERATOR_CHAT_ID,required"`
		LogLevel         int    `env:"LOG_LEVEL,default=4"`
		DotPath          string `env:"DOT_PATH,default=~/.watchtower"`
		MetricsAddr      string `env:"METRICS_ADDR,default=:2112"`
		ProfilePath      string `env:"PROFILE_PATH"`

		Engine Engine
		Risk   Risk
		Policy Policy
		Lists  Lists
	}

	Engine struct {
		Workers        int           `env:"ENGINE_WORKERS,default=8"`
		QueueSize      int           `env:"ENGINE_QUEUE_SIZE,default=256"`
		AlertQueueSize int           `env:"ALERT_QUEUE_SIZE,default=128"`
		AlertWindow    time.Duration `env:"ALERT_WINDOW,default=24h"`
		ShutdownGrace  time.Duration `env:"SHUTDOWN_GRACE,default=10s"`
	}

	Risk struct {
		HighThreshold   int `env:"RISK_HIGH_THRESHOLD,default=70" yaml:"high_threshold"`
		MediumThreshold int `env:"RISK_MEDIUM_THRESHOLD,default=30" yaml:"medium_threshold"`

		BannedKeywordWeight     int `env:"WEIGHT_BANNED_KEYWORD,default=45" yaml:"banned_keyword_weight"`
		RepeatedKeywordBonus    int `env:"WEIGHT_REPEATED_KEYWORD,default=25" yaml:"repeated_keyword_bonus"`
		InappropriateWeight     int `env:"WEIGHT_INAPPROPRIATE,default=45" yaml:"inappropriate_weight"`
		ScamPhraseWeight        int `env:"WEIGHT_SCAM_PHRASE,default=40" yaml:"scam_phrase_weight"`
		SpamLinkStrongWeight    int `env:"WEIGHT_SPAM_LINK_STRONG,default=35" yaml:"spam_link_strong_weight"`
		SpamLinkWeakWeight      int `env:"WEIGHT_SPAM_LINK_WEAK,default=20" yaml:"spam_link_weak_weight"`
		ExcessiveCapsWeight     int `env:"WEIGHT_EXCESSIVE_CAPS,default=35" yaml:"excessive_caps_weight"`
		RepetitiveWeight        int `env:"WEIGHT_REPETITIVE,default=35" yaml:"repetitive_weight"`
		NoUsernameWeight        int `env:"WEIGHT_NO_USERNAME,default=5" yaml:"no_username_weight"`
		SuspiciousNameWeight    int `env:"WEIGHT_SUSPICIOUS_NAME,default=10" yaml:"suspicious_name_weight"`
		NewAccountWeight        int `env:"WEIGHT_NEW_ACCOUNT,default=5" yaml:"new_account_weight"`
		LongMessageWeight       int `env:"WEIGHT_LONG_MESSAGE,default=10" yaml:"long_message_weight"`
		NoModeratorRightsWeight int `env:"WEIGHT_NO_MODERATOR_RIGHTS,default=10" yaml:"no_moderator_rights_weight"`
		PerRecentAlertWeight    int `env:"WEIGHT_PER_RECENT_ALERT,default=3" yaml:"per_recent_alert_weight"`
		RecentAlertWeightCap    int `env:"WEIGHT_RECENT_ALERT_CAP,default=15" yaml:"recent_alert_weight_cap"`

		NewAccountIDFloor int64 `env:"NEW_ACCOUNT_ID_FLOOR,default=7000000000" yaml:"new_account_id_floor"`
		LongMessageLength int   `env:"LONG_MESSAGE_LENGTH,default=500" yaml:"long_message_length"`
	}

	Policy struct {
		ReportingLevel    string        `env:"POLICY_REPORTING_LEVEL,default=medium" yaml:"reporting_level"`
		WarningsBeforeBan int           `env:"POLICY_WARNINGS_BEFORE_BAN,default=1" yaml:"warnings_before_ban"`
		HighEscalation    string        `env:"POLICY_HIGH_ESCALATION,default=restrict" yaml:"high_escalation"`
		MediumAction      string        `env:"POLICY_MEDIUM_ACTION,default=restrict" yaml:"medium_action"`
		RestrictDuration  time.Duration `env:"POLICY_RESTRICT_DURATION,default=24h" yaml:"restrict_duration"`
	}

	Lists struct {
		BannedKeywords  []string `env:"BANNED_KEYWORDS" yaml:"banned_keywords"`
		Inappropriate   []string `env:"INAPPROPRIATE_KEYWORDS" yaml:"inappropriate_keywords"`
		ScamPhrases     []string `env:"SCAM_PHRASES" yaml:"scam_phrases"`
		SpamIndicators  []string `env:"SPAM_INDICATORS" yaml:"spam_indicators"`
		SuspiciousNames []string `env:"SUSPICIOUS_NAMES" yaml:"suspicious_names"`
	}

	// Profile is an optional YAML strictness profile. Deployment variants of
	// this bot differ only in keyword lists, weights and escalation policy,
	// so those live in one overridable document instead of separate code
	// paths.
	Profile struct {
		Risk   *Risk   `yaml:"risk"`
		Policy *Policy `yaml:"policy"`
		Lists  *Lists  `yaml:"lists"`
	}
)

func defaultLists() Lists {
	return Lists{
		BannedKeywords: []string{
			"spam", "free money", "password steal", "account hack", "hack", "cheat",
		},
		Inappropriate: []string{
			"nsfw", "xxx", "18+ content",
		},
		ScamPhrases: []string{
			"click here", "bitcoin scam", "double your", "guaranteed profit",
			"investment opportunity", "phishing", "scam",
		},
		SpamIndicators: []string{
			"http://", "https://", "t.me/", "joinchat", "bit.ly", "tinyurl",
		},
		SuspiciousNames: []string{"spam", "bot", "fake", "clone"},
	}
}

// Load reads configuration from WT_-prefixed environment variables and then
// overlays the optional strictness profile. No global singleton is kept.
func Load(ctx context.Context) (*Config, error) {
	cfg := &Config{}
	envcfg := envconfig.Config{
		Lookuper: envconfig.PrefixLookuper("WT_", envconfig.OsLookuper()),
		Target:   cfg,
	}
	if err := envconfig.ProcessWith(ctx, &envcfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get user home directory: %w", err)
	}
	cfg.DotPath = strings.Replace(cfg.DotPath, "~", home, 1)

	defaults := defaultLists()
	if len(cfg.Lists.BannedKeywords) == 0 {
		cfg.Lists.BannedKeywords = defaults.BannedKeywords
	}
	if len(cfg.Lists.Inappropriate) == 0 {
		cfg.Lists.Inappropriate = defaults.Inappropriate
	}
	if len(cfg.Lists.ScamPhrases) == 0 {
		cfg.Lists.ScamPhrases = defaults.ScamPhrases
	}
	if len(cfg.Lists.SpamIndicators) == 0 {
		cfg.Lists.SpamIndicators = defaults.SpamIndicators
	}
	if len(cfg.Lists.SuspiciousNames) == 0 {
		cfg.Lists.SuspiciousNames = defaults.SuspiciousNames
	}

	if cfg.ProfilePath != "" {
		if err := cfg.applyProfile(cfg.ProfilePath); err != nil {
			return nil, fmt.Errorf("apply profile %q: %w", cfg.ProfilePath, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyProfile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	profile := Profile{}
	if err := yaml.Unmarshal(raw, &profile); err != nil {
		return fmt.Errorf("unmarshal profile: %w", err)
	}
	if profile.Risk != nil {
		c.Risk = *profile.Risk
	}
	if profile.Policy != nil {
		c.Policy = *profile.Policy
	}
	if profile.Lists != nil {
		c.Lists = *profile.Lists
	}
	return nil
}

func (c *Config) validate() error {
	if c.OperatorChatID == 0 {
		return fmt.Errorf("operator chat id is required")
	}
	if c.Risk.MediumThreshold >= c.Risk.HighThreshold {
		return fmt.Errorf("medium threshold %d must be below high threshold %d", c.Risk.MediumThreshold, c.Risk.HighThreshold)
	}
	// A risk profile replaces the whole section, so a sparse one can zero
	// every weight and silently disable detection. At least one text signal
	// must stay scoreable.
	if c.Risk.BannedKeywordWeight <= 0 && c.Risk.InappropriateWeight <= 0 &&
		c.Risk.ScamPhraseWeight <= 0 && c.Risk.SpamLinkStrongWeight <= 0 &&
		c.Risk.SpamLinkWeakWeight <= 0 && c.Risk.ExcessiveCapsWeight <= 0 &&
		c.Risk.RepetitiveWeight <= 0 {
		return fmt.Errorf("risk configuration disables every text signal")
	}
	switch c.Policy.HighEscalation {
	case "ban", "restrict":
	default:
		return fmt.Errorf("unknown high escalation %q", c.Policy.HighEscalation)
	}
	switch c.Policy.MediumAction {
	case "delete", "restrict":
	default:
		return fmt.Errorf("unknown medium action %q", c.Policy.MediumAction)
	}
	if c.Engine.Workers < 1 {
		return fmt.Errorf("engine workers must be positive")
	}
	return nil
}
