package detect

import (
	"strings"
	"unicode"

	"github.com/watchtowerbot/watchtower/internal/config"
)

type Signal string

const (
	SignalSpamLink      Signal = "spam_link"
	SignalBannedKeyword Signal = "banned_keyword"
	SignalInappropriate Signal = "inappropriate_content"
	SignalScamPhrase    Signal = "scam_phrase"
	SignalExcessiveCaps Signal = "excessive_caps"
	SignalRepetitive    Signal = "repetitive_content"
)

const (
	capsMinLength = 10
	capsRatio     = 0.7

	repetitionMinTokens   = 20
	repetitionMaxDistinct = 10
)

type (
	// Match is one fired signal with its occurrence count. For keyword
	// signals the count is the number of distinct configured entries found;
	// for spam_link it is the total number of indicator occurrences.
	Match struct {
		Signal Signal
		Count  int
	}

	// Result is the full classification of one text blob. Length is kept so
	// the scorer can apply its long-message modifier without re-reading the
	// text.
	Result struct {
		Matches []Match
		Length  int
	}

	// Detector is immutable after construction and safe for concurrent use.
	Detector struct {
		banned        []string
		inappropriate []string
		scam          []string
		indicators    []string
	}
)

func NewDetector(lists config.Lists) *Detector {
	return &Detector{
		banned:        lowerAll(lists.BannedKeywords),
		inappropriate: lowerAll(lists.Inappropriate),
		scam:          lowerAll(lists.ScamPhrases),
		indicators:    lowerAll(lists.SpamIndicators),
	}
}

func lowerAll(entries []string) []string {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

// Scan classifies a text blob into the fixed signal taxonomy. It is a pure
// function: absent text yields no signals, identical text yields identical
// results.
func (d *Detector) Scan(text string) Result {
	result := Result{Length: len([]rune(text))}
	if text == "" {
		return result
	}
	lower := strings.ToLower(text)

	if count := containedCount(lower, d.banned); count > 0 {
		result.Matches = append(result.Matches, Match{SignalBannedKeyword, count})
	}
	if count := containedCount(lower, d.inappropriate); count > 0 {
		result.Matches = append(result.Matches, Match{SignalInappropriate, count})
	}
	if count := containedCount(lower, d.scam); count > 0 {
		result.Matches = append(result.Matches, Match{SignalScamPhrase, count})
	}
	if count := occurrenceCount(lower, d.indicators); count > 0 {
		result.Matches = append(result.Matches, Match{SignalSpamLink, count})
	}
	if excessiveCaps(text) {
		result.Matches = append(result.Matches, Match{SignalExcessiveCaps, 1})
	}
	if repetitive(lower) {
		result.Matches = append(result.Matches, Match{SignalRepetitive, 1})
	}
	return result
}

// Has reports whether the signal fired; Count returns its occurrence count.
func (r Result) Has(signal Signal) bool {
	return r.Count(signal) > 0
}

func (r Result) Count(signal Signal) int {
	for _, match := range r.Matches {
		if match.Signal == signal {
			return match.Count
		}
	}
	return 0
}

// containedCount counts how many list entries are present as substrings.
func containedCount(lower string, entries []string) int {
	count := 0
	for _, entry := range entries {
		if strings.Contains(lower, entry) {
			count++
		}
	}
	return count
}

// occurrenceCount sums every occurrence of every indicator.
func occurrenceCount(lower string, indicators []string) int {
	count := 0
	for _, indicator := range indicators {
		count += strings.Count(lower, indicator)
	}
	return count
}

// excessiveCaps fires on texts longer than ten characters where uppercase
// letters make up more than 70% of all characters. Non-letters count toward
// the length but never toward the uppercase tally.
func excessiveCaps(text string) bool {
	runes := []rune(text)
	if len(runes) <= capsMinLength {
		return false
	}
	upper := 0
	for _, r := range runes {
		if unicode.IsUpper(r) {
			upper++
		}
	}
	return float64(upper)/float64(len(runes)) > capsRatio
}

// repetitive fires on long messages built from a tiny vocabulary.
func repetitive(lower string) bool {
	tokens := strings.Fields(lower)
	if len(tokens) < repetitionMinTokens {
		return false
	}
	distinct := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		distinct[token] = struct{}{}
	}
	return len(distinct) < repetitionMaxDistinct
}
