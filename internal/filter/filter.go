// Package filter decides which feed items are worth posting and which of
// them need to go through the summarizer first.
package filter

import (
	"time"
	"unicode/utf8"

	"yomu/internal/commontypes"
)

const (
	// DefaultMaxAge is the staleness threshold used when none is configured.
	DefaultMaxAge = 12 * time.Hour
	// DefaultSummarizeOver is the character count above which text is always summarized.
	DefaultSummarizeOver = 200

	japaneseRatioThreshold = 0.1
)

// IsStale reports whether item was published more than maxAge before now.
// Items without a publication date are never stale.
func IsStale(item commontypes.FeedItem, now time.Time, maxAge time.Duration) bool {
	if item.PublishedAt == nil {
		return false
	}
	return now.Sub(*item.PublishedAt) > maxAge
}

// NeedsSummarization reports whether text should be condensed before posting.
// Long text always is; short text is only left alone when it already reads
// as Japanese.
func NeedsSummarization(text string, maxChars int) bool {
	if text == "" {
		return false
	}
	if utf8.RuneCountInString(text) > maxChars {
		return true
	}
	return JapaneseRatio(text) <= japaneseRatioThreshold
}

// JapaneseRatio returns the fraction of runes in the Hiragana, Katakana and
// CJK Unified Ideographs blocks.
func JapaneseRatio(text string) float64 {
	total, hits := 0, 0
	for _, r := range text {
		total++
		if isJapaneseRune(r) {
			hits++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

func isJapaneseRune(r rune) bool {
	switch {
	case r >= 0x3040 && r <= 0x309F: // hiragana
		return true
	case r >= 0x30A0 && r <= 0x30FF: // katakana
		return true
	case r >= 0x4E00 && r <= 0x9FFF: // kanji
		return true
	}
	return false
}
