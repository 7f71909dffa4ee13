// Package memory maintains the bounded, tiered long-term representation of
// the conversation: identity (merge-only key=value facts), thread (replaced
// each compression), episodes (rolling FIFO archive) and priors (locally
// computed behavioral signals). Tier budgets are bytes; truncation never
// splits a UTF-8 codepoint.
package memory

import (
	"strings"
	"unicode/utf8"
)

// Per-tier byte budgets.
const (
	MaxIdentityBytes = 256
	MaxThreadBytes   = 600
	MaxEpisodesBytes = 900
	MaxPriorsBytes   = 128

	// Transcript messages are capped before being sent to the oracle.
	transcriptBodyMaxBytes = 200
)

// TruncateBytes cuts s to at most max bytes, backing up to the nearest
// UTF-8 rune boundary.
func TruncateBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 0 {
		return ""
	}
	end := max
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	return s[:end]
}

// ParseTiers splits raw oracle output into the three oracle-managed tiers.
// A line starting I:, T: or E: opens that tier and captures the remainder;
// a non-empty untagged line continues the currently open tier (space
// appended); anything before the first tag is discarded.
func ParseTiers(raw string) (identity, thread, episodes string) {
	var open *string
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "I:"):
			identity = strings.TrimSpace(trimmed[2:])
			open = &identity
		case strings.HasPrefix(trimmed, "T:"):
			thread = strings.TrimSpace(trimmed[2:])
			open = &thread
		case strings.HasPrefix(trimmed, "E:"):
			episodes = strings.TrimSpace(trimmed[2:])
			open = &episodes
		case trimmed != "" && open != nil:
			if *open != "" {
				*open += " "
			}
			*open += trimmed
		}
	}
	return identity, thread, episodes
}

// AppendEpisodes joins new episode text onto the archive and keeps the
// newest tail when the result exceeds the episodes budget, advancing the cut
// to a rune boundary so the oldest entries fall off first.
func AppendEpisodes(existing, proposed string) string {
	combined := proposed
	if existing != "" && proposed != "" {
		combined = existing + " " + proposed
	} else if proposed == "" {
		combined = existing
	}
	if len(combined) <= MaxEpisodesBytes {
		return combined
	}
	start := len(combined) - MaxEpisodesBytes
	for start < len(combined) && !utf8.RuneStart(combined[start]) {
		start++
	}
	return combined[start:]
}

// MergeIdentity folds oracle-proposed identity pairs into the existing tier.
// Identity is merge-only: every previously known key survives even when the
// oracle dropped it; proposed values win for keys present in both. The
// result is truncated to the identity budget on a pair boundary, so a
// trailing pair may be dropped.
func MergeIdentity(existing, proposed string) string {
	order := []string{}
	values := map[string]string{}

	absorb := func(s string, override bool) {
		for _, pair := range strings.Split(s, "|") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			key := pair
			value := ""
			if i := strings.Index(pair, "="); i >= 0 {
				key = strings.TrimSpace(pair[:i])
				value = strings.TrimSpace(pair[i+1:])
			}
			if key == "" {
				continue
			}
			if _, seen := values[key]; !seen {
				order = append(order, key)
				values[key] = value
			} else if override {
				values[key] = value
			}
		}
	}
	absorb(existing, false)
	absorb(proposed, true)

	var b strings.Builder
	for _, key := range order {
		pair := key
		if values[key] != "" {
			pair = key + "=" + values[key]
		}
		sep := 0
		if b.Len() > 0 {
			sep = 1
		}
		if b.Len()+sep+len(pair) > MaxIdentityBytes {
			break
		}
		if sep == 1 {
			b.WriteString("|")
		}
		b.WriteString(pair)
	}
	if b.Len() == 0 && len(order) > 0 {
		// Single oversized pair: fall back to a plain byte cut.
		key := order[0]
		pair := key
		if values[key] != "" {
			pair = key + "=" + values[key]
		}
		return TruncateBytes(pair, MaxIdentityBytes)
	}
	return b.String()
}
