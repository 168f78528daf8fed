// Package spam classifies chat messages before they reach the leaderboard.
//
// Every check is O(1) in the number of users: the only state is a bounded
// per-identity record of the last accepted message, so a flood from one sender
// never affects bookkeeping for anyone else.
package spam

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultHistorySize bounds the number of identities remembered.
const DefaultHistorySize = 10000

const (
	minLength         = 2
	capsMinLetters    = 6
	capsRatio         = 0.8
	similarityLimit   = 0.9
	minMessageSpacing = time.Second
)

var emoteOnly = regexp.MustCompile(`^\[emote:\d+:[^\]]+\]$`)

// Reason names the rule that rejected a message.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonEmpty     Reason = "empty"
	ReasonEmote     Reason = "emote"
	ReasonShort     Reason = "short"
	ReasonCaps      Reason = "caps"
	ReasonDuplicate Reason = "duplicate"
	ReasonSimilar   Reason = "similar"
	ReasonRateLimit Reason = "rate_limit"
)

type lastMessage struct {
	content string
	at      time.Time
}

// Filter holds the per-identity history. It is safe for concurrent use.
type Filter struct {
	history *lru.Cache[string, lastMessage]
}

// New returns a Filter remembering at most size identities.
func New(size int) (*Filter, error) {
	if size <= 0 {
		size = DefaultHistorySize
	}
	c, err := lru.New[string, lastMessage](size)
	if err != nil {
		return nil, err
	}
	return &Filter{history: c}, nil
}

// IsSpam reports whether the message should be dropped.
func (f *Filter) IsSpam(identity, content string, ts time.Time) bool {
	return f.Check(identity, content, ts) != ReasonNone
}

// Check classifies the message and returns the first matching rule. The
// history is only updated when the message is accepted.
func (f *Filter) Check(identity, content string, ts time.Time) Reason {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ReasonEmpty
	}
	if emoteOnly.MatchString(trimmed) {
		return ReasonEmote
	}
	if utf8.RuneCountInString(trimmed) <= minLength {
		return ReasonShort
	}
	if shouting(trimmed) {
		return ReasonCaps
	}
	if last, ok := f.history.Get(identity); ok {
		if last.content == trimmed {
			return ReasonDuplicate
		}
		if Similarity(last.content, trimmed) > similarityLimit {
			return ReasonSimilar
		}
		if ts.Sub(last.at) < minMessageSpacing {
			return ReasonRateLimit
		}
	}
	f.history.Add(identity, lastMessage{content: trimmed, at: ts})
	return ReasonNone
}

// Reset forgets all history. Called when a cycle closes.
func (f *Filter) Reset() { f.history.Purge() }

// Len returns the number of identities currently remembered.
func (f *Filter) Len() int { return f.history.Len() }

func shouting(s string) bool {
	var letters, upper int
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			letters++
			upper++
		case r >= 'a' && r <= 'z':
			letters++
		}
	}
	if letters < capsMinLetters {
		return false
	}
	return float64(upper)/float64(letters) > capsRatio
}

// Similarity is the Jaccard-style overlap of the lower-cased word sets of a
// and b, normalised by the larger set.
func Similarity(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	larger := len(setA)
	if len(setB) > larger {
		larger = len(setB)
	}
	if larger == 0 {
		return 0
	}
	shared := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(larger)
}

func wordSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}
