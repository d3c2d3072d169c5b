// README: Message hygiene: length limits, control-character stripping, injection and spam flags.
package validate

import (
	"regexp"
	"strings"
	"unicode"
)

// DefaultMaxMessageRunes is the longest user message accepted for a turn.
const DefaultMaxMessageRunes = 2000

type FlagKind string

const (
	FlagInjection FlagKind = "injection"
	FlagSpam      FlagKind = "spam"
)

// SecurityFlag is attached to the turn audit trail. The message is sanitized, not rejected.
type SecurityFlag struct {
	Kind    FlagKind `json:"kind"`
	Pattern string   `json:"pattern"`
}

// CheckedMessage is the sanitized text plus any flags raised while cleaning it.
type CheckedMessage struct {
	Text  string
	Flags []SecurityFlag
}

func (m CheckedMessage) Flagged() bool {
	return len(m.Flags) > 0
}

type namedPattern struct {
	name string
	re   *regexp.Regexp
}

var injectionPatterns = []namedPattern{
	{"ignore_instructions", regexp.MustCompile(`(?i)\b(ignore|disregard|forget)\b[^.\n]{0,40}\b(previous|prior|above|all)\b[^.\n]{0,20}\b(instructions?|rules|prompts?)\b`)},
	{"system_prompt", regexp.MustCompile(`(?i)\b(reveal|print|show|repeat)\b[^.\n]{0,30}\bsystem\s+(prompt|message|instructions?)\b`)},
	{"role_override", regexp.MustCompile(`(?i)\byou\s+are\s+now\b|\bact\s+as\s+(an?\s+)?(admin|developer|system)\b`)},
	{"chat_markup", regexp.MustCompile(`(?i)</?(system|assistant|s)>|\[/?INST\]|<\|im_(start|end)\|>`)},
}

var spamPatterns = []namedPattern{
	{"many_links", regexp.MustCompile(`(?i)(https?://\S+.*){4,}`)},
	{"promo", regexp.MustCompile(`(?i)\b(buy now|free money|click here|crypto giveaway)\b`)},
}

// CheckMessage validates and sanitizes a raw user message. maxRunes <= 0 uses the default.
// Empty or oversized messages are ValidationErrors; injection and spam produce flags.
func CheckMessage(raw string, maxRunes int) (CheckedMessage, error) {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxMessageRunes
	}
	text := stripControl(raw)
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return CheckedMessage{}, invalid("message", ErrMalformedMessage, "message is empty")
	}
	if n := len([]rune(text)); n > maxRunes {
		return CheckedMessage{}, invalid("message", ErrMalformedMessage, "message has %d characters, limit is %d", n, maxRunes)
	}

	var flags []SecurityFlag
	for _, p := range injectionPatterns {
		if p.re.MatchString(text) {
			flags = append(flags, SecurityFlag{Kind: FlagInjection, Pattern: p.name})
			text = p.re.ReplaceAllString(text, "[removed]")
		}
	}
	for _, p := range spamPatterns {
		if p.re.MatchString(text) {
			flags = append(flags, SecurityFlag{Kind: FlagSpam, Pattern: p.name})
		}
	}
	if longestRun(text) >= spamRunLength {
		flags = append(flags, SecurityFlag{Kind: FlagSpam, Pattern: "repeated_chars"})
	}
	if strings.TrimSpace(strings.ReplaceAll(text, "[removed]", "")) == "" {
		text = "[removed]"
	}
	return CheckedMessage{Text: text, Flags: flags}, nil
}

const spamRunLength = 25

// longestRun returns the longest run of one repeated rune.
func longestRun(s string) int {
	best, cur := 0, 0
	var prev rune = -1
	for _, r := range s {
		if r == prev {
			cur++
		} else {
			prev, cur = r, 1
		}
		if cur > best {
			best = cur
		}
	}
	return best
}

// stripControl drops control and zero-width characters but keeps ordinary whitespace.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t' || r == ' ':
			return ' '
		case r == '\u200b' || r == '\u200c' || r == '\u200d' || r == '\ufeff':
			return -1
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
}
