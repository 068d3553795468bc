package validator

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/zoobzio/pipz"
	"golang.org/x/text/unicode/norm"
)

// fragment is one tip or the rationale moving through the sanitizer chain.
type fragment struct {
	text     string
	maxWords int // 0 = no word limit
	maxRunes int // 0 = no character limit

	profane   bool
	truncated bool
	changed   []string
}

var (
	urlPattern = regexp.MustCompile(`(?i)https?://\S+`)

	// Pictographs, dingbats, flags and the joiners that glue them together.
	// ASCII emoticons such as :) or ;-P are untouched.
	emojiPattern = regexp.MustCompile(`[` +
		`\x{1F600}-\x{1F64F}` +
		`\x{1F300}-\x{1F5FF}` +
		`\x{1F680}-\x{1F6FF}` +
		`\x{1F1E0}-\x{1F1FF}` +
		`\x{2600}-\x{27BF}` +
		`\x{1F900}-\x{1F9FF}` +
		`\x{1FA70}-\x{1FAFF}` +
		`\x{FE0F}\x{200D}` +
		`]`)

	wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)
)

var profanity = map[string]struct{}{
	"fuck": {}, "shit": {}, "damn": {}, "bitch": {}, "ass": {}, "piss": {},
	"cock": {}, "dick": {}, "pussy": {}, "cunt": {}, "whore": {}, "slut": {},
	"bastard": {}, "motherfucker": {}, "fucker": {}, "shitty": {}, "fucking": {},
	"shitting": {}, "damned": {}, "asshole": {}, "dumbass": {}, "jackass": {},
}

func trimStage(_ context.Context, f *fragment) (*fragment, error) {
	f.text = strings.TrimSpace(f.text)
	return f, nil
}

func stripURLStage(_ context.Context, f *fragment) (*fragment, error) {
	if out := urlPattern.ReplaceAllString(f.text, ""); out != f.text {
		f.text = out
		f.changed = append(f.changed, "url removed")
	}
	return f, nil
}

func stripEmojiStage(_ context.Context, f *fragment) (*fragment, error) {
	if out := emojiPattern.ReplaceAllString(f.text, ""); out != f.text {
		f.text = out
		f.changed = append(f.changed, "emoji removed")
	}
	return f, nil
}

func squashSpaceStage(_ context.Context, f *fragment) (*fragment, error) {
	f.text = strings.Join(strings.Fields(f.text), " ")
	return f, nil
}

func profanityStage(_ context.Context, f *fragment) (*fragment, error) {
	if ContainsProfanity(f.text) {
		f.profane = true
		f.changed = append(f.changed, "profanity")
	}
	return f, nil
}

func truncateStage(_ context.Context, f *fragment) (*fragment, error) {
	if f.profane {
		return f, nil
	}
	if f.maxWords > 0 {
		if words := strings.Fields(f.text); len(words) > f.maxWords {
			f.text = strings.Join(words[:f.maxWords], " ") + "..."
			f.truncated = true
		}
	}
	if f.maxRunes > 0 && utf8.RuneCountInString(f.text) > f.maxRunes {
		f.text = truncateRunes(f.text, f.maxRunes)
		f.truncated = true
	}
	if f.truncated {
		f.changed = append(f.changed, "truncated")
	}
	return f, nil
}

// ContainsProfanity reports whether any word of s, after NFKC folding and
// lower-casing, is on the blocklist. NFKC maps full-width and other
// compatibility forms onto ASCII so they cannot slip past the list.
func ContainsProfanity(s string) bool {
	folded := strings.ToLower(norm.NFKC.String(s))
	for _, w := range wordPattern.FindAllString(folded, -1) {
		if _, bad := profanity[w]; bad {
			return true
		}
	}
	return false
}

// truncateRunes keeps the first max-3 runes and appends "...".
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	keep := max - 3
	if keep < 0 {
		keep = 0
	}
	runes := []rune(s)
	return string(runes[:keep]) + "..."
}

func newChain() pipz.Chainable[*fragment] {
	return pipz.NewSequence(pipz.NewIdentity("sanitize", ""),
		pipz.Apply(pipz.NewIdentity("trim", ""), trimStage),
		pipz.Apply(pipz.NewIdentity("strip-urls", ""), stripURLStage),
		pipz.Apply(pipz.NewIdentity("strip-emoji", ""), stripEmojiStage),
		pipz.Apply(pipz.NewIdentity("squash-space", ""), squashSpaceStage),
		pipz.Apply(pipz.NewIdentity("profanity", ""), profanityStage),
		pipz.Apply(pipz.NewIdentity("truncate", ""), truncateStage),
	)
}

var chain = newChain()

// sanitize runs text through the chain. The stages never fail; a chain error
// would only come from a cancelled context, which Background never is.
func sanitize(text string, maxWords, maxRunes int) *fragment {
	f := &fragment{text: text, maxWords: maxWords, maxRunes: maxRunes}
	out, err := chain.Process(context.Background(), f)
	if err != nil || out == nil {
		f.text = ""
		return f
	}
	return out
}
