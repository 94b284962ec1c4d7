// Package reformat rewrites Slack-style inline markup into neutral
// markdown before a message is re-emitted on another platform.
//
// The pipeline stages run in a fixed order so that no stage's output can
// be re-matched by a later stage: user mentions, broadcast notifications,
// channel references, then links. Attachment and file summaries are not
// part of the text pipeline; they are rendered separately and appended by
// the caller.
package reformat

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

var (
	userRe    = regexp.MustCompile(`<@([A-Z0-9]+)>`)
	notifRe   = regexp.MustCompile(`<!([a-zA-Z0-9]+)>`)
	channelRe = regexp.MustCompile(`<#[a-zA-Z0-9]+\|([a-zA-Z0-9]+)>`)
	linkRe    = regexp.MustCompile(`<([a-zA-Z0-9]+:[^|>]+)(?:\|([^>]+))?>`)
)

// Flavors holds the same logical content rendered for markdown-capable
// and plaintext-only destinations.
type Flavors struct {
	Markdown  string
	Plaintext string
}

// UserLookup resolves a platform user ID to a display name. The second
// return is false when the user cannot be resolved; the caller keeps the
// original token in that case.
type UserLookup func(id string) (string, bool)

// Pipeline applies the ordered rewriters to raw origin text.
type Pipeline struct {
	lookupUser UserLookup
	log        zerolog.Logger
}

func NewPipeline(lookup UserLookup, log zerolog.Logger) *Pipeline {
	return &Pipeline{lookupUser: lookup, log: log}
}

// Rewrite converts all recognized inline markup in text to neutral
// markdown. Text without recognized tokens is returned unchanged.
func (p *Pipeline) Rewrite(text string) string {
	text = p.rewriteUsers(text)
	text = rewriteNotifications(text)
	text = rewriteChannels(text)
	text = rewriteLinks(text)
	return text
}

// rewrite performs a single left-to-right pass over non-overlapping
// matches of re in input, copying unmatched spans verbatim and appending
// the replacement for each match. groups[0] is the whole match, the rest
// are submatches (empty string for an unmatched optional group).
func rewrite(input string, re *regexp.Regexp, replace func(groups []string) string) string {
	matches := re.FindAllStringSubmatchIndex(input, -1)
	if matches == nil {
		return input
	}
	var b strings.Builder
	b.Grow(len(input))
	last := 0
	for _, m := range matches {
		b.WriteString(input[last:m[0]])
		groups := make([]string, 0, len(m)/2)
		for i := 0; i < len(m); i += 2 {
			if m[i] < 0 {
				groups = append(groups, "")
			} else {
				groups = append(groups, input[m[i]:m[i+1]])
			}
		}
		b.WriteString(replace(groups))
		last = m[1]
	}
	b.WriteString(input[last:])
	return b.String()
}

// rewriteUsers turns <@U123> into **@DisplayName**. A failed lookup keeps
// the original token so no text is ever dropped.
func (p *Pipeline) rewriteUsers(text string) string {
	return rewrite(text, userRe, func(groups []string) string {
		id := groups[1]
		name, ok := p.lookupUser(id)
		if !ok {
			p.log.Warn().Str("user_id", id).Msg("could not resolve mentioned user")
			return groups[0]
		}
		return "**@" + name + "**"
	})
}

// rewriteNotifications turns <!here> style broadcast tokens into
// **@here**. Tokens are passed through literally, no lookup involved.
func rewriteNotifications(text string) string {
	return rewrite(text, notifRe, func(groups []string) string {
		return "**@" + groups[1] + "**"
	})
}

// rewriteChannels turns <#C123|general> into **#general** using the
// embedded display name.
func rewriteChannels(text string) string {
	return rewrite(text, channelRe, func(groups []string) string {
		return "**#" + groups[1] + "**"
	})
}

// rewriteLinks unwraps <url> and <url|label> tokens. A label that is
// absent or identical to the URL yields the bare URL; anything else
// becomes a markdown link.
func rewriteLinks(text string) string {
	return rewrite(text, linkRe, func(groups []string) string {
		url, label := groups[1], groups[2]
		if label == "" || label == url {
			return url
		}
		return "[" + label + "](" + url + ")"
	})
}
