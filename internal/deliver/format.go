// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package deliver formats paper summaries into channel-sized messages and
// posts them to Slack.
package deliver

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pdiddy/paper-digest/pkg/types"
)

// DefaultMessageLimit is Slack's practical limit for one mrkdwn text field.
const DefaultMessageLimit = 3000

const (
	truncatedMarker = "… (truncated)"
	fallbackMarker  = "_(AI summary unavailable; abstract excerpt)_"
	maxAuthors      = 5
	timestampLayout = "2006-01-02 15:04:05"
)

// Formatter renders entries as Slack mrkdwn blocks no longer than Limit
// characters.
type Formatter struct {
	Limit int
}

// NewFormatter returns a Formatter for limit, using DefaultMessageLimit
// when limit is not positive.
func NewFormatter(limit int) Formatter {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	return Formatter{Limit: limit}
}

// Header renders the digest heading line for title at t.
func Header(title string, t time.Time) string {
	return fmt.Sprintf(":rocket: *%s* - %s", escape(title), t.Format(timestampLayout))
}

// AlertText renders a failure alert for subject.
func AlertText(subject, message string) string {
	var b strings.Builder
	b.WriteString(":warning: *Paper digest alert*")
	if subject != "" {
		fmt.Fprintf(&b, " (%s)", escape(subject))
	}
	b.WriteString("\n")
	b.WriteString(escape(message))
	return b.String()
}

// Format renders header and entries into ordered blocks. Each entry is one
// unit that never spans two blocks; units are packed into a block until the
// next one would exceed the limit. A unit longer than the limit on its own
// is truncated with a marker. The header, when non-empty, opens the first
// block. No entries and no header yields no blocks.
func (f Formatter) Format(header string, entries []types.Entry) []string {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultMessageLimit
	}

	units := make([]string, 0, len(entries)+1)
	if header != "" {
		units = append(units, fitUnit(header, limit))
	}
	for _, e := range entries {
		units = append(units, newUnit(e).fit(limit))
	}

	var blocks []string
	var cur string
	for _, u := range units {
		switch {
		case cur == "":
			cur = u
		case runeLen(cur)+2+runeLen(u) <= limit:
			cur += "\n\n" + u
		default:
			blocks = append(blocks, cur)
			cur = u
		}
	}
	if cur != "" {
		blocks = append(blocks, cur)
	}
	return blocks
}

// RenderUnit renders one paper as a self-contained mrkdwn unit: linked
// title, authors, then the summary.
func RenderUnit(e types.Entry) string {
	return newUnit(e).String()
}

// unit is a rendered entry split into its title link and the lines after it.
type unit struct {
	link  string
	label string
	rest  string
}

func newUnit(e types.Entry) unit {
	u := unit{link: e.Paper.Link, label: escape(e.Paper.Title)}
	if u.link != "" {
		u.label = strings.ReplaceAll(u.label, "|", "¦")
	}

	var b strings.Builder
	if authors := authorLine(e.Paper.Authors); authors != "" {
		b.WriteString("\n_")
		b.WriteString(escape(authors))
		b.WriteString("_")
	}
	if e.Summary.IsFallback() {
		b.WriteString("\n")
		b.WriteString(fallbackMarker)
	}
	if body := strings.TrimSpace(e.Summary.Text); body != "" {
		b.WriteString("\n")
		b.WriteString(toMrkdwn(escape(body)))
	}
	u.rest = b.String()
	return u
}

func (u unit) titleLine(label string) string {
	if u.link != "" {
		return fmt.Sprintf("*:page_facing_up: <%s|%s>*", u.link, label)
	}
	return fmt.Sprintf("*:page_facing_up: %s*", label)
}

func (u unit) String() string { return u.titleLine(u.label) + u.rest }

// fit renders u within limit characters. The body is cut first; the title
// label is shortened only when the title line alone is over the limit, and
// the link markup around it is always closed.
func (u unit) fit(limit int) string {
	full := u.String()
	if runeLen(full) <= limit {
		return full
	}
	marker := runeLen(truncatedMarker)

	title := u.titleLine(u.label)
	if room := limit - runeLen(title) - marker; room >= 0 {
		return title + cutText(u.rest, room) + truncatedMarker
	}
	if room := limit - runeLen(u.titleLine("")) - marker; room > 0 {
		return u.titleLine(cutText(u.label, room) + truncatedMarker)
	}
	return fitUnit(u.label, limit)
}

// authorLine lists up to maxAuthors names, then "et al.".
func authorLine(authors []string) string {
	if len(authors) == 0 {
		return ""
	}
	if len(authors) > maxAuthors {
		return strings.Join(authors[:maxAuthors], ", ") + " et al."
	}
	return strings.Join(authors, ", ")
}

// toMrkdwn converts Markdown bullets and bold to Slack mrkdwn.
func toMrkdwn(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
			trimmed = "• " + strings.TrimSpace(trimmed[2:])
		}
		lines[i] = strings.ReplaceAll(trimmed, "**", "*")
	}
	return strings.Join(lines, "\n")
}

// escape encodes the three characters Slack treats as control characters.
func escape(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}

// fitUnit truncates u to limit characters, marker included.
func fitUnit(u string, limit int) string {
	if runeLen(u) <= limit {
		return u
	}
	keep := limit - runeLen(truncatedMarker)
	if keep <= 0 {
		return string([]rune(u)[:limit])
	}
	return cutText(u, keep) + truncatedMarker
}

// cutText shortens s to at most n characters. The cut never leaves a
// partial HTML entity or trailing whitespace behind.
func cutText(s string, n int) string {
	if runeLen(s) <= n {
		return s
	}
	head := string([]rune(s)[:n])
	if amp := strings.LastIndex(head, "&"); amp >= 0 && !strings.Contains(head[amp:], ";") {
		head = head[:amp]
	}
	return strings.TrimRight(head, " \n")
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
