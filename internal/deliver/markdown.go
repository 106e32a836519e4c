// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package deliver

import (
	"fmt"
	"strings"
	"time"

	"github.com/pdiddy/paper-digest/pkg/types"
)

// Markdown renders a digest as a standalone Markdown document for the file
// sink. It carries the same entries, in the same order, as the Slack blocks.
func Markdown(title string, generated time.Time, entries []types.Entry) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "_Generated %s, %d papers._\n", generated.Format(timestampLayout), len(entries))

	if len(entries) == 0 {
		b.WriteString("\nNo papers matched this query.\n")
		return b.String()
	}

	for i, e := range entries {
		p := e.Paper
		b.WriteString("\n")
		if p.Link != "" {
			fmt.Fprintf(&b, "## %d. [%s](%s)\n\n", i+1, p.Title, p.Link)
		} else {
			fmt.Fprintf(&b, "## %d. %s\n\n", i+1, p.Title)
		}
		if len(p.Authors) > 0 {
			fmt.Fprintf(&b, "**Authors:** %s  \n", strings.Join(p.Authors, ", "))
		}
		if !p.Published.IsZero() {
			fmt.Fprintf(&b, "**Published:** %s  \n", p.Published.Format("2006-01-02"))
		}
		fmt.Fprintf(&b, "**arXiv:** %s\n\n", p.ID)

		if e.Summary.IsFallback() {
			b.WriteString("> AI summary unavailable; abstract excerpt.\n\n")
		}
		b.WriteString(strings.TrimSpace(e.Summary.Text))
		b.WriteString("\n")
	}
	return b.String()
}
