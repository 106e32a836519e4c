// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package summarize

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/pdiddy/paper-digest/internal/token"
	"github.com/pdiddy/paper-digest/pkg/types"
)

// Delimiter terminates each paper's summary in the model response.
const Delimiter = "<<<END>>>"

// summaryPromptTmpl is sent once per batch. The papers are numbered and the
// model must answer in the same order, closing every summary with the
// delimiter line so the response can be split without guessing.
var summaryPromptTmpl = template.Must(template.New("summary").
	Funcs(template.FuncMap{"inc": func(i int) int { return i + 1 }}).
	Parse(`You are summarizing newly published research papers for a team digest.

For each of the {{len .Papers}} papers below, write 2-3 concise bullet points (lines starting with "- ") covering the problem, the method, and the main result. Use plain language. Do not repeat the title and do not add an introduction or conclusion.

Answer in the same order as the papers are numbered. After each paper's bullet points write a line containing only {{.Delimiter}}. Your answer must contain exactly {{len .Papers}} summaries, each followed by {{.Delimiter}}.
{{range $i, $p := .Papers}}
Paper {{inc $i}}
Title: {{$p.Title}}
Abstract: {{$p.Abstract}}
{{end}}`))

type promptPaper struct {
	Title    string
	Abstract string
}

type promptData struct {
	Papers    []promptPaper
	Delimiter string
}

// renderPrompt builds the batch prompt with abstracts truncated to
// maxAbstract characters.
func renderPrompt(papers []types.Paper, maxAbstract int) (string, error) {
	data := promptData{Delimiter: Delimiter}
	for _, p := range papers {
		data.Papers = append(data.Papers, promptPaper{
			Title:    p.Title,
			Abstract: token.TruncateWords(p.Abstract, maxAbstract),
		})
	}
	var buf bytes.Buffer
	if err := summaryPromptTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// labelLine matches a leading "Paper 3", "**Paper 3:**" or "3." line some
// models echo before a summary.
var labelLine = regexp.MustCompile(`^[#*\s]*(?:Paper\s+)?\d+[.:)]?[*\s]*$`)

// parseSummaries splits a response into exactly want summaries. Blank
// segments are dropped; any other count is an ErrSummarizationParse so a
// summary is never attached to the wrong paper.
func parseSummaries(response string, want int) ([]string, error) {
	var out []string
	for _, seg := range strings.Split(response, Delimiter) {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		lines := strings.Split(seg, "\n")
		if len(lines) > 1 && labelLine.MatchString(lines[0]) {
			seg = strings.TrimSpace(strings.Join(lines[1:], "\n"))
		}
		if seg == "" {
			continue
		}
		out = append(out, seg)
	}
	if len(out) != want {
		return nil, fmt.Errorf("%w: expected %d summaries, got %d", types.ErrSummarizationParse, want, len(out))
	}
	return out, nil
}
