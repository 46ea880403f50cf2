// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package report

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/fumiama/go-docx"
)

// Font sizes in half-points, matching a 12pt body with stepped headings.
const (
	sizeTitle    = "36"
	sizeHeading1 = "32"
	sizeHeading2 = "28"
	sizeHeading3 = "26"
)

var boldSpan = regexp.MustCompile(`\*\*([^*]+)\*\*`)

// renderDocx builds the Word report from the generated sections.
func renderDocx(secs sections) ([]byte, error) {
	doc := docx.New().WithDefaultTheme()

	title := doc.AddParagraph().Justification("center")
	title.AddText("Statistical Analysis Results").Size(sizeTitle).Bold()
	doc.AddParagraph()

	parts := []struct {
		heading string
		body    string
	}{
		{"Methods", secs.Methods},
		{"Results", secs.Results},
		{"Figure Legends", secs.Legends},
		{"Limitations", secs.Limitations},
	}

	for i, part := range parts {
		if i > 0 {
			doc.AddParagraph()
		}
		doc.AddParagraph().AddText(part.heading).Size(sizeHeading1).Bold()
		addBody(doc, part.body)
	}

	var buf bytes.Buffer
	if _, err := doc.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// addBody converts markdown-ish section text into document paragraphs:
// #/##/### lines become headings, **spans** become bold runs, blank
// lines are dropped.
func addBody(doc *docx.Docx, body string) {
	for _, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "### "):
			doc.AddParagraph().AddText(strings.TrimPrefix(line, "### ")).Size(sizeHeading3).Bold()
		case strings.HasPrefix(line, "## "):
			doc.AddParagraph().AddText(strings.TrimPrefix(line, "## ")).Size(sizeHeading2).Bold()
		case strings.HasPrefix(line, "# "):
			doc.AddParagraph().AddText(strings.TrimPrefix(line, "# ")).Size(sizeHeading1).Bold()
		default:
			addRuns(doc.AddParagraph(), line)
		}
	}
}

// addRuns writes a line into a paragraph, bolding **marked** spans.
func addRuns(p *docx.Paragraph, line string) {
	last := 0
	for _, loc := range boldSpan.FindAllStringSubmatchIndex(line, -1) {
		if loc[0] > last {
			p.AddText(line[last:loc[0]])
		}
		p.AddText(line[loc[2]:loc[3]]).Bold()
		last = loc[1]
	}
	if last < len(line) {
		p.AddText(line[last:])
	}
}
