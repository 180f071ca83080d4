// Package sections splits a health log into dated entries.
package sections

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/tsilva/parsehealthlog/internal/models"
)

// headerRe matches "### YYYY-MM-DD" and "### YYYY/MM/DD" section headers.
var headerRe = regexp.MustCompile(`^###\s*(\d{4})[-/](\d{2})[-/](\d{2})\b`)

// Section is one dated entry. Text includes the header line.
type Section struct {
	Date string
	Text string
}

// Document is a parsed health log.
type Document struct {
	// Intro is the text before the first dated header.
	Intro    string
	Sections []Section
	// Merged lists dates that appeared more than once and were merged.
	Merged []string
}

// ParseFile reads and parses the log at path.
func ParseFile(path string) (*Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading health log %s: %w", path, err)
	}
	return Parse(string(b))
}

// Parse splits content on dated headers. Sections are returned sorted by
// date; sections sharing a date are merged in document order.
func Parse(content string) (*Document, error) {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")

	doc := &Document{}
	var introLines, body []string
	var date string
	byDate := make(map[string]int)

	flush := func() {
		if date == "" {
			return
		}
		text := strings.TrimSpace(strings.Join(body, "\n"))
		if i, dup := byDate[date]; dup {
			doc.Sections[i].Text += "\n\n" + text
			doc.Merged = append(doc.Merged, date)
		} else {
			byDate[date] = len(doc.Sections)
			doc.Sections = append(doc.Sections, Section{Date: date, Text: text})
		}
		body = nil
	}

	for n, line := range lines {
		m := headerRe.FindStringSubmatch(line)
		if m == nil {
			if date == "" {
				introLines = append(introLines, line)
			} else {
				body = append(body, line)
			}
			continue
		}
		flush()
		date = m[1] + "-" + m[2] + "-" + m[3]
		if !models.ValidDate(date) {
			return nil, fmt.Errorf("line %d: invalid date in header %q", n+1, line)
		}
		body = append(body, line)
	}
	flush()

	if len(doc.Sections) == 0 {
		return nil, fmt.Errorf("no dated sections found (expected '### YYYY-MM-DD' or '### YYYY/MM/DD')")
	}
	doc.Intro = strings.TrimSpace(strings.Join(introLines, "\n"))
	sort.SliceStable(doc.Sections, func(i, j int) bool { return doc.Sections[i].Date < doc.Sections[j].Date })
	return doc, nil
}
