// Package sidedata loads tabular lab results and renders them per date so
// they can be attached to the matching log entry.
package sidedata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tsilva/parsehealthlog/internal/models"
)

// LabSectionHeader starts every rendered lab block.
const LabSectionHeader = "#### Lab Results"

// Lab is one lab measurement.
type Lab struct {
	Date     string
	Name     string
	Value    string
	Unit     string
	RangeMin string
	RangeMax string
}

// Labs groups measurements by date.
type Labs map[string][]Lab

// column aliases accepted in the header row.
var columns = map[string][]string{
	"date":      {"date"},
	"name":      {"lab_name", "lab_name_enum", "name"},
	"value":     {"value", "lab_value", "lab_value_final"},
	"unit":      {"unit", "lab_unit", "lab_unit_final"},
	"range_min": {"range_min", "lab_range_min", "lab_range_min_final"},
	"range_max": {"range_max", "lab_range_max", "lab_range_max_final"},
}

// LoadFiles reads every existing CSV in paths. Missing files are skipped.
func LoadFiles(paths ...string) (Labs, error) {
	labs := make(Labs)
	for _, p := range paths {
		if p == "" {
			continue
		}
		f, err := os.Open(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("opening labs %s: %w", p, err)
		}
		err = labs.read(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("reading labs %s: %w", p, err)
		}
	}
	return labs, nil
}

// Parse reads a single lab CSV.
func Parse(r io.Reader) (Labs, error) {
	labs := make(Labs)
	if err := labs.read(r); err != nil {
		return nil, err
	}
	return labs, nil
}

func (l Labs) read(r io.Reader) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	idx := make(map[string]int)
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for col, aliases := range columns {
			for _, a := range aliases {
				if h == a {
					if _, seen := idx[col]; !seen {
						idx[col] = i
					}
				}
			}
		}
	}
	if _, ok := idx["date"]; !ok {
		return fmt.Errorf("missing date column")
	}
	if _, ok := idx["name"]; !ok {
		return fmt.Errorf("missing lab name column")
	}

	get := func(row []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		date, ok := normalizeDate(get(row, "date"))
		if !ok {
			continue
		}
		l[date] = append(l[date], Lab{
			Date:     date,
			Name:     get(row, "name"),
			Value:    get(row, "value"),
			Unit:     get(row, "unit"),
			RangeMin: get(row, "range_min"),
			RangeMax: get(row, "range_max"),
		})
	}
}

// Dates returns the dates with lab results in ascending order.
func (l Labs) Dates() []string {
	dates := make([]string, 0, len(l))
	for d := range l {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// Format renders the labs for date, or "" when there are none.
func (l Labs) Format(date string) string {
	rows := l[date]
	if len(rows) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(LabSectionHeader)
	sb.WriteString("\n")
	for _, lab := range rows {
		sb.WriteString(formatLab(lab))
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatLab(lab Lab) string {
	line := fmt.Sprintf("- **%s:** %s", lab.Name, lab.Value)
	if lab.Unit != "" {
		line += " " + lab.Unit
	}
	if lab.RangeMin == "" || lab.RangeMax == "" {
		return line
	}
	line += fmt.Sprintf(" (%s - %s)", lab.RangeMin, lab.RangeMax)
	v, errV := strconv.ParseFloat(lab.Value, 64)
	lo, errLo := strconv.ParseFloat(lab.RangeMin, 64)
	hi, errHi := strconv.ParseFloat(lab.RangeMax, 64)
	if errV != nil || errLo != nil || errHi != nil {
		return line
	}
	switch {
	case v < lo:
		line += " [BELOW RANGE]"
	case v > hi:
		line += " [ABOVE RANGE]"
	default:
		line += " [OK]"
	}
	return line
}

func normalizeDate(s string) (string, bool) {
	if len(s) >= 10 {
		s = strings.ReplaceAll(s[:10], "/", "-")
	}
	if _, err := time.Parse(models.DateLayout, s); err != nil {
		return "", false
	}
	return s, true
}
