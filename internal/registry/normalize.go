package registry

import (
	"regexp"
	"strings"

	"github.com/tsilva/parsehealthlog/internal/models"
)

// DosagePolicy decides whether a dose is part of an item's identity.
type DosagePolicy string

const (
	// DosageIgnore strips doses and regimen words, so "Vitamin D 2000IU" and
	// "Vitamin D 4000IU" are the same entity and a change is an adjustment.
	DosageIgnore DosagePolicy = "ignore"

	// DosageDistinct keeps doses, so a dose change is a different entity.
	DosageDistinct DosagePolicy = "distinct"
)

// IsValid returns true if the policy is recognized.
func (p DosagePolicy) IsValid() bool {
	return p == DosageIgnore || p == DosageDistinct
}

var (
	apostrophes = strings.NewReplacer("'", "", "’", "", "`", "")
	possessiveS = regexp.MustCompile(`(\w)s(\s+(?:syndrome|disease|sign|phenomenon|palsy|tremor)\b)`)
	doseRe      = regexp.MustCompile(`\s*\d+(?:[.,]\d+)?\s*(?:mg|mcg|µg|iu|g|ml|units?)\b`)
	doseSpaceRe = regexp.MustCompile(`(\d)\s+(mg|mcg|µg|iu|g|ml|units?)\b`)
	regimenRe   = regexp.MustCompile(`\b(?:prn|daily|twice daily|weekly|monthly|as needed|qd|bid|tid)\b`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

// NormalizeName folds a display name into the form used for identity matching.
func NormalizeName(name string, policy DosagePolicy) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = apostrophes.Replace(n)
	n = possessiveS.ReplaceAllString(n, "$1$2")
	if policy == DosageDistinct {
		n = doseSpaceRe.ReplaceAllString(n, "$1$2")
	} else {
		n = doseRe.ReplaceAllString(n, "")
		n = regimenRe.ReplaceAllString(n, "")
	}
	n = spaceRe.ReplaceAllString(n, " ")
	return strings.TrimSpace(n)
}

func identityKey(t models.EntityType, name string, policy DosagePolicy) string {
	return string(t) + "|" + NormalizeName(name, policy)
}
