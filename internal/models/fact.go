package models

import (
	"fmt"
	"strings"
)

// Fact is an unresolved record of something that happened to a named item,
// as supplied by the extractor. It carries no entity id.
type Fact struct {
	Type    EntityType `json:"type"`
	Name    string     `json:"name"`
	Kind    EventKind  `json:"event_kind"`
	Details string     `json:"details,omitempty"`
	ForName string     `json:"for_name,omitempty"`
}

// Class returns the lifecycle effect of the fact's kind.
func (f Fact) Class() KindClass {
	return Classify(f.Type, f.Kind)
}

// StackReset declares the complete set of currently active items in some
// categories. Everything active and unmentioned in those categories is closed.
type StackReset struct {
	Categories []EntityType `json:"categories"`
	Mentioned  []string     `json:"mentioned"`
}

// FactSet is the extraction result for one dated entry.
type FactSet struct {
	Items      []Fact      `json:"items"`
	StackReset *StackReset `json:"stack_reset,omitempty"`
}

// Validate checks the fact set at the extraction boundary and returns one
// message per problem. Unrecognized kinds are only reported when strict is set;
// otherwise they are accepted and recorded as notes.
func (fs FactSet) Validate(strict bool) []string {
	var problems []string
	for i, f := range fs.Items {
		if strings.TrimSpace(f.Name) == "" {
			problems = append(problems, fmt.Sprintf("items[%d]: name is required", i))
		}
		if !f.Type.IsValid() {
			problems = append(problems, fmt.Sprintf("items[%d]: invalid type %q", i, f.Type))
			continue
		}
		if strings.TrimSpace(string(f.Kind)) == "" {
			problems = append(problems, fmt.Sprintf("items[%d]: event_kind is required", i))
			continue
		}
		if strict && f.Class() == ClassUnrecognized {
			problems = append(problems, fmt.Sprintf("items[%d]: event_kind %q is not valid for type %q", i, f.Kind, f.Type))
		}
	}
	if fs.StackReset != nil {
		if len(fs.StackReset.Categories) == 0 {
			problems = append(problems, "stack_reset: categories must not be empty")
		}
		for _, c := range fs.StackReset.Categories {
			if !c.IsValid() {
				problems = append(problems, fmt.Sprintf("stack_reset: invalid category %q", c))
			}
		}
	}
	return problems
}
