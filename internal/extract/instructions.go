package extract

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tsilva/parsehealthlog/internal/models"
	"github.com/tsilva/parsehealthlog/pkg/manifest"
)

// SchemaVersion is the version of the fact-set format the extractor emits.
// Bumping it invalidates every cached extraction.
const SchemaVersion = 1

// Dependency keys contributed by the instructions.
const (
	KeyProcessPrompt  = "prompt.process"
	KeyValidatePrompt = "prompt.validate"
	KeyExtractPrompt  = "prompt.extract"
	KeySchema         = "schema.facts"
)

// Prompt file names looked up in an instructions directory.
const (
	ProcessFile  = "process.system_prompt.md"
	ValidateFile = "validate.system_prompt.md"
	ExtractFile  = "extract.system_prompt.md"
)

// Instructions holds the prompt texts used for one run. It is built once and
// passed to every component that talks to the model.
type Instructions struct {
	Process  string
	Validate string
	Extract  string
}

// DefaultInstructions returns the compiled-in prompts.
func DefaultInstructions() Instructions {
	return Instructions{
		Process:  defaultProcessPrompt,
		Validate: defaultValidatePrompt,
		Extract:  defaultExtractPrompt(),
	}
}

// LoadInstructions returns the default prompts with any prompt file found in
// dir taking precedence. An empty dir yields the defaults.
func LoadInstructions(dir string) (Instructions, error) {
	in := DefaultInstructions()
	if dir == "" {
		return in, nil
	}
	for _, p := range []struct {
		file string
		dst  *string
	}{
		{ProcessFile, &in.Process},
		{ValidateFile, &in.Validate},
		{ExtractFile, &in.Extract},
	} {
		b, err := os.ReadFile(filepath.Join(dir, p.file))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Instructions{}, fmt.Errorf("reading prompt %s: %w", p.file, err)
		}
		text := strings.TrimSpace(string(b))
		if text == "" {
			return Instructions{}, fmt.Errorf("prompt %s is empty", p.file)
		}
		*p.dst = text
	}
	return in, nil
}

// TransformDeps returns the dependency entries of a processed artifact that
// come from the prompts.
func (in Instructions) TransformDeps() manifest.Manifest {
	return manifest.Manifest{
		KeyProcessPrompt:  manifest.Digest(in.Process),
		KeyValidatePrompt: manifest.Digest(in.Validate),
	}
}

// ExtractDeps returns the dependency entries of a facts artifact that come
// from the prompt and the schema version.
func (in Instructions) ExtractDeps() manifest.Manifest {
	return manifest.Manifest{
		KeyExtractPrompt: manifest.Digest(in.Extract),
		KeySchema:        manifest.Digest(fmt.Sprintf("facts-schema-v%d", SchemaVersion)),
	}
}

const defaultProcessPrompt = `You convert one dated entry of a personal health journal into clean, structured markdown.

Rules:
- Keep every fact from the entry. Do not add, infer or drop information.
- Start with the entry's date header exactly as given.
- Group content under short bullet points: symptoms, conditions, medications, supplements, experiments, provider visits, lab results and to-dos.
- Keep doses, frequencies, durations and numeric values verbatim.
- If the entry declares a complete current list of medications or supplements, keep that statement explicit.
- Output only the markdown, with no commentary.`

const defaultValidatePrompt = `You check that a processed health journal entry faithfully preserves its raw source.

Compare the raw and processed entries. The processed entry passes only if every fact, dose, date and value in the raw entry is present and nothing was invented.

If it passes, answer with exactly $OK$.
Otherwise list each missing or altered fact on its own line and do not write $OK$.`

func defaultExtractPrompt() string {
	var sb strings.Builder
	sb.WriteString(`You extract structured facts from one processed health journal entry.

Return only a JSON object of the form:
{"items":[{"type":"...","name":"...","event_kind":"...","details":"...","for_name":"..."}],
 "stack_reset":{"categories":["medication","supplement"],"mentioned":["..."]}}

Fields:
- type: one of the entity types below.
- name: the item's name as written, including dose for medications and supplements.
- event_kind: one of the kinds allowed for the type.
- details: a short note with doses, severity or context. Optional.
- for_name: the condition or symptom a medication, supplement or experiment targets. Optional.

Allowed kinds per type:
`)
	for _, t := range models.ValidEntityTypes {
		kinds := models.Vocabulary(t)
		names := make([]string, len(kinds))
		for i := range kinds {
			names[i] = string(kinds[i])
		}
		fmt.Fprintf(&sb, "- %s: %s\n", t, strings.Join(names, ", "))
	}
	sb.WriteString(`
Include "stack_reset" only when the entry declares the complete current set of some categories
(for example "current stack", "only taking", "stopped all", "not taking any"). List those
categories and every item name mentioned as still taken. Omit it otherwise.

If nothing relevant happened, return {"items":[]}.`)
	return sb.String()
}
