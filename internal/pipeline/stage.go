package pipeline

import "fmt"

// Stage is the coarse progress of the pipeline. Exactly one stage is active
// at a time.
type Stage int

const (
	Idle Stage = iota
	UploadingImage
	DetectingIngredients
	FindingRecipes
	Done
	Failed
)

var stageNames = map[Stage]string{
	Idle:                 "idle",
	UploadingImage:       "uploading_image",
	DetectingIngredients: "detecting_ingredients",
	FindingRecipes:       "finding_recipes",
	Done:                 "done",
	Failed:               "failed",
}

// String returns the stable identifier of the stage.
func (s Stage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return "unknown"
}

// Label returns the progress line shown while the stage is active.
func (s Stage) Label() string {
	switch s {
	case UploadingImage:
		return "Uploading image…"
	case DetectingIngredients:
		return "Detecting ingredients…"
	case FindingRecipes:
		return "Finding best recipes online…"
	default:
		return ""
	}
}

// InFlight reports whether a network stage is outstanding.
func (s Stage) InFlight() bool {
	return s == UploadingImage || s == DetectingIngredients || s == FindingRecipes
}

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(b []byte) error {
	for st, n := range stageNames {
		if n == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown stage %q", b)
}
