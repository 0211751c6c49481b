package services

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rubrics.yaml
var defaultRubricsYAML []byte

type GradeRubric struct {
	Label  string `yaml:"label"`
	Rubric string `yaml:"rubric"`
}

type rubricFile struct {
	Grades map[string]GradeRubric `yaml:"grades"`
}

// RubricSet maps grade tags to the scoring-rubric text embedded in prompts.
// The embedded defaults can be overridden with RUBRIC_FILE.
type RubricSet struct {
	grades map[string]GradeRubric
}

func LoadRubrics() (*RubricSet, error) {
	raw := defaultRubricsYAML
	if path := strings.TrimSpace(os.Getenv("RUBRIC_FILE")); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read rubric file: %w", err)
		}
		raw = b
	}
	var f rubricFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse rubrics: %w", err)
	}
	if len(f.Grades) == 0 {
		return nil, fmt.Errorf("rubrics: no grades defined")
	}
	return &RubricSet{grades: f.Grades}, nil
}

func (r *RubricSet) Get(grade string) (GradeRubric, bool) {
	g, ok := r.grades[grade]
	return g, ok
}
