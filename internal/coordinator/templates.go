package coordinator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/claude-flow/claude-flow/pkg/models"
)

// templateYAML is one step of a strategy override file.
type templateYAML struct {
	// Type is the task type produced by this step.
	Type string `yaml:"type"`
	// Priority orders dispatch; zero means position in the list.
	Priority int `yaml:"priority"`
	// DependsOn lists the types of earlier steps this step waits for.
	DependsOn []string `yaml:"depends_on"`
}

// templateFile is the on-disk shape of a strategy override file:
//
//	strategies:
//	  development:
//	    - type: planning
//	    - type: implementation
//	      depends_on: [planning]
type templateFile struct {
	Strategies map[string][]templateYAML `yaml:"strategies"`
}

// LoadTemplates reads strategy template overrides from a YAML file.
// An override replaces the built-in decomposition for its strategy;
// unknown strategy names define new ones.
func LoadTemplates(path string) (map[models.Strategy][]templateStep, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template file: %w", err)
	}

	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse template file: %w", err)
	}

	overrides := make(map[models.Strategy][]templateStep, len(file.Strategies))
	for name, steps := range file.Strategies {
		template, err := buildTemplate(name, steps)
		if err != nil {
			return nil, err
		}
		overrides[models.Strategy(name)] = template
	}
	return overrides, nil
}

// buildTemplate validates one strategy's steps: every step needs a
// type, types are unique, and dependencies reference earlier steps.
func buildTemplate(strategy string, steps []templateYAML) ([]templateStep, error) {
	if len(steps) == 0 {
		return nil, models.NewSwarmError(models.CodeEmptyObjective,
			fmt.Sprintf("strategy %q has no steps", strategy))
	}

	seen := make(map[string]bool, len(steps))
	template := make([]templateStep, 0, len(steps))
	for i, step := range steps {
		if step.Type == "" {
			return nil, fmt.Errorf("strategy %q: step %d has no type", strategy, i+1)
		}
		if seen[step.Type] {
			return nil, fmt.Errorf("strategy %q: duplicate step type %q", strategy, step.Type)
		}
		for _, dep := range step.DependsOn {
			if !seen[dep] {
				return nil, models.NewSwarmError(models.CodeUnknownDependency,
					fmt.Sprintf("strategy %q: step %q depends on unknown earlier step %q", strategy, step.Type, dep))
			}
		}
		seen[step.Type] = true

		priority := step.Priority
		if priority == 0 {
			priority = i + 1
		}
		template = append(template, templateStep{
			taskType: step.Type,
			priority: priority,
			deps:     append([]string(nil), step.DependsOn...),
		})
	}
	return template, nil
}
