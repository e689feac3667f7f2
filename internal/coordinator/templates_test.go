package coordinator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/claude-flow/claude-flow/pkg/models"
)

func writeTemplateFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write template file: %v", err)
	}
	return path
}

func TestLoadTemplatesOverridesAndAdds(t *testing.T) {
	path := writeTemplateFile(t, `
strategies:
  research:
    - type: survey
    - type: writeup
      priority: 5
      depends_on: [survey]
  triage:
    - type: reproduce
    - type: bisect
      depends_on: [reproduce]
`)

	overrides, err := LoadTemplates(path)
	if err != nil {
		t.Fatalf("LoadTemplates: %v", err)
	}

	research := overrides[models.StrategyResearch]
	if len(research) != 2 {
		t.Fatalf("research override has %d steps, want 2", len(research))
	}
	if research[0].taskType != "survey" || research[0].priority != 1 {
		t.Errorf("step 1 = %+v, want survey with default priority 1", research[0])
	}
	if research[1].priority != 5 {
		t.Errorf("explicit priority = %d, want 5", research[1].priority)
	}
	if len(research[1].deps) != 1 || research[1].deps[0] != "survey" {
		t.Errorf("writeup deps = %v, want [survey]", research[1].deps)
	}

	if _, ok := overrides[models.Strategy("triage")]; !ok {
		t.Error("custom triage strategy missing from overrides")
	}
}

func TestLoadTemplatesRejectsBadFiles(t *testing.T) {
	cases := []struct {
		name    string
		content string
		code    models.ErrorCode
	}{
		{
			name: "unknown dependency",
			content: `
strategies:
  research:
    - type: survey
      depends_on: [missing]
`,
			code: models.CodeUnknownDependency,
		},
		{
			name: "forward dependency",
			content: `
strategies:
  research:
    - type: survey
      depends_on: [writeup]
    - type: writeup
`,
			code: models.CodeUnknownDependency,
		},
		{
			name: "empty strategy",
			content: `
strategies:
  research: []
`,
			code: models.CodeEmptyObjective,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTemplateFile(t, tc.content)
			_, err := LoadTemplates(path)
			if err == nil {
				t.Fatal("LoadTemplates did not fail")
			}
			if got := models.CodeOf(err); got != tc.code {
				t.Errorf("error code = %v, want %v", got, tc.code)
			}
		})
	}
}

func TestLoadTemplatesRejectsDuplicateTypes(t *testing.T) {
	path := writeTemplateFile(t, `
strategies:
  research:
    - type: survey
    - type: survey
`)
	if _, err := LoadTemplates(path); err == nil {
		t.Fatal("LoadTemplates accepted duplicate step types")
	}
}

func TestCoordinatorUsesTemplateOverrides(t *testing.T) {
	path := writeTemplateFile(t, `
strategies:
  research:
    - type: survey
    - type: writeup
      depends_on: [survey]
`)

	runner := newFakeRunner(func(_ *models.Agent, task *models.Task, _ int) (string, error) {
		return task.Type, nil
	})
	cfg := testConfig(runner)
	cfg.TemplatePath = path
	c, _ := startCoordinator(t, cfg)
	defer c.Stop()

	if _, err := c.RegisterAgent("a1", models.AgentTypeCoordinator, nil); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	obj, err := c.CreateObjective("custom pipeline", models.StrategyResearch)
	if err != nil {
		t.Fatalf("CreateObjective: %v", err)
	}
	if len(obj.Tasks) != 2 {
		t.Fatalf("overridden research objective has %d tasks, want 2", len(obj.Tasks))
	}

	waitFor(t, func() bool {
		return objectiveStatus(c, obj.ID) == models.ObjectiveStatusCompleted
	}, "objective completion")

	types := make(map[string]bool)
	for _, task := range c.ObjectiveTasks(obj.ID) {
		types[task.Type] = true
	}
	if !types["survey"] || !types["writeup"] {
		t.Errorf("task types = %v, want survey and writeup", types)
	}

	// Built-in strategies without overrides stay available.
	if _, err := c.CreateObjective("stock pipeline", models.StrategyAnalysis); err != nil {
		t.Errorf("builtin analysis strategy unavailable: %v", err)
	}
}
