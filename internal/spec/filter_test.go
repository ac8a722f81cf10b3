package spec

import "testing"

func sampleDefinition() Definition {
	return Definition{
		Path: "p.yml",
		Name: "p",
		Stages: []Stage{
			{
				Name:     "checks",
				Required: true,
				Steps: []Step{
					{Name: "style", Run: "flake8 .", Kind: KindStyle, Policy: PolicyFatal},
					{Name: "typecheck", Run: "mypy .", Kind: KindTypecheck, Policy: PolicyFatal},
				},
			},
			{
				Name:     "test",
				Required: true,
				Steps: []Step{
					{Name: "pytest", Run: "pytest tests", Kind: KindTest, Policy: PolicyFatal},
				},
			},
		},
	}
}

func TestFilterByStage(t *testing.T) {
	patterns, err := Compile([]string{"checks"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	filtered := Filter([]Definition{sampleDefinition()}, patterns, nil, nil)
	if len(filtered) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(filtered))
	}
	if len(filtered[0].Stages) != 1 || filtered[0].Stages[0].Name != "checks" {
		t.Fatalf("expected only checks stage, got %+v", filtered[0].Stages)
	}
}

func TestFilterSteps(t *testing.T) {
	only, err := Compile([]string{"/flake8|mypy/"})
	if err != nil {
		t.Fatalf("compile only: %v", err)
	}
	skip, err := Compile([]string{"typecheck"})
	if err != nil {
		t.Fatalf("compile skip: %v", err)
	}

	filtered := Filter([]Definition{sampleDefinition()}, nil, only, skip)
	if len(filtered) != 1 {
		t.Fatalf("expected definition retained")
	}
	if len(filtered[0].Stages) != 1 {
		t.Fatalf("expected stage emptied of steps to be dropped, got %d stages", len(filtered[0].Stages))
	}
	steps := filtered[0].Stages[0].Steps
	if len(steps) != 1 || steps[0].Name != "style" {
		t.Fatalf("expected only style step, got %+v", steps)
	}
}

func TestFilterMatchesKind(t *testing.T) {
	only, err := Compile([]string{"test"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	filtered := Filter([]Definition{sampleDefinition()}, nil, only, nil)
	found := false
	for _, def := range filtered {
		for _, stage := range def.Stages {
			for _, step := range stage.Steps {
				if step.Name == "pytest" {
					found = true
				}
			}
		}
	}
	if !found {
		t.Fatalf("expected pytest step matched via kind or name")
	}
}

func TestCompileErrors(t *testing.T) {
	if _, err := Compile([]string{"/(/"}); err == nil {
		t.Fatalf("expected compile error")
	}
}
