package spec

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parser loads pipeline definition files from disk.
type Parser struct {
	Root string
}

// NewParser constructs a Parser that resolves definition paths relative to root.
func NewParser(root string) *Parser {
	return &Parser{Root: root}
}

// Parse reads the supplied definition paths and produces the definitions
// plus any non-fatal warnings.
func (p *Parser) Parse(paths []string) ([]Definition, []Warning, error) {
	defs := make([]Definition, 0, len(paths))
	warnings := make([]Warning, 0)
	for _, relPath := range paths {
		full := relPath
		if !filepath.IsAbs(full) {
			full = filepath.Join(p.Root, relPath)
		}
		def, warns, err := parseDefinition(full, relPath)
		if err != nil {
			return nil, nil, err
		}
		defs = append(defs, def)
		warnings = append(warnings, warns...)
	}
	return defs, warnings, nil
}

func parseDefinition(fullPath, displayPath string) (Definition, []Warning, error) {
	f, err := os.Open(fullPath)
	if err != nil {
		return Definition{}, nil, fmt.Errorf("open pipeline %q: %w", displayPath, err)
	}
	defer f.Close()
	return Decode(f, displayPath)
}

// Decode parses one pipeline definition from r, validating it and
// collecting warnings for suspicious but workable constructs.
func Decode(r io.Reader, displayPath string) (Definition, []Warning, error) {
	decoder := yaml.NewDecoder(r)

	var doc definitionDocument
	if err := decoder.Decode(&doc); err != nil {
		return Definition{}, nil, fmt.Errorf("parse pipeline %q: %w", displayPath, err)
	}

	def := Definition{
		Path: displayPath,
		Name: doc.Name,
		Env:  convertEnv(doc.Env),
		Trigger: Trigger{
			PushBranches:        append([]string{}, doc.On.Push.Branches...),
			PullRequestBranches: append([]string{}, doc.On.PullRequest.Branches...),
		},
		Defaults: Defaults{
			Shell:            doc.Defaults.Run.Shell,
			WorkingDirectory: doc.Defaults.Run.WorkingDirectory,
		},
		Packages: append([]string{}, doc.Packages...),
	}
	if def.Name == "" {
		def.Name = filepath.Base(displayPath)
	}

	warnings := make([]Warning, 0)

	def.Stages = make([]Stage, 0, len(doc.Stages))
	for _, stageDoc := range doc.Stages {
		stage := Stage{
			Name:     stageDoc.Name,
			Runtime:  stageDoc.Runtime,
			Required: true,
			Env:      convertEnv(stageDoc.Env),
			Defaults: Defaults{
				Shell:            stageDoc.Defaults.Run.Shell,
				WorkingDirectory: stageDoc.Defaults.Run.WorkingDirectory,
			},
		}
		if stageDoc.Required != nil {
			stage.Required = *stageDoc.Required
		}

		stage.Steps = make([]Step, 0, len(stageDoc.Steps))
		for idx, stepDoc := range stageDoc.Steps {
			step := Step{
				Name:             stepDoc.Name,
				Run:              stepDoc.Run,
				Kind:             Kind(stepDoc.Kind),
				Policy:           Policy(stepDoc.Policy),
				Shell:            stepDoc.Shell,
				WorkingDirectory: stepDoc.WorkingDirectory,
				Env:              convertEnv(stepDoc.Env),
				Coverage:         stepDoc.Coverage,
			}
			if step.Name == "" {
				step.Name = fmt.Sprintf("step %d", idx+1)
			}
			if step.Kind == "" {
				step.Kind = KindGeneric
			}
			if step.Policy == "" {
				step.Policy = defaultPolicy(step.Kind)
			}
			if !KnownKind(step.Kind) {
				warnings = append(warnings, Warning{
					Pipeline: displayPath,
					Stage:    stage.Name,
					Message:  fmt.Sprintf("step %q has unknown kind %q; treating as generic", step.Name, step.Kind),
				})
				step.Kind = KindGeneric
			}
			if step.Kind == KindTest && step.Coverage == "" {
				warnings = append(warnings, Warning{
					Pipeline: displayPath,
					Stage:    stage.Name,
					Message:  fmt.Sprintf("test step %q declares no coverage artifact; upload steps in this stage will find nothing", step.Name),
				})
			}
			if step.Kind == KindComplexity && step.Policy == PolicyFatal {
				warnings = append(warnings, Warning{
					Pipeline: displayPath,
					Stage:    stage.Name,
					Message:  fmt.Sprintf("complexity step %q is fatal; the advisory tier is usually wanted here", step.Name),
				})
			}
			stage.Steps = append(stage.Steps, step)
		}

		def.Stages = append(def.Stages, stage)
	}

	if err := validate(def); err != nil {
		return Definition{}, nil, fmt.Errorf("pipeline %q: %w", displayPath, err)
	}

	return def, warnings, nil
}

func defaultPolicy(kind Kind) Policy {
	switch kind {
	case KindComplexity:
		return PolicyAdvisory
	case KindCoverageUpload:
		return PolicyBestEffort
	default:
		return PolicyFatal
	}
}

func validate(def Definition) error {
	if len(def.Stages) == 0 {
		return fmt.Errorf("no stages defined")
	}
	seen := make(map[string]struct{}, len(def.Stages))
	required := 0
	for _, stage := range def.Stages {
		name := strings.TrimSpace(stage.Name)
		if name == "" {
			return fmt.Errorf("stage without a name")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate stage name %q", name)
		}
		seen[name] = struct{}{}
		if stage.Required {
			required++
		}
		for _, step := range stage.Steps {
			if !KnownPolicy(step.Policy) {
				return fmt.Errorf("stage %q step %q: unknown policy %q", name, step.Name, step.Policy)
			}
			if step.Policy == PolicyAdvisory && step.Coverage != "" {
				return fmt.Errorf("stage %q step %q: advisory steps cannot declare a coverage artifact", name, step.Name)
			}
			if step.Run == "" && step.Kind != KindCoverageUpload && step.Kind != KindCheckout {
				return fmt.Errorf("stage %q step %q: missing run command", name, step.Name)
			}
		}
	}
	if required == 0 {
		return fmt.Errorf("at least one required stage is needed")
	}
	return nil
}

type definitionDocument struct {
	Name     string                 `yaml:"name"`
	On       triggerDocument        `yaml:"on"`
	Env      map[string]interface{} `yaml:"env"`
	Defaults defaultsDocument       `yaml:"defaults"`
	Packages []string               `yaml:"packages"`
	Stages   []stageDocument        `yaml:"stages"`
}

type triggerDocument struct {
	Push        branchesDocument `yaml:"push"`
	PullRequest branchesDocument `yaml:"pull_request"`
}

type branchesDocument struct {
	Branches []string `yaml:"branches"`
}

type defaultsDocument struct {
	Run runDefaults `yaml:"run"`
}

type runDefaults struct {
	Shell            string `yaml:"shell"`
	WorkingDirectory string `yaml:"working-directory"`
}

type stageDocument struct {
	Name     string                 `yaml:"name"`
	Runtime  string                 `yaml:"runtime"`
	Required *bool                  `yaml:"required"`
	Env      map[string]interface{} `yaml:"env"`
	Defaults defaultsDocument       `yaml:"defaults"`
	Steps    []stepDocument         `yaml:"steps"`
}

type stepDocument struct {
	Name             string                 `yaml:"name"`
	Run              string                 `yaml:"run"`
	Kind             string                 `yaml:"kind"`
	Policy           string                 `yaml:"policy"`
	Shell            string                 `yaml:"shell"`
	WorkingDirectory string                 `yaml:"working-directory"`
	Env              map[string]interface{} `yaml:"env"`
	Coverage         string                 `yaml:"coverage"`
}

func convertEnv(input map[string]interface{}) map[string]string {
	if len(input) == 0 {
		return nil
	}
	out := make(map[string]string, len(input))
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out[k] = fmt.Sprint(input[k])
	}
	return out
}
