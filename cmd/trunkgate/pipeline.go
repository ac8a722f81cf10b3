package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"trunkgate/internal/config"
	"trunkgate/internal/spec"
)

// pipelineData bundles parsed definitions with warnings.
type pipelineData struct {
	definitions []spec.Definition
	warnings    []spec.Warning
}

func loadConfig(cmd *cobra.Command) (config.Config, string, error) {
	root, err := os.Getwd()
	if err != nil {
		return config.Config{}, "", fmt.Errorf("determine working directory: %w", err)
	}

	cfg, err := config.Load(root)
	if err != nil {
		return config.Config{}, "", err
	}

	flags, err := gatherFlags(cmd)
	if err != nil {
		return config.Config{}, "", err
	}
	config.ApplyFlags(&cfg, flags)

	return cfg, root, nil
}

// loadPipelines discovers and parses definitions. When none are found the
// built-in trunk-validation definition is used, so `run` works in a bare
// repository.
func loadPipelines(root string, cfg config.Config) (pipelineData, error) {
	paths, err := spec.Discover(root, cfg.Pipelines)
	if err != nil {
		if errors.Is(err, spec.ErrNoPipelines) && len(cfg.Pipelines) == 0 {
			def := spec.Default(cfg.Trunk, firstPackage(cfg.Packages))
			if len(cfg.Packages) > 1 {
				def.Packages = append([]string{}, cfg.Packages...)
			}
			return pipelineData{definitions: []spec.Definition{def}}, nil
		}
		return pipelineData{}, err
	}

	parser := spec.NewParser(root)
	defs, warnings, err := parser.Parse(paths)
	if err != nil {
		return pipelineData{}, err
	}

	if len(cfg.Packages) > 0 {
		for i := range defs {
			defs[i].Packages = append([]string{}, cfg.Packages...)
		}
	}

	return pipelineData{definitions: defs, warnings: warnings}, nil
}

func applyFilters(data pipelineData, cfg config.Config) (pipelineData, error) {
	stagePatterns, err := spec.Compile(cfg.Stages)
	if err != nil {
		return pipelineData{}, err
	}
	onlyPatterns, err := spec.Compile(cfg.OnlySteps)
	if err != nil {
		return pipelineData{}, err
	}
	skipPatterns, err := spec.Compile(cfg.SkipSteps)
	if err != nil {
		return pipelineData{}, err
	}

	filtered := spec.Filter(data.definitions, stagePatterns, onlyPatterns, skipPatterns)
	return pipelineData{definitions: filtered, warnings: data.warnings}, nil
}

func collapseWarnings(warnings []spec.Warning) []string {
	if len(warnings) == 0 {
		return nil
	}
	out := make([]string, 0, len(warnings))
	for _, w := range warnings {
		if w.Stage != "" {
			out = append(out, fmt.Sprintf("%s:%s: %s", w.Pipeline, w.Stage, w.Message))
			continue
		}
		out = append(out, fmt.Sprintf("%s: %s", w.Pipeline, w.Message))
	}
	return out
}

func firstPackage(packages []string) string {
	if len(packages) == 0 {
		return ""
	}
	return packages[0]
}
