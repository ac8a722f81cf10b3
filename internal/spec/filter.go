package spec

import (
	"fmt"
	"regexp"
	"strings"
)

// Pattern represents a compiled filter condition supporting substring and regex matching.
type Pattern struct {
	raw   string
	regex *regexp.Regexp
	lower string
}

// Compile transforms raw pattern strings into Pattern values.
func Compile(patterns []string) ([]Pattern, error) {
	result := make([]Pattern, 0, len(patterns))
	for _, raw := range patterns {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.HasPrefix(raw, "/") && strings.HasSuffix(raw, "/") && len(raw) >= 2 {
			expr := raw[1 : len(raw)-1]
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("compile regexp %q: %w", raw, err)
			}
			result = append(result, Pattern{raw: raw, regex: re})
			continue
		}
		result = append(result, Pattern{raw: raw, lower: strings.ToLower(raw)})
	}
	return result, nil
}

// Match reports whether the pattern matches the supplied string.
func (p Pattern) Match(s string) bool {
	if s == "" {
		return false
	}
	if p.regex != nil {
		return p.regex.MatchString(s)
	}
	return strings.Contains(strings.ToLower(s), p.lower)
}

// Filter applies stage and step filters to definitions, returning a new
// slice with matches. Stages emptied of steps are dropped entirely.
func Filter(defs []Definition, stagePatterns, onlyPatterns, skipPatterns []Pattern) []Definition {
	if len(defs) == 0 {
		return nil
	}

	result := make([]Definition, 0, len(defs))
	for _, def := range defs {
		filteredStages := make([]Stage, 0, len(def.Stages))
		for _, stage := range def.Stages {
			if len(stagePatterns) > 0 && !matchesStage(stage, stagePatterns) {
				continue
			}
			filteredSteps := filterSteps(stage.Steps, onlyPatterns, skipPatterns)
			if len(filteredSteps) == 0 {
				continue
			}
			stageCopy := stage
			stageCopy.Steps = filteredSteps
			filteredStages = append(filteredStages, stageCopy)
		}
		if len(filteredStages) == 0 {
			continue
		}
		defCopy := def
		defCopy.Stages = filteredStages
		result = append(result, defCopy)
	}
	return result
}

func matchesStage(stage Stage, patterns []Pattern) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pattern := range patterns {
		if pattern.Match(stage.Name) {
			return true
		}
	}
	return false
}

func filterSteps(steps []Step, onlyPatterns, skipPatterns []Pattern) []Step {
	if len(steps) == 0 {
		return nil
	}
	result := make([]Step, 0, len(steps))
	for _, step := range steps {
		if len(onlyPatterns) > 0 && !matchesStep(step, onlyPatterns) {
			continue
		}
		if len(skipPatterns) > 0 && matchesStep(step, skipPatterns) {
			continue
		}
		result = append(result, step)
	}
	return result
}

func matchesStep(step Step, patterns []Pattern) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pattern := range patterns {
		if pattern.Match(step.Name) || pattern.Match(step.Run) || pattern.Match(string(step.Kind)) {
			return true
		}
	}
	return false
}
