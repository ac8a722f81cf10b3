package version

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// Info captures a runtime tool version installed on the system.
type Info struct {
	Name    string
	Version string
}

var versionRegex = regexp.MustCompile(`v?(\d+\.\d+(?:\.\d+)?)`)

// ParseSelector splits a stage runtime selector like "python@3.11" into
// the tool name and required version. A selector without "@" requires
// only the tool's presence.
func ParseSelector(selector string) (tool, required string) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return "", ""
	}
	if idx := strings.Index(selector, "@"); idx != -1 {
		return selector[:idx], selector[idx+1:]
	}
	return selector, ""
}

// Detect probes the local version of a runtime tool by calling
// `<tool> --version`.
func Detect(tool string) (Info, error) {
	out, err := runCommand(tool, "--version")
	if err != nil {
		return Info{}, err
	}
	match := versionRegex.FindStringSubmatch(out)
	if len(match) < 2 {
		return Info{}, fmt.Errorf("unable to parse %s version from %q", tool, out)
	}
	return Info{Name: tool, Version: match[1]}, nil
}

func runCommand(name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdin = nil
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// CompareMajorMinor compares major.minor portions of two semver-like versions.
func CompareMajorMinor(desired, actual string) bool {
	d := semverPrefix(desired)
	a := semverPrefix(actual)
	if d == "" || a == "" {
		return false
	}
	return strings.EqualFold(d, a)
}

func semverPrefix(version string) string {
	parts := strings.Split(version, ".")
	if len(parts) < 2 {
		return ""
	}
	return fmt.Sprintf("%s.%s", parts[0], parts[1])
}

// Missing reports whether executing the command returns a not-found error.
func Missing(cmdErr error) bool {
	return errors.Is(cmdErr, exec.ErrNotFound)
}

// Check probes the tool named by a runtime selector and returns a warning
// message when the tool is absent or its major.minor drifts from the
// required version. Probe problems are warnings, never failures.
func Check(selector string) string {
	tool, required := ParseSelector(selector)
	if tool == "" {
		return ""
	}
	info, err := Detect(tool)
	if err != nil {
		if Missing(err) {
			if required != "" {
				return fmt.Sprintf("%s executable not found; required %s", tool, required)
			}
			return fmt.Sprintf("%s executable not found", tool)
		}
		return fmt.Sprintf("unable to detect %s version: %v", tool, err)
	}
	if required != "" && !CompareMajorMinor(required, info.Version) {
		return fmt.Sprintf("%s version mismatch: required %s but found %s", tool, required, info.Version)
	}
	return ""
}
