package spec

// Definition represents a parsed pipeline definition file.
type Definition struct {
	Path     string            `json:"path"`
	Name     string            `json:"name"`
	Trigger  Trigger           `json:"trigger"`
	Env      map[string]string `json:"env,omitempty"`
	Defaults Defaults          `json:"defaults"`
	Packages []string          `json:"packages,omitempty"`
	Stages   []Stage           `json:"stages"`
}

// Trigger describes which repository events start a pipeline run.
type Trigger struct {
	PushBranches        []string `json:"push_branches,omitempty"`
	PullRequestBranches []string `json:"pull_request_branches,omitempty"`
}

// Defaults capture shared configuration for stages and steps.
type Defaults struct {
	Shell            string `json:"shell,omitempty"`
	WorkingDirectory string `json:"working_directory,omitempty"`
}

// Stage is one independently-provisioned execution within a pipeline run.
type Stage struct {
	Name     string            `json:"name"`
	Runtime  string            `json:"runtime,omitempty"`
	Required bool              `json:"required"`
	Env      map[string]string `json:"env,omitempty"`
	Defaults Defaults          `json:"defaults"`
	Steps    []Step            `json:"steps"`
}

// Step is an atomic action inside a stage. Steps run strictly in
// declared order; a failing fatal step aborts the remainder of its stage.
type Step struct {
	Name             string            `json:"name"`
	Run              string            `json:"run,omitempty"`
	Kind             Kind              `json:"kind"`
	Policy           Policy            `json:"policy"`
	Shell            string            `json:"shell,omitempty"`
	WorkingDirectory string            `json:"working_directory,omitempty"`
	Env              map[string]string `json:"env,omitempty"`
	Coverage         string            `json:"coverage,omitempty"`
}

// Kind classifies a step so failures map onto the error taxonomy.
type Kind string

const (
	KindCheckout       Kind = "checkout"
	KindSetup          Kind = "setup"
	KindInstall        Kind = "install"
	KindStyle          Kind = "style"
	KindLint           Kind = "lint"
	KindComplexity     Kind = "complexity"
	KindTypecheck      Kind = "typecheck"
	KindTest           Kind = "test"
	KindCoverageUpload Kind = "coverage-upload"
	KindDocs           Kind = "docs"
	KindGeneric        Kind = "generic"
)

// KnownKind reports whether k belongs to the closed kind set.
func KnownKind(k Kind) bool {
	switch k {
	case KindCheckout, KindSetup, KindInstall, KindStyle, KindLint,
		KindComplexity, KindTypecheck, KindTest, KindCoverageUpload,
		KindDocs, KindGeneric:
		return true
	}
	return false
}

// Policy decides how a step's failure affects its stage.
//
// Fatal steps fail the stage. Advisory steps surface findings but never
// fail anything and never contribute a non-zero exit code. Best-effort
// steps fail themselves without failing the stage.
type Policy string

const (
	PolicyFatal      Policy = "fatal"
	PolicyAdvisory   Policy = "advisory"
	PolicyBestEffort Policy = "best-effort"
)

// KnownPolicy reports whether p belongs to the closed policy set.
func KnownPolicy(p Policy) bool {
	switch p {
	case PolicyFatal, PolicyAdvisory, PolicyBestEffort:
		return true
	}
	return false
}

// Warning captures non-fatal issues encountered while parsing definitions.
type Warning struct {
	Pipeline string `json:"pipeline"`
	Stage    string `json:"stage,omitempty"`
	Message  string `json:"message"`
}

// RequiredStages returns the stages whose verdict gates the merge decision.
func (d Definition) RequiredStages() []Stage {
	out := make([]Stage, 0, len(d.Stages))
	for _, st := range d.Stages {
		if st.Required {
			out = append(out, st)
		}
	}
	return out
}

// MatrixPackages returns the package axis, defaulting to a single unnamed
// entry so stage expansion works for definitions without a matrix.
func (d Definition) MatrixPackages() []string {
	if len(d.Packages) == 0 {
		return []string{""}
	}
	return append([]string{}, d.Packages...)
}
