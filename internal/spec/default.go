package spec

// Default returns the built-in pipeline definition so `trunkgate run` works
// without a definition file. It reproduces the conventional trunk-validation
// contract: a static-checks stage with the two-tier lint split (blocking
// style/lint/typecheck, advisory complexity), a test stage producing and
// uploading a coverage artifact, and a docs stage.
func Default(trunk, pkg string) Definition {
	if trunk == "" {
		trunk = "main"
	}
	var packages []string
	if pkg != "" {
		packages = []string{pkg}
	}
	return Definition{
		Path: "<built-in>",
		Name: "trunk validation",
		Trigger: Trigger{
			PushBranches:        []string{trunk},
			PullRequestBranches: []string{trunk},
		},
		Packages: packages,
		Stages: []Stage{
			{
				Name:     "checks",
				Runtime:  "python@3.11",
				Required: true,
				Steps: []Step{
					{Name: "install", Run: "pip install -r requirements.txt -r requirements-test.txt", Kind: KindInstall, Policy: PolicyFatal},
					{Name: "style", Run: "flake8 --count --max-line-length=120 $TRUNKGATE_PACKAGE", Kind: KindStyle, Policy: PolicyFatal},
					{Name: "lint", Run: "flake8 --count --select=E9,F63,F7,F82 $TRUNKGATE_PACKAGE", Kind: KindLint, Policy: PolicyFatal},
					{Name: "complexity", Run: "flake8 --count --exit-zero --max-complexity=20 $TRUNKGATE_PACKAGE", Kind: KindComplexity, Policy: PolicyAdvisory},
					{Name: "typecheck", Run: "mypy $TRUNKGATE_PACKAGE", Kind: KindTypecheck, Policy: PolicyFatal},
				},
			},
			{
				Name:     "test",
				Runtime:  "python@3.11",
				Required: true,
				Steps: []Step{
					{Name: "install", Run: "pip install -e . -r requirements-test.txt", Kind: KindInstall, Policy: PolicyFatal},
					{Name: "pytest", Run: "pytest --cov=$TRUNKGATE_PACKAGE --cov-report=xml tests", Kind: KindTest, Policy: PolicyFatal, Coverage: "coverage.xml"},
					{Name: "upload coverage", Kind: KindCoverageUpload, Policy: PolicyBestEffort, Coverage: "coverage.xml"},
				},
			},
			{
				Name:     "docs",
				Runtime:  "python@3.11",
				Required: true,
				Steps: []Step{
					{Name: "install", Run: "pip install -e . -r requirements-docs.txt", Kind: KindInstall, Policy: PolicyFatal},
					{Name: "build", Run: "mkdocs build --strict", Kind: KindDocs, Policy: PolicyFatal},
				},
			},
		},
	}
}
