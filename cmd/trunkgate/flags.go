package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"trunkgate/internal/config"
)

func gatherFlags(cmd *cobra.Command) (config.FlagValues, error) {
	flags := cmd.Flags()
	var values config.FlagValues

	if flags.Changed("pipeline") {
		v, err := flags.GetStringArray("pipeline")
		if err != nil {
			return values, fmt.Errorf("parse --pipeline: %w", err)
		}
		values.Pipelines = config.SliceFlag{Values: append([]string{}, v...)}
	}

	if flags.Changed("stage") {
		v, err := flags.GetStringArray("stage")
		if err != nil {
			return values, fmt.Errorf("parse --stage: %w", err)
		}
		values.Stages = config.SliceFlag{Values: append([]string{}, v...)}
	}

	if flags.Changed("only-step") {
		v, err := flags.GetStringArray("only-step")
		if err != nil {
			return values, fmt.Errorf("parse --only-step: %w", err)
		}
		values.OnlySteps = config.SliceFlag{Values: append([]string{}, v...)}
	}

	if flags.Changed("skip-step") {
		v, err := flags.GetStringArray("skip-step")
		if err != nil {
			return values, fmt.Errorf("parse --skip-step: %w", err)
		}
		values.SkipSteps = config.SliceFlag{Values: append([]string{}, v...)}
	}

	if flags.Changed("package") {
		v, err := flags.GetStringArray("package")
		if err != nil {
			return values, fmt.Errorf("parse --package: %w", err)
		}
		values.Packages = config.SliceFlag{Values: append([]string{}, v...)}
	}

	if flags.Changed("trunk") {
		v, err := flags.GetString("trunk")
		if err != nil {
			return values, fmt.Errorf("parse --trunk: %w", err)
		}
		values.Trunk = config.StringFlag{Value: v, Set: true}
	}

	if flags.Changed("bot") {
		v, err := flags.GetString("bot")
		if err != nil {
			return values, fmt.Errorf("parse --bot: %w", err)
		}
		values.Bot = config.StringFlag{Value: v, Set: true}
	}

	if flags.Changed("coverage-url") {
		v, err := flags.GetString("coverage-url")
		if err != nil {
			return values, fmt.Errorf("parse --coverage-url: %w", err)
		}
		values.CoverageURL = config.StringFlag{Value: v, Set: true}
	}

	if flags.Changed("merge-url") {
		v, err := flags.GetString("merge-url")
		if err != nil {
			return values, fmt.Errorf("parse --merge-url: %w", err)
		}
		values.MergeURL = config.StringFlag{Value: v, Set: true}
	}

	if flags.Changed("listen") {
		v, err := flags.GetString("listen")
		if err != nil {
			return values, fmt.Errorf("parse --listen: %w", err)
		}
		values.Listen = config.StringFlag{Value: v, Set: true}
	}

	if flags.Changed("format") {
		v, err := flags.GetString("format")
		if err != nil {
			return values, fmt.Errorf("parse --format: %w", err)
		}
		values.Format = config.StringFlag{Value: v, Set: true}
	}

	if flags.Changed("dry-run") {
		v, err := flags.GetBool("dry-run")
		if err != nil {
			return values, fmt.Errorf("parse --dry-run: %w", err)
		}
		values.DryRun = config.BoolFlag{Value: v, Set: true}
	}

	if flags.Changed("verbose") {
		v, err := flags.GetBool("verbose")
		if err != nil {
			return values, fmt.Errorf("parse --verbose: %w", err)
		}
		values.Verbose = config.BoolFlag{Value: v, Set: true}
	}

	return values, nil
}
