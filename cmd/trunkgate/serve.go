package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"trunkgate/internal/config"
	"trunkgate/internal/coverage"
	"trunkgate/internal/engine"
	"trunkgate/internal/gate"
	"trunkgate/internal/journal"
	"trunkgate/internal/logging"
	"trunkgate/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept repository events over HTTP and run pipelines for them",
		RunE:  runServe,
	}
	cmd.Flags().String("listen", "", "address to listen on")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, root, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	data, err := loadPipelines(root, cfg)
	if err != nil {
		return err
	}
	if len(data.definitions) == 0 {
		return fmt.Errorf("no pipeline definition to serve")
	}
	def := data.definitions[0]

	secrets := config.LoadSecrets()

	jrn, err := journal.Open(journalPath(root, cfg))
	if err != nil {
		return err
	}

	logger, err := logging.New(root)
	if err != nil {
		return err
	}
	defer logger.Close()
	logger.Redact(secrets.Values())

	engOpts := engine.Options{
		Root:      root,
		Secrets:   secrets.Values(),
		Bot:       cfg.Bot,
		TailLines: 20,
		Journal:   jrn,
		Log:       logger,
	}
	if cfg.CoverageURL != "" {
		engOpts.Uploader = coverage.NewHTTPUploader(cfg.CoverageURL, secrets.CoverageToken)
	}
	if cfg.MergeURL != "" {
		engOpts.Merger = gate.NewHTTPMerger(cfg.MergeURL, secrets.MergeToken)
	}

	srv := server.New(server.Options{
		Addr:       cfg.Listen,
		Definition: def,
		Engine:     engine.New(engOpts),
		Secret:     secrets.WebhookSecret,
		Log:        logger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "trunkgate serving %q on %s\n", def.Name, cfg.Listen)
	return srv.ListenAndServe(ctx)
}
