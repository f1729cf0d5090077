package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/idverify/internal/config"
	"github.com/example/idverify/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "idverify",
		Short:         "Identity verification: face matching, document OCR and liveness",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("IDVERIFY_CONFIG"), "path to the YAML config file")

	cmd.AddCommand(
		newServeCmd(opts),
		newEnrollCmd(opts),
		newCompareCmd(opts),
		newHashCmd(opts),
		newLivenessCmd(opts),
		newOCRCmd(opts),
	)
	return cmd
}

// load reads the configuration and builds the logger every command needs.
func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
