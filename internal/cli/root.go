// Package cli implements the dismantle command line.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/GriffinCanCode/dismantle/internal/config"
	"github.com/GriffinCanCode/dismantle/internal/logging"
	"github.com/GriffinCanCode/dismantle/internal/manager"
	"github.com/GriffinCanCode/dismantle/internal/monitoring"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// Version is the release version, set at build time.
var Version = "0.1.0"

type globalFlags struct {
	index       string
	cacheDir    string
	installDir  string
	manifest    string
	metricsFile string
	logLevel    string
	dev         bool
}

// app is the state shared by every subcommand of one invocation.
type app struct {
	flags   globalFlags
	cfg     *config.Config
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "dismantle",
		Short:         "Dismantle package management",
		Long:          "dismantle installs packages from a catalog and discovers the extensions they ship.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.SetVersionTemplate("{{.Name}} version {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.index, "index", "", "catalog file or URL")
	pf.StringVar(&a.flags.cacheDir, "cache-dir", "", "directory remote packages and catalogs are cached in")
	pf.StringVar(&a.flags.installDir, "install-dir", "", "directory packages are installed into")
	pf.StringVar(&a.flags.manifest, "manifest", "", "project manifest (default ./"+config.ManifestName+" when present)")
	pf.StringVar(&a.flags.metricsFile, "metrics-file", "", "write prometheus metrics to this file on exit")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.BoolVar(&a.flags.dev, "dev", false, "human readable debug logging")

	root.AddCommand(
		newInstallCmd(a),
		newUninstallCmd(a),
		newListCmd(a),
		newSearchCmd(a),
		newOutdatedCmd(a),
		newExtensionsCmd(a),
	)
	for _, cmd := range root.Commands() {
		a.finally(cmd)
	}
	return root
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "error:", err)
		os.Exit(1)
	}
}

// setup resolves configuration: environment, then manifest, then flags.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	manifest := a.flags.manifest
	if manifest == "" {
		if _, err := os.Stat(config.ManifestName); err == nil {
			manifest = config.ManifestName
		}
	}
	if manifest != "" {
		m, err := config.LoadManifest(manifest)
		if err != nil {
			return err
		}
		cfg.Apply(m)
	}

	if a.flags.index != "" {
		cfg.Index.Source = a.flags.index
	}
	if a.flags.cacheDir != "" {
		cfg.Cache.Dir = a.flags.cacheDir
	}
	if a.flags.installDir != "" {
		cfg.Install.Dir = a.flags.installDir
	}
	if a.flags.logLevel != "" {
		cfg.Logging.Level = a.flags.logLevel
	}
	if a.flags.dev {
		cfg.Logging.Development = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	if a.logger, err = logging.New(a.loggerConfig(cfg.Logging)); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	a.metrics = monitoring.NewMetrics(prometheus.NewRegistry())
	return nil
}

// loggerConfig maps the resolved settings onto a logger configuration.
// Development mode logs at debug unless a level was chosen explicitly.
func (a *app) loggerConfig(cfg config.LogConfig) logging.Config {
	if !cfg.Development {
		out := logging.DefaultConfig()
		out.Level = cfg.Level
		return out
	}
	out := logging.DevelopmentConfig()
	_, fromEnv := os.LookupEnv("DISMANTLE_LOG_LEVEL")
	if a.flags.logLevel != "" || fromEnv {
		out.Level = cfg.Level
	}
	return out
}

// finally runs teardown after cmd whether or not it failed. Persistent
// post-run hooks are skipped by cobra when RunE returns an error.
func (a *app) finally(cmd *cobra.Command) {
	run := cmd.RunE
	if run == nil {
		return
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		err := run(cmd, args)
		if terr := a.teardown(); err == nil {
			err = terr
		}
		return err
	}
}

func (a *app) teardown() error {
	var errs []error
	if a.flags.metricsFile != "" {
		if err := a.metrics.WriteTextfile(a.flags.metricsFile); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}

func (a *app) manager(cmd *cobra.Command) (*manager.Manager, error) {
	return manager.New(cmd.Context(), *a.cfg,
		manager.WithLogger(a.logger.Component("manager")),
		manager.WithMetrics(a.metrics),
	)
}
