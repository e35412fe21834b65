package main

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"timelock/internal/clock"
	"timelock/internal/config"
	"timelock/internal/log"
	"timelock/internal/metrics"
	"timelock/internal/seal"
	"timelock/internal/timeauth"
)

// env carries the process surroundings so commands can run in-process in
// tests.
type env struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	clock  clock.Source
	// httpClient overrides the registry transport when set.
	httpClient timeauth.HTTPDoer
}

func defaultEnv() *env {
	return &env{
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
		clock:  clock.System,
	}
}

// app is the state shared by all commands once flags are parsed.
type app struct {
	*env

	configFile string
	logLevel   log.Level
	logFormat  log.Format

	cfg    *config.Config
	logger *log.Logger
}

func newRootCmd(e *env) *cobra.Command {
	a := &app{env: e, logLevel: log.LevelInfo, logFormat: log.FmtLogfmt}

	rootCmd := &cobra.Command{
		Use:   "timelock",
		Short: "Time-locked commitments on a key-release network",
		Long: `timelock encrypts data to a future release time. Nobody, including the
sender, can decrypt it before the key-release network publishes the key.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	rootCmd.SetIn(e.stdin)
	rootCmd.SetOut(e.stdout)
	rootCmd.SetErr(e.stderr)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "path to the config.yml file")
	flags.Var(&a.logLevel, "log.level", "minimum log level")
	flags.Var(&a.logFormat, "log.format", "log output format")

	for _, f := range []func(*app) *cobra.Command{
		newEncryptCmd,
		newDecryptCmd,
		newStatusCmd,
		newRPSCmd,
		newDevnetCmd,
	} {
		rootCmd.AddCommand(f(a))
	}
	return rootCmd
}

// setup loads the configuration and builds the logger. Explicit flags win
// over the config file and the environment.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.InitConfig(a.configFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	flags := cmd.Flags()
	if !flags.Changed("log.level") {
		if err := a.logLevel.Set(cfg.Log.Level); err != nil {
			return err
		}
	}
	if !flags.Changed("log.format") {
		if err := a.logFormat.Set(cfg.Log.Format); err != nil {
			return err
		}
	}

	a.logger, err = log.NewLogger("timelock", a.stderr, a.logFormat, a.logLevel)
	return err
}

func (a *app) store() (*seal.Store, error) {
	return seal.NewStore(a.cfg.Storage.Dir)
}

// devnetSecret returns the configured secret, or the one kept in the store.
func (a *app) devnetSecret() ([]byte, error) {
	if a.cfg.Devnet.Secret != "" {
		return a.cfg.Devnet.SecretBytes()
	}
	store, err := a.store()
	if err != nil {
		return nil, err
	}
	return store.DevnetSecret()
}

func (a *app) authority() (timeauth.Registry, timeauth.Cipher, error) {
	opts := timeauth.Options{
		Backend:    a.cfg.Registry.Backend,
		URL:        a.cfg.Registry.URL,
		Timeout:    a.cfg.Registry.Timeout,
		Clock:      a.clock,
		HTTPClient: a.httpClient,
	}
	if opts.Backend != timeauth.BackendDrand {
		secret, err := a.devnetSecret()
		if err != nil {
			return nil, nil, err
		}
		opts.DevnetSecret = secret
	}
	return timeauth.NewAuthority(opts)
}

func (a *app) sealer() (*seal.Sealer, error) {
	store, err := a.store()
	if err != nil {
		return nil, err
	}
	registry, cipher, err := a.authority()
	if err != nil {
		return nil, err
	}
	return seal.NewSealer(store, registry, cipher,
		seal.WithClock(a.clock),
		seal.WithDelay(a.cfg.Release.Delay),
		seal.WithMargin(a.cfg.Release.Margin),
		seal.WithTickInterval(a.cfg.Release.Tick),
		seal.WithLogger(a.logger),
	)
}

// startMetrics serves the prometheus pull endpoint for long-running
// commands when one is configured.
func (a *app) startMetrics(ctx context.Context) {
	if a.cfg.Metrics.PullEndpoint == "" {
		return
	}
	service := metrics.NewPullService(a.cfg.Metrics.PullEndpoint, a.logger)
	go func() {
		if err := service.Run(ctx); err != nil {
			a.logger.Error("metrics service stopped", "err", err)
		}
	}()
}
