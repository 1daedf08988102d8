package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fluxcd/ecsdeploy/pkg/config"
)

type rootOpts struct {
	configFile string
	viper      *viper.Viper
	Config     config.Config
	Logger     log.Logger

	stdout io.Writer
	stderr io.Writer

	// set in tests
	deps *dependencies
}

func newRoot() *rootOpts {
	return &rootOpts{
		viper:  viper.New(),
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

var rootLongHelp = strings.TrimSpace(`
ecsdeploy builds, registers and rolls out the services and jobs of an
application on Amazon ECS, and keeps a history of deployments so they
can be rolled back.

Workflow:
  ecsdeploy lint prod                     # Is the manifest valid for prod?
  ecsdeploy deploy prod                   # Build, push, register, roll out.
  ecsdeploy list-services prod            # What's deployed?
  ecsdeploy run-job prod migrate          # Run a one-off job now.
  ecsdeploy rollback prod                 # Go back to the previous deployment.
`)

func (opts *rootOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "ecsdeploy",
		Long:              rootLongHelp,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: opts.PersistentPreRunE,
	}
	cmd.SetOut(opts.stdout)
	cmd.SetErr(opts.stderr)

	fs := cmd.PersistentFlags()
	fs.StringVar(&opts.configFile, "config", "",
		fmt.Sprintf("path to a config file; you can also set the environment variable %s", config.EnvName("config")))
	if err := config.DefineFlags(fs, opts.viper); err != nil {
		// only a mistake in DefineFlags gets here
		panic(err)
	}
	return cmd
}

func (opts *rootOpts) PersistentPreRunE(cmd *cobra.Command, _ []string) error {
	if !cmd.Flags().Changed("config") {
		if file := os.Getenv(config.EnvName("config")); file != "" {
			opts.configFile = file
		}
	}
	cfg, err := config.Load(opts.viper, opts.configFile)
	if err != nil {
		return newUsageError(err.Error())
	}
	opts.Config = cfg
	opts.Logger = newLogger(cfg.LogFormat, opts.stderr)
	return nil
}

func newLogger(format string, w io.Writer) log.Logger {
	var logger log.Logger
	switch format {
	case config.LogFormatJSON:
		logger = log.NewJSONLogger(log.NewSyncWriter(w))
	default:
		logger = log.NewLogfmtLogger(log.NewSyncWriter(w))
	}
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	logger = log.With(logger, "caller", log.DefaultCaller)
	return logger
}

func addCommands(cmd *cobra.Command, opts *rootOpts) {
	cmd.AddCommand(
		newDeploy(opts).Command(),
		newRollback(opts).Command(),
		newBuild(opts).Command(),
		newPull(opts).Command(),
		newRunJob(opts).Command(),
		newListServices(opts).Command(),
		newListJobs(opts).Command(),
		newHistory(opts).Command(),
		newLint(opts).Command(),
		newScheduler(opts).Command(),
		newTrigger(opts).Command(),
	)
}
