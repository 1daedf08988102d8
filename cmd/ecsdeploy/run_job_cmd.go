package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

type runJobOpts struct {
	*rootOpts
}

func newRunJob(parent *rootOpts) *runJobOpts {
	return &runJobOpts{rootOpts: parent}
}

func (opts *runJobOpts) Command() *cobra.Command {
	return &cobra.Command{
		Use:     "run-job <environment> <job>",
		Short:   "Run a job of the active deployment now",
		Example: makeExample("ecsdeploy run-job prod migrate"),
		RunE:    opts.RunE,
	}
}

func (opts *runJobOpts) RunE(cmd *cobra.Command, args []string) error {
	if err := wantArgs(2, "<environment> <job>", args); err != nil {
		return err
	}
	cfg, err := opts.loadManifest(args[0])
	if err != nil {
		return err
	}
	deps, err := opts.dependencies(opts.region(cfg.AWS.Region), false)
	if err != nil {
		return err
	}
	defer deps.Close()

	arns, err := opts.deployer(deps).RunJob(context.Background(), cfg.AppName, cfg.Environment, args[1])
	if err != nil {
		return err
	}
	for _, arn := range arns {
		fmt.Fprintln(opts.stdout, arn)
	}
	return nil
}
