package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fluxcd/ecsdeploy/pkg/deployment"
)

type deployOpts struct {
	*rootOpts
	output string
}

func newDeploy(parent *rootOpts) *deployOpts {
	return &deployOpts{rootOpts: parent}
}

func (opts *deployOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy <environment>",
		Short: "Build and push images, register task definitions, and roll out services and jobs",
		Example: makeExample(
			"ecsdeploy deploy prod",
			"ecsdeploy deploy staging -f ./deploy/ecsdeploy.yaml -o json",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.output, "output-format", "o", outputFormatText, "output format: text, json or yaml")
	return cmd
}

func (opts *deployOpts) RunE(cmd *cobra.Command, args []string) error {
	if err := wantArgs(1, "<environment>", args); err != nil {
		return err
	}
	if !validOutputFormat(opts.output) {
		return errorInvalidOutputFormat
	}
	cfg, err := opts.loadManifest(args[0])
	if err != nil {
		return err
	}
	deps, err := opts.dependencies(opts.region(cfg.AWS.Region), true)
	if err != nil {
		return err
	}
	defer deps.Close()

	dep, report, err := opts.deployer(deps).Deploy(context.Background(), cfg)
	for _, warning := range report.Warnings() {
		fmt.Fprintf(opts.stderr, "warning: %v\n", warning)
	}
	if dep != nil {
		if werr := opts.writeDeployment(*dep); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

func (opts *deployOpts) writeDeployment(d deployment.Deployment) error {
	if opts.output != outputFormatText {
		return writeStructured(opts.stdout, opts.output, d)
	}
	fmt.Fprintf(opts.stdout, "Deployed %s to %s as %s\n\n", d.AppName, d.Environment, d.Ref())
	return writeTasks(opts.stdout, d.Tasks)
}

type rollbackOpts struct {
	*rootOpts
}

func newRollback(parent *rootOpts) *rollbackOpts {
	return &rollbackOpts{rootOpts: parent}
}

func (opts *rollbackOpts) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <environment>",
		Short: "Make the previous deployment active again",
		Long: `Make the deployment before the active one active again, and bring the
services back in line with it. If the active deployment was the first, its
services are removed and nothing is left active.`,
		Example: makeExample("ecsdeploy rollback prod"),
		RunE:    opts.RunE,
	}
}

func (opts *rollbackOpts) RunE(cmd *cobra.Command, args []string) error {
	if err := wantArgs(1, "<environment>", args); err != nil {
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

	parent, err := opts.deployer(deps).Rollback(context.Background(), cfg.AppName, cfg.Environment)
	if err != nil {
		return err
	}
	if parent == nil {
		fmt.Fprintf(opts.stdout, "Rolled back %s in %s; no deployment is active\n", cfg.AppName, cfg.Environment)
		return nil
	}
	fmt.Fprintf(opts.stdout, "Rolled back %s in %s; %s (deployed %s) is active\n",
		cfg.AppName, cfg.Environment, parent.Ref(), parent.Time().Format(time.RFC822))
	return nil
}
