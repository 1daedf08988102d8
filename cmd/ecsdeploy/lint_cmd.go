package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fluxcd/ecsdeploy/pkg/schedule"
)

type lintOpts struct {
	*rootOpts
}

func newLint(parent *rootOpts) *lintOpts {
	return &lintOpts{rootOpts: parent}
}

func (opts *lintOpts) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "lint <environment>",
		Short: "Check that the manifest is valid for an environment",
		Example: makeExample(
			"ecsdeploy lint prod",
			"ecsdeploy lint staging -f ./deploy/ecsdeploy.yaml",
		),
		RunE: opts.RunE,
	}
}

func (opts *lintOpts) RunE(cmd *cobra.Command, args []string) error {
	if err := wantArgs(1, "<environment>", args); err != nil {
		return err
	}
	cfg, err := opts.loadManifest(args[0])
	if err != nil {
		return err
	}
	if err := schedule.Check(cfg); err != nil {
		return err
	}
	fmt.Fprintf(opts.stdout, "%s is valid for %s: %d service(s), %d job(s)\n",
		opts.Config.Manifest, cfg.Environment, len(cfg.Services), len(cfg.Jobs))
	return nil
}
