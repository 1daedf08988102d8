package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fluxcd/ecsdeploy/pkg/deployment"
)

type historyOpts struct {
	*rootOpts
	limit  int
	output string
}

func newHistory(parent *rootOpts) *historyOpts {
	return &historyOpts{rootOpts: parent}
}

func (opts *historyOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <environment>",
		Short: "Show the deployments of the app to an environment, newest first",
		Example: makeExample(
			"ecsdeploy history prod",
			"ecsdeploy history prod --limit 3 -o json",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().IntVar(&opts.limit, "limit", 10, "show at most this many deployments; 0 for all")
	cmd.Flags().StringVarP(&opts.output, "output-format", "o", outputFormatText, "output format: text, json or yaml")
	return cmd
}

func (opts *historyOpts) RunE(cmd *cobra.Command, args []string) error {
	if err := wantArgs(1, "<environment>", args); err != nil {
		return err
	}
	if !validOutputFormat(opts.output) {
		return errorInvalidOutputFormat
	}
	if opts.limit < 0 {
		return newUsageError("--limit must not be negative")
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

	ds, err := opts.deployer(deps).History(context.Background(), cfg.AppName, cfg.Environment, opts.limit)
	if err != nil {
		return err
	}
	if ds == nil {
		ds = []deployment.Deployment{}
	}
	if opts.output != outputFormatText {
		return writeStructured(opts.stdout, opts.output, ds)
	}

	out := newTabwriter(opts.stdout)
	fmt.Fprintln(out, "DEPLOYMENT\tTIME\tACTIVE\tTASKS\tPARENT")
	for _, d := range ds {
		parent := "-"
		if d.ParentDeployment != nil {
			parent = d.ParentDeployment.String()
		}
		active := ""
		if d.Active {
			active = "*"
		}
		fmt.Fprintf(out, "%s\t%s\t%s\t%d\t%s\n", d.Ref(), d.Time().Format(time.RFC822), active, len(d.Tasks), parent)
	}
	return out.Flush()
}
