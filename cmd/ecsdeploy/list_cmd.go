package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/fluxcd/ecsdeploy/pkg/deployment"
)

// listOpts is for list-services and list-jobs.
type listOpts struct {
	*rootOpts
	typ    deployment.TaskType
	output string
}

func newListServices(parent *rootOpts) *listOpts {
	return &listOpts{rootOpts: parent, typ: deployment.ServiceTask}
}

func newListJobs(parent *rootOpts) *listOpts {
	return &listOpts{rootOpts: parent, typ: deployment.JobTask}
}

func (opts *listOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list-services <environment>",
		Short:   "List the services of the active deployment",
		Example: makeExample("ecsdeploy list-services prod", "ecsdeploy list-services prod -o yaml"),
		RunE:    opts.RunE,
	}
	if opts.typ == deployment.JobTask {
		cmd.Use = "list-jobs <environment>"
		cmd.Short = "List the jobs of the active deployment"
		cmd.Example = makeExample("ecsdeploy list-jobs prod")
	}
	cmd.Flags().StringVarP(&opts.output, "output-format", "o", outputFormatText, "output format: text, json or yaml")
	return cmd
}

func (opts *listOpts) RunE(cmd *cobra.Command, args []string) error {
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
	deps, err := opts.dependencies(opts.region(cfg.AWS.Region), false)
	if err != nil {
		return err
	}
	defer deps.Close()

	d := opts.deployer(deps)
	var tasks []deployment.TaskItem
	if opts.typ == deployment.JobTask {
		tasks, err = d.ListJobs(context.Background(), cfg.AppName, cfg.Environment)
	} else {
		tasks, err = d.ListServices(context.Background(), cfg.AppName, cfg.Environment)
	}
	if err != nil {
		return err
	}
	if tasks == nil {
		tasks = []deployment.TaskItem{}
	}
	if opts.output != outputFormatText {
		return writeStructured(opts.stdout, opts.output, tasks)
	}
	return writeTasks(opts.stdout, tasks)
}
