package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	transport "github.com/fluxcd/ecsdeploy/pkg/http"
	"github.com/fluxcd/ecsdeploy/pkg/http/client"
	"github.com/fluxcd/ecsdeploy/pkg/jobs"
	"github.com/fluxcd/ecsdeploy/pkg/schedule"
)

type triggerOpts struct {
	*rootOpts
	at     string
	url    string
	dryRun bool
	output string
}

func newTrigger(parent *rootOpts) *triggerOpts {
	return &triggerOpts{rootOpts: parent}
}

func (opts *triggerOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Run the scheduled jobs due in one minute",
		Long: `Run the scheduled jobs of every active deployment that are due in the
minute given (or this minute), once. With --url, a running scheduler is
asked to do it; otherwise it is done here.`,
		Example: makeExample(
			"ecsdeploy trigger",
			"ecsdeploy trigger --time 2019-03-04T02:00:00Z --dry-run",
			"ecsdeploy trigger --url http://ecsdeploy-scheduler:3031",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVar(&opts.at, "time", "", "RFC3339 time in the minute to run jobs for; now if not given")
	cmd.Flags().StringVar(&opts.url, "url", "", "base URL of a running scheduler to ask, rather than running jobs from here")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "list the jobs that are due, without running them")
	cmd.Flags().StringVarP(&opts.output, "output-format", "o", outputFormatText, "output format: text, json or yaml")
	return cmd
}

func (opts *triggerOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	if !validOutputFormat(opts.output) {
		return errorInvalidOutputFormat
	}
	var at time.Time
	if opts.at != "" {
		var err error
		if at, err = time.Parse(time.RFC3339, opts.at); err != nil {
			return newUsageError(fmt.Sprintf("--time: %v", err))
		}
	}

	var (
		dispatched []schedule.Dispatch
		err        error
	)
	if opts.url != "" {
		dispatched, err = opts.remote(at)
	} else {
		dispatched, err = opts.local(at)
	}
	if err != nil {
		return err
	}
	if dispatched == nil {
		dispatched = []schedule.Dispatch{}
	}
	if opts.output != outputFormatText {
		return writeStructured(opts.stdout, opts.output, dispatched)
	}
	out := newTabwriter(opts.stdout)
	fmt.Fprintln(out, "APP\tENVIRONMENT\tJOB")
	for _, d := range dispatched {
		fmt.Fprintf(out, "%s\t%s\t%s\n", d.AppName, d.Environment, d.JobID)
	}
	return out.Flush()
}

func (opts *triggerOpts) remote(at time.Time) ([]schedule.Dispatch, error) {
	c := client.New(http.DefaultClient, transport.NewAPIRouter(), opts.url)
	ctx := context.Background()
	if opts.dryRun {
		if at.IsZero() {
			at = time.Now()
		}
		return c.Due(ctx, at)
	}
	res, err := c.Trigger(ctx, at)
	return res.Dispatched, err
}

func (opts *triggerOpts) local(at time.Time) ([]schedule.Dispatch, error) {
	if at.IsZero() {
		at = time.Now()
	}
	deps, err := opts.dependencies(opts.region(""), false)
	if err != nil {
		return nil, err
	}
	defer deps.Close()

	sched := &schedule.Scheduler{
		Store:    deps.Store,
		Jobs:     &jobs.Runner{Clusters: deps.Clusters, Logger: opts.Logger},
		Logger:   opts.Logger,
		Location: opts.Config.Location(),
	}
	ev := schedule.Event{Time: at}
	if opts.dryRun {
		_, refs, err := sched.Due(context.Background(), ev)
		return refs, err
	}
	refs, err := sched.Trigger(context.Background(), ev)
	sched.Wait()
	return refs, err
}
