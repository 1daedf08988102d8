package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fluxcd/ecsdeploy/pkg/http/scheduler"
	"github.com/fluxcd/ecsdeploy/pkg/jobs"
	"github.com/fluxcd/ecsdeploy/pkg/schedule"
)

type schedulerOpts struct {
	*rootOpts
}

func newScheduler(parent *rootOpts) *schedulerOpts {
	return &schedulerOpts{rootOpts: parent}
}

func (opts *schedulerOpts) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run scheduled jobs of every active deployment, once a minute",
		Long: `Run the jobs of active deployments that have a schedule, at the start of
each minute in which the schedule matches. The scheduler also serves
/healthz and /metrics, and accepts triggers for a given minute, on the
--listen address.`,
		Example: makeExample(
			"ecsdeploy scheduler --history-driver dynamodb --history-source ecsdeploy-deployments",
			"ecsdeploy scheduler --listen :3031 --schedule-timezone Europe/Berlin",
		),
		RunE: opts.RunE,
	}
}

func (opts *schedulerOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	logger := opts.Logger
	deps, err := opts.dependencies(opts.region(""), false)
	if err != nil {
		return err
	}
	defer deps.Close()

	sched := &schedule.Scheduler{
		Store:    deps.Store,
		Jobs:     &jobs.Runner{Clusters: deps.Clusters, Logger: logger},
		Logger:   logger,
		Location: opts.Config.Location(),
	}

	errc := make(chan error, 2)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	shutdown := make(chan struct{})
	shutdownWg := &sync.WaitGroup{}
	shutdownWg.Add(1)
	go sched.Loop(shutdown, shutdownWg)

	srv := &http.Server{
		Addr:    opts.Config.Listen,
		Handler: scheduler.NewHandler(sched, scheduler.NewRouter()),
	}
	go func() {
		logger.Log("addr", opts.Config.Listen, "timezone", sched.Location)
		errc <- srv.ListenAndServe()
	}()

	logger.Log("exiting", <-errc)
	if err := stopScheduler(srv, shutdown, shutdownWg); err != nil {
		logger.Log("err", err)
	}
	return nil
}

// stopScheduler stops taking triggers over HTTP, then stops the loop
// and waits for the jobs it has dispatched. Triggers must be refused
// first, since the loop waits on every dispatch in flight.
func stopScheduler(srv *http.Server, shutdown chan struct{}, wg *sync.WaitGroup) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(ctx)
	close(shutdown)
	wg.Wait()
	return err
}

const shutdownTimeout = 30 * time.Second

var _ scheduler.Server = &schedule.Scheduler{}
