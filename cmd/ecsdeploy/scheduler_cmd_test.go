package main

import (
	"context"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	transport "github.com/fluxcd/ecsdeploy/pkg/http"
	"github.com/fluxcd/ecsdeploy/pkg/http/client"
	"github.com/fluxcd/ecsdeploy/pkg/http/scheduler"
	"github.com/fluxcd/ecsdeploy/pkg/jobs"
	"github.com/fluxcd/ecsdeploy/pkg/schedule"
)

func TestStopSchedulerRefusesTriggers(t *testing.T) {
	deps, ran := activeDeps(t)
	sched := &schedule.Scheduler{
		Store:    deps.Store,
		Jobs:     &jobs.Runner{Clusters: deps.Clusters},
		Location: time.UTC,
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: scheduler.NewHandler(sched, scheduler.NewRouter())}
	go srv.Serve(ln)

	shutdown := make(chan struct{})
	wg := &sync.WaitGroup{}
	wg.Add(1)
	go sched.Loop(shutdown, wg)

	c := client.New(http.DefaultClient, transport.NewAPIRouter(), "http://"+ln.Addr().String())
	threeAM := time.Date(2019, 3, 4, 3, 0, 0, 0, time.UTC)
	res, err := c.Trigger(context.Background(), threeAM)
	require.NoError(t, err)
	assert.Len(t, res.Dispatched, 1)

	require.NoError(t, stopScheduler(srv, shutdown, wg))
	assert.Len(t, *ran, 1, "dispatches in flight are finished before stopping")

	_, err = c.Trigger(context.Background(), threeAM)
	assert.Error(t, err)
	assert.Len(t, *ran, 1)
}
