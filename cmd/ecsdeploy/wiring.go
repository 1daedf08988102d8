package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	awsecr "github.com/aws/aws-sdk-go/service/ecr"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/fluxcd/ecsdeploy/pkg/build"
	"github.com/fluxcd/ecsdeploy/pkg/build/docker"
	"github.com/fluxcd/ecsdeploy/pkg/cluster"
	"github.com/fluxcd/ecsdeploy/pkg/cluster/ecs"
	"github.com/fluxcd/ecsdeploy/pkg/config"
	"github.com/fluxcd/ecsdeploy/pkg/deploy"
	"github.com/fluxcd/ecsdeploy/pkg/history"
	"github.com/fluxcd/ecsdeploy/pkg/history/dynamo"
	"github.com/fluxcd/ecsdeploy/pkg/history/sql"
	"github.com/fluxcd/ecsdeploy/pkg/jobs"
	"github.com/fluxcd/ecsdeploy/pkg/manifest"
	"github.com/fluxcd/ecsdeploy/pkg/reconcile"
	"github.com/fluxcd/ecsdeploy/pkg/register"
	"github.com/fluxcd/ecsdeploy/pkg/registry"
	"github.com/fluxcd/ecsdeploy/pkg/registry/cache"
	"github.com/fluxcd/ecsdeploy/pkg/registry/cache/memcached"
)

// dependencies are the outside world, as far as commands are
// concerned. Tests supply their own.
type dependencies struct {
	Store    history.Store
	Clusters cluster.Factory
	Images   deploy.ImagePipeline

	closers []func()
}

func (d *dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

// region is where history and the registry live: as configured, or
// else the region the manifest deploys to.
func (opts *rootOpts) region(manifestRegion string) string {
	if opts.Config.AWSRegion != "" {
		return opts.Config.AWSRegion
	}
	return manifestRegion
}

func (opts *rootOpts) awsSession() (*session.Session, error) {
	sess, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	})
	return sess, errors.Wrap(err, "creating AWS session")
}

// loadManifest reads the manifest and resolves it for env.
func (opts *rootOpts) loadManifest(env string) (manifest.Configuration, error) {
	return manifest.Load(opts.Config.Manifest, env)
}

// dependencies connects to whatever the commands need. The images
// pipeline is only set up when withImages is true, since it needs a
// Docker daemon.
func (opts *rootOpts) dependencies(region string, withImages bool) (*dependencies, error) {
	if opts.deps != nil {
		return opts.deps, nil
	}
	logger := opts.Logger
	deps := &dependencies{}

	sess, err := opts.awsSession()
	if err != nil {
		return nil, err
	}

	store, closeStore, err := opts.historyStore(sess, region)
	if err != nil {
		return nil, err
	}
	deps.Store = history.Instrumented(store, opts.Config.HistoryDriver)
	deps.closers = append(deps.closers, closeStore)

	deps.Clusters = ecs.NewFactory(sess, opts.Config.ECSRPS, opts.Config.ECSBurst, logger)

	if withImages {
		if region == "" {
			deps.Close()
			return nil, errors.New("no AWS region for the image registry; set --aws-region or aws.region in the manifest")
		}
		var reg registry.Registry = registry.NewInstrumentedRegistry(
			registry.NewECR(awsecr.New(sess, aws.NewConfig().WithRegion(region)), logger))

		if opts.Config.MemcachedHostname != "" || opts.Config.MemcachedService != "" {
			mc := opts.memcacheClient(logger)
			deps.closers = append(deps.closers, mc.Stop)
			reg = &cache.Registry{
				Next:          reg,
				Client:        cache.InstrumentClient(mc),
				Name:          "ecr/" + region,
				RepositoryTTL: opts.Config.RegistryCacheTTL,
				Logger:        logger,
			}
		}

		builder, err := docker.NewFromEnv(opts.stderr, logger)
		if err != nil {
			deps.Close()
			return nil, errors.Wrap(err, "connecting to Docker")
		}
		deps.Images = &build.Pipeline{
			Registry: reg,
			Builder:  builder,
			BaseDir:  filepath.Dir(opts.Config.Manifest),
			Logger:   logger,
		}
	}
	return deps, nil
}

func (opts *rootOpts) memcacheClient(logger log.Logger) *memcached.MemcacheClient {
	mcConfig := memcached.MemcacheConfig{
		Host:           opts.Config.MemcachedHostname,
		Service:        opts.Config.MemcachedService,
		Timeout:        opts.Config.MemcachedTimeout,
		UpdateInterval: memcached.DefaultUpdateInterval,
		MaxIdleConns:   memcached.DefaultMaxIdleConns,
		Logger:         logger,
	}
	if opts.Config.MemcachedService == "" {
		mcConfig.Servers = []string{fmt.Sprintf("%s:%d", opts.Config.MemcachedHostname, opts.Config.MemcachedPort)}
	}
	return memcached.NewMemcacheClient(mcConfig)
}

func (opts *rootOpts) historyStore(sess *session.Session, region string) (history.Store, func(), error) {
	noop := func() {}
	switch opts.Config.HistoryDriver {
	case config.HistoryDriverMemory:
		return history.NewInMem(), noop, nil
	case config.HistoryDriverDynamo:
		cfg := aws.NewConfig()
		if region != "" {
			cfg = cfg.WithRegion(region)
		}
		s := dynamo.New(dynamodb.New(sess, cfg), opts.Config.HistorySource, opts.Logger)
		if opts.Config.HistoryCreateTable {
			if err := s.CreateTable(context.Background()); err != nil {
				return nil, nil, err
			}
		}
		return s, noop, nil
	case config.HistoryDriverSQL:
		s, err := sql.Open(opts.Config.HistorySource, opts.Logger)
		if err != nil {
			return nil, nil, errors.Wrap(err, "opening history database")
		}
		return s, func() { s.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown history driver %q", opts.Config.HistoryDriver)
}

func (opts *rootOpts) deployer(deps *dependencies) *deploy.Deployer {
	logger := opts.Logger
	return &deploy.Deployer{
		Store:      deps.Store,
		Images:     deps.Images,
		Registrar:  &register.Registrar{Clusters: deps.Clusters, Logger: logger},
		Reconciler: &reconcile.Reconciler{Clusters: deps.Clusters, Logger: logger},
		Jobs:       &jobs.Runner{Clusters: deps.Clusters, Logger: logger},
		Logger:     logger,
	}
}
