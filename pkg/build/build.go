// Package build turns the images of a manifest into pushed image
// references.
package build

import (
	"context"
	"path/filepath"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/opencontainers/go-digest"

	"github.com/fluxcd/ecsdeploy/pkg/image"
	"github.com/fluxcd/ecsdeploy/pkg/manifest"
	"github.com/fluxcd/ecsdeploy/pkg/registry"
)

const DefaultDockerfile = "Dockerfile"

// BuildOptions says what to build, and what to call it.
type BuildOptions struct {
	// ContextDir is the directory sent as the build context.
	ContextDir string
	// Dockerfile is relative to ContextDir.
	Dockerfile string
	// Tag is the full reference the built image is tagged with.
	Tag string
}

// Builder builds, pushes and pulls images.
type Builder interface {
	Build(ctx context.Context, opts BuildOptions) error
	// Push returns the digest the registry gave the image.
	Push(ctx context.Context, ref string, creds registry.Credentials) (digest.Digest, error)
	Pull(ctx context.Context, ref string, creds registry.Credentials) error
}

// Pipeline builds and pushes each image of a manifest in turn.
type Pipeline struct {
	Registry registry.Registry
	Builder  Builder
	// BaseDir is what build contexts are relative to; usually the
	// directory the manifest is in.
	BaseDir string
	Logger  log.Logger
}

func (p *Pipeline) logger() log.Logger {
	if p.Logger == nil {
		return log.NewNopLogger()
	}
	return log.With(p.Logger, "component", "build")
}

// BuildAndPush builds and pushes every image in cfg, one at a time in
// order of image id. The first failure stops the pipeline; images
// already pushed stay pushed. The pushed references are returned by
// image id.
func (p *Pipeline) BuildAndPush(ctx context.Context, cfg manifest.Configuration) (map[string]image.Ref, error) {
	refs := map[string]image.Ref{}
	if len(cfg.Images) == 0 {
		return refs, nil
	}
	creds, err := p.credentials(ctx)
	if err != nil {
		return nil, err
	}

	for _, id := range cfg.ImageIDs() {
		tmpl := cfg.Images[id]
		logger := log.With(p.logger(), "image", id)

		ref, err := p.resolve(ctx, cfg.AppName, id, tmpl)
		if err != nil {
			return nil, err
		}

		opts := BuildOptions{
			ContextDir: p.contextDir(tmpl.BuildContext),
			Dockerfile: tmpl.Dockerfile,
			Tag:        ref.Tagged(),
		}
		if opts.Dockerfile == "" {
			opts.Dockerfile = DefaultDockerfile
		}
		logger.Log("stage", StageBuild, "context", opts.ContextDir, "tag", opts.Tag)
		if err := p.stage(StageBuild, func() error { return p.Builder.Build(ctx, opts) }); err != nil {
			return nil, &PipelineError{ImageID: id, Stage: StageBuild, Err: err}
		}

		logger.Log("stage", StagePush, "ref", ref.Tagged())
		var dgst digest.Digest
		if err := p.stage(StagePush, func() (err error) {
			dgst, err = p.Builder.Push(ctx, ref.Tagged(), creds)
			return err
		}); err != nil {
			return nil, &PipelineError{ImageID: id, Stage: StagePush, Err: err}
		}
		ref.Digest = dgst
		logger.Log("pushed", ref)
		refs[id] = ref
	}
	return refs, nil
}

// Pull fetches the images of cfg, as they were tagged when pushed.
func (p *Pipeline) Pull(ctx context.Context, cfg manifest.Configuration) (map[string]image.Ref, error) {
	refs := map[string]image.Ref{}
	if len(cfg.Images) == 0 {
		return refs, nil
	}
	creds, err := p.credentials(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range cfg.ImageIDs() {
		ref, err := p.resolve(ctx, cfg.AppName, id, cfg.Images[id])
		if err != nil {
			return nil, err
		}
		p.logger().Log("image", id, "stage", StagePull, "ref", ref)
		if err := p.stage(StagePull, func() error { return p.Builder.Pull(ctx, ref.Tagged(), creds) }); err != nil {
			return nil, &PipelineError{ImageID: id, Stage: StagePull, Err: err}
		}
		refs[id] = ref
	}
	return refs, nil
}

func (p *Pipeline) credentials(ctx context.Context) (registry.Credentials, error) {
	var creds registry.Credentials
	err := p.stage(StageAuth, func() (err error) {
		creds, err = p.Registry.GetAuthorizationToken(ctx)
		return err
	})
	if err != nil {
		return creds, &PipelineError{Stage: StageAuth, Err: err}
	}
	return creds, nil
}

func (p *Pipeline) resolve(ctx context.Context, app, id string, tmpl manifest.ImageTemplate) (image.Ref, error) {
	var name image.Name
	err := p.stage(StageRepository, func() (err error) {
		name, err = p.Registry.FindOrCreateRepository(ctx, registry.RepositoryName(app, tmpl.Repo))
		return err
	})
	if err != nil {
		return image.Ref{}, &PipelineError{ImageID: id, Stage: StageRepository, Err: err}
	}
	return name.ToRef(tmpl.Tag), nil
}

func (p *Pipeline) contextDir(dir string) string {
	if dir == "" {
		dir = "."
	}
	if filepath.IsAbs(dir) || p.BaseDir == "" {
		return filepath.Clean(dir)
	}
	return filepath.Join(p.BaseDir, dir)
}

func (p *Pipeline) stage(s Stage, f func() error) (err error) {
	defer func(begin time.Time) { observeStage(s, begin, err) }(time.Now())
	return f()
}
