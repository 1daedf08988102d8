// Package docker builds, pushes and pulls images with a Docker
// daemon.
package docker

import (
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types"
	typesregistry "github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/go-kit/kit/log"
	"github.com/moby/patternmatcher/ignorefile"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"

	"github.com/fluxcd/ecsdeploy/pkg/build"
	"github.com/fluxcd/ecsdeploy/pkg/registry"
)

// imageAPI is the part of the Docker client used here.
type imageAPI interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
	ImagePush(ctx context.Context, ref string, options types.ImagePushOptions) (io.ReadCloser, error)
	ImagePull(ctx context.Context, ref string, options types.ImagePullOptions) (io.ReadCloser, error)
}

// Builder is a build.Builder talking to a Docker daemon.
type Builder struct {
	api    imageAPI
	out    io.Writer
	logger log.Logger
}

var _ build.Builder = &Builder{}

// NewFromEnv connects to the daemon given by the DOCKER_HOST (etc.)
// environment variables, or the default socket. Build and push
// progress is written to out.
func NewFromEnv(out io.Writer, logger log.Logger) (*Builder, error) {
	c, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "connecting to docker daemon")
	}
	return New(c, out, logger), nil
}

func New(api imageAPI, out io.Writer, logger log.Logger) *Builder {
	if out == nil {
		out = ioutil.Discard
	}
	return &Builder{
		api:    api,
		out:    out,
		logger: log.With(logger, "component", "docker"),
	}
}

func (b *Builder) Build(ctx context.Context, opts build.BuildOptions) error {
	excludes, err := readDockerignore(opts.ContextDir)
	if err != nil {
		return err
	}
	tar, err := archive.TarWithOptions(opts.ContextDir, &archive.TarOptions{
		ExcludePatterns: excludes,
	})
	if err != nil {
		return errors.Wrapf(err, "archiving build context %s", opts.ContextDir)
	}
	defer tar.Close()

	resp, err := b.api.ImageBuild(ctx, tar, types.ImageBuildOptions{
		Tags:        []string{opts.Tag},
		Dockerfile:  filepath.ToSlash(opts.Dockerfile),
		Remove:      true,
		ForceRemove: true,
		PullParent:  true,
	})
	if err != nil {
		return errors.Wrapf(err, "building %s", opts.Tag)
	}
	defer resp.Body.Close()
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, b.out, 0, false, nil); err != nil {
		return errors.Wrapf(err, "building %s", opts.Tag)
	}
	return nil
}

// pushResult is the aux message the daemon sends at the end of a
// push.
type pushResult struct {
	Tag    string
	Digest string
	Size   int
}

func (b *Builder) Push(ctx context.Context, ref string, creds registry.Credentials) (digest.Digest, error) {
	auth, err := encodeAuth(creds)
	if err != nil {
		return "", err
	}
	body, err := b.api.ImagePush(ctx, ref, types.ImagePushOptions{RegistryAuth: auth})
	if err != nil {
		return "", errors.Wrapf(err, "pushing %s", ref)
	}
	defer body.Close()
	return b.pushDigest(ref, body)
}

func (b *Builder) pushDigest(ref string, body io.Reader) (digest.Digest, error) {
	var dgst digest.Digest
	aux := func(msg jsonmessage.JSONMessage) {
		if msg.Aux == nil {
			return
		}
		var res pushResult
		if err := json.Unmarshal(*msg.Aux, &res); err != nil {
			b.logger.Log("ref", ref, "err", errors.Wrap(err, "decoding push result"))
			return
		}
		d, err := digest.Parse(res.Digest)
		if err != nil {
			b.logger.Log("ref", ref, "digest", res.Digest, "err", err)
			return
		}
		dgst = d
	}
	if err := jsonmessage.DisplayJSONMessagesStream(body, b.out, 0, false, aux); err != nil {
		return "", errors.Wrapf(err, "pushing %s", ref)
	}
	if dgst == "" {
		b.logger.Log("ref", ref, "warning", "registry did not report a digest")
	}
	return dgst, nil
}

func (b *Builder) Pull(ctx context.Context, ref string, creds registry.Credentials) error {
	auth, err := encodeAuth(creds)
	if err != nil {
		return err
	}
	body, err := b.api.ImagePull(ctx, ref, types.ImagePullOptions{RegistryAuth: auth})
	if err != nil {
		return errors.Wrapf(err, "pulling %s", ref)
	}
	defer body.Close()
	if err := jsonmessage.DisplayJSONMessagesStream(body, b.out, 0, false, nil); err != nil {
		return errors.Wrapf(err, "pulling %s", ref)
	}
	return nil
}

func encodeAuth(creds registry.Credentials) (string, error) {
	auth, err := typesregistry.EncodeAuthConfig(typesregistry.AuthConfig{
		Username:      creds.Username,
		Password:      creds.Password,
		ServerAddress: creds.ServerAddress,
	})
	if err != nil {
		return "", errors.Wrap(err, "encoding registry credentials")
	}
	return auth, nil
}

func readDockerignore(dir string) ([]string, error) {
	f, err := os.Open(filepath.Join(dir, ".dockerignore"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	excludes, err := ignorefile.ReadAll(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading .dockerignore in %s", dir)
	}
	return excludes, nil
}
