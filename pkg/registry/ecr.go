package registry

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/ecr"
	"github.com/aws/aws-sdk-go/service/ecr/ecriface"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/fluxcd/ecsdeploy/pkg/image"
)

// ECR is a Registry for Amazon Elastic Container Registry, in the
// account and region of the client given.
type ECR struct {
	client ecriface.ECRAPI
	logger log.Logger
}

var _ Registry = &ECR{}

func NewECR(client ecriface.ECRAPI, logger log.Logger) *ECR {
	return &ECR{
		client: client,
		logger: log.With(logger, "component", "registry"),
	}
}

func (r *ECR) FindOrCreateRepository(ctx context.Context, name string) (image.Name, error) {
	out, err := r.client.DescribeRepositoriesWithContext(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: aws.StringSlice([]string{name}),
	})
	if err == nil && len(out.Repositories) > 0 {
		return repositoryName(out.Repositories[0])
	}
	if err != nil {
		if aerr, ok := err.(awserr.Error); !ok || aerr.Code() != ecr.ErrCodeRepositoryNotFoundException {
			return image.Name{}, errors.Wrapf(err, "describing repository %s", name)
		}
	}

	r.logger.Log("repository", name, "info", "creating repository")
	created, err := r.client.CreateRepositoryWithContext(ctx, &ecr.CreateRepositoryInput{
		RepositoryName: aws.String(name),
	})
	if err != nil {
		return image.Name{}, errors.Wrapf(err, "creating repository %s", name)
	}
	return repositoryName(created.Repository)
}

func repositoryName(repo *ecr.Repository) (image.Name, error) {
	if repo == nil || repo.RepositoryUri == nil {
		return image.Name{}, errors.New("repository has no URI")
	}
	ref, err := image.ParseRef(*repo.RepositoryUri)
	if err != nil {
		return image.Name{}, errors.Wrapf(err, "parsing repository URI")
	}
	return ref.Name, nil
}

func (r *ECR) GetAuthorizationToken(ctx context.Context) (Credentials, error) {
	out, err := r.client.GetAuthorizationTokenWithContext(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return Credentials{}, errors.Wrap(err, "fetching ECR authorization token")
	}
	if len(out.AuthorizationData) == 0 || out.AuthorizationData[0].AuthorizationToken == nil {
		return Credentials{}, errors.New("no authorization data returned by ECR")
	}
	data := out.AuthorizationData[0]
	creds, err := parseAuth(*data.AuthorizationToken)
	if err != nil {
		return Credentials{}, errors.Wrap(err, "decoding ECR authorization token")
	}
	creds.ServerAddress = serverHost(aws.StringValue(data.ProxyEndpoint))
	creds.Expires = aws.TimeValue(data.ExpiresAt)
	return creds, nil
}
