package dynamo

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/ecsdeploy/pkg/deployment"
	"github.com/fluxcd/ecsdeploy/pkg/history"
	"github.com/fluxcd/ecsdeploy/pkg/history/historytest"
)

func TestItemAttributes(t *testing.T) {
	parent := deployment.Ref{AppName: "app", DeploymentTimestamp: 1000}
	d := historytest.Sample("app", "prod", 2000, &parent)
	d.Active = true

	av, err := dynamodbattribute.MarshalMap(toItem(d))
	require.NoError(t, err)

	// The key and index attributes must have the types the table
	// was created with.
	require.NotNil(t, av["appName"].S)
	assert.Equal(t, "app", *av["appName"].S)
	require.NotNil(t, av["deploymentTimestamp"].N)
	assert.Equal(t, "2000", *av["deploymentTimestamp"].N)
	require.NotNil(t, av["active"].N)
	assert.Equal(t, "1", *av["active"].N)
	assert.NotNil(t, av["parentDeployment"].M)

	var it item
	require.NoError(t, dynamodbattribute.UnmarshalMap(av, &it))
	assert.Equal(t, d, it.deployment())
}

func TestInactiveItem(t *testing.T) {
	d := historytest.Sample("app", "prod", 2000, nil)
	av, err := dynamodbattribute.MarshalMap(toItem(d))
	require.NoError(t, err)
	assert.Equal(t, "0", *av["active"].N)
	_, hasParent := av["parentDeployment"]
	assert.False(t, hasParent)
}

// Runs the store tests against DynamoDB Local, if given, e.g.,
//
//     docker run -p 8000:8000 amazon/dynamodb-local
//     ECSDEPLOY_TEST_DYNAMODB_ENDPOINT=http://localhost:8000 go test ./pkg/history/dynamo
func TestStore(t *testing.T) {
	endpoint := os.Getenv("ECSDEPLOY_TEST_DYNAMODB_ENDPOINT")
	if endpoint == "" {
		t.Skip("ECSDEPLOY_TEST_DYNAMODB_ENDPOINT not set")
	}
	sess, err := session.NewSession(&aws.Config{
		Region:      aws.String("eu-west-1"),
		Endpoint:    aws.String(endpoint),
		Credentials: credentials.NewStaticCredentials("test", "test", ""),
	})
	require.NoError(t, err)
	client := dynamodb.New(sess)

	historytest.Run(t, func(t *testing.T) history.Store {
		table := fmt.Sprintf("ecsdeploy-test-%d", time.Now().UnixNano())
		s := New(client, table, log.NewNopLogger())
		require.NoError(t, s.CreateTable(context.Background()))
		t.Cleanup(func() {
			client.DeleteTable(&dynamodb.DeleteTableInput{TableName: aws.String(table)})
		})
		return s
	})
}

type tableAPI struct {
	dynamodbiface.DynamoDBAPI
	exists  bool
	created *dynamodb.CreateTableInput
	waited  bool
}

func (f *tableAPI) DescribeTableWithContext(_ aws.Context, in *dynamodb.DescribeTableInput, _ ...request.Option) (*dynamodb.DescribeTableOutput, error) {
	if !f.exists {
		return nil, awserr.New(dynamodb.ErrCodeResourceNotFoundException, "no table", nil)
	}
	return &dynamodb.DescribeTableOutput{Table: &dynamodb.TableDescription{TableName: in.TableName}}, nil
}

func (f *tableAPI) CreateTableWithContext(_ aws.Context, in *dynamodb.CreateTableInput, _ ...request.Option) (*dynamodb.CreateTableOutput, error) {
	f.created = in
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *tableAPI) WaitUntilTableExistsWithContext(_ aws.Context, _ *dynamodb.DescribeTableInput, _ ...request.WaiterOption) error {
	f.waited = true
	return nil
}

func TestCreateTable(t *testing.T) {
	api := &tableAPI{}
	s := New(api, "deployments", log.NewNopLogger())
	require.NoError(t, s.CreateTable(context.Background()))
	require.NotNil(t, api.created)
	assert.Equal(t, "deployments", aws.StringValue(api.created.TableName))
	require.Len(t, api.created.GlobalSecondaryIndexes, 1)
	assert.Equal(t, ActiveIndex, aws.StringValue(api.created.GlobalSecondaryIndexes[0].IndexName))
	assert.True(t, api.waited)

	api = &tableAPI{exists: true}
	s = New(api, "deployments", log.NewNopLogger())
	require.NoError(t, s.CreateTable(context.Background()))
	assert.Nil(t, api.created, "an existing table is left alone")
}
