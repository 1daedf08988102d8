// Package dynamo is a history store kept in a DynamoDB table.
//
// The table is keyed by appName (hash) and deploymentTimestamp
// (range). A global secondary index, active-index, is keyed by appName
// and active; active is stored as the number 0 or 1, since index keys
// cannot be booleans.
package dynamo

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/aws/aws-sdk-go/service/dynamodb/expression"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/fluxcd/ecsdeploy/pkg/deployment"
	"github.com/fluxcd/ecsdeploy/pkg/history"
	"github.com/fluxcd/ecsdeploy/pkg/manifest"
)

const (
	DefaultTable = "ecsdeploy-deployments"
	ActiveIndex  = "active-index"
)

// item is a deployment as stored in the table.
type item struct {
	AppName               string                 `dynamodbav:"appName"`
	DeploymentTimestamp   int64                  `dynamodbav:"deploymentTimestamp"`
	Environment           string                 `dynamodbav:"environment"`
	Active                int                    `dynamodbav:"active"`
	Tasks                 []deployment.TaskItem  `dynamodbav:"tasks"`
	DeploymentInformation manifest.Configuration `dynamodbav:"deploymentInformation"`
	ParentDeployment      *deployment.Ref        `dynamodbav:"parentDeployment,omitempty"`
}

type key struct {
	AppName             string `dynamodbav:"appName"`
	DeploymentTimestamp int64  `dynamodbav:"deploymentTimestamp"`
}

func toItem(d deployment.Deployment) item {
	it := item{
		AppName:               d.AppName,
		DeploymentTimestamp:   d.DeploymentTimestamp,
		Environment:           d.Environment,
		Tasks:                 d.Tasks,
		DeploymentInformation: d.DeploymentInformation,
		ParentDeployment:      d.ParentDeployment,
	}
	if d.Active {
		it.Active = 1
	}
	return it
}

func (it item) deployment() deployment.Deployment {
	return deployment.Deployment{
		AppName:               it.AppName,
		Environment:           it.Environment,
		DeploymentTimestamp:   it.DeploymentTimestamp,
		Active:                it.Active == 1,
		Tasks:                 it.Tasks,
		DeploymentInformation: it.DeploymentInformation,
		ParentDeployment:      it.ParentDeployment,
	}
}

// Store is a history.Store backed by DynamoDB.
type Store struct {
	client dynamodbiface.DynamoDBAPI
	table  string
	logger log.Logger
}

var _ history.Store = &Store{}

func New(client dynamodbiface.DynamoDBAPI, table string, logger log.Logger) *Store {
	if table == "" {
		table = DefaultTable
	}
	return &Store{
		client: client,
		table:  table,
		logger: log.With(logger, "component", "history", "driver", "dynamodb", "table", table),
	}
}

func refKey(ref deployment.Ref) (map[string]*dynamodb.AttributeValue, error) {
	return dynamodbattribute.MarshalMap(key{AppName: ref.AppName, DeploymentTimestamp: ref.DeploymentTimestamp})
}

func isConditionFailed(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		return aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException
	}
	return false
}

func (s *Store) GetCurrentActive(ctx context.Context, appName, environment string) (*deployment.Deployment, error) {
	keyCond := expression.Key("appName").Equal(expression.Value(appName)).
		And(expression.Key("active").Equal(expression.Value(1)))
	filter := expression.Name("environment").Equal(expression.Value(environment))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).WithFilter(filter).Build()
	if err != nil {
		return nil, errors.Wrap(err, "building active deployment query")
	}

	var (
		found  []item
		decErr error
	)
	err = s.client.QueryPagesWithContext(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		IndexName:                 aws.String(ActiveIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}, func(page *dynamodb.QueryOutput, last bool) bool {
		var items []item
		if decErr = dynamodbattribute.UnmarshalListOfMaps(page.Items, &items); decErr != nil {
			return false
		}
		found = append(found, items...)
		return true
	})
	if err == nil {
		err = decErr
	}
	if err != nil {
		return nil, history.Unavailable("GetCurrentActive", err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	newest := found[0]
	for _, it := range found[1:] {
		if it.DeploymentTimestamp > newest.DeploymentTimestamp {
			newest = it
		}
	}
	if len(found) > 1 {
		s.logger.Log("method", "GetCurrentActive", "app", appName, "environment", environment, "active", len(found), "warning", "more than one active deployment; using the newest")
	}
	d := newest.deployment()
	return &d, nil
}

func (s *Store) Get(ctx context.Context, ref *deployment.Ref) (*deployment.Deployment, error) {
	if ref == nil {
		return nil, nil
	}
	d, err := s.get(ctx, *ref)
	if err != nil {
		return nil, history.Unavailable("Get", err)
	}
	return d, nil
}

func (s *Store) get(ctx context.Context, ref deployment.Ref) (*deployment.Deployment, error) {
	k, err := refKey(ref)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            k,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var it item
	if err := dynamodbattribute.UnmarshalMap(out.Item, &it); err != nil {
		return nil, errors.Wrapf(err, "unmarshaling %s", ref)
	}
	d := it.deployment()
	return &d, nil
}

func (s *Store) SetActive(ctx context.Context, ref deployment.Ref, active bool) (*deployment.Deployment, error) {
	flag := 0
	if active {
		flag = 1
	}
	update := expression.Set(expression.Name("active"), expression.Value(flag))
	cond := expression.AttributeExists(expression.Name("appName"))
	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return nil, errors.Wrap(err, "building update")
	}
	k, err := refKey(ref)
	if err != nil {
		return nil, err
	}
	out, err := s.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       k,
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              aws.String(dynamodb.ReturnValueAllNew),
	})
	if isConditionFailed(err) {
		return nil, history.NotFound("SetActive", ref)
	}
	if err != nil {
		return nil, history.Unavailable("SetActive", err)
	}
	var it item
	if err := dynamodbattribute.UnmarshalMap(out.Attributes, &it); err != nil {
		return nil, errors.Wrapf(err, "unmarshaling %s", ref)
	}
	d := it.deployment()
	return &d, nil
}

func (s *Store) Deactivate(ctx context.Context, ref deployment.Ref) error {
	update := expression.Set(expression.Name("active"), expression.Value(0))
	cond := expression.Name("active").Equal(expression.Value(1))
	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return errors.Wrap(err, "building update")
	}
	k, err := refKey(ref)
	if err != nil {
		return err
	}
	_, err = s.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       k,
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err == nil {
		return nil
	}
	if !isConditionFailed(err) {
		return history.Unavailable("Deactivate", err)
	}
	// The condition also fails when there's no such item
	d, err := s.get(ctx, ref)
	if err != nil {
		return history.Unavailable("Deactivate", err)
	}
	if d == nil {
		return history.NotFound("Deactivate", ref)
	}
	return history.NotActive("Deactivate", ref)
}

func (s *Store) Put(ctx context.Context, d deployment.Deployment) error {
	av, err := dynamodbattribute.MarshalMap(toItem(d))
	if err != nil {
		return errors.Wrapf(err, "marshaling %s", d.Ref())
	}
	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("appName"))).
		Build()
	if err != nil {
		return errors.Wrap(err, "building condition")
	}
	_, err = s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.table),
		Item:                     av,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if isConditionFailed(err) {
		return history.Exists("Put", d.Ref())
	}
	if err != nil {
		return history.Unavailable("Put", err)
	}
	return nil
}

func (s *Store) ListActive(ctx context.Context) ([]deployment.Deployment, error) {
	expr, err := expression.NewBuilder().
		WithFilter(expression.Name("active").Equal(expression.Value(1))).
		Build()
	if err != nil {
		return nil, errors.Wrap(err, "building scan filter")
	}
	var (
		ds     []deployment.Deployment
		decErr error
	)
	err = s.client.ScanPagesWithContext(ctx, &dynamodb.ScanInput{
		TableName:                 aws.String(s.table),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}, func(page *dynamodb.ScanOutput, last bool) bool {
		var items []item
		if decErr = dynamodbattribute.UnmarshalListOfMaps(page.Items, &items); decErr != nil {
			return false
		}
		for _, it := range items {
			ds = append(ds, it.deployment())
		}
		return true
	})
	if err == nil {
		err = decErr
	}
	if err != nil {
		return nil, history.Unavailable("ListActive", err)
	}
	return ds, nil
}

func (s *Store) History(ctx context.Context, appName, environment string, limit int) ([]deployment.Deployment, error) {
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key("appName").Equal(expression.Value(appName))).
		WithFilter(expression.Name("environment").Equal(expression.Value(environment))).
		Build()
	if err != nil {
		return nil, errors.Wrap(err, "building history query")
	}
	var (
		ds     []deployment.Deployment
		decErr error
	)
	err = s.client.QueryPagesWithContext(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
	}, func(page *dynamodb.QueryOutput, last bool) bool {
		var items []item
		if decErr = dynamodbattribute.UnmarshalListOfMaps(page.Items, &items); decErr != nil {
			return false
		}
		for _, it := range items {
			ds = append(ds, it.deployment())
			if limit > 0 && len(ds) >= limit {
				return false
			}
		}
		return true
	})
	if err == nil {
		err = decErr
	}
	if err != nil {
		return nil, history.Unavailable("History", err)
	}
	return ds, nil
}

// CreateTable creates the table and its index, if the table does not
// already exist, and waits for it to become usable.
func (s *Store) CreateTable(ctx context.Context) error {
	_, err := s.client.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.table),
	})
	if err == nil {
		return nil
	}
	if aerr, ok := err.(awserr.Error); !ok || aerr.Code() != dynamodb.ErrCodeResourceNotFoundException {
		return errors.Wrapf(err, "describing table %s", s.table)
	}

	s.logger.Log("method", "CreateTable", "info", "creating table")
	_, err = s.client.CreateTableWithContext(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(s.table),
		BillingMode: aws.String(dynamodb.BillingModePayPerRequest),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String("appName"), AttributeType: aws.String(dynamodb.ScalarAttributeTypeS)},
			{AttributeName: aws.String("deploymentTimestamp"), AttributeType: aws.String(dynamodb.ScalarAttributeTypeN)},
			{AttributeName: aws.String("active"), AttributeType: aws.String(dynamodb.ScalarAttributeTypeN)},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String("appName"), KeyType: aws.String(dynamodb.KeyTypeHash)},
			{AttributeName: aws.String("deploymentTimestamp"), KeyType: aws.String(dynamodb.KeyTypeRange)},
		},
		GlobalSecondaryIndexes: []*dynamodb.GlobalSecondaryIndex{{
			IndexName: aws.String(ActiveIndex),
			KeySchema: []*dynamodb.KeySchemaElement{
				{AttributeName: aws.String("appName"), KeyType: aws.String(dynamodb.KeyTypeHash)},
				{AttributeName: aws.String("active"), KeyType: aws.String(dynamodb.KeyTypeRange)},
			},
			Projection: &dynamodb.Projection{ProjectionType: aws.String(dynamodb.ProjectionTypeAll)},
		}},
	})
	if err != nil {
		return errors.Wrapf(err, "creating table %s", s.table)
	}
	return s.client.WaitUntilTableExistsWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.table),
	})
}
