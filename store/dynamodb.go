package store

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	smithy "github.com/aws/smithy-go"
	"golang.org/x/time/rate"
)

// DynamoDBAPI is the subset of the DynamoDB client this package calls,
// narrow enough to fake in tests without standing up a real client.
type DynamoDBAPI interface {
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoGateway implements Gateway against a real (or mocked) DynamoDB
// client. An optional rate.Limiter paces outbound requests to protect the
// table from self-inflicted throttling under bursty acquire traffic; it is
// a client-side courtesy, never a source of CapacityExhausted.
type DynamoGateway struct {
	client  DynamoDBAPI
	limiter *rate.Limiter
}

// NewDynamoGateway constructs a Gateway backed by client. limiter may be
// nil to disable client-side pacing.
func NewDynamoGateway(client DynamoDBAPI, limiter *rate.Limiter) *DynamoGateway {
	return &DynamoGateway{client: client, limiter: limiter}
}

func (g *DynamoGateway) wait(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	return g.limiter.Wait(ctx)
}

func (g *DynamoGateway) ConditionalUpdate(ctx context.Context, in UpdateRequest) (Item, error) {
	if err := g.wait(ctx); err != nil {
		return nil, &Error{Op: "ConditionalUpdate", Err: err}
	}

	key, err := toAttributeMap(in.Key)
	if err != nil {
		return nil, &Error{Op: "ConditionalUpdate", Err: err}
	}

	update := expression.UpdateBuilder{}
	for attr, delta := range in.Adds {
		update = update.Add(expression.Name(attr), expression.Value(delta))
	}
	for attr, value := range in.Sets {
		update = update.Set(expression.Name(attr), expression.Value(value))
	}

	builder := expression.NewBuilder().WithUpdate(update)
	if in.Condition != nil {
		builder = builder.WithCondition(toConditionBuilder(*in.Condition))
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, &Error{Op: "ConditionalUpdate", Err: err}
	}

	out, err := g.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(in.Table),
		Key:                       key,
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return nil, translateError("ConditionalUpdate", err)
	}

	return fromAttributeMap(out.Attributes)
}

func (g *DynamoGateway) ConditionalPut(ctx context.Context, in PutRequest) error {
	if err := g.wait(ctx); err != nil {
		return &Error{Op: "ConditionalPut", Err: err}
	}

	item, err := toAttributeMap(in.Item)
	if err != nil {
		return &Error{Op: "ConditionalPut", Err: err}
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(in.Table),
		Item:      item,
	}
	if in.Condition != nil {
		expr, err := expression.NewBuilder().WithCondition(toConditionBuilder(*in.Condition)).Build()
		if err != nil {
			return &Error{Op: "ConditionalPut", Err: err}
		}
		input.ConditionExpression = expr.Condition()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	_, err = g.client.PutItem(ctx, input)
	if err != nil {
		return translateError("ConditionalPut", err)
	}
	return nil
}

func (g *DynamoGateway) Query(ctx context.Context, in QueryRequest) (QueryResult, error) {
	if err := g.wait(ctx); err != nil {
		return QueryResult{}, &Error{Op: "Query", Err: err}
	}

	keyCond := expression.Key(in.PartitionKeyName).Equal(expression.Value(in.PartitionKeyValue))
	builder := expression.NewBuilder().WithKeyCondition(keyCond)
	if in.Filter != nil {
		builder = builder.WithFilter(toConditionBuilder(*in.Filter))
	}
	expr, err := builder.Build()
	if err != nil {
		return QueryResult{}, &Error{Op: "Query", Err: err}
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(in.Table),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(in.ConsistentRead),
	}
	if in.IndexName != "" {
		input.IndexName = aws.String(in.IndexName)
	}
	if in.Limit > 0 {
		input.Limit = aws.Int32(in.Limit)
	}
	if in.CountOnly {
		input.Select = types.SelectCount
	}

	out, err := g.client.Query(ctx, input)
	if err != nil {
		return QueryResult{}, translateError("Query", err)
	}

	result := QueryResult{Count: int(out.Count)}
	if !in.CountOnly {
		items := make([]Item, 0, len(out.Items))
		for _, raw := range out.Items {
			item, err := fromAttributeMap(raw)
			if err != nil {
				return QueryResult{}, &Error{Op: "Query", Err: err}
			}
			items = append(items, item)
		}
		result.Items = items
	}
	return result, nil
}

func (g *DynamoGateway) Delete(ctx context.Context, table string, key Item) error {
	if err := g.wait(ctx); err != nil {
		return &Error{Op: "Delete", Err: err}
	}

	avKey, err := toAttributeMap(key)
	if err != nil {
		return &Error{Op: "Delete", Err: err}
	}

	_, err = g.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(table),
		Key:       avKey,
	})
	if err != nil {
		return translateError("Delete", err)
	}
	return nil
}

func (g *DynamoGateway) BatchWrite(ctx context.Context, in BatchWriteRequest) error {
	if err := g.wait(ctx); err != nil {
		return &Error{Op: "BatchWrite", Err: err}
	}

	var requests []types.WriteRequest
	for _, item := range in.Puts {
		av, err := toAttributeMap(item)
		if err != nil {
			return &Error{Op: "BatchWrite", Err: err}
		}
		requests = append(requests, types.WriteRequest{
			PutRequest: &types.PutRequest{Item: av},
		})
	}
	for _, key := range in.Deletes {
		av, err := toAttributeMap(key)
		if err != nil {
			return &Error{Op: "BatchWrite", Err: err}
		}
		requests = append(requests, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: av},
		})
	}

	_, err := g.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{in.Table: requests},
	})
	if err != nil {
		return translateError("BatchWrite", err)
	}
	return nil
}

// toConditionBuilder translates a Condition tree into the equivalent
// expression.ConditionBuilder. Composition nodes (Or/And) take precedence
// over leaf fields, matching Condition's documented "one field set" usage.
func toConditionBuilder(c Condition) expression.ConditionBuilder {
	switch {
	case len(c.Or) > 0:
		result := toConditionBuilder(c.Or[0])
		for _, child := range c.Or[1:] {
			result = expression.Or(result, toConditionBuilder(child))
		}
		return result
	case len(c.And) > 0:
		result := toConditionBuilder(c.And[0])
		for _, child := range c.And[1:] {
			result = expression.And(result, toConditionBuilder(child))
		}
		return result
	case c.Exists != "":
		return expression.AttributeExists(expression.Name(c.Exists))
	case c.NotExists != "":
		return expression.AttributeNotExists(expression.Name(c.NotExists))
	case c.GreaterThan != "":
		return expression.Name(c.GreaterThan).GreaterThan(expression.Value(c.GreaterThanValue))
	case c.LessThan != "":
		return expression.Name(c.LessThan).LessThan(expression.Value(c.LessThanValue))
	default:
		// An empty Condition is unreachable through the public API (nil
		// Condition is used for "no precondition" instead), but fall back
		// to an always-true tautology rather than panicking.
		return expression.AttributeExists(expression.Name("resourceName")).Or(
			expression.AttributeNotExists(expression.Name("resourceName")))
	}
}

func toAttributeMap(item Item) (map[string]types.AttributeValue, error) {
	return attributevalue.MarshalMap(item)
}

func fromAttributeMap(av map[string]types.AttributeValue) (Item, error) {
	if av == nil {
		return nil, nil
	}
	var item Item
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return nil, err
	}
	return item, nil
}

func translateError(op string, err error) error {
	var condFailed *types.ConditionalCheckFailedException
	if errors.As(err, &condFailed) {
		return ErrPreconditionFailed
	}

	var throttled *types.ProvisionedThroughputExceededException
	if errors.As(err, &throttled) {
		return ErrThrottled
	}
	var requestLimitExceeded *types.RequestLimitExceeded
	if errors.As(err, &requestLimitExceeded) {
		return ErrThrottled
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ThrottlingException" {
		return ErrThrottled
	}

	return &Error{Op: op, Err: err}
}
