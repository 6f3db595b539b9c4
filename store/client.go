package store

import (
	"context"
	"os"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"golang.org/x/time/rate"
)

// NewDefaultDynamoGateway builds a DynamoGateway from the process's default
// AWS credential chain and region resolution. Client-side pacing is
// enabled when STORE_MAX_RPS is set to a positive number in the
// environment; it is a courtesy against self-inflicted throttling, never a
// source of domain-level CapacityExhausted. The SDK's own retryer is
// disabled so that no request is retried inside the gateway.
func NewDefaultDynamoGateway(ctx context.Context) (*DynamoGateway, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, &Error{Op: "NewDefaultDynamoGateway", Err: err}
	}

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		o.Retryer = aws.NopRetryer{}
	})

	var limiter *rate.Limiter
	if raw := os.Getenv("STORE_MAX_RPS"); raw != "" {
		if rps, err := strconv.ParseFloat(raw, 64); err == nil && rps > 0 {
			limiter = rate.NewLimiter(rate.Limit(rps), int(rps))
		}
	}

	return NewDynamoGateway(client, limiter), nil
}
