// Package dynamo stores cache payloads in a DynamoDB table.
//
// Table schema:
//   - Partition key: pk (string) - the cache key
//   - payload (binary) - the framed entry
//   - expires_at (number, unix seconds) - optional, enable DynamoDB TTL on it
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name poscache \
//	  --attribute-definitions AttributeName=pk,AttributeType=S \
//	  --key-schema AttributeName=pk,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
package dynamo

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	pr "github.com/unkn0wn-root/poscache/provider"
)

const (
	attrKey     = "pk"
	attrPayload = "payload"
	attrExpires = "expires_at"
)

var (
	ErrNilClient  = errors.New("dynamo provider: nil client")
	ErrNoTable    = errors.New("dynamo provider: table name required")
	errBadPayload = errors.New("dynamo provider: payload attribute missing or not binary")
)

// Client is the subset of *dynamodb.Client the provider uses.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

type Config struct {
	Client Client
	Table  string
	Now    func() time.Time
}

type Provider struct {
	c     Client
	table string
	now   func() time.Time
}

var (
	_ pr.Provider      = (*Provider)(nil)
	_ pr.PrefixDeleter = (*Provider)(nil)
)

func New(cfg Config) (*Provider, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	if cfg.Table == "" {
		return nil, ErrNoTable
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Provider{c: cfg.Client, table: cfg.Table, now: now}, nil
}

func keyOf(k string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{attrKey: &types.AttributeValueMemberS{Value: k}}
}

// Get reads with strong consistency. Items past expires_at are treated as
// misses because DynamoDB deletes expired items lazily.
func (p *Provider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := p.c.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(p.table),
		Key:            keyOf(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, err
	}
	if len(out.Item) == 0 {
		return nil, false, nil
	}
	if exp, ok := out.Item[attrExpires].(*types.AttributeValueMemberN); ok {
		sec, err := strconv.ParseInt(exp.Value, 10, 64)
		if err == nil && p.now().Unix() >= sec {
			return nil, false, nil
		}
	}
	b, ok := out.Item[attrPayload].(*types.AttributeValueMemberB)
	if !ok {
		return nil, false, errBadPayload
	}
	return b.Value, true, nil
}

func (p *Provider) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	item := keyOf(key)
	item[attrPayload] = &types.AttributeValueMemberB{Value: value}
	if ttl > 0 {
		exp := p.now().Add(ttl)
		sec := exp.Unix()
		if exp.Nanosecond() > 0 {
			sec++
		}
		item[attrExpires] = &types.AttributeValueMemberN{Value: strconv.FormatInt(sec, 10)}
	}
	_, err := p.c.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(p.table),
		Item:      item,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) Del(ctx context.Context, key string) error {
	_, err := p.c.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(p.table),
		Key:       keyOf(key),
	})
	return err
}

// DeletePrefix scans for keys beginning with prefix and deletes them one by
// one. Cost grows with table size; use it for administrative invalidation.
func (p *Provider) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	var (
		start map[string]types.AttributeValue
		n     int
	)
	for {
		out, err := p.c.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(p.table),
			ProjectionExpression: aws.String(attrKey),
			FilterExpression:     aws.String("begins_with(pk, :p)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":p": &types.AttributeValueMemberS{Value: prefix},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return n, err
		}
		for _, it := range out.Items {
			k, ok := it[attrKey].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			if err := p.Del(ctx, k.Value); err != nil {
				return n, err
			}
			n++
		}
		if len(out.LastEvaluatedKey) == 0 {
			return n, nil
		}
		start = out.LastEvaluatedKey
	}
}

func (p *Provider) Close(context.Context) error { return nil }
