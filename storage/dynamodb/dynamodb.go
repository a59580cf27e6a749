// Package dynamodb implements a DynamoDB result storage backend.
package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/replyq/replyq/storage"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// item is the DynamoDB representation of a stored result.
type item struct {
	OperationID string `dynamodbav:"operation_id"`
	Artifact    []byte `dynamodbav:"artifact"`
	Kind        int    `dynamodbav:"kind"`
	UpdatedAt   int64  `dynamodbav:"updated_at"`
}

// DynamoDB is a result storage backend using a DynamoDB table.
// The table hash key is "operation_id" (string).
type DynamoDB struct {
	db     *dynamodb.Client
	table  string
	signer *storage.RefSigner
}

type config struct {
	region   string
	endpoint string
	client   *dynamodb.Client
	secret   []byte
}

// Option allows configuring a DynamoDB storage backend.
type Option func(*config)

// WithRegion sets the AWS region.
func WithRegion(region string) Option {
	return func(c *config) {
		c.region = region
	}
}

// WithEndpoint overrides the service endpoint (e.g. for DynamoDB Local).
func WithEndpoint(endpoint string) Option {
	return func(c *config) {
		c.endpoint = endpoint
	}
}

// WithClient sets a custom DynamoDB client.
func WithClient(client *dynamodb.Client) Option {
	return func(c *config) {
		c.client = client
	}
}

// WithRefSecret sets the secret used to sign scoped read references.
func WithRefSecret(secret []byte) Option {
	return func(c *config) {
		c.secret = secret
	}
}

// New creates and returns a new DynamoDB result storage backend for table.
func New(ctx context.Context, table string, opts ...Option) (*DynamoDB, error) {
	if table == "" {
		return nil, fmt.Errorf("table name is required")
	}
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.client == nil {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		cfg.client = dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.endpoint)
			}
		})
	}
	return &DynamoDB{
		db:     cfg.client,
		table:  table,
		signer: storage.NewRefSigner(cfg.secret),
	}, nil
}

// Exists reports whether an artifact has been written for id.
func (s *DynamoDB) Exists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, storage.ErrMissingID
	}
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"operation_id": &types.AttributeValueMemberS{Value: id},
		},
		ProjectionExpression: aws.String("operation_id"),
		// read-your-writes requires a strongly consistent read.
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, err
	}
	return out.Item != nil, nil
}

// Write persists the artifact under id. PutItem overwrites by key.
func (s *DynamoDB) Write(ctx context.Context, id string, artifact []byte, kind storage.Kind) error {
	if id == "" {
		return storage.ErrMissingID
	}
	av, err := attributevalue.MarshalMap(&item{
		OperationID: id,
		Artifact:    artifact,
		Kind:        int(kind),
		UpdatedAt:   time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal item for %s: %w", id, err)
	}
	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("writing result for %s: %w", id, err)
	}
	return nil
}

// Read returns the artifact and its kind for id.
func (s *DynamoDB) Read(ctx context.Context, id string) ([]byte, storage.Kind, error) {
	if id == "" {
		return nil, 0, storage.ErrMissingID
	}
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"operation_id": &types.AttributeValueMemberS{Value: id},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, 0, err
	}
	if out.Item == nil {
		return nil, 0, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	var it item
	if err = attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, 0, fmt.Errorf("unmarshal item for %s: %w", id, err)
	}
	kind := storage.Kind(it.Kind)
	if kind != storage.Success && kind != storage.Failure {
		return nil, 0, fmt.Errorf("%w: %s", storage.ErrInvalidKind, id)
	}
	return it.Artifact, kind, nil
}

// ScopedReadReference issues a signed expiring read reference for id.
func (s *DynamoDB) ScopedReadReference(ctx context.Context, id string, ttl time.Duration) (string, error) {
	found, err := s.Exists(ctx, id)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return s.signer.Issue(id, ttl), nil
}

// ReadScoped verifies ref and reads the artifact it grants access to.
func (s *DynamoDB) ReadScoped(ctx context.Context, ref string) ([]byte, storage.Kind, error) {
	id, err := s.signer.Verify(ref)
	if err != nil {
		return nil, 0, err
	}
	return s.Read(ctx, id)
}
