package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jmerrifield20/senderauth/internal/domainauth/model"
)

// IDIndex is the global secondary index on "id" used by Get.
const IDIndex = "id-index"

// DynamoAPI is the subset of *dynamodb.Client the repository uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoConfig locates the DynamoDB table.
type DynamoConfig struct {
	Table     string
	Region    string
	Endpoint  string // set for LocalStack / dynamodb-local
	AccessKey string
	SecretKey string
}

// NewDynamoClient builds a DynamoDB client. A non-empty Endpoint overrides
// the service endpoint so all traffic goes to a local instance.
func NewDynamoClient(ctx context.Context, cfg DynamoConfig) (*dynamodb.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var clientOpts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	return dynamodb.NewFromConfig(awsCfg, clientOpts...), nil
}

// DynamoRepository stores DomainAuth items keyed by (account_id, domain).
type DynamoRepository struct {
	client DynamoAPI
	table  string
}

// NewDynamoRepository creates a DynamoRepository.
func NewDynamoRepository(client DynamoAPI, table string) *DynamoRepository {
	return &DynamoRepository{client: client, table: table}
}

// item is the stored attribute layout. Times are RFC 3339 strings.
type item struct {
	AccountID       string              `dynamodbav:"account_id"`
	Domain          string              `dynamodbav:"domain"`
	ID              string              `dynamodbav:"id"`
	Status          string              `dynamodbav:"status"`
	VerifyingEmail  string              `dynamodbav:"verifying_email"`
	KnownMailboxes  []string            `dynamodbav:"known_mailboxes"`
	OTPHash         string              `dynamodbav:"otp_hash,omitempty"`
	OTPExpiresAt    string              `dynamodbav:"otp_expires_at,omitempty"`
	OTPAttempts     int                 `dynamodbav:"otp_attempts,omitempty"`
	Provider        *model.ProviderMeta `dynamodbav:"provider,omitempty"`
	RecheckAttempts int                 `dynamodbav:"recheck_attempts"`
	AuthStartedAt   string              `dynamodbav:"auth_started_at,omitempty"`
	LastCheckedAt   string              `dynamodbav:"last_checked_at,omitempty"`
	Version         int64               `dynamodbav:"version"`
	CreatedAt       string              `dynamodbav:"created_at"`
	UpdatedAt       string              `dynamodbav:"updated_at"`
}

func toItem(d *model.DomainAuth) item {
	return item{
		AccountID:       d.AccountID,
		Domain:          d.Domain,
		ID:              d.ID.String(),
		Status:          string(d.Status),
		VerifyingEmail:  d.VerifyingEmail,
		KnownMailboxes:  d.KnownMailboxes,
		OTPHash:         d.OTPHash,
		OTPExpiresAt:    formatTime(d.OTPExpiresAt),
		OTPAttempts:     d.OTPAttempts,
		Provider:        d.Provider,
		RecheckAttempts: d.RecheckAttempts,
		AuthStartedAt:   formatTime(d.AuthStartedAt),
		LastCheckedAt:   formatTime(d.LastCheckedAt),
		Version:         d.Version,
		CreatedAt:       d.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:       d.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (it item) toModel() (*model.DomainAuth, error) {
	id, err := uuid.Parse(it.ID)
	if err != nil {
		return nil, fmt.Errorf("decode id: %w", err)
	}
	d := &model.DomainAuth{
		ID:              id,
		AccountID:       it.AccountID,
		Domain:          it.Domain,
		Status:          model.Status(it.Status),
		VerifyingEmail:  it.VerifyingEmail,
		KnownMailboxes:  it.KnownMailboxes,
		OTPHash:         it.OTPHash,
		OTPAttempts:     it.OTPAttempts,
		Provider:        it.Provider,
		RecheckAttempts: it.RecheckAttempts,
		Version:         it.Version,
	}
	if d.OTPExpiresAt, err = parseTime(it.OTPExpiresAt); err != nil {
		return nil, err
	}
	if d.AuthStartedAt, err = parseTime(it.AuthStartedAt); err != nil {
		return nil, err
	}
	if d.LastCheckedAt, err = parseTime(it.LastCheckedAt); err != nil {
		return nil, err
	}
	created, err := parseTime(it.CreatedAt)
	if err != nil || created == nil {
		return nil, fmt.Errorf("decode created_at %q: %v", it.CreatedAt, err)
	}
	d.CreatedAt = *created
	if updated, err := parseTime(it.UpdatedAt); err == nil && updated != nil {
		d.UpdatedAt = *updated
	}
	return d, nil
}

// Create puts d only if no item exists for (account, domain).
func (r *DynamoRepository) Create(ctx context.Context, d *model.DomainAuth) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	d.Version = 1

	av, err := attributevalue.MarshalMap(toItem(d))
	if err != nil {
		return fmt.Errorf("marshal domain auth: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(account_id)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("put domain auth: %w", err)
	}
	return nil
}

// Get resolves id through IDIndex and checks ownership.
func (r *DynamoRepository) Get(ctx context.Context, accountID string, id uuid.UUID) (*model.DomainAuth, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.table),
		IndexName:                 aws.String(IDIndex),
		KeyConditionExpression:    aws.String("#id = :id"),
		ExpressionAttributeNames:  map[string]string{"#id": "id"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":id": &types.AttributeValueMemberS{Value: id.String()}},
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query domain auth by id: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, ErrNotFound
	}
	d, err := decodeItem(out.Items[0])
	if err != nil {
		return nil, err
	}
	if d.AccountID != accountID {
		return nil, ErrNotFound
	}
	// Index reads are eventually consistent; re-read the base item so the
	// returned Version is current.
	return r.GetByDomain(ctx, d.AccountID, d.Domain)
}

// GetByDomain reads the item at (accountID, domain).
func (r *DynamoRepository) GetByDomain(ctx context.Context, accountID, domain string) (*model.DomainAuth, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            compositeKey("account_id", accountID, "domain", domain),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get domain auth: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	return decodeItem(out.Item)
}

// List queries the account partition and orders newest first.
func (r *DynamoRepository) List(ctx context.Context, accountID string) ([]*model.DomainAuth, error) {
	var (
		out   []*model.DomainAuth
		start map[string]types.AttributeValue
	)
	for {
		page, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(r.table),
			KeyConditionExpression:    aws.String("account_id = :a"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":a": &types.AttributeValueMemberS{Value: accountID}},
			ExclusiveStartKey:         start,
		})
		if err != nil {
			return nil, fmt.Errorf("list domain auth: %w", err)
		}
		for _, av := range page.Items {
			d, err := decodeItem(av)
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		start = page.LastEvaluatedKey
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Domain < out[j].Domain
	})
	return out, nil
}

// Update replaces the item if its stored version equals d.Version.
func (r *DynamoRepository) Update(ctx context.Context, d *model.DomainAuth) error {
	next := d.Clone()
	next.Version = d.Version + 1
	next.UpdatedAt = time.Now().UTC()

	av, err := attributevalue.MarshalMap(toItem(next))
	if err != nil {
		return fmt.Errorf("marshal domain auth: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(r.table),
		Item:                      av,
		ConditionExpression:       aws.String("attribute_exists(account_id) AND #id = :id AND #v = :v"),
		ExpressionAttributeNames:  map[string]string{"#id": "id", "#v": "version"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: d.ID.String()},
			":v":  &types.AttributeValueMemberN{Value: strconv.FormatInt(d.Version, 10)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			if _, getErr := r.GetByDomain(ctx, d.AccountID, d.Domain); errors.Is(getErr, ErrNotFound) {
				return ErrNotFound
			}
			return ErrVersionConflict
		}
		return fmt.Errorf("update domain auth: %w", err)
	}
	d.Version = next.Version
	d.UpdatedAt = next.UpdatedAt
	return nil
}

// Delete removes the item for id if accountID owns it.
func (r *DynamoRepository) Delete(ctx context.Context, accountID string, id uuid.UUID) error {
	d, err := r.Get(ctx, accountID, id)
	if err != nil {
		return err
	}
	_, err = r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(r.table),
		Key:                       compositeKey("account_id", d.AccountID, "domain", d.Domain),
		ConditionExpression:       aws.String("#id = :id"),
		ExpressionAttributeNames:  map[string]string{"#id": "id"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":id": &types.AttributeValueMemberS{Value: id.String()}},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrNotFound
		}
		return fmt.Errorf("delete domain auth: %w", err)
	}
	return nil
}

func decodeItem(av map[string]types.AttributeValue) (*model.DomainAuth, error) {
	var it item
	if err := attributevalue.UnmarshalMap(av, &it); err != nil {
		return nil, fmt.Errorf("unmarshal domain auth: %w", err)
	}
	return it.toModel()
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// compositeKey builds a primary key with two string attributes (PK + SK).
func compositeKey(pkName, pkValue, skName, skValue string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		pkName: &types.AttributeValueMemberS{Value: pkValue},
		skName: &types.AttributeValueMemberS{Value: skValue},
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, fmt.Errorf("decode time %q: %w", s, err)
	}
	return &t, nil
}
