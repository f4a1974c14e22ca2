package webhooks

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// SNSAPI is the subset of *sns.Client the publisher uses.
type SNSAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, opts ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSConfig locates the topic that receives status change events.
type SNSConfig struct {
	TopicARN  string
	Region    string
	Endpoint  string // set for LocalStack
	AccessKey string
	SecretKey string
}

// NewSNSClient builds an SNS client. A non-empty Endpoint overrides the
// service endpoint.
func NewSNSClient(ctx context.Context, cfg SNSConfig) (*sns.Client, error) {
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

	var clientOpts []func(*sns.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *sns.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	return sns.NewFromConfig(awsCfg, clientOpts...), nil
}

// SNSPublisher publishes each event as one SNS message. The event type is
// also set as the "event_type" message attribute so subscriptions can
// filter on it.
type SNSPublisher struct {
	client    SNSAPI
	topicARN  string
	timeout   time.Duration
	onMetrics MetricsRecorder
	wg        sync.WaitGroup
	logger    *zap.Logger
}

// NewSNSPublisher creates an SNSPublisher for topicARN.
func NewSNSPublisher(client SNSAPI, topicARN string, logger *zap.Logger) *SNSPublisher {
	return &SNSPublisher{client: client, topicARN: topicARN, timeout: 10 * time.Second, logger: logger}
}

// SetMetricsRecorder configures the metrics callback.
func (p *SNSPublisher) SetMetricsRecorder(fn MetricsRecorder) {
	p.onMetrics = fn
}

// Dispatch publishes the event in the background.
func (p *SNSPublisher) Dispatch(eventType string, payload map[string]string) {
	event := Event{
		ID:        ulid.MustNew(ulid.Now(), rand.Reader).String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("sns: marshal event", zap.Error(err))
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		_, err := p.client.Publish(ctx, &sns.PublishInput{
			TopicArn: aws.String(p.topicARN),
			Message:  aws.String(string(body)),
			MessageAttributes: map[string]types.MessageAttributeValue{
				"event_type": {DataType: aws.String("String"), StringValue: aws.String(eventType)},
			},
		})
		if p.onMetrics != nil {
			p.onMetrics(err == nil)
		}
		if err != nil {
			p.logger.Warn("sns: publish failed",
				zap.String("topic", p.topicARN),
				zap.String("event", eventType),
				zap.Error(err),
			)
		}
	}()
}

// Close waits for in-flight publishes or for ctx to end.
func (p *SNSPublisher) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
