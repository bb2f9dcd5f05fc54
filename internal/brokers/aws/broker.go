// Package aws publishes connection events to an SNS topic or an SQS queue.
// Static credentials are used when configured, otherwise the default AWS
// credential chain applies.
package aws

import (
	"context"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"melody-map/internal/brokers"
	"melody-map/internal/common/errors"
)

// SNSAPI is the subset of *sns.Client the broker uses
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	GetTopicAttributes(ctx context.Context, params *sns.GetTopicAttributesInput, optFns ...func(*sns.Options)) (*sns.GetTopicAttributesOutput, error)
}

// SQSAPI is the subset of *sqs.Client the broker uses
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

type Broker struct {
	config *Config
	sns    SNSAPI
	sqs    SQSAPI
}

// NewBroker loads the AWS config and creates the client for the configured mode
func NewBroker(ctx context.Context, config *Config) (*Broker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(config.Region)}
	if config.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, config.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.ConnectionError("failed to load AWS config", err)
	}

	b := &Broker{config: config}
	if config.Mode() == "sqs" {
		b.sqs = sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if config.EndpointURL != "" {
				o.BaseEndpoint = aws.String(config.EndpointURL)
			}
		})
	} else {
		b.sns = sns.NewFromConfig(awsCfg, func(o *sns.Options) {
			if config.EndpointURL != "" {
				o.BaseEndpoint = aws.String(config.EndpointURL)
			}
		})
	}
	return b, nil
}

// NewBrokerWithClients wraps existing clients. Only the one matching the mode is used.
func NewBrokerWithClients(config *Config, snsClient SNSAPI, sqsClient SQSAPI) (*Broker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Broker{config: config, sns: snsClient, sqs: sqsClient}, nil
}

func (b *Broker) Name() string {
	return b.config.Mode()
}

func (b *Broker) Publish(ctx context.Context, channel string, payload interface{}) error {
	msg, err := brokers.NewMessage(channel, payload)
	if err != nil {
		return err
	}
	if b.config.Mode() == "sqs" {
		return b.publishToSQS(ctx, msg)
	}
	return b.publishToSNS(ctx, msg)
}

func (b *Broker) publishToSNS(ctx context.Context, msg *brokers.Message) error {
	attributes := make(map[string]snstypes.MessageAttributeValue, len(msg.Headers)+1)
	for k, v := range msg.Headers {
		attributes[k] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}
	attributes["timestamp"] = snstypes.MessageAttributeValue{
		DataType:    aws.String("Number"),
		StringValue: aws.String(strconv.FormatInt(msg.Timestamp.UnixNano(), 10)),
	}

	input := &sns.PublishInput{
		TopicArn:          aws.String(b.config.TopicArn),
		Message:           aws.String(string(msg.Body)),
		MessageAttributes: attributes,
	}
	if msg.Key != "" && isFIFO(b.config.TopicArn) {
		input.MessageGroupId = aws.String(msg.Key)
		input.MessageDeduplicationId = aws.String(msg.ID)
	}

	if _, err := b.sns.Publish(ctx, input); err != nil {
		return errors.ConnectionError("failed to publish message to SNS", err)
	}
	return nil
}

func (b *Broker) publishToSQS(ctx context.Context, msg *brokers.Message) error {
	attributes := make(map[string]sqstypes.MessageAttributeValue, len(msg.Headers)+1)
	for k, v := range msg.Headers {
		attributes[k] = sqstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}
	attributes["timestamp"] = sqstypes.MessageAttributeValue{
		DataType:    aws.String("Number"),
		StringValue: aws.String(strconv.FormatInt(msg.Timestamp.UnixNano(), 10)),
	}

	input := &sqs.SendMessageInput{
		QueueUrl:          aws.String(b.config.QueueURL),
		MessageBody:       aws.String(string(msg.Body)),
		MessageAttributes: attributes,
	}
	if msg.Key != "" && isFIFO(b.config.QueueURL) {
		input.MessageGroupId = aws.String(msg.Key)
		input.MessageDeduplicationId = aws.String(msg.ID)
	}

	if _, err := b.sqs.SendMessage(ctx, input); err != nil {
		return errors.ConnectionError("failed to send message to SQS", err)
	}
	return nil
}

func isFIFO(destination string) bool {
	return strings.HasSuffix(destination, ".fifo")
}

func (b *Broker) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), brokers.HealthTimeout)
	defer cancel()

	if b.config.Mode() == "sqs" {
		_, err := b.sqs.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
			QueueUrl:       aws.String(b.config.QueueURL),
			AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameQueueArn},
		})
		if err != nil {
			return errors.ConnectionError("SQS queue is unreachable", err)
		}
		return nil
	}

	_, err := b.sns.GetTopicAttributes(ctx, &sns.GetTopicAttributesInput{TopicArn: aws.String(b.config.TopicArn)})
	if err != nil {
		return errors.ConnectionError("SNS topic is unreachable", err)
	}
	return nil
}

func (b *Broker) Close() error {
	return nil
}

var _ brokers.Broker = (*Broker)(nil)
