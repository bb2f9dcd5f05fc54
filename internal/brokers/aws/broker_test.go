package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSNS struct {
	mock.Mock
}

func (m *mockSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*sns.PublishOutput)
	return out, args.Error(1)
}

func (m *mockSNS) GetTopicAttributes(ctx context.Context, params *sns.GetTopicAttributesInput, optFns ...func(*sns.Options)) (*sns.GetTopicAttributesOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*sns.GetTopicAttributesOutput)
	return out, args.Error(1)
}

type mockSQS struct {
	mock.Mock
}

func (m *mockSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*sqs.SendMessageOutput)
	return out, args.Error(1)
}

func (m *mockSQS) GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*sqs.GetQueueAttributesOutput)
	return out, args.Error(1)
}

type userEvent struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

func (e userEvent) EventType() string   { return e.Type }
func (e userEvent) OrderingKey() string { return e.UserID }

const (
	topicArn = "arn:aws:sns:us-east-1:123456789012:melody-map-events"
	queueURL = "https://sqs.us-east-1.amazonaws.com/123456789012/melody-map-events"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		wantErr  bool
		wantType string
	}{
		{"sns", Config{TopicArn: topicArn}, false, "sns"},
		{"sqs", Config{QueueURL: queueURL}, false, "sqs"},
		{"neither", Config{}, true, ""},
		{"both", Config{TopicArn: topicArn, QueueURL: queueURL}, true, ""},
		{"bad arn", Config{TopicArn: "melody-map-events"}, true, ""},
		{"bad queue url", Config{QueueURL: "not a url"}, true, ""},
		{"half credentials", Config{TopicArn: topicArn, AccessKeyID: "AKIA"}, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "us-east-1", cfg.Region)
			assert.Equal(t, tt.wantType, cfg.GetType())
		})
	}
}

func TestBroker_PublishSNS(t *testing.T) {
	snsClient := &mockSNS{}
	snsClient.On("Publish", mock.Anything, mock.MatchedBy(func(in *sns.PublishInput) bool {
		return aws.ToString(in.TopicArn) == topicArn &&
			aws.ToString(in.MessageAttributes["type"].StringValue) == "connection.deactivated" &&
			aws.ToString(in.MessageAttributes["channel"].StringValue) == "melody-map:connections" &&
			in.MessageGroupId == nil
	})).Return(&sns.PublishOutput{MessageId: aws.String("m-1")}, nil)

	b, err := NewBrokerWithClients(&Config{TopicArn: topicArn}, snsClient, nil)
	require.NoError(t, err)
	assert.Equal(t, "sns", b.Name())

	err = b.Publish(context.Background(), "melody-map:connections", userEvent{Type: "connection.deactivated", UserID: "u1"})
	require.NoError(t, err)
	snsClient.AssertExpectations(t)
}

func TestBroker_PublishSQSFifo(t *testing.T) {
	fifoURL := queueURL + ".fifo"
	sqsClient := &mockSQS{}
	sqsClient.On("SendMessage", mock.Anything, mock.MatchedBy(func(in *sqs.SendMessageInput) bool {
		return aws.ToString(in.QueueUrl) == fifoURL &&
			aws.ToString(in.MessageGroupId) == "u1" &&
			aws.ToString(in.MessageDeduplicationId) != "" &&
			aws.ToString(in.MessageBody) == `{"type":"connection.linked","user_id":"u1"}`
	})).Return(&sqs.SendMessageOutput{MessageId: aws.String("m-2")}, nil)

	b, err := NewBrokerWithClients(&Config{QueueURL: fifoURL}, nil, sqsClient)
	require.NoError(t, err)
	assert.Equal(t, "sqs", b.Name())

	require.NoError(t, b.Publish(context.Background(), "melody-map:connections", userEvent{Type: "connection.linked", UserID: "u1"}))
	sqsClient.AssertExpectations(t)
}

func TestBroker_PublishError(t *testing.T) {
	sqsClient := &mockSQS{}
	sqsClient.On("SendMessage", mock.Anything, mock.Anything).Return(nil, errors.New("access denied"))

	b, err := NewBrokerWithClients(&Config{QueueURL: queueURL}, nil, sqsClient)
	require.NoError(t, err)

	err = b.Publish(context.Background(), "c", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SQS")
}

func TestBroker_Health(t *testing.T) {
	t.Run("sns", func(t *testing.T) {
		snsClient := &mockSNS{}
		snsClient.On("GetTopicAttributes", mock.Anything, mock.Anything).
			Return(&sns.GetTopicAttributesOutput{}, nil).Once()
		snsClient.On("GetTopicAttributes", mock.Anything, mock.Anything).
			Return(nil, errors.New("not found")).Once()

		b, err := NewBrokerWithClients(&Config{TopicArn: topicArn}, snsClient, nil)
		require.NoError(t, err)
		assert.NoError(t, b.Health())
		assert.Error(t, b.Health())
	})

	t.Run("sqs", func(t *testing.T) {
		sqsClient := &mockSQS{}
		sqsClient.On("GetQueueAttributes", mock.Anything, mock.Anything).
			Return(&sqs.GetQueueAttributesOutput{}, nil)

		b, err := NewBrokerWithClients(&Config{QueueURL: queueURL}, nil, sqsClient)
		require.NoError(t, err)
		assert.NoError(t, b.Health())
		assert.NoError(t, b.Close())
	})
}

func TestNewBroker_StaticCredentials(t *testing.T) {
	b, err := NewBroker(context.Background(), &Config{
		QueueURL:        queueURL,
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "secret",
		EndpointURL:     "http://localhost:4566",
	})
	require.NoError(t, err)
	assert.NotNil(t, b.sqs)
	assert.Nil(t, b.sns)
}
