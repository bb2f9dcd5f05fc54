package aws

import (
	"fmt"
	"net/url"
	"strings"
)

type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	TopicArn        string // SNS
	QueueURL        string // SQS
	// EndpointURL overrides the service endpoint, e.g. for LocalStack
	EndpointURL string
}

func (c *Config) Validate() error {
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	if c.TopicArn == "" && c.QueueURL == "" {
		return fmt.Errorf("either an SNS topic ARN or an SQS queue URL is required")
	}
	if c.TopicArn != "" && c.QueueURL != "" {
		return fmt.Errorf("configure either an SNS topic ARN or an SQS queue URL, not both")
	}
	if c.TopicArn != "" && !strings.HasPrefix(c.TopicArn, "arn:") {
		return fmt.Errorf("invalid SNS topic ARN: %s", c.TopicArn)
	}
	if c.QueueURL != "" {
		if u, err := url.Parse(c.QueueURL); err != nil || u.Host == "" {
			return fmt.Errorf("invalid SQS queue URL: %s", c.QueueURL)
		}
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return fmt.Errorf("AWS access key ID and secret access key must be set together")
	}
	return nil
}

func (c *Config) GetType() string {
	if c.QueueURL != "" {
		return "sqs"
	}
	return "sns"
}

// Mode reports which service the config targets
func (c *Config) Mode() string {
	return c.GetType()
}
