package gcp

import (
	"fmt"
	"regexp"
)

var topicIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9\-_.~+%]{2,254}$`)

type Config struct {
	ProjectID       string
	TopicID         string
	CredentialsPath string
	// CreateTopic creates the topic when it does not exist
	CreateTopic           bool
	EnableMessageOrdering bool
}

func (c *Config) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("GCP project ID is required")
	}
	if c.TopicID == "" {
		return fmt.Errorf("Pub/Sub topic ID is required")
	}
	if !topicIDPattern.MatchString(c.TopicID) {
		return fmt.Errorf("invalid Pub/Sub topic ID: %s", c.TopicID)
	}
	return nil
}

func (c *Config) GetType() string {
	return "pubsub"
}
