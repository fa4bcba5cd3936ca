package messaging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"example.com/santekene/services/ledger/config"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
)

// Event names published to the service bus for downstream consumers
const (
	EventJobSucceeded   = "ledger.job.succeeded"
	EventJobDeadLetter  = "ledger.job.dead_letter"
	EventRewardSettled  = "ledger.reward.settled"
)

// ServiceBusClient is an interface for Azure Service Bus operations
type ServiceBusClient interface {
	PublishEvent(ctx context.Context, eventName string, body interface{}) error
	Close() error
}

// serviceBusClient implements the ServiceBusClient interface
type serviceBusClient struct {
	client *azservicebus.Client
	sender *azservicebus.Sender
	topic  string
}

// mockServiceBusClient is a mock implementation for local development
type mockServiceBusClient struct{}

// NewServiceBusClient creates a new Azure Service Bus client. Without a
// connection string a mock is returned so local runs need no bus.
func NewServiceBusClient(cfg config.ServiceBusConfig) (ServiceBusClient, error) {
	if cfg.ConnectionString == "" {
		return &mockServiceBusClient{}, nil
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus client: %w", err)
	}

	sender, err := client.NewSender(cfg.TopicName, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus sender: %w", err)
	}

	return &serviceBusClient{
		client: client,
		sender: sender,
		topic:  cfg.TopicName,
	}, nil
}

// generateSessionID generates a random session ID
func generateSessionID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// PublishEvent sends a named event to the Service Bus topic
func (s *serviceBusClient) PublishEvent(ctx context.Context, eventName string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal event body: %w", err)
	}

	sessionID := generateSessionID()
	msg := &azservicebus.Message{
		Body: data,
		ApplicationProperties: map[string]interface{}{
			"event": eventName,
			"time":  time.Now().UTC().Format(time.RFC3339),
		},
		SessionID: &sessionID,
	}

	return s.sender.SendMessage(ctx, msg, nil)
}

// Close closes the Service Bus client
func (s *serviceBusClient) Close() error {
	if s.sender != nil {
		if err := s.sender.Close(context.Background()); err != nil {
			return err
		}
	}
	if s.client != nil {
		return s.client.Close(context.Background())
	}
	return nil
}

// PublishEvent implementation for mock client
func (m *mockServiceBusClient) PublishEvent(ctx context.Context, eventName string, body interface{}) error {
	fmt.Printf("[MOCK ServiceBus] %s: %+v\n", eventName, body)
	return nil
}

// Close implementation for mock client
func (m *mockServiceBusClient) Close() error {
	return nil
}
