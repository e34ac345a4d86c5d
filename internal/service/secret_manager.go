package service

import (
	"context"
	"fmt"

	"gatekeeper/internal/config"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/rs/zerolog"
)

// Secret names holding Stripe credentials.
const (
	SecretStripeKey           = "stripe-secret-key"
	SecretStripeWebhookSecret = "stripe-webhook-secret"
)

type SecretManagerService interface {
	GetSecret(ctx context.Context, name string) (string, error)
	// PutSecret creates the secret if needed and adds value as its latest version.
	PutSecret(ctx context.Context, name, value string) error
	Close() error
}

type secretManagerService struct {
	client    *secretmanager.Client
	projectID string
}

func NewSecretManagerService(ctx context.Context, cfg *config.Config) (SecretManagerService, error) {
	projectID := cfg.SecretManagerProject
	if projectID == "" {
		projectID = cfg.GetGCPProjectID()
	}
	if projectID == "" {
		return nil, fmt.Errorf("secret manager project is not set")
	}

	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}

	return &secretManagerService{
		client:    client,
		projectID: projectID,
	}, nil
}

func (s *secretManagerService) GetSecret(ctx context.Context, name string) (string, error) {
	req := &secretmanagerpb.AccessSecretVersionRequest{
		Name: fmt.Sprintf("projects/%s/secrets/%s/versions/latest", s.projectID, name),
	}
	result, err := s.client.AccessSecretVersion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to access secret %s: %w", name, err)
	}
	return string(result.Payload.Data), nil
}

func (s *secretManagerService) PutSecret(ctx context.Context, name, value string) error {
	secretPath := fmt.Sprintf("projects/%s/secrets/%s", s.projectID, name)

	if _, err := s.client.GetSecret(ctx, &secretmanagerpb.GetSecretRequest{Name: secretPath}); err != nil {
		createReq := &secretmanagerpb.CreateSecretRequest{
			Parent:   fmt.Sprintf("projects/%s", s.projectID),
			SecretId: name,
			Secret: &secretmanagerpb.Secret{
				Replication: &secretmanagerpb.Replication{
					Replication: &secretmanagerpb.Replication_Automatic_{
						Automatic: &secretmanagerpb.Replication_Automatic{},
					},
				},
			},
		}
		if _, err := s.client.CreateSecret(ctx, createReq); err != nil {
			return fmt.Errorf("failed to create secret: %w", err)
		}
	}

	addVersionReq := &secretmanagerpb.AddSecretVersionRequest{
		Parent:  secretPath,
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}
	if _, err := s.client.AddSecretVersion(ctx, addVersionReq); err != nil {
		return fmt.Errorf("failed to add secret version: %w", err)
	}
	return nil
}

func (s *secretManagerService) Close() error {
	return s.client.Close()
}

// ResolveStripeSecrets fills empty Stripe credentials in cfg from the secret store.
func ResolveStripeSecrets(ctx context.Context, cfg *config.Config, secrets SecretManagerService, logger zerolog.Logger) error {
	targets := []struct {
		name string
		dst  *string
	}{
		{SecretStripeKey, &cfg.StripeSecretKey},
		{SecretStripeWebhookSecret, &cfg.StripeWebhookSecret},
	}
	for _, t := range targets {
		if *t.dst != "" {
			continue
		}
		v, err := secrets.GetSecret(ctx, t.name)
		if err != nil {
			return err
		}
		*t.dst = v
		logger.Info().Str("secret", t.name).Msg("Loaded secret from Secret Manager")
	}
	return nil
}
