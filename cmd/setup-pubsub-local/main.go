package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"gatekeeper/internal/config"
	"gatekeeper/internal/logger"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

func main() {
	reset := flag.Bool("reset", false, "delete every topic and subscription on the emulator first")
	flag.Parse()

	// Load environment variables early for local development
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, relying on system environment variables.")
	}

	cfg, err := config.Load()
	if err != nil {
		l := logger.New("development", "info")
		l.Fatal().Msgf("Failed to load config: %v", err)
	}
	logger := logger.New("development", cfg.LogLevel)
	logger.Info().Msg("Starting Pub/Sub setup for the local environment.")

	if cfg.PubSubEmulatorHost == "" {
		logger.Fatal().Msg("PUBSUB_EMULATOR_HOST must be set for local environment.")
	}
	projectID := cfg.GetGCPProjectID()

	clientOptions := []option.ClientOption{
		option.WithEndpoint(cfg.PubSubEmulatorHost),
		option.WithoutAuthentication(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, projectID, clientOptions...)
	if err != nil {
		logger.Fatal().Msgf("Failed to create Pub/Sub client: %v", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Error().Msgf("Failed to close pubsub client: %v", err)
		}
	}()

	if *reset {
		resetLocalEmulator(ctx, client, logger)
	}
	for _, r := range plan(cfg) {
		ensure(ctx, client, logger, r)
	}

	logger.Info().Msg("Pub/Sub setup for local environment complete.")
}

// resource is one topic plus an optional push subscription on it.
type resource struct {
	topic string
	sub   *pubsub.SubscriptionConfig
	subID string
}

// plan lists the topics the gateway publishes to and the push subscriptions
// that deliver lifecycle events back to it.
func plan(cfg *config.Config) []resource {
	base := strings.TrimSuffix(cfg.PushEndpointBaseURL, "/")
	retry := &pubsub.RetryPolicy{MinimumBackoff: 10 * time.Second, MaximumBackoff: 600 * time.Second}
	dlqTopic := cfg.LifecycleTopic + "-dlq"

	return []resource{
		// Consumed by other services; no subscription is created here.
		{topic: cfg.EntitlementsTopic},
		{
			topic: dlqTopic,
			subID: dlqTopic + "-sub",
			sub: &pubsub.SubscriptionConfig{
				PushConfig:       pubsub.PushConfig{Endpoint: base + "/v1/events/dead-letter"},
				AckDeadline:      60 * time.Second,
				ExpirationPolicy: 31 * 24 * time.Hour,
				RetryPolicy:      retry,
			},
		},
		{
			topic: cfg.LifecycleTopic,
			subID: cfg.LifecycleTopic + "-sub",
			sub: &pubsub.SubscriptionConfig{
				PushConfig:       pubsub.PushConfig{Endpoint: base + "/v1/events/lifecycle"},
				AckDeadline:      60 * time.Second,
				ExpirationPolicy: 31 * 24 * time.Hour,
				RetryPolicy:      retry,
				DeadLetterPolicy: &pubsub.DeadLetterPolicy{
					MaxDeliveryAttempts: cfg.LifecycleMaxRetries,
				},
			},
		},
	}
}

func ensure(ctx context.Context, client *pubsub.Client, logger zerolog.Logger, r resource) {
	topic := createTopicIfNotExists(ctx, client, logger, r.topic, 7*24*time.Hour)
	if r.sub == nil {
		return
	}
	r.sub.Topic = topic
	if r.sub.DeadLetterPolicy != nil {
		r.sub.DeadLetterPolicy.DeadLetterTopic = client.Topic(r.topic + "-dlq").String()
		// The emulator and the API reject fewer than 5 attempts.
		if r.sub.DeadLetterPolicy.MaxDeliveryAttempts < 5 {
			r.sub.DeadLetterPolicy.MaxDeliveryAttempts = 5
		}
	}
	createOrUpdateSubscription(ctx, client, logger, r.subID, *r.sub)
}

// resetLocalEmulator deletes all topics and subscriptions. Only for the emulator.
func resetLocalEmulator(ctx context.Context, client *pubsub.Client, logger zerolog.Logger) {
	logger.Info().Msg("--- Deleting all existing resources for a clean local setup ---")

	subs := client.Subscriptions(ctx)
	for {
		sub, err := subs.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			logger.Fatal().Msgf("Failed to list subscriptions: %v", err)
		}
		logger.Info().Msgf("Deleting subscription: %s", sub.ID())
		if err := sub.Delete(ctx); err != nil {
			logger.Warn().Msgf("Failed to delete subscription %s: %v", sub.ID(), err)
		}
	}

	topics := client.Topics(ctx)
	for {
		topic, err := topics.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			logger.Fatal().Msgf("Failed to list topics: %v", err)
		}
		logger.Info().Msgf("Deleting topic: %s", topic.ID())
		if err := topic.Delete(ctx); err != nil {
			logger.Warn().Msgf("Failed to delete topic %s: %v", topic.ID(), err)
		}
	}
}

func createTopicIfNotExists(ctx context.Context, client *pubsub.Client, logger zerolog.Logger, topicID string, retention time.Duration) *pubsub.Topic {
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		logger.Fatal().Msgf("Failed to check if topic %s exists: %v", topicID, err)
	}
	if exists {
		logger.Info().Msgf("Topic %s already exists.", topicID)
		return topic
	}

	logger.Info().Msgf("Creating topic: %s with %v retention", topicID, retention)
	topic, err = client.CreateTopicWithConfig(ctx, topicID, &pubsub.TopicConfig{RetentionDuration: retention})
	if err != nil {
		logger.Fatal().Msgf("Failed to create topic %s: %v", topicID, err)
	}
	return topic
}

func createOrUpdateSubscription(ctx context.Context, client *pubsub.Client, logger zerolog.Logger, subID string, config pubsub.SubscriptionConfig) {
	sub := client.Subscription(subID)
	exists, err := sub.Exists(ctx)
	if err != nil {
		logger.Fatal().Msgf("Failed to check if subscription %s exists: %v", subID, err)
	}

	if !exists {
		logger.Info().Msgf("Creating subscription %s with endpoint %s", subID, config.PushConfig.Endpoint)
		if _, err := client.CreateSubscription(ctx, subID, config); err != nil {
			logger.Fatal().Msgf("Failed to create subscription '%s': %v", subID, err)
		}
		return
	}

	existing, err := sub.Config(ctx)
	if err != nil {
		logger.Fatal().Msgf("Failed to get config for subscription '%s': %v", subID, err)
	}
	if existing.PushConfig.Endpoint == config.PushConfig.Endpoint && existing.AckDeadline == config.AckDeadline {
		logger.Info().Msgf("Subscription %s is up to date.", subID)
		return
	}

	logger.Info().Msgf("Updating subscription '%s'", subID)
	update := pubsub.SubscriptionConfigToUpdate{
		PushConfig:       &config.PushConfig,
		AckDeadline:      config.AckDeadline,
		RetryPolicy:      config.RetryPolicy,
		DeadLetterPolicy: config.DeadLetterPolicy,
	}
	if _, err := sub.Update(ctx, update); err != nil {
		logger.Fatal().Msgf("Failed to update subscription '%s': %v", subID, err)
	}
}
