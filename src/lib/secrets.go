package lib

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

var secretsClient *secretsmanager.Client
var cachedWebhookSecret *string

func AWSGetSecretsManagerClient() (*secretsmanager.Client, error) {
	if secretsClient != nil {
		return secretsClient, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Printf("Error loading default config: %s\n", err.Error())
		return nil, err
	}
	secretsClient = secretsmanager.NewFromConfig(cfg)
	return secretsClient, nil
}

// NewSecretsManagerClient Replace the client instance, for tests.
func NewSecretsManagerClient(c *secretsmanager.Client) {
	secretsClient = c
	cachedWebhookSecret = nil
}

// GetWebhookSecret resolves the webhook signing secret: WEBHOOK_SECRET env
// first, then Secrets Manager by WEBHOOK_SECRET_ARN. An empty secret with no
// error means none is configured; the verifier decides what that implies.
// A store failure is the "validation error" path and must surface as an
// error, not as an unconfigured secret.
func GetWebhookSecret(ctx context.Context) (string, error) {
	if secret := os.Getenv("WEBHOOK_SECRET"); secret != "" {
		return secret, nil
	}
	arn := os.Getenv("WEBHOOK_SECRET_ARN")
	if arn == "" {
		return "", nil
	}
	if cachedWebhookSecret != nil {
		return *cachedWebhookSecret, nil
	}
	client, err := AWSGetSecretsManagerClient()
	if err != nil {
		return "", fmt.Errorf("secret store unavailable: %w", err)
	}
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(arn),
	})
	if err != nil {
		log.Printf("[secrets] Error retrieving webhook secret: %s\n", err.Error())
		return "", fmt.Errorf("secret store unavailable: %w", err)
	}
	secret := aws.ToString(out.SecretString)
	cachedWebhookSecret = &secret
	return secret, nil
}
