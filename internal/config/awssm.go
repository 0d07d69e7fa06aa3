package config

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// resolveAWSSecretsManager resolves an AWS Secrets Manager reference.
// Format: secret-name, or secret-name#key to pick one field out of a
// JSON document secret.
func resolveAWSSecretsManager(ref string) (string, error) {
	name, key, hasKey := strings.Cut(ref, "#")
	if name == "" {
		return "", fmt.Errorf("invalid AWS Secrets Manager reference %q", ref)
	}

	ctx := context.Background()
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("loading AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(cfg)
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("getting secret %q: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %q has no string value (binary secrets not supported)", name)
	}

	if !hasKey {
		return *out.SecretString, nil
	}
	return pickJSONKey(*out.SecretString, key)
}

// pickJSONKey extracts one string field from a JSON document secret.
func pickJSONKey(doc, key string) (string, error) {
	var fields map[string]string
	if err := json.Unmarshal([]byte(doc), &fields); err != nil {
		return "", fmt.Errorf("secret is not a flat JSON document: %w", err)
	}
	val, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret document", key)
	}
	return val, nil
}
