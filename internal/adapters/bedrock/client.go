// Package bedrock adapts Amazon Bedrock services to the pipeline ports:
// guardrails as a Moderator, prompt management as a PromptStore and
// ConverseStream as an Agent.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/smithy-go"
)

// ClientConfig selects the region and, for local endpoints, static
// credentials.
type ClientConfig struct {
	// Region, e.g. "eu-central-1".
	Region string
	// Endpoint overrides the service endpoint, e.g. "http://127.0.0.1:4566".
	Endpoint string
	// AccessKeyID and SecretAccessKey replace the default credential chain
	// when both are set.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	// HTTPClient replaces the SDK's default HTTP client.
	HTTPClient aws.HTTPClient
}

// LoadAWSConfig resolves an aws.Config from the default chain (environment,
// shared config, instance role) with the overrides in cfg applied.
func LoadAWSConfig(ctx context.Context, cfg ClientConfig) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, awsconfig.WithHTTPClient(cfg.HTTPClient))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.Endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return awsCfg, nil
}

// errorAttrs returns log attributes describing an AWS API error.
func errorAttrs(err error) []any {
	attrs := []any{slog.String("error", err.Error())}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		attrs = append(attrs,
			slog.String("aws_error_code", apiErr.ErrorCode()),
			slog.String("aws_error_fault", apiErr.ErrorFault().String()),
		)
	}
	return attrs
}
