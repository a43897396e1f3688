package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// UseAWSName is the tool name the default system prompt refers to.
const UseAWSName = "use_aws"

const maxListKeys = 1000

// S3API is the subset of the S3 client used by UseAWS.
type S3API interface {
	ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// UseAWS is a read-only AWS tool. It supports the S3 list_buckets and
// list_objects_v2 operations.
type UseAWS struct {
	s3 S3API
}

// NewUseAWS creates the tool.
func NewUseAWS(client S3API) *UseAWS {
	return &UseAWS{s3: client}
}

// Spec implements Tool.
func (u *UseAWS) Spec() Spec {
	return Spec{
		Name:        UseAWSName,
		Description: "Make a read-only AWS API call. Supported: service_name \"s3\" with operation_name \"list_buckets\" or \"list_objects_v2\".",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"service_name":   map[string]any{"type": "string", "description": "AWS service, e.g. s3"},
				"operation_name": map[string]any{"type": "string", "description": "Operation in snake_case, e.g. list_buckets"},
				"parameters":     map[string]any{"type": "object", "description": "Operation parameters, e.g. {\"Bucket\": \"name\"}"},
				"region":         map[string]any{"type": "string", "description": "AWS region"},
				"label":          map[string]any{"type": "string", "description": "Short description of the call"},
			},
			"required": []string{"service_name", "operation_name"},
		},
	}
}

// Run implements Tool.
func (u *UseAWS) Run(ctx context.Context, input map[string]any) (string, error) {
	service := strings.ToLower(stringArg(input, "service_name"))
	operation := strings.ToLower(stringArg(input, "operation_name"))
	params, _ := input["parameters"].(map[string]any)

	var opts []func(*s3.Options)
	if region := stringArg(input, "region"); region != "" {
		opts = append(opts, func(o *s3.Options) { o.Region = region })
	}

	if service != "s3" {
		return "", fmt.Errorf("use_aws: unsupported service %q", service)
	}

	var result any
	var err error
	switch operation {
	case "list_buckets":
		result, err = u.listBuckets(ctx, opts)
	case "list_objects_v2":
		result, err = u.listObjects(ctx, params, opts)
	default:
		return "", fmt.Errorf("use_aws: unsupported operation %s.%s", service, operation)
	}
	if err != nil {
		return "", fmt.Errorf("use_aws %s.%s: %w", service, operation, err)
	}

	b, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("use_aws: marshal result: %w", err)
	}
	return string(b), nil
}

type bucket struct {
	Name         string     `json:"Name"`
	CreationDate *time.Time `json:"CreationDate,omitempty"`
}

type object struct {
	Key          string     `json:"Key"`
	Size         int64      `json:"Size"`
	LastModified *time.Time `json:"LastModified,omitempty"`
}

func (u *UseAWS) listBuckets(ctx context.Context, opts []func(*s3.Options)) (any, error) {
	out, err := u.s3.ListBuckets(ctx, &s3.ListBucketsInput{}, opts...)
	if err != nil {
		return nil, err
	}
	buckets := make([]bucket, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		buckets = append(buckets, bucket{Name: aws.ToString(b.Name), CreationDate: b.CreationDate})
	}
	return map[string]any{"Buckets": buckets}, nil
}

func (u *UseAWS) listObjects(ctx context.Context, params map[string]any, opts []func(*s3.Options)) (any, error) {
	name := stringArg(params, "Bucket")
	if name == "" {
		return nil, fmt.Errorf("parameter Bucket is required")
	}
	in := &s3.ListObjectsV2Input{
		Bucket:  aws.String(name),
		MaxKeys: aws.Int32(maxListKeys),
	}
	if prefix := stringArg(params, "Prefix"); prefix != "" {
		in.Prefix = aws.String(prefix)
	}
	if token := stringArg(params, "ContinuationToken"); token != "" {
		in.ContinuationToken = aws.String(token)
	}
	if n, ok := params["MaxKeys"].(float64); ok && n > 0 && n < maxListKeys {
		in.MaxKeys = aws.Int32(int32(n))
	}

	out, err := u.s3.ListObjectsV2(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	objects := make([]object, 0, len(out.Contents))
	for _, o := range out.Contents {
		objects = append(objects, object{
			Key:          aws.ToString(o.Key),
			Size:         aws.ToInt64(o.Size),
			LastModified: o.LastModified,
		})
	}
	result := map[string]any{
		"Contents":    objects,
		"IsTruncated": aws.ToBool(out.IsTruncated),
	}
	if out.NextContinuationToken != nil {
		result["NextContinuationToken"] = aws.ToString(out.NextContinuationToken)
	}
	return result, nil
}

func stringArg(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

var _ Tool = (*UseAWS)(nil)
