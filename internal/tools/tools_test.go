package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	buckets    []types.Bucket
	objects    []types.Object
	err        error
	lastList   *s3.ListObjectsV2Input
	lastRegion string
}

func (f *fakeS3) region(optFns []func(*s3.Options)) {
	var o s3.Options
	for _, fn := range optFns {
		fn(&o)
	}
	f.lastRegion = o.Region
}

func (f *fakeS3) ListBuckets(_ context.Context, _ *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
	f.region(optFns)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.ListBucketsOutput{Buckets: f.buckets}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.region(optFns)
	f.lastList = in
	if f.err != nil {
		return nil, f.err
	}
	return &s3.ListObjectsV2Output{Contents: f.objects, IsTruncated: aws.Bool(false)}, nil
}

func TestUseAWS_ListBuckets(t *testing.T) {
	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	fake := &fakeS3{buckets: []types.Bucket{
		{Name: aws.String("logs"), CreationDate: &created},
		{Name: aws.String("assets")},
	}}
	tool := NewUseAWS(fake)

	out, err := tool.Run(context.Background(), map[string]any{
		"service_name":   "s3",
		"operation_name": "list_buckets",
		"region":         "us-west-2",
	})
	require.NoError(t, err)

	var got struct {
		Buckets []struct{ Name string }
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Buckets, 2)
	assert.Equal(t, "logs", got.Buckets[0].Name)
	assert.Equal(t, "us-west-2", fake.lastRegion)
}

func TestUseAWS_ListObjects(t *testing.T) {
	fake := &fakeS3{objects: []types.Object{{Key: aws.String("a.txt"), Size: aws.Int64(12)}}}
	tool := NewUseAWS(fake)

	out, err := tool.Run(context.Background(), map[string]any{
		"service_name":   "S3",
		"operation_name": "list_objects_v2",
		"parameters":     map[string]any{"Bucket": "logs", "Prefix": "2024/", "MaxKeys": float64(10)},
	})
	require.NoError(t, err)
	assert.Contains(t, out, `"Key":"a.txt"`)
	assert.Contains(t, out, `"Size":12`)
	assert.Equal(t, "logs", aws.ToString(fake.lastList.Bucket))
	assert.Equal(t, "2024/", aws.ToString(fake.lastList.Prefix))
	assert.Equal(t, int32(10), aws.ToInt32(fake.lastList.MaxKeys))
}

func TestUseAWS_Errors(t *testing.T) {
	tests := []struct {
		name  string
		fake  *fakeS3
		input map[string]any
		want  string
	}{
		{"unsupported service", &fakeS3{}, map[string]any{"service_name": "ec2", "operation_name": "describe_instances"}, "unsupported service"},
		{"unsupported operation", &fakeS3{}, map[string]any{"service_name": "s3", "operation_name": "delete_bucket"}, "unsupported operation"},
		{"missing bucket", &fakeS3{}, map[string]any{"service_name": "s3", "operation_name": "list_objects_v2"}, "Bucket is required"},
		{"api error", &fakeS3{err: errors.New("AccessDenied")}, map[string]any{"service_name": "s3", "operation_name": "list_buckets"}, "AccessDenied"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewUseAWS(tt.fake).Run(context.Background(), tt.input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewUseAWS(&fakeS3{}))
	assert.Equal(t, 1, r.Len())

	specs := r.Specs()
	require.Len(t, specs, 1)
	assert.Equal(t, UseAWSName, specs[0].Name)

	_, err := r.Execute(context.Background(), Call{Name: "missing"})
	assert.ErrorContains(t, err, "unknown tool")

	var nilRegistry *Registry
	assert.Zero(t, nilRegistry.Len())
	_, ok := nilRegistry.Get(UseAWSName)
	assert.False(t, ok)
}

func TestPromptApprover(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out strings.Builder
		a := NewPromptApprover(bufio.NewReader(strings.NewReader(tt.input)), &out)
		got, err := a.Approve(context.Background(), Call{Name: UseAWSName, Input: map[string]any{"service_name": "s3"}})
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
		assert.Contains(t, out.String(), "Tool use_aws wants to run")
	}
}

func TestPromptApprover_SharedReader(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("y\nnext prompt\n"))
	a := NewPromptApprover(r, io.Discard)

	ok, err := a.Approve(context.Background(), Call{Name: UseAWSName})
	require.NoError(t, err)
	assert.True(t, ok)

	rest, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "next prompt\n", rest)
}

func TestStaticApprovers(t *testing.T) {
	ok, _ := AutoApprove.Approve(context.Background(), Call{})
	assert.True(t, ok)
	ok, _ = DenyAll.Approve(context.Background(), Call{})
	assert.False(t, ok)
	ok, _ = NewTerminalApprover(nil, nil, nil).Approve(context.Background(), Call{})
	assert.False(t, ok)
}
