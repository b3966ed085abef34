// Package blob builds the S3 client used for token records and activity
// archives, and classifies S3 errors into the relay's error taxonomy.
package blob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/dmitrijs2005/stravasync/internal/common"
)

// ObjectAPI is the subset of *s3.Client used by the relay.
type ObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Options describes how to reach the bucket. Empty credentials fall back to
// the default AWS credential chain; BaseEndpoint targets S3-compatible
// stores such as MinIO (path-style addressing is enabled for them).
type Options struct {
	Region       string
	AccessKey    string
	SecretKey    string
	BaseEndpoint string
	// Timeout bounds each S3 HTTP request; zero keeps the SDK default.
	Timeout time.Duration
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// NewClient builds an S3 client from opts.
func NewClient(ctx context.Context, opts Options) (*s3.Client, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}

	cfg, err := loadDefaultAWSConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if opts.Timeout > 0 {
			o.HTTPClient = awshttp.NewBuildableClient().WithTimeout(opts.Timeout)
		}
		if opts.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(opts.BaseEndpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// IsNotFound reports a missing key.
func IsNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	switch apiErrorCode(err) {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

// IsPreconditionFailed reports a conditional write rejected because the
// object already exists.
func IsPreconditionFailed(err error) bool {
	switch apiErrorCode(err) {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
}

// IsAccessDenied reports an authorization failure on the bucket.
func IsAccessDenied(err error) bool {
	switch apiErrorCode(err) {
	case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return true
	}
	return false
}

// StorageError classifies an S3 failure as common.ErrStorage, adding
// common.ErrPermissionDenied for authorization failures.
func StorageError(op string, err error) error {
	if IsAccessDenied(err) {
		err = fmt.Errorf("%w: %w", common.ErrPermissionDenied, err)
	}
	return common.StorageError(op, err)
}
