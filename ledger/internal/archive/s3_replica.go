package archive

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// uploader is the subset of manager.Uploader the replica needs.
type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Config configures an S3Replica.
type S3Config struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint targets an S3-compatible service; path-style addressing is used when set.
	Endpoint  string
	Retention Retention
}

// S3Replica writes archive files to S3 paths like:
//
//	s3://<bucket>/<prefix>/<kind>/<YYYYMMDD>/<epochMillis>-<id>.json
//
// Writes are conditional (If-None-Match: *) so an existing object is never replaced.
type S3Replica struct {
	bucket    string
	prefix    string
	uploader  uploader
	retention Retention
	now       func() time.Time
}

// NewS3Replica creates an S3Replica. Region and credentials come from the usual
// SDK sources (AWS_REGION, AWS_PROFILE, AWS_ACCESS_KEY_ID/SECRET etc.) unless set.
func NewS3Replica(ctx context.Context, cfg S3Config) (*S3Replica, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	var loadOpts []func(*awsConfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsConfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Replica(cfg.Bucket, cfg.Prefix, manager.NewUploader(client), cfg.Retention), nil
}

func newS3Replica(bucket, prefix string, up uploader, retention Retention) *S3Replica {
	return &S3Replica{bucket: bucket, prefix: prefix, uploader: up, retention: retention, now: time.Now}
}

// Name implements Replica.
func (s *S3Replica) Name() string { return "s3" }

// Put implements Replica.
func (s *S3Replica) Put(ctx context.Context, obj Object) error {
	key := path.Join(s.prefix, obj.Key)
	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(obj.Body),
		ContentType: aws.String(obj.ContentType),
		IfNoneMatch: aws.String("*"),
		// Server-side encryption with S3-managed keys (SSE-S3).
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
		ChecksumAlgorithm:    s3types.ChecksumAlgorithmSha256,
	}
	if obj.SHA256 != "" {
		if raw, err := hex.DecodeString(obj.SHA256); err == nil {
			in.ChecksumSHA256 = aws.String(base64.StdEncoding.EncodeToString(raw))
		}
	}
	if until := s.retention.Until(s.now()); !until.IsZero() {
		in.ObjectLockMode = s3types.ObjectLockModeCompliance
		in.ObjectLockRetainUntilDate = aws.Time(until)
	}

	if _, err := s.uploader.Upload(ctx, in); err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
			return fmt.Errorf("%w: s3://%s/%s", ErrObjectExists, s.bucket, key)
		}
		return fmt.Errorf("s3 upload failed: %w", err)
	}
	return nil
}
