package archive

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakeUploader) Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, b)
	return &manager.UploadOutput{Key: in.Key}, nil
}

func TestS3ReplicaConditionalPut(t *testing.T) {
	up := &fakeUploader{}
	r := newS3Replica("gxp-archive", "ledger", up, Retention{Days: 7})
	r.now = func() time.Time { return sampleTime }

	err := r.Put(context.Background(), Object{
		Key:         "audit/20260203/1-x.json",
		Body:        []byte("{}"),
		ContentType: "application/json",
		SHA256:      "44136fa355b3678a1146ad16f7e8649e94fb4fc21fe77e8310c060f61caaff8a",
	})
	require.NoError(t, err)
	require.Len(t, up.inputs, 1)

	in := up.inputs[0]
	assert.Equal(t, "gxp-archive", aws.ToString(in.Bucket))
	assert.Equal(t, "ledger/audit/20260203/1-x.json", aws.ToString(in.Key))
	assert.Equal(t, "*", aws.ToString(in.IfNoneMatch))
	assert.Equal(t, s3types.ServerSideEncryptionAes256, in.ServerSideEncryption)
	assert.Equal(t, s3types.ChecksumAlgorithmSha256, in.ChecksumAlgorithm)
	assert.Equal(t, "RBNvo1WzZ4oRRq0W9+hknpT7T8If536DEMBg9hyq/4o=", aws.ToString(in.ChecksumSHA256))
	assert.Equal(t, s3types.ObjectLockModeCompliance, in.ObjectLockMode)
	assert.Equal(t, sampleTime.AddDate(0, 0, 7), aws.ToTime(in.ObjectLockRetainUntilDate))
	assert.Equal(t, []byte("{}"), up.bodies[0])
}

func TestS3ReplicaWithoutRetention(t *testing.T) {
	up := &fakeUploader{}
	r := newS3Replica("b", "", up, Retention{})
	require.NoError(t, r.Put(context.Background(), Object{Key: "k", Body: []byte("x")}))
	assert.Equal(t, "k", aws.ToString(up.inputs[0].Key))
	assert.Empty(t, up.inputs[0].ObjectLockMode)
	assert.Nil(t, up.inputs[0].ObjectLockRetainUntilDate)
	assert.Nil(t, up.inputs[0].ChecksumSHA256)
}

func TestS3ReplicaExistingObject(t *testing.T) {
	up := &fakeUploader{err: &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}}
	r := newS3Replica("b", "p", up, Retention{})

	err := r.Put(context.Background(), Object{Key: "k", Body: []byte("x")})
	assert.ErrorIs(t, err, ErrObjectExists)
}

func TestS3ReplicaUploadError(t *testing.T) {
	up := &fakeUploader{err: errors.New("network")}
	r := newS3Replica("b", "p", up, Retention{})

	err := r.Put(context.Background(), Object{Key: "k", Body: []byte("x")})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrObjectExists)
}

type fakeMinio struct {
	statErr error
	puts    []minio.PutObjectOptions
	keys    []string
	bodies  [][]byte
}

func (f *fakeMinio) StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	if f.statErr != nil {
		return minio.ObjectInfo{}, f.statErr
	}
	return minio.ObjectInfo{Key: object}, nil
}

func (f *fakeMinio) PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.keys = append(f.keys, object)
	f.bodies = append(f.bodies, b)
	f.puts = append(f.puts, opts)
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: size}, nil
}

func TestMinioReplicaPutsNewObject(t *testing.T) {
	api := &fakeMinio{statErr: minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}}
	r := newMinioReplica("archive", "gxp", api, Retention{Days: 1})
	r.now = func() time.Time { return sampleTime }

	require.NoError(t, r.Put(context.Background(), Object{Key: "audit/d/f.json", Body: []byte("data"), ContentType: "application/json"}))
	require.Len(t, api.keys, 1)
	assert.Equal(t, "gxp/audit/d/f.json", api.keys[0])
	assert.Equal(t, []byte("data"), api.bodies[0])
	assert.Equal(t, minio.Compliance, api.puts[0].Mode)
	assert.Equal(t, sampleTime.AddDate(0, 0, 1), api.puts[0].RetainUntilDate)
	assert.True(t, api.puts[0].SendContentMd5)
}

func TestMinioReplicaRefusesOverwrite(t *testing.T) {
	api := &fakeMinio{}
	r := newMinioReplica("archive", "", api, Retention{})

	err := r.Put(context.Background(), Object{Key: "k", Body: []byte("x")})
	assert.ErrorIs(t, err, ErrObjectExists)
	assert.Empty(t, api.keys)
}

func TestMinioReplicaStatError(t *testing.T) {
	api := &fakeMinio{statErr: minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}}
	r := newMinioReplica("archive", "", api, Retention{})

	err := r.Put(context.Background(), Object{Key: "k", Body: []byte("x")})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrObjectExists)
	assert.Empty(t, api.keys)
}

func TestMinioConfigValidate(t *testing.T) {
	valid := MinioConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b", Bucket: "archive"}
	assert.NoError(t, valid.Validate())

	missing := valid
	missing.Bucket = ""
	assert.Error(t, missing.Validate())
}
