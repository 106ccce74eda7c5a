package archive

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/pixelfox-billing/app/models"
)

type fakeStore struct {
	headErr  error
	created  []string
	puts     map[string]string
	metadata map[string]map[string]string
}

func (f *fakeStore) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

func (f *fakeStore) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.created = append(f.created, aws.ToString(params.Bucket))
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeStore) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	if f.puts == nil {
		f.puts = map[string]string{}
		f.metadata = map[string]map[string]string{}
	}
	f.puts[aws.ToString(params.Key)] = string(body)
	f.metadata[aws.ToString(params.Key)] = params.Metadata
	return &s3.PutObjectOutput{}, nil
}

func TestObjectKey(t *testing.T) {
	cfg := &Config{Prefix: "notifications"}
	at := time.Date(2026, 3, 7, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "notifications/2026/03/07/abc-123.jws", cfg.ObjectKey("abc-123", at))

	cfg.Prefix = ""
	assert.Equal(t, "2026/03/07/a_b.jws", cfg.ObjectKey("a/b", at))

	generated := cfg.ObjectKey("", at)
	assert.True(t, strings.HasPrefix(generated, "2026/03/07/"))
	assert.Len(t, generated, len("2026/03/07/")+36+len(".jws"))
}

func TestArchiveNotification(t *testing.T) {
	store := &fakeStore{}
	c := newClient(store, &Config{BucketName: "billing", Prefix: "raw", Enabled: true})

	err := c.ArchiveNotification(t.Context(), &models.NotificationRecord{
		NotificationUUID: "n-1",
		NotificationType: "DID_RENEW",
		ProcessingStatus: models.ProcessingStatusSuccess,
		RawPayload:       "h.p.s",
		ReceivedAt:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "h.p.s", store.puts["raw/2026/01/02/n-1.jws"])
	assert.Equal(t, "DID_RENEW", store.metadata["raw/2026/01/02/n-1.jws"]["notification-type"])
}

func TestEnsureBucket(t *testing.T) {
	store := &fakeStore{headErr: errors.New("not found")}
	c := newClient(store, &Config{BucketName: "billing", Region: "us-east-1"})
	require.NoError(t, c.ensureBucket(t.Context()))
	assert.Equal(t, []string{"billing"}, store.created)

	prod := newClient(&fakeStore{headErr: errors.New("not found")}, &Config{BucketName: "billing", Production: true})
	assert.Error(t, prod.ensureBucket(t.Context()))
}

func TestLoadConfigRequiresBucketWhenEnabled(t *testing.T) {
	t.Setenv("ARCHIVE_ENABLED", "true")
	t.Setenv("ARCHIVE_S3_ACCESS_KEY_ID", "key")
	t.Setenv("ARCHIVE_S3_SECRET_ACCESS_KEY", "secret")
	t.Setenv("ARCHIVE_S3_BUCKET_NAME", "")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("ARCHIVE_S3_BUCKET_NAME", "billing")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.IsEnabled())
	assert.Equal(t, "notifications", cfg.Prefix)
}
