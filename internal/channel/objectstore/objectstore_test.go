package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel/channeltest"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/credentials"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
)

type fakeBucket struct {
	mu       sync.Mutex
	buckets  map[string]string
	objects  map[string][]byte
	types    map[string]string
	region   string
	putErr   error
	existErr error
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{buckets: map[string]string{}, objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeBucket) BucketExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existErr != nil {
		return false, f.existErr
	}
	_, ok := f.buckets[name]
	return ok, nil
}

func (f *fakeBucket) MakeBucket(_ context.Context, name string, opts minio.MakeBucketOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets[name] = ""
	f.region = opts.Region
	return nil
}

func (f *fakeBucket) GetBucketPolicy(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buckets[name], nil
}

func (f *fakeBucket) SetBucketPolicy(_ context.Context, name, policy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets[name] = policy
	return nil
}

func (f *fakeBucket) PutObject(_ context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[bucket+"/"+key] = data
	f.types[bucket+"/"+key] = opts.ContentType
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: int64(len(data))}, nil
}

func storageCreds() channeltest.Creds {
	return channeltest.Creds{credentials.ObjectStorageKeys: []byte(`{"accessKeyId":"AKIA","secretAccessKey":"secret"}`)}
}

func newAdapter(bucket *fakeBucket, creds credentials.Provider) (*Adapter, *Keys) {
	var seen Keys
	dial := func(_ Config, keys Keys, _ string) (Bucket, error) {
		seen = keys
		return bucket, nil
	}
	return New(Config{Endpoint: "storage.example.com", PublicURL: "https://cdn.example.com"}, creds, dial), &seen
}

func TestObjectStorageStoresContentAddressedObject(t *testing.T) {
	bucket := newFakeBucket()
	adapter, keys := newAdapter(bucket, storageCreds())
	content := []byte("PK\x03\x04 android package")

	h := channeltest.New(t, adapter, domain.Parameters{"bucketName": "my-bucket"}, "build.apk", content, channel.Policy{MaxAttempts: 1})
	job, err := h.Run(context.Background(), adapter)
	require.NoError(t, err)

	sum := sha256.Sum256(content)
	key := hex.EncodeToString(sum[:]) + "/build.apk"
	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, "https://cdn.example.com/my-bucket/"+key, job.ResultLocator)
	assert.Contains(t, job.ResultLocator, "my-bucket")
	assert.Equal(t, content, bucket.objects["my-bucket/"+key])
	assert.Equal(t, PublicReadPolicy("my-bucket"), bucket.buckets["my-bucket"])
	assert.Equal(t, "us-east-1", bucket.region)
	assert.Equal(t, "application/zip", bucket.types["my-bucket/"+key])
	assert.Equal(t, "AKIA", keys.AccessKeyID)
	assert.NotNil(t, job.CompletedAt)
}

func TestObjectStorageKeepsExistingPolicyAndUsesPrefix(t *testing.T) {
	bucket := newFakeBucket()
	bucket.buckets["releases"] = `{"custom":true}`
	adapter, _ := newAdapter(bucket, storageCreds())

	h := channeltest.New(t, adapter, domain.Parameters{"bucketName": "releases", "prefix": "nightly/ios"}, "My App.ipa", []byte("ipa"), channel.Policy{MaxAttempts: 1})
	job, err := h.Run(context.Background(), adapter)
	require.NoError(t, err)

	assert.Equal(t, `{"custom":true}`, bucket.buckets["releases"])
	assert.True(t, strings.HasPrefix(job.ResultLocator, "https://cdn.example.com/releases/nightly/ios/"))
	assert.True(t, strings.HasSuffix(job.ResultLocator, "/My%20App.ipa"))
	for _, line := range job.Logs {
		assert.NotContains(t, line, "created bucket")
	}
}

func TestObjectStorageMissingKeys(t *testing.T) {
	adapter, _ := newAdapter(newFakeBucket(), channeltest.Creds{})
	h := channeltest.New(t, adapter, domain.Parameters{"bucketName": "my-bucket"}, "build.apk", []byte("apk"), channel.Policy{MaxAttempts: 1})
	job, err := h.Run(context.Background(), adapter)
	require.ErrorIs(t, err, channel.ErrAuthentication)
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Contains(t, job.LastLog(), "[AuthenticationError]")
}

func TestObjectStorageAccessDenied(t *testing.T) {
	bucket := newFakeBucket()
	bucket.existErr = minio.ErrorResponse{Code: "AccessDenied", Message: "Access Denied.", StatusCode: http.StatusForbidden}
	adapter, _ := newAdapter(bucket, storageCreds())
	h := channeltest.New(t, adapter, domain.Parameters{"bucketName": "my-bucket"}, "build.apk", []byte("apk"), channel.Policy{MaxAttempts: 1})
	_, err := h.Run(context.Background(), adapter)
	require.ErrorIs(t, err, channel.ErrAuthentication)
}

func TestObjectStoragePutFailureIsTransfer(t *testing.T) {
	bucket := newFakeBucket()
	bucket.putErr = errors.New("connection reset by peer")
	adapter, _ := newAdapter(bucket, storageCreds())
	h := channeltest.New(t, adapter, domain.Parameters{"bucketName": "my-bucket"}, "build.apk", []byte("apk"), channel.Policy{MaxAttempts: 1})
	job, err := h.Run(context.Background(), adapter)
	require.ErrorIs(t, err, channel.ErrTransfer)
	assert.Contains(t, job.LastLog(), "[TransferError]")
	assert.Empty(t, job.ResultLocator)
}

func TestObjectStorageSchema(t *testing.T) {
	schema := (&Adapter{}).Schema()
	for _, name := range []string{"ab", "Upper", "bad_name", "-edge", "a..b"} {
		_, err := schema.Validate(domain.ChannelObjectStorage, domain.PlatformAndroid, domain.Parameters{"bucketName": name})
		assert.ErrorIs(t, err, channel.ErrValidation, name)
	}
	_, err := schema.Validate(domain.ChannelObjectStorage, domain.PlatformUniversal, domain.Parameters{"bucketName": "my-bucket", "region": "eu-west-1"})
	require.NoError(t, err)
	_, err = schema.Validate(domain.ChannelObjectStorage, domain.PlatformUniversal, domain.Parameters{"bucketName": "my-bucket", "acl": "private"})
	require.ErrorIs(t, err, channel.ErrValidation)
}
