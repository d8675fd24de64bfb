// Package objectstore writes artifacts to an S3-compatible bucket under a
// content-addressed key and reports the public URL.
package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/credentials"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
)

// Bucket is the subset of *minio.Client the adapter needs.
type Bucket interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	GetBucketPolicy(ctx context.Context, bucketName string) (string, error)
	SetBucketPolicy(ctx context.Context, bucketName, policy string) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Keys is the object-storage credential document.
type Keys struct {
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
	SessionToken    string `json:"sessionToken,omitempty"`
}

// Config locates the storage endpoint.
type Config struct {
	Endpoint string
	UseSSL   bool
	// PublicURL is the base objects are served from; defaults to the endpoint.
	PublicURL string
	Region    string
}

// DialFunc opens a bucket client.
type DialFunc func(cfg Config, keys Keys, region string) (Bucket, error)

// Dial connects with minio-go.
func Dial(cfg Config, keys Keys, region string) (Bucket, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(keys.AccessKeyID, keys.SecretAccessKey, keys.SessionToken),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("object storage client: %w", err)
	}
	return client, nil
}

// Adapter implements the object-storage channel.
type Adapter struct {
	cfg   Config
	creds credentials.Provider
	dial  DialFunc
}

// New constructs the object-storage adapter. A nil dial uses Dial.
func New(cfg Config, creds credentials.Provider, dial DialFunc) *Adapter {
	if dial == nil {
		dial = Dial
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return &Adapter{cfg: cfg, creds: creds, dial: dial}
}

// Channel implements channel.Adapter.
func (a *Adapter) Channel() domain.Channel { return domain.ChannelObjectStorage }

// Schema implements channel.Adapter.
func (a *Adapter) Schema() channel.Schema {
	return channel.Schema{
		Required: []string{"bucketName"},
		Optional: []string{"prefix", "region"},
		Check:    checkBucketName,
	}
}

func checkBucketName(params domain.Parameters) []channel.FieldError {
	name := params["bucketName"]
	if len(name) < 3 || len(name) > 63 || strings.Trim(name, "abcdefghijklmnopqrstuvwxyz0123456789.-") != "" {
		return []channel.FieldError{{Field: "bucketName", Message: "must be 3-63 lower-case letters, digits, dots or hyphens"}}
	}
	if strings.HasPrefix(name, "-") || strings.HasSuffix(name, "-") || strings.Contains(name, "..") {
		return []channel.FieldError{{Field: "bucketName", Message: "is not a valid bucket name"}}
	}
	return nil
}

// Begin implements channel.Adapter.
func (a *Adapter) Begin(ctx context.Context, sess *channel.Session) (channel.Release, error) {
	raw, err := a.creds.Resolve(ctx, credentials.ObjectStorageKeys)
	if err != nil {
		return nil, channel.Authentication("object storage keys: %v", err)
	}
	var keys Keys
	if err := json.Unmarshal(raw, &keys); err != nil || keys.AccessKeyID == "" || keys.SecretAccessKey == "" {
		return nil, channel.Authentication("object storage keys are malformed")
	}
	region := sess.Params().Get("region")
	if region == "" {
		region = a.cfg.Region
	}
	bucket, err := a.dial(a.cfg, keys, region)
	if err != nil {
		return nil, channel.Transfer("connect", err)
	}
	if err := sess.Progress(ctx, channel.ProgressAuthenticated, "connected to object storage at "+a.cfg.Endpoint); err != nil {
		return nil, err
	}
	return &release{bucket: bucket, cfg: a.cfg, region: region, name: sess.Params().Get("bucketName")}, nil
}

type release struct {
	bucket Bucket
	cfg    Config
	region string
	name   string
	key    string
}

// Upload makes sure the bucket exists and is publicly readable, then writes the object.
func (r *release) Upload(ctx context.Context, sess *channel.Session) error {
	if err := r.ensureBucket(ctx, sess); err != nil {
		return err
	}

	artifact := sess.Artifact()
	file, err := os.Open(artifact.Path)
	if err != nil {
		return channel.Transfer("open artifact", err)
	}
	defer file.Close()

	sum := sha256.New()
	if _, err := io.Copy(sum, file); err != nil {
		return channel.Transfer("hash artifact", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return channel.Transfer("rewind artifact", err)
	}
	contentType := "application/octet-stream"
	if detected, err := mimetype.DetectFile(artifact.Path); err == nil {
		contentType = detected.String()
	}

	r.key = path.Join(sess.Params().Get("prefix"), hex.EncodeToString(sum.Sum(nil)), artifact.Filename)
	info, err := r.bucket.PutObject(ctx, r.name, r.key, file, artifact.Size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return channel.Transfer("put object", classify(err))
	}
	return sess.Progress(ctx, channel.ProgressUploaded, fmt.Sprintf("stored %s (%d bytes, %s)", r.key, info.Size, contentType))
}

func (r *release) ensureBucket(ctx context.Context, sess *channel.Session) error {
	exists, err := r.bucket.BucketExists(ctx, r.name)
	if err != nil {
		return channel.Transfer("check bucket", classify(err))
	}
	if !exists {
		if err := r.bucket.MakeBucket(ctx, r.name, minio.MakeBucketOptions{Region: r.region}); err != nil {
			return channel.Transfer("create bucket", classify(err))
		}
		if err := sess.Log(ctx, "created bucket "+r.name); err != nil {
			return err
		}
	}
	policy, err := r.bucket.GetBucketPolicy(ctx, r.name)
	if err != nil {
		return channel.Transfer("read bucket policy", classify(err))
	}
	if policy != "" {
		return nil
	}
	if err := r.bucket.SetBucketPolicy(ctx, r.name, PublicReadPolicy(r.name)); err != nil {
		return channel.Transfer("set bucket policy", classify(err))
	}
	return sess.Log(ctx, "applied public-read policy to "+r.name)
}

// Process is a no-op: the write is acknowledged synchronously.
func (r *release) Process(context.Context, *channel.Session) error { return nil }

// Locator returns the public URL of the stored object.
func (r *release) Locator() string {
	base := r.cfg.PublicURL
	if base == "" {
		scheme := "http"
		if r.cfg.UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + r.cfg.Endpoint
	}
	escaped := make([]string, 0, 4)
	for _, part := range strings.Split(r.key, "/") {
		escaped = append(escaped, url.PathEscape(part))
	}
	return strings.TrimRight(base, "/") + "/" + r.name + "/" + strings.Join(escaped, "/")
}

// PublicReadPolicy allows anonymous GetObject on every key in bucket.
func PublicReadPolicy(bucket string) string {
	return fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/*"]}]}`, bucket)
}

// classify maps S3 error responses onto the channel taxonomy.
func classify(err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "AccessDenied" || resp.Code == "InvalidAccessKeyId" || resp.Code == "SignatureDoesNotMatch" ||
		resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", channel.ErrAuthentication, resp.Message)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", channel.ErrTransient, resp.Message)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: %s: %s", channel.ErrRemoteRejection, resp.Code, resp.Message)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", channel.ErrTransient, err)
	}
	return err
}
