// Package s3 implements the remote storage backend on top of an
// S3-compatible API. Uploads optionally route through the CargoShip
// optimized transporter; everything else uses the SDK client directly.
package s3

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	cargoconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"

	"github.com/stowage/stowage/pkg/errors"
	"github.com/stowage/stowage/pkg/types"
	"github.com/stowage/stowage/pkg/utils"
)

// api is the subset of the S3 API the backend uses. It is satisfied by
// *s3.Client and by test fakes, and matches the paginator's client interface.
type api interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// presigner mints pre-signed GET URLs. Satisfied by *s3.PresignClient.
type presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Config represents S3 backend configuration.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string

	// Static credentials for emulator endpoints. When empty, the default
	// credential chain applies.
	AccessKeyID     string
	SecretAccessKey string

	// OptimizedUploads routes uploads through the CargoShip transporter.
	OptimizedUploads bool
}

// Backend stores objects in an S3-compatible bucket.
type Backend struct {
	client      api
	presign     presigner
	transporter *cargoships3.Transporter
	bucket      string
	logger      *slog.Logger
}

// NewBackend creates an S3 backend. When the endpoint override points at a
// loopback address the target bucket is created if absent, a convenience for
// local emulators; against a real remote endpoint the bucket must already
// exist.
func NewBackend(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, errors.NewError(errors.ErrCodeBucketNotFound, "bucket name cannot be empty").
			WithComponent("s3-backend")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeStorageRead, "failed to load AWS config").
			WithComponent("s3-backend").
			WithCause(err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// Emulators rarely support virtual-hosted addressing.
			o.UsePathStyle = true
		}
	})

	b := newBackend(client, s3.NewPresignClient(client), cfg.Bucket)

	if cfg.OptimizedUploads {
		cargoCfg := cargoconfig.S3Config{
			Bucket:             cfg.Bucket,
			StorageClass:       cargoconfig.StorageClassStandard,
			MultipartThreshold: 32 * 1024 * 1024,
			MultipartChunkSize: 16 * 1024 * 1024,
			Concurrency:        8,
		}
		b.transporter = cargoships3.NewTransporter(client, cargoCfg)
		b.logger.Info("CargoShip upload optimization enabled", "chunk_size", "16MB")
	}

	if isLoopbackEndpoint(cfg.Endpoint) {
		if err := b.ensureBucket(ctx); err != nil {
			return nil, err
		}
	}

	return b, nil
}

func newBackend(client api, presign presigner, bucket string) *Backend {
	return &Backend{
		client:  client,
		presign: presign,
		bucket:  bucket,
		logger:  slog.Default().With("component", "s3-backend", "bucket", bucket),
	}
}

// Upload stores the object under key and returns its bucket-qualified URI.
func (b *Backend) Upload(ctx context.Context, key string, data io.Reader, opts types.UploadOptions) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}

	payload, err := io.ReadAll(data)
	if err != nil {
		return "", errors.NewError(errors.ErrCodeStorageWrite, "failed to read upload data").
			WithComponent("s3-backend").
			WithOperation("Upload").
			WithContext("key", cleaned).
			WithCause(err)
	}

	location := fmt.Sprintf("s3://%s/%s", b.bucket, cleaned)

	if b.transporter != nil {
		archive := cargoships3.Archive{
			Key:          cleaned,
			Reader:       bytes.NewReader(payload),
			Size:         int64(len(payload)),
			StorageClass: cargoconfig.StorageClassStandard,
			Metadata:     opts.Metadata,
		}
		result, uploadErr := b.transporter.Upload(ctx, archive)
		if uploadErr == nil {
			b.logger.Debug("optimized upload completed",
				"key", cleaned,
				"size", len(payload),
				"throughput", result.Throughput)
			return location, nil
		}
		b.logger.Warn("optimized upload failed, falling back to PutObject",
			"key", cleaned, "error", uploadErr)
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(cleaned),
		Body:          bytes.NewReader(payload),
		ContentLength: aws.Int64(int64(len(payload))),
		Metadata:      opts.Metadata,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.Public {
		input.ACL = s3types.ObjectCannedACLPublicRead
	}

	if _, err := b.client.PutObject(ctx, input); err != nil {
		return "", b.translateError(err, "Upload", cleaned, errors.ErrCodeStorageWrite)
	}

	return location, nil
}

// Download reads the full object. Missing keys fail with OBJECT_NOT_FOUND.
func (b *Backend) Download(ctx context.Context, key string) ([]byte, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return nil, err
	}

	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(cleaned),
	})
	if err != nil {
		return nil, b.translateError(err, "Download", cleaned, errors.ErrCodeStorageRead)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeStorageRead, "failed to read object body").
			WithComponent("s3-backend").
			WithOperation("Download").
			WithContext("key", cleaned).
			WithCause(err)
	}
	return data, nil
}

// OpenStream returns the object body without buffering it. The caller owns
// closing the stream.
func (b *Backend) OpenStream(ctx context.Context, key string) (io.ReadCloser, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return nil, err
	}

	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(cleaned),
	})
	if err != nil {
		return nil, b.translateError(err, "OpenStream", cleaned, errors.ErrCodeStorageRead)
	}
	return result.Body, nil
}

// Delete removes the object. S3 delete is idempotent, so deleting an absent
// key succeeds; this intentionally differs from the local backend, which
// fails on a missing key.
func (b *Backend) Delete(ctx context.Context, key string) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}

	if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(cleaned),
	}); err != nil {
		translated := b.translateError(err, "Delete", cleaned, errors.ErrCodeStorageWrite)
		if errors.HasCode(translated, errors.ErrCodeObjectNotFound) {
			return nil
		}
		return translated
	}
	return nil
}

// List enumerates every object whose key starts with prefix, following
// continuation tokens until the listing is exhausted.
func (b *Backend) List(ctx context.Context, prefix string) ([]types.ObjectInfo, error) {
	normalized := ""
	if prefix != "" {
		cleaned, err := cleanKey(prefix)
		if err != nil {
			return nil, err
		}
		normalized = cleaned
	}

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(normalized),
	})

	objects := make([]types.ObjectInfo, 0)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, b.translateError(err, "List", normalized, errors.ErrCodeStorageRead)
		}
		for _, obj := range page.Contents {
			objects = append(objects, types.ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
				ETag:         aws.ToString(obj.ETag),
			})
		}
	}

	return objects, nil
}

// Exists reports whether the key heads successfully. It never returns an
// error: transient failures collapse to false, logged at debug level since
// absence and unavailability are indistinguishable to the caller.
func (b *Backend) Exists(ctx context.Context, key string) bool {
	cleaned, err := cleanKey(key)
	if err != nil {
		return false
	}

	if _, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(cleaned),
	}); err != nil {
		b.logger.Debug("existence check failed", "key", cleaned, "error", err)
		return false
	}
	return true
}

// SignedURL asks the provider to mint a time-limited pre-signed GET URL.
// A non-positive expiry falls back to one hour.
func (b *Backend) SignedURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if expires <= 0 {
		expires = time.Hour
	}

	req, err := b.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(cleaned),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", b.translateError(err, "SignedURL", cleaned, errors.ErrCodeStorageRead)
	}

	return req.URL, nil
}

// Copy performs a server-side copy within the bucket.
func (b *Backend) Copy(ctx context.Context, sourceKey, destKey string) error {
	srcClean, err := cleanKey(sourceKey)
	if err != nil {
		return err
	}
	dstClean, err := cleanKey(destKey)
	if err != nil {
		return err
	}

	if _, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(dstClean),
		CopySource: aws.String(url.QueryEscape(b.bucket + "/" + srcClean)),
	}); err != nil {
		return b.translateError(err, "Copy", srcClean, errors.ErrCodeStorageWrite)
	}
	return nil
}

// ensureBucket heads the bucket and creates it when absent. Already-exists
// races with another creator are tolerated.
func (b *Backend) ensureBucket(ctx context.Context) error {
	if _, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)}); err == nil {
		return nil
	}

	if _, err := b.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(b.bucket)}); err != nil {
		if isErrorType[*s3types.BucketAlreadyOwnedByYou](err) || isErrorType[*s3types.BucketAlreadyExists](err) {
			return nil
		}
		return errors.NewError(errors.ErrCodeBucketNotFound, "failed to ensure bucket").
			WithComponent("s3-backend").
			WithOperation("CreateBucket").
			WithContext("bucket", b.bucket).
			WithCause(err)
	}

	b.logger.Info("bucket created", "bucket", b.bucket)
	return nil
}

func (b *Backend) translateError(err error, operation, key string, fallback errors.ErrorCode) error {
	switch {
	case isErrorType[*s3types.NoSuchKey](err), isErrorType[*s3types.NotFound](err), hasAPIErrorCode(err, "NoSuchKey", "NotFound", "404"):
		return errors.NewError(errors.ErrCodeObjectNotFound, "object not found").
			WithComponent("s3-backend").
			WithOperation(operation).
			WithContext("key", key).
			WithCause(err)
	case isErrorType[*s3types.NoSuchBucket](err), hasAPIErrorCode(err, "NoSuchBucket"):
		return errors.NewError(errors.ErrCodeBucketNotFound, "bucket not found").
			WithComponent("s3-backend").
			WithOperation(operation).
			WithContext("bucket", b.bucket).
			WithCause(err)
	default:
		return errors.NewError(fallback, "storage operation failed").
			WithComponent("s3-backend").
			WithOperation(operation).
			WithContext("key", key).
			WithCause(err)
	}
}

// hasAPIErrorCode matches generic API error codes. Emulators do not always
// return the modeled error types the SDK defines.
func hasAPIErrorCode(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !stderrors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.ErrorCode() == code {
			return true
		}
	}
	return false
}

func isErrorType[T error](err error) bool {
	var target T
	return stderrors.As(err, &target)
}

// cleanKey normalizes object keys the same way the local backend does, so a
// key behaves identically regardless of backend.
func cleanKey(key string) (string, error) {
	cleaned, err := utils.CleanKey(key)
	if err != nil {
		return "", errors.NewError(errors.ErrCodePathInvalid, "invalid object key").
			WithComponent("s3-backend").
			WithContext("key", key).
			WithCause(err)
	}
	return cleaned, nil
}

// isLoopbackEndpoint reports whether an endpoint override targets the local
// machine. Bucket auto-creation is restricted to these.
func isLoopbackEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
