package s3

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stowage/stowage/pkg/errors"
	"github.com/stowage/stowage/pkg/types"
)

type fakeObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
	acl         s3types.ObjectCannedACL
}

// fakeAPI is an in-memory S3 implementation. Listing paginates with a fixed
// page size so the draining behavior is observable.
type fakeAPI struct {
	objects      map[string]fakeObject
	pageSize     int
	listCalls    int
	bucketExists bool
	created      bool
	failWith     map[string]error // keyed by operation name
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		objects:      make(map[string]fakeObject),
		pageSize:     1000,
		bucketExists: true,
		failWith:     make(map[string]error),
	}
}

func (f *fakeAPI) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if err := f.failWith["PutObject"]; err != nil {
		return nil, err
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(params.Key)] = fakeObject{
		data:        data,
		contentType: aws.ToString(params.ContentType),
		metadata:    params.Metadata,
		acl:         params.ACL,
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeAPI) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if err := f.failWith["GetObject"]; err != nil {
		return nil, err
	}
	obj, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.data)),
		ContentLength: aws.Int64(int64(len(obj.data))),
	}, nil
}

func (f *fakeAPI) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if err := f.failWith["HeadObject"]; err != nil {
		return nil, err
	}
	obj, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(obj.data)))}, nil
}

func (f *fakeAPI) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if err := f.failWith["DeleteObject"]; err != nil {
		return nil, err
	}
	// S3 delete is idempotent: absent keys succeed.
	delete(f.objects, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeAPI) CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	if err := f.failWith["CopyObject"]; err != nil {
		return nil, err
	}
	source, err := url.QueryUnescape(aws.ToString(params.CopySource))
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(source, "/", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed copy source: %s", source)
	}
	obj, ok := f.objects[parts[1]]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	f.objects[aws.ToString(params.Key)] = obj
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeAPI) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.listCalls++
	if err := f.failWith["ListObjectsV2"]; err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(f.objects))
	for key := range f.objects {
		if strings.HasPrefix(key, aws.ToString(params.Prefix)) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	start := 0
	if token := aws.ToString(params.ContinuationToken); token != "" {
		for i, key := range keys {
			if key > token {
				start = i
				break
			}
		}
	}

	end := start + f.pageSize
	if end > len(keys) {
		end = len(keys)
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, key := range keys[start:end] {
		out.Contents = append(out.Contents, s3types.Object{
			Key:          aws.String(key),
			Size:         aws.Int64(int64(len(f.objects[key].data))),
			LastModified: aws.Time(time.Now()),
			ETag:         aws.String(`"fake-etag"`),
		})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end-1])
	}
	return out, nil
}

func (f *fakeAPI) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if err := f.failWith["HeadBucket"]; err != nil {
		return nil, err
	}
	if !f.bucketExists {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeAPI) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	if err := f.failWith["CreateBucket"]; err != nil {
		return nil, err
	}
	f.bucketExists = true
	f.created = true
	return &s3.CreateBucketOutput{}, nil
}

// fakePresigner records the requested expiry and returns a deterministic URL.
type fakePresigner struct {
	lastExpires time.Duration
	err         error
}

func (f *fakePresigner) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	opts := s3.PresignOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	f.lastExpires = opts.Expires
	return &v4.PresignedHTTPRequest{
		URL: fmt.Sprintf("https://%s.s3.example/%s?X-Amz-Expires=%d",
			aws.ToString(params.Bucket), aws.ToString(params.Key), int(opts.Expires.Seconds())),
	}, nil
}

func newTestBackend(fake *fakeAPI, presign *fakePresigner) *Backend {
	return newBackend(fake, presign, "test-bucket")
}

func TestUploadAndDownload(t *testing.T) {
	fake := newFakeAPI()
	b := newTestBackend(fake, &fakePresigner{})
	ctx := context.Background()

	opts := types.UploadOptions{
		ContentType: "text/plain",
		Metadata:    map[string]string{"owner": "tests"},
	}
	location, err := b.Upload(ctx, "docs/readme.txt", strings.NewReader("hello"), opts)
	require.NoError(t, err)
	assert.Equal(t, "s3://test-bucket/docs/readme.txt", location)

	stored := fake.objects["docs/readme.txt"]
	assert.Equal(t, "text/plain", stored.contentType)
	assert.Equal(t, "tests", stored.metadata["owner"])
	assert.Empty(t, stored.acl, "no ACL unless the upload is public")

	data, err := b.Download(ctx, "docs/readme.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestUploadPublicSetsACL(t *testing.T) {
	fake := newFakeAPI()
	b := newTestBackend(fake, &fakePresigner{})

	_, err := b.Upload(context.Background(), "pub.txt", strings.NewReader("x"), types.UploadOptions{Public: true})
	require.NoError(t, err)
	assert.Equal(t, s3types.ObjectCannedACLPublicRead, fake.objects["pub.txt"].acl)
}

func TestDownloadNotFound(t *testing.T) {
	b := newTestBackend(newFakeAPI(), &fakePresigner{})

	_, err := b.Download(context.Background(), "missing.txt")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeObjectNotFound))
	assert.True(t, errors.IsNotFound(err))
}

func TestOpenStream(t *testing.T) {
	fake := newFakeAPI()
	b := newTestBackend(fake, &fakePresigner{})
	ctx := context.Background()

	_, err := b.Upload(ctx, "stream.bin", strings.NewReader("streamed"), types.UploadOptions{})
	require.NoError(t, err)

	rc, err := b.OpenStream(ctx, "stream.bin")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "streamed", string(data))
}

func TestDeleteMissingKeyIsNoOp(t *testing.T) {
	b := newTestBackend(newFakeAPI(), &fakePresigner{})

	// Unlike the local backend, remote delete of an absent key succeeds.
	assert.NoError(t, b.Delete(context.Background(), "never-existed.txt"))
}

func TestDeleteRemovesObject(t *testing.T) {
	fake := newFakeAPI()
	b := newTestBackend(fake, &fakePresigner{})
	ctx := context.Background()

	_, err := b.Upload(ctx, "doomed.txt", strings.NewReader("bye"), types.UploadOptions{})
	require.NoError(t, err)

	require.NoError(t, b.Delete(ctx, "doomed.txt"))
	assert.False(t, b.Exists(ctx, "doomed.txt"))
}

func TestListDrainsPagination(t *testing.T) {
	fake := newFakeAPI()
	fake.pageSize = 2
	b := newTestBackend(fake, &fakePresigner{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := b.Upload(ctx, fmt.Sprintf("batch/item-%d.txt", i), strings.NewReader("x"), types.UploadOptions{})
		require.NoError(t, err)
	}
	fake.listCalls = 0

	objects, err := b.List(ctx, "batch")
	require.NoError(t, err)
	assert.Len(t, objects, 5)
	assert.Equal(t, 3, fake.listCalls, "5 objects at page size 2 need 3 pages")

	keys := make([]string, len(objects))
	for i, obj := range objects {
		keys[i] = obj.Key
	}
	assert.Contains(t, keys, "batch/item-0.txt")
	assert.Contains(t, keys, "batch/item-4.txt")
}

func TestListPrefixFiltering(t *testing.T) {
	fake := newFakeAPI()
	b := newTestBackend(fake, &fakePresigner{})
	ctx := context.Background()

	for _, key := range []string{"a/one.txt", "a/two.txt", "b/three.txt"} {
		_, err := b.Upload(ctx, key, strings.NewReader("x"), types.UploadOptions{})
		require.NoError(t, err)
	}

	objects, err := b.List(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, objects, 2)

	all, err := b.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestExistsSwallowsErrors(t *testing.T) {
	fake := newFakeAPI()
	b := newTestBackend(fake, &fakePresigner{})
	ctx := context.Background()

	assert.False(t, b.Exists(ctx, "ghost.txt"))

	_, err := b.Upload(ctx, "real.txt", strings.NewReader("x"), types.UploadOptions{})
	require.NoError(t, err)
	assert.True(t, b.Exists(ctx, "real.txt"))

	// A transient backend failure also collapses to false, never an error.
	fake.failWith["HeadObject"] = stderrors.New("connection reset")
	assert.False(t, b.Exists(ctx, "real.txt"))
}

func TestSignedURL(t *testing.T) {
	presign := &fakePresigner{}
	b := newTestBackend(newFakeAPI(), presign)

	url, err := b.SignedURL(context.Background(), "docs/file.pdf", 15*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, "docs/file.pdf")
	assert.Equal(t, 15*time.Minute, presign.lastExpires)

	// A non-positive expiry falls back to one hour.
	_, err = b.SignedURL(context.Background(), "docs/file.pdf", 0)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, presign.lastExpires)
}

func TestCopy(t *testing.T) {
	fake := newFakeAPI()
	b := newTestBackend(fake, &fakePresigner{})
	ctx := context.Background()

	_, err := b.Upload(ctx, "src/orig.txt", strings.NewReader("payload"), types.UploadOptions{})
	require.NoError(t, err)

	require.NoError(t, b.Copy(ctx, "src/orig.txt", "dst/copy.txt"))

	data, err := b.Download(ctx, "dst/copy.txt")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	err = b.Copy(ctx, "src/missing.txt", "dst/nowhere.txt")
	assert.True(t, errors.HasCode(err, errors.ErrCodeObjectNotFound))
}

func TestTraversalKeysRejected(t *testing.T) {
	b := newTestBackend(newFakeAPI(), &fakePresigner{})
	ctx := context.Background()

	for _, key := range []string{"", "..", "."} {
		_, err := b.Upload(ctx, key, strings.NewReader("x"), types.UploadOptions{})
		assert.True(t, errors.HasCode(err, errors.ErrCodePathInvalid), "key %q", key)
	}

	// Traversal segments normalize away before reaching the API.
	_, err := b.Upload(ctx, "a/../b.txt", strings.NewReader("x"), types.UploadOptions{})
	require.NoError(t, err)
	fake := b.client.(*fakeAPI)
	_, ok := fake.objects["b.txt"]
	assert.True(t, ok, "expected normalized key b.txt, have %v", fake.objects)
}

func TestEnsureBucketCreatesWhenAbsent(t *testing.T) {
	fake := newFakeAPI()
	fake.bucketExists = false
	b := newTestBackend(fake, &fakePresigner{})

	require.NoError(t, b.ensureBucket(context.Background()))
	assert.True(t, fake.created)

	// Losing the create race to another writer is fine.
	fake.created = false
	fake.bucketExists = false
	fake.failWith["HeadBucket"] = &s3types.NotFound{}
	fake.failWith["CreateBucket"] = &s3types.BucketAlreadyOwnedByYou{}
	assert.NoError(t, b.ensureBucket(context.Background()))
}

func TestIsLoopbackEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		want     bool
	}{
		{"", false},
		{"http://localhost:9000", true},
		{"http://127.0.0.1:4566", true},
		{"http://[::1]:9000", true},
		{"https://s3.us-east-1.amazonaws.com", false},
		{"http://minio.internal:9000", false},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			if got := isLoopbackEndpoint(tt.endpoint); got != tt.want {
				t.Errorf("isLoopbackEndpoint(%q) = %v, want %v", tt.endpoint, got, tt.want)
			}
		})
	}
}
