package s3store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/metastore/pkg/backend/docstore"
	"github.com/odvcencio/metastore/pkg/metastore"
)

// fakeS3 is an in-memory bucket. Listing returns pageSize keys per page.
type fakeS3 struct {
	mu           sync.Mutex
	bucket       string
	objects      map[string][]byte
	contentTypes map[string]string
	pageSize     int
	failGet      error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		bucket:       "meta",
		objects:      make(map[string][]byte),
		contentTypes: make(map[string]string),
		pageSize:     2,
	}
}

func (f *fakeS3) checkBucket(b *string) error {
	if aws.ToString(b) != f.bucket {
		return &smithy.GenericAPIError{Code: "NoSuchBucket", Message: "no such bucket"}
	}
	return nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkBucket(in.Bucket); err != nil {
		return nil, err
	}
	if f.failGet != nil {
		return nil, f.failGet
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkBucket(in.Bucket); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	f.contentTypes[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkBucket(in.Bucket); err != nil {
		return nil, err
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, obj := range in.Delete.Objects {
		delete(f.objects, aws.ToString(obj.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) && k > aws.ToString(in.ContinuationToken) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if len(keys) > f.pageSize {
		keys = keys[:f.pageSize]
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[len(keys)-1])
	}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func newBackend(t *testing.T, fake *fakeS3, prefix string) *docstore.Backend {
	t.Helper()
	store, err := NewStore(fake, fake.bucket, prefix)
	require.NoError(t, err)
	return docstore.New(store, docstore.Config{Name: Name})
}

func TestCreateUsesPrefixedKeys(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	b := newBackend(t, fake, "/packages/")

	readme := "# pkg\n"
	info, err := b.Create(ctx, "owner/pkg", metastore.Metadata{"name": "pkg"}, metastore.CreateOptions{ReadMe: &readme})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"packages/owner/pkg/.revisions/" + info.RevisionID + ".json.zst",
		"packages/owner/pkg/README.md",
		"packages/owner/pkg/datapackage.json",
	}, fake.keys())
	assert.Equal(t, "application/json", fake.contentTypes["packages/owner/pkg/datapackage.json"])
	assert.Equal(t, "application/zstd", fake.contentTypes["packages/owner/pkg/.revisions/"+info.RevisionID+".json.zst"])

	_, err = b.Create(ctx, "owner/pkg", metastore.Metadata{}, metastore.CreateOptions{})
	require.ErrorIs(t, err, metastore.ErrConflict)
}

func TestFetchAndUpdate(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t, newFakeS3(), "")

	_, err := b.Fetch(ctx, "pkg", metastore.FetchOptions{})
	require.ErrorIs(t, err, metastore.ErrNotFound)

	created, err := b.Create(ctx, "pkg", metastore.Metadata{"title": "Old"}, metastore.CreateOptions{})
	require.NoError(t, err)
	_, err = b.Update(ctx, "pkg", metastore.Metadata{"title": "New"}, metastore.UpdateOptions{})
	require.NoError(t, err)

	cur, err := b.Fetch(ctx, "pkg", metastore.FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, "New", cur.Metadata["title"])
	rev, ok := cur.Metadata.Revision()
	require.True(t, ok)
	assert.Equal(t, int64(1), rev)

	old, err := b.Fetch(ctx, "pkg", metastore.FetchOptions{RevisionRef: created.RevisionID})
	require.NoError(t, err)
	assert.Equal(t, "Old", old.Metadata["title"])
}

func TestDeleteObjectAndPrefix(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	b := newBackend(t, fake, "p")

	_, err := b.Create(ctx, "pkg", metastore.Metadata{}, metastore.CreateOptions{})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		fake.objects["p/pkg/data/"+string(rune('a'+i))+".csv"] = []byte("x")
	}
	fake.objects["p/pkg2/datapackage.json"] = []byte("{}")

	_, err = b.Delete(ctx, "pkg", metastore.DeleteOptions{IsResource: true, Path: "data/z.csv"})
	require.ErrorIs(t, err, metastore.ErrNotFound)
	_, err = b.Delete(ctx, "pkg", metastore.DeleteOptions{IsResource: true, Path: "data/a.csv"})
	require.NoError(t, err)
	assert.NotContains(t, fake.keys(), "p/pkg/data/a.csv")

	_, err = b.Delete(ctx, "pkg", metastore.DeleteOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"p/pkg2/datapackage.json"}, fake.keys())

	_, err = b.Delete(ctx, "pkg", metastore.DeleteOptions{})
	require.ErrorIs(t, err, metastore.ErrNotFound)
}

func TestErrorMapping(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store, err := NewStore(fake, fake.bucket, "")
	require.NoError(t, err)

	fake.failGet = &smithy.GenericAPIError{Code: "NoSuchKey"}
	_, err = store.GetObject(ctx, "a")
	require.ErrorIs(t, err, metastore.ErrNotFound)

	boom := errors.New("connection reset")
	fake.failGet = boom
	_, err = store.GetObject(ctx, "a")
	require.ErrorIs(t, err, metastore.ErrTransport)
	require.ErrorIs(t, err, boom)

	wrong, err := NewStore(fake, "other", "")
	require.NoError(t, err)
	_, err = wrong.ObjectExists(ctx, "a")
	require.ErrorIs(t, err, metastore.ErrTransport)

	_, err = NewStore(fake, "", "")
	require.ErrorIs(t, err, metastore.ErrValidation)
}

func TestNewBuildsBackendWithoutNetwork(t *testing.T) {
	t.Setenv("AWS_CONFIG_FILE", "/nonexistent")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", "/nonexistent")
	b, err := New(context.Background(), Config{
		Endpoint:  "http://127.0.0.1:9000",
		Bucket:    "meta",
		Region:    "us-east-1",
		AccessKey: "minio",
		SecretKey: "minio123",
	}, docstore.Config{})
	require.NoError(t, err)
	assert.Equal(t, Name, b.Name())
}
