package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portraitstudio/internal/domain"
)

const sessionID = "6f1c1b9e-3f57-4b8a-9a53-5a7c1f0f2f10"

func TestFileStoreUploadIsIdempotentByPath(t *testing.T) {
	root := t.TempDir()
	fs, err := NewFileStore(root, "http://localhost:8080/static/")
	require.NoError(t, err)
	store := NewArtifactStore(fs, nil, nil)

	id := domain.ArtifactID(sessionID, domain.StyleWatercolor)
	first, err := store.Upload(context.Background(), []byte("v1"), id)
	require.NoError(t, err)
	second, err := store.Upload(context.Background(), []byte("v2"), id)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "http://localhost:8080/static/portraits/"+sessionID+"/watercolor.jpg", first)

	onDisk, err := os.ReadFile(filepath.Join(root, "portraits", sessionID, "watercolor.jpg"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), onDisk)

	url, err := store.URLFor(id)
	require.NoError(t, err)
	assert.Equal(t, first, url)
}

func TestUploadWithoutBackend(t *testing.T) {
	store := NewArtifactStore(nil, nil, nil)
	_, err := store.Upload(context.Background(), []byte("x"), domain.ArtifactID(sessionID, domain.StylePopArt))
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

type failingStore struct{}

func (failingStore) Write(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	return "", errors.New("disk full")
}

func (failingStore) Read(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New("disk gone")
}

func (failingStore) URL(key string) string { return "" }

func TestUploadBackendFailure(t *testing.T) {
	store := NewArtifactStore(failingStore{}, nil, nil)
	_, err := store.Upload(context.Background(), []byte("x"), domain.ArtifactID(sessionID, domain.StylePopArt))
	assert.ErrorIs(t, err, domain.ErrUploadFailed)
	assert.Contains(t, err.Error(), "disk full")
}

func TestUploadRejectsMalformedID(t *testing.T) {
	fs, err := NewFileStore(t.TempDir(), "http://x")
	require.NoError(t, err)
	_, err = NewArtifactStore(fs, nil, nil).Upload(context.Background(), []byte("x"), "../../etc/passwd")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestFetchFallsBackToHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.jpg" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("remote-bytes"))
	}))
	defer srv.Close()

	fs, err := NewFileStore(t.TempDir(), "http://unused")
	require.NoError(t, err)
	store := NewArtifactStore(fs, srv.Client(), nil)
	id := domain.ArtifactID(sessionID, domain.StyleCyberpunk)

	data, err := store.Fetch(context.Background(), id, srv.URL+"/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("remote-bytes"), data)

	_, err = store.Upload(context.Background(), []byte("local-bytes"), id)
	require.NoError(t, err)
	data, err = store.Fetch(context.Background(), id, srv.URL+"/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("local-bytes"), data)

	_, err = store.Fetch(context.Background(), domain.ArtifactID(sessionID, domain.StylePopArt), srv.URL+"/missing.jpg")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestSanitizeKey(t *testing.T) {
	key, err := sanitizeKey(`\portraits\a\b.jpg`)
	require.NoError(t, err)
	assert.Equal(t, "portraits/a/b.jpg", key)

	for _, bad := range []string{"", "  ", "..", "../x", "/../../x"} {
		_, err := sanitizeKey(bad)
		assert.Error(t, err, bad)
	}
}

type fakeS3 struct {
	objects map[string][]byte
	types   map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[key] = data
	f.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3StoreRoundTrip(t *testing.T) {
	fake := newFakeS3()
	s3store := newS3Store(fake, S3Config{Bucket: "portraits-bucket", Region: "eu-west-1", Prefix: "/prod/"})
	store := NewArtifactStore(s3store, nil, nil)
	id := domain.ArtifactID(sessionID, domain.StyleOilPainting)

	url, err := store.Upload(context.Background(), []byte("jpeg"), id)
	require.NoError(t, err)
	assert.Equal(t, "https://portraits-bucket.s3.eu-west-1.amazonaws.com/prod/portraits/"+sessionID+"/oil_painting.jpg", url)

	objectKey := "portraits-bucket/prod/portraits/" + sessionID + "/oil_painting.jpg"
	assert.Equal(t, "image/jpeg", fake.types[objectKey])

	data, err := store.Fetch(context.Background(), id, "")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), data)

	_, err = s3store.Read(context.Background(), "portraits/none.jpg")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestS3StorePublicURLVariants(t *testing.T) {
	assert.Equal(t, "http://minio:9000/b/k.jpg", newS3Store(newFakeS3(), S3Config{Bucket: "b", Endpoint: "http://minio:9000/"}).URL("k.jpg"))
	assert.Equal(t, "https://cdn.example.com/k.jpg", newS3Store(newFakeS3(), S3Config{Bucket: "b", PublicURL: "https://cdn.example.com/"}).URL("/k.jpg"))
}
