package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler, cfg Config) *BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, cfg)
	require.NoError(t, err)
	return store
}

func TestPutObjectUploadsUnderPrefix(t *testing.T) {
	t.Parallel()

	var gotName, gotBody string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/snapshots/o")
		gotName = r.URL.Query().Get("name")
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		gotBody = string(body)
		_, _ = fmt.Fprintf(w, `{"name": %q, "bucket": "snapshots"}`, gotName)
	})

	store := newTestStore(t, handler, Config{Bucket: "snapshots", Prefix: "/userdir/"})
	uri, err := store.PutObject(context.Background(), "run-1/curated.json", "application/json", strings.NewReader(`[{"id":1}]`))
	require.NoError(t, err)
	assert.Equal(t, "gs://snapshots/userdir/run-1/curated.json", uri)
	assert.Equal(t, "userdir/run-1/curated.json", gotName)
	assert.Contains(t, gotBody, `[{"id":1}]`)
	assert.Contains(t, gotBody, "application/json")
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	store := newTestStore(t, handler, Config{Bucket: "snapshots"})
	_, err := store.PutObject(context.Background(), "raw.json", "application/json", strings.NewReader("[]"))
	assert.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	assert.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = New(client, Config{Bucket: " "})
	assert.Error(t, err)

	store, err := New(client, Config{Bucket: "b"})
	require.NoError(t, err)
	assert.Equal(t, "raw.json", store.ObjectName("/raw.json"))
	_, err = store.PutObject(context.Background(), "", "", strings.NewReader(""))
	assert.Error(t, err)
}
