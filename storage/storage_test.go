package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKey(t *testing.T) {
	key := NewKey("/denuncias-roo/", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, strings.HasPrefix(key, "denuncias-roo/"), key)
	assert.Len(t, strings.TrimPrefix(key, "denuncias-roo/"), 26)
	assert.NotEqual(t, key, NewKey("denuncias-roo", time.Now()))
}

func TestLocalHost(t *testing.T) {
	dir := t.TempDir()
	h, err := NewLocalHost(dir, "http://localhost:8080/uploads/")
	require.NoError(t, err)

	obj, err := h.Upload(context.Background(), "denuncias-roo/abc", []byte("jpeg bytes"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "denuncias-roo/abc.jpg", obj.Key)
	assert.Equal(t, "http://localhost:8080/uploads/denuncias-roo/abc.jpg", obj.URL)

	data, err := os.ReadFile(filepath.Join(dir, "denuncias-roo", "abc.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(data))

	require.NoError(t, h.Delete(context.Background(), obj.Key))
	_, err = os.Stat(filepath.Join(dir, "denuncias-roo", "abc.jpg"))
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, h.Delete(context.Background(), obj.Key), "deleting twice is fine")

	// keys cannot escape the upload dir
	obj, err = h.Upload(context.Background(), "../../etc/evil", []byte("x"), "")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "etc", "evil"))
	assert.NoError(t, err, obj.Key)
}

func TestCloudHostUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "denuncias-roo", r.FormValue("folder"))
		assert.Equal(t, "abc", r.FormValue("public_id"))
		assert.Equal(t, "key123", r.FormValue("api_key"))
		assert.Equal(t, "1709251200", r.FormValue("timestamp"))
		assert.Len(t, r.FormValue("signature"), 40)

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "abc.jpg", header.Filename)

		fmt.Fprint(w, `{"secure_url": "https://cdn.example.org/denuncias-roo/abc.jpg", "public_id": "denuncias-roo/abc"}`)
	}))
	defer srv.Close()

	h := NewCloudHost(CloudConfig{UploadURL: srv.URL, APIKey: "key123", APISecret: "s3cr3t"})
	h.now = func() time.Time { return time.Unix(1709251200, 0) }

	obj, err := h.Upload(context.Background(), "denuncias-roo/abc", []byte("jpeg bytes"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "denuncias-roo/abc", obj.Key)
	assert.Equal(t, "https://cdn.example.org/denuncias-roo/abc.jpg", obj.URL)
}

func TestCloudHostUploadRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": {"message": "Invalid Signature"}}`)
	}))
	defer srv.Close()

	h := NewCloudHost(CloudConfig{UploadURL: srv.URL, UploadPreset: "unsigned"})
	_, err := h.Upload(context.Background(), "abc", []byte("x"), "image/jpeg")
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "Invalid Signature")
	}
}

func TestCloudHostDelete(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "denuncias-roo/abc", r.PostForm.Get("public_id"))
		assert.NotEmpty(t, r.PostForm.Get("signature"))
		fmt.Fprint(w, `{"result": "ok"}`)
	}))
	defer srv.Close()

	h := NewCloudHost(CloudConfig{DestroyURL: srv.URL, APIKey: "k", APISecret: "s"})
	require.NoError(t, h.Delete(context.Background(), "denuncias-roo/abc"))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	assert.Error(t, NewCloudHost(CloudConfig{}).Delete(context.Background(), "x"))
}

func TestCloudHostSignature(t *testing.T) {
	h := NewCloudHost(CloudConfig{APISecret: "abcd"})
	assert.Equal(t, "c3470533147774275dd37996cc4d0e68fd03cd4f",
		h.sign(map[string]string{"timestamp": "1315060510", "public_id": "sample"}))
}

type failingHost struct {
	uploads int32
	deletes int32
}

func (f *failingHost) Name() string { return "failing" }

func (f *failingHost) Upload(context.Context, string, []byte, string) (*Object, error) {
	atomic.AddInt32(&f.uploads, 1)
	return nil, errors.New("503 service unavailable")
}

func (f *failingHost) Delete(context.Context, string) error {
	atomic.AddInt32(&f.deletes, 1)
	return nil
}

func TestBreakerHostOpens(t *testing.T) {
	inner := &failingHost{}
	h := NewBreakerHost(inner, 3, time.Minute)

	for i := 0; i < 3; i++ {
		_, err := h.Upload(context.Background(), "k", nil, "image/jpeg")
		assert.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen.String(), h.State())

	_, err := h.Upload(context.Background(), "k", nil, "image/jpeg")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.EqualValues(t, 3, atomic.LoadInt32(&inner.uploads), "open breaker must not reach the host")

	assert.NoError(t, h.Delete(context.Background(), "k"))
	assert.EqualValues(t, 1, atomic.LoadInt32(&inner.deletes))
}
