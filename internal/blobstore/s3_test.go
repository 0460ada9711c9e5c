package blobstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

const testBucket = "test-bucket"

// fakeObject — объект в памяти mock S3.
type fakeObject struct {
	body        string
	contentType string
	meta        map[string]string
}

// fakeS3 — минимальный mock S3 API (path-style): HEAD/GET/PUT-copy объекта и HEAD бакета.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]*fakeObject
	copies  int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]*fakeObject)}
}

func (f *fakeS3) put(key, body, contentType string, meta map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = &fakeObject{body: body, contentType: contentType, meta: meta}
}

func (f *fakeS3) get(key string) *fakeObject {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[key]
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	if path == testBucket && r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	key, ok := strings.CutPrefix(path, testBucket+"/")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if key == "broken" {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `<Error><Code>InternalError</Code><Message>boom</Message></Error>`)
		return
	}

	switch r.Method {
	case http.MethodHead, http.MethodGet:
		obj := f.get(key)
		if obj == nil {
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<Error><Code>NoSuchKey</Code><Message>not found</Message></Error>`)
			return
		}
		w.Header().Set("Content-Type", obj.contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(obj.body)))
		w.Header().Set("ETag", `"etag-1"`)
		w.Header().Set("Last-Modified", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).Format(http.TimeFormat))
		for k, v := range obj.meta {
			w.Header().Set("X-Amz-Meta-"+k, v)
		}
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = io.WriteString(w, obj.body)
		}

	case http.MethodPut:
		src := r.Header.Get("X-Amz-Copy-Source")
		if src == "" {
			w.WriteHeader(http.StatusNotImplemented)
			return
		}
		srcKey, _ := url.PathUnescape(strings.TrimPrefix(strings.TrimPrefix(src, "/"), testBucket+"/"))
		obj := f.get(srcKey)
		if obj == nil {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<Error><Code>NoSuchKey</Code><Message>not found</Message></Error>`)
			return
		}
		meta := map[string]string{}
		for k, v := range r.Header {
			if rest, ok := strings.CutPrefix(k, "X-Amz-Meta-"); ok {
				meta[strings.ToLower(rest)] = v[0]
			}
		}
		contentType := obj.contentType
		if ct := r.Header.Get("Content-Type"); ct != "" {
			contentType = ct
		}
		f.mu.Lock()
		f.copies++
		f.mu.Unlock()
		f.put(key, obj.body, contentType, meta)

		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `<CopyObjectResult><ETag>"etag-2"</ETag><LastModified>2026-01-02T03:04:05.000Z</LastModified></CopyObjectResult>`)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// newTestClient создаёт клиента, направленного на mock S3.
func newTestClient(t *testing.T, fake *fakeS3) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	c, err := New(context.Background(), Config{
		Endpoint:       srv.URL,
		Region:         "us-east-1",
		Bucket:         testBucket,
		AccessKey:      "test-access",
		SecretKey:      "test-secret",
		ForcePathStyle: true,
		MaxAttempts:    1,
	}, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, srv
}

func TestPresignPut(t *testing.T) {
	c, srv := newTestClient(t, newFakeS3())

	raw, err := c.PresignPut(context.Background(), "private/uploads/abc", 15*time.Minute)
	if err != nil {
		t.Fatalf("PresignPut: %v", err)
	}
	if !strings.HasPrefix(raw, srv.URL+"/"+testBucket+"/private/uploads/abc?") {
		t.Errorf("URL = %q, ожидался path-style URL mock-сервера", raw)
	}
	if !strings.Contains(raw, "X-Amz-Expires=900") {
		t.Errorf("URL = %q, ожидался X-Amz-Expires=900", raw)
	}
}

func TestPresignGet_Filename(t *testing.T) {
	c, _ := newTestClient(t, newFakeS3())

	raw, err := c.PresignGet(context.Background(), "private/uploads/abc", time.Hour, "part.step")
	if err != nil {
		t.Fatalf("PresignGet: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	if got := u.Query().Get("response-content-disposition"); !strings.Contains(got, "part.step") {
		t.Errorf("response-content-disposition = %q, ожидалось имя файла", got)
	}
	if u.Query().Get("X-Amz-Expires") != "3600" {
		t.Errorf("X-Amz-Expires = %q, хотели 3600", u.Query().Get("X-Amz-Expires"))
	}
}

func TestStat(t *testing.T) {
	fake := newFakeS3()
	fake.put("private/uploads/a", "hello", "model/step", map[string]string{"acl-owner": "u1"})
	c, _ := newTestClient(t, fake)

	info, err := c.Stat(context.Background(), "private/uploads/a")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.ContentType != "model/step" {
		t.Errorf("ContentType = %q, хотели model/step", info.ContentType)
	}
	if info.ContentLength != 5 {
		t.Errorf("ContentLength = %d, хотели 5", info.ContentLength)
	}
	if info.Metadata["acl-owner"] != "u1" {
		t.Errorf("Metadata = %v, ожидался acl-owner=u1", info.Metadata)
	}
}

func TestStat_NotFound(t *testing.T) {
	c, _ := newTestClient(t, newFakeS3())

	_, err := c.Stat(context.Background(), "private/uploads/missing")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("ожидалась ErrObjectNotFound, получено %v", err)
	}
}

func TestStat_Unavailable(t *testing.T) {
	c, _ := newTestClient(t, newFakeS3())

	_, err := c.Stat(context.Background(), "broken")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("ожидалась ErrUnavailable, получено %v", err)
	}
}

func TestOpen(t *testing.T) {
	fake := newFakeS3()
	fake.put("public/logo.svg", "<svg/>", "image/svg+xml", nil)
	c, _ := newTestClient(t, fake)

	obj, err := c.Open(context.Background(), "public/logo.svg")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer obj.Body.Close()

	data, err := io.ReadAll(obj.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "<svg/>" {
		t.Errorf("Body = %q, хотели <svg/>", data)
	}

	if _, err := c.Open(context.Background(), "public/missing.svg"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("ожидалась ErrObjectNotFound, получено %v", err)
	}
}

func TestReplaceMetadata(t *testing.T) {
	fake := newFakeS3()
	fake.put("private/uploads/a", "data", "application/pdf", map[string]string{"acl-owner": "old", "stale": "x"})
	c, _ := newTestClient(t, fake)

	err := c.ReplaceMetadata(context.Background(), "private/uploads/a", "application/pdf",
		map[string]string{"acl-owner": "u1", "acl-visibility": "private"})
	if err != nil {
		t.Fatalf("ReplaceMetadata: %v", err)
	}

	obj := fake.get("private/uploads/a")
	if obj.meta["acl-owner"] != "u1" || obj.meta["acl-visibility"] != "private" {
		t.Errorf("meta = %v, ожидалась новая политика", obj.meta)
	}
	if _, ok := obj.meta["stale"]; ok {
		t.Error("старые метаданные должны быть заменены целиком")
	}
	if obj.body != "data" || obj.contentType != "application/pdf" {
		t.Errorf("содержимое изменилось: %q %q", obj.body, obj.contentType)
	}
}

func TestReplaceMetadata_NotFound(t *testing.T) {
	c, _ := newTestClient(t, newFakeS3())

	err := c.ReplaceMetadata(context.Background(), "private/uploads/none", "", map[string]string{"acl-owner": "u1"})
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("ожидалась ErrObjectNotFound, получено %v", err)
	}
}

func TestCheckBucket(t *testing.T) {
	c, _ := newTestClient(t, newFakeS3())
	if err := c.CheckBucket(context.Background()); err != nil {
		t.Errorf("CheckBucket: %v", err)
	}
}

func TestKeyFromURL(t *testing.T) {
	c, srv := newTestClient(t, newFakeS3())
	u, _ := url.Parse(srv.URL)

	tests := []struct {
		raw     string
		wantKey string
		wantOK  bool
	}{
		{srv.URL + "/test-bucket/private/uploads/abc?X-Amz-Signature=x", "private/uploads/abc", true},
		{"http://test-bucket." + u.Host + "/private/uploads/abc", "private/uploads/abc", true},
		{srv.URL + "/other-bucket/private/uploads/abc", "", false},
		{srv.URL + "/test-bucket/", "", false},
		{"https://cdn.example.com/test-bucket/a", "", false},
		{"/objects/uploads/abc", "", false},
		{"::not a url", "", false},
	}

	for _, tt := range tests {
		key, ok := c.KeyFromURL(tt.raw)
		if ok != tt.wantOK || key != tt.wantKey {
			t.Errorf("KeyFromURL(%q) = (%q, %v), хотели (%q, %v)", tt.raw, key, ok, tt.wantKey, tt.wantOK)
		}
	}
}

func TestContentDisposition(t *testing.T) {
	if got := ContentDisposition("part.step"); got != "attachment; filename=part.step" {
		t.Errorf("ContentDisposition = %q", got)
	}
	if got := ContentDisposition("деталь.step"); !strings.HasPrefix(got, "attachment; filename*=utf-8''") {
		t.Errorf("ContentDisposition для не-ASCII = %q, ожидалось RFC 2231 кодирование", got)
	}
}
