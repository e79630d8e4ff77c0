package cache

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func TestNullCache(t *testing.T) {
	ctx := context.Background()
	c := NewNullCache()
	defer c.Close()

	if err := c.Set(ctx, "key", []byte("value"), time.Hour); err != nil {
		t.Errorf("Set error: %v", err)
	}
	data, hit, err := c.Get(ctx, "key")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if hit || data != nil {
		t.Error("NullCache should not store data")
	}
	if err := c.Delete(ctx, "key"); err != nil {
		t.Errorf("Delete error: %v", err)
	}
}

func testCacheRoundTrip(t *testing.T, c Cache) {
	t.Helper()
	ctx := context.Background()

	if _, hit, err := c.Get(ctx, "missing"); err != nil || hit {
		t.Fatalf("Get(missing) = hit %v, err %v", hit, err)
	}
	if err := c.Set(ctx, "k", []byte("layout"), time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	data, hit, err := c.Get(ctx, "k")
	if err != nil || !hit || string(data) != "layout" {
		t.Fatalf("Get(k) = %q, %v, %v", data, hit, err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, hit, _ := c.Get(ctx, "k"); hit {
		t.Error("Get after Delete should miss")
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete of missing key: %v", err)
	}
}

func TestFileCache(t *testing.T) {
	c, err := NewFileCache(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewFileCache: %v", err)
	}
	testCacheRoundTrip(t, c)
}

func TestFileCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c, err := NewFileCache(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewFileCache: %v", err)
	}
	if err := c.Set(ctx, "k", []byte("v"), time.Nanosecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(time.Millisecond)
	if _, hit, _ := c.Get(ctx, "k"); hit {
		t.Error("expired entry should miss")
	}
	if _, err := os.Stat(c.path("k")); !os.IsNotExist(err) {
		t.Error("expired entry should be removed")
	}
}

func TestFileCacheCorruptEntry(t *testing.T) {
	ctx := context.Background()
	c, err := NewFileCache(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewFileCache: %v", err)
	}
	path := c.path("k")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, hit, err := c.Get(ctx, "k"); hit || err != nil {
		t.Errorf("corrupt entry: hit %v, err %v", hit, err)
	}
}

func TestFileCacheClear(t *testing.T) {
	ctx := context.Background()
	c, err := NewFileCache(filepath.Join(t.TempDir(), "cache"), time.Hour)
	if err != nil {
		t.Fatalf("NewFileCache: %v", err)
	}
	_ = c.Set(ctx, "a", []byte("1"), 0)
	_ = c.Set(ctx, "b", []byte("2"), 0)
	if err := c.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	entries, err := os.ReadDir(c.Dir())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("cache dir has %d entries after Clear", len(entries))
	}
}

func TestFileCacheCancelledContext(t *testing.T) {
	c, err := NewFileCache(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewFileCache: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := c.Get(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Errorf("Get err = %v", err)
	}
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)
	testCacheRoundTrip(t, c)

	_ = c.Set(context.Background(), "a", []byte("1"), 0)
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
	_ = c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len after Clear = %d", c.Len())
	}
}

func TestLayeredCachePromotes(t *testing.T) {
	ctx := context.Background()
	front := NewMemoryCache(time.Minute, time.Minute)
	back := NewMemoryCache(time.Minute, time.Minute)
	c := NewLayeredCache(front, back, nil)
	testCacheRoundTrip(t, c)

	_ = back.Set(ctx, "only-back", []byte("v"), 0)
	data, hit, err := c.Get(ctx, "only-back")
	if err != nil || !hit || string(data) != "v" {
		t.Fatalf("Get = %q, %v, %v", data, hit, err)
	}
	if _, hit, _ := front.Get(ctx, "only-back"); !hit {
		t.Error("back-cache hit should be promoted to the front cache")
	}
}

// readOnlyCache fails every write.
type readOnlyCache struct{ Cache }

func (readOnlyCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("read-only")
}

func TestLayeredCacheLogsBackfillFailure(t *testing.T) {
	ctx := context.Background()
	back := NewMemoryCache(time.Minute, time.Minute)
	_ = back.Set(ctx, "k", []byte("v"), 0)

	var buf bytes.Buffer
	logger := log.NewWithOptions(&buf, log.Options{Level: log.DebugLevel})
	c := NewLayeredCache(readOnlyCache{NewNullCache()}, back, logger)

	data, hit, err := c.Get(ctx, "k")
	if err != nil || !hit || string(data) != "v" {
		t.Fatalf("Get = %q, %v, %v", data, hit, err)
	}
	if !strings.Contains(buf.String(), "front cache backfill failed") || !strings.Contains(buf.String(), "read-only") {
		t.Errorf("log = %q, want backfill failure", buf.String())
	}
}

func TestHash(t *testing.T) {
	h1 := Hash([]byte("hello"))
	if h1 != Hash([]byte("hello")) {
		t.Error("Hash should be deterministic")
	}
	if h1 == Hash([]byte("world")) {
		t.Error("Different inputs should produce different hashes")
	}
	if len(h1) != 64 {
		t.Errorf("Hash length should be 64, got %d", len(h1))
	}
}

func TestHashJSONIgnoresMapOrder(t *testing.T) {
	a := map[string][]string{"person": {"Hannibal"}, "place": {"Cannae"}}
	b := map[string][]string{"place": {"Cannae"}, "person": {"Hannibal"}}
	ha, err := HashJSON(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, _ := HashJSON(b)
	if ha != hb {
		t.Error("HashJSON should not depend on map insertion order")
	}
	if _, err := HashJSON(make(chan int)); err == nil {
		t.Error("HashJSON should fail for unencodable values")
	}
}

func TestDefaultKeyer(t *testing.T) {
	k := NewDefaultKeyer()

	a1 := k.ArtifactKey("h", ArtifactKeyOpts{Format: "json", Height: 400})
	a2 := k.ArtifactKey("h", ArtifactKeyOpts{Format: "json", Height: 600})
	if a1 == a2 {
		t.Error("different ArtifactKeyOpts should produce different keys")
	}
	if !strings.HasPrefix(a1, KeyTypeArtifact+":") {
		t.Errorf("ArtifactKey = %s", a1)
	}

	r1 := k.ResultKey(`{"type":"plottimeline"}`, "")
	r2 := k.ResultKey(`{"type":"plottimeline"}`, `{"points":["c1"]}`)
	if r1 == r2 {
		t.Error("constraint should change the result key")
	}
}

func TestScopedKeyer(t *testing.T) {
	inner := NewDefaultKeyer()
	scoped := NewScopedKeyer(inner, "staging:")

	opts := ArtifactKeyOpts{Format: "json"}
	if got, want := scoped.ArtifactKey("h", opts), "staging:"+inner.ArtifactKey("h", opts); got != want {
		t.Errorf("ArtifactKey = %s, want %s", got, want)
	}
	if got := NewScopedKeyer(nil, "p:").ResultKey("v", ""); got != "p:"+inner.ResultKey("v", "") {
		t.Errorf("nil inner keyer: %s", got)
	}
}

func TestRetryableError(t *testing.T) {
	if Retryable(nil) != nil {
		t.Error("Retryable(nil) should return nil")
	}
	err := Retryable(ErrNetwork)
	if !IsRetryable(err) {
		t.Error("IsRetryable should return true for wrapped error")
	}
	if !errors.Is(err, ErrNetwork) {
		t.Error("wrapped error should match ErrNetwork")
	}
	if IsRetryable(errors.New("boom")) {
		t.Error("IsRetryable should return false for unwrapped error")
	}
}

func TestRetryWithBackoff(t *testing.T) {
	retryDelay = time.Millisecond
	defer func() { retryDelay = 200 * time.Millisecond }()
	ctx := context.Background()
	permanent := errors.New("permanent")

	tests := []struct {
		name      string
		failUntil int
		err       error
		wantCalls int
		wantErr   error
	}{
		{"success", 0, nil, 1, nil},
		{"permanent error", 5, permanent, 1, permanent},
		{"retry then succeed", 2, Retryable(ErrNetwork), 3, nil},
		{"exhausted", 5, Retryable(ErrNetwork), 3, ErrNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := RetryWithBackoff(ctx, func() error {
				calls++
				if calls <= tt.failUntil {
					return tt.err
				}
				return nil
			})
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRetryWithBackoffContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RetryWithBackoff(ctx, func() error {
		return Retryable(ErrNetwork)
	})
	if err != context.Canceled {
		t.Errorf("Should return context error: %v", err)
	}
}
