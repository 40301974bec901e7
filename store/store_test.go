package store

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/rushteam/feedrec/core"
)

func exerciseBlobStore(t *testing.T, s core.Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !core.IsStoreNotFound(err) {
		t.Fatalf("Get(missing) err = %v, want store not found", err)
	}

	if err := s.Set(ctx, "a", []byte("1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "a")
	if err != nil || string(got) != "1" {
		t.Fatalf("Get(a) = %q, %v", got, err)
	}

	if err := s.BatchSet(ctx, map[string][]byte{"b": []byte("2"), "c": []byte("3")}); err != nil {
		t.Fatalf("BatchSet: %v", err)
	}
	vals, err := s.BatchGet(ctx, []string{"a", "b", "c", "d"})
	if err != nil {
		t.Fatalf("BatchGet: %v", err)
	}
	if len(vals) != 3 || string(vals["b"]) != "2" || string(vals["c"]) != "3" {
		t.Fatalf("BatchGet = %v", vals)
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "a"); !core.IsNotFound(err) {
		t.Fatalf("Get after delete err = %v", err)
	}
	if err := s.Delete(ctx, "never-existed"); err != nil {
		t.Fatalf("Delete(missing) = %v, want nil", err)
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	exerciseBlobStore(t, s)
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	buf := []byte("abc")
	_ = s.Set(ctx, "k", buf)
	buf[0] = 'x'
	got, _ := s.Get(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("stored value mutated: %q", got)
	}
}

func TestBadgerStore_InMemory(t *testing.T) {
	s, err := NewBadgerStore("")
	if err != nil {
		t.Fatalf("NewBadgerStore: %v", err)
	}
	defer s.Close()
	exerciseBlobStore(t, s)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("FEEDREC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("需要设置 FEEDREC_TEST_REDIS_ADDR 连接真实的 Redis 才能运行")
	}
	db, _ := strconv.Atoi(os.Getenv("FEEDREC_TEST_REDIS_DB"))
	s, err := NewRedisStore(addr, db)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer s.Close()
	exerciseBlobStore(t, s)
}

func TestNewBlobStore(t *testing.T) {
	tests := []struct {
		name    string
		opts    BlobOptions
		want    string
		wantErr bool
	}{
		{name: "default is memory", opts: BlobOptions{}, want: "memory"},
		{name: "badger in memory", opts: BlobOptions{Backend: BackendBadger}, want: "badger"},
		{name: "unknown backend", opts: BlobOptions{Backend: "s3"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewBlobStore(tt.opts)
			if tt.wantErr {
				if !core.IsNotSupported(err) {
					t.Fatalf("err = %v, want NOT_SUPPORTED", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewBlobStore: %v", err)
			}
			defer s.Close()
			if s.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", s.Name(), tt.want)
			}
		})
	}
}
