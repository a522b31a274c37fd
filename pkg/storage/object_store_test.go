package storage

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestManuscriptKey(t *testing.T) {
	if got := ManuscriptKey("ms-1", "My Novel.DOCX"); got != "manuscripts/ms-1.docx" {
		t.Fatalf("unexpected key: %q", got)
	}
	if got := ManuscriptKey("ms-2", "noext"); got != "manuscripts/ms-2" {
		t.Fatalf("unexpected key: %q", got)
	}
}

func TestContentTypeFor(t *testing.T) {
	if ct := ContentTypeFor(".PDF"); ct != "application/pdf" {
		t.Fatalf("unexpected content type: %q", ct)
	}
	if ct := ContentTypeFor(".xyz"); ct != "application/octet-stream" {
		t.Fatalf("unknown extensions fall back to octet-stream, got %q", ct)
	}
}

func TestMemoryObjectStoreRoundTrip(t *testing.T) {
	s := NewMemoryObjectStore()
	ctx := context.Background()

	key := ManuscriptKey("ms-1", "novel.txt")
	if err := s.Put(ctx, key, strings.NewReader("once upon a time"), 16, "text/plain"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := s.PresignGet(ctx, key, time.Minute); err != nil {
		t.Fatalf("presign: %v", err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.PresignGet(ctx, key, time.Minute); err == nil {
		t.Fatalf("presign after delete must fail")
	}
}
