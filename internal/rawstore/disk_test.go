package rawstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestDiskPutGetDelete(t *testing.T) {
	d, err := NewDisk(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	key := Key("hr", "file-1")
	body := []byte("original bytes")
	if err := d.Put(ctx, key, bytes.NewReader(body), int64(len(body)), "text/plain"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	rc, err := d.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, body) {
		t.Errorf("got %q", got)
	}
	if err := d.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := d.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestDiskPutOverwrites(t *testing.T) {
	d, _ := NewDisk(t.TempDir())
	ctx := context.Background()
	key := Key("it", "file-2")
	_ = d.Put(ctx, key, strings.NewReader("v1"), 2, "text/plain")
	if err := d.Put(ctx, key, strings.NewReader("v2"), 2, "text/plain"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	rc, err := d.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if string(got) != "v2" {
		t.Errorf("got %q, want v2", got)
	}
}

func TestDiskDeleteMissingIsNoError(t *testing.T) {
	d, _ := NewDisk(t.TempDir())
	if err := d.Delete(context.Background(), Key("hr", "never-stored")); err != nil {
		t.Errorf("deleting a missing key should succeed, got %v", err)
	}
}

func TestDiskRejectsTraversal(t *testing.T) {
	d, _ := NewDisk(t.TempDir())
	if err := d.Put(context.Background(), "../escape", strings.NewReader("x"), 1, ""); err == nil {
		t.Error("expected error for traversal key")
	}
}
