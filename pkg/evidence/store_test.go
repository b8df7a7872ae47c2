package evidence

import (
	"context"
	"strings"
	"testing"
)

func TestFileStorePutGet(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	data := []byte(`{"receipt":"daan-2026-001","amount":"35.00"}`)
	ref, err := st.Put(ctx, data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasPrefix(ref, RefPrefix) {
		t.Fatalf("ref %q missing %s prefix", ref, RefPrefix)
	}
	if ref != Ref(data) {
		t.Fatalf("ref mismatch: %s vs %s", ref, Ref(data))
	}

	got, err := st.Get(ctx, ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("round-trip mismatch: %s", got)
	}
}

func TestFileStorePutIdempotent(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	data := []byte("witness statement")
	ref1, err := st.Put(ctx, data)
	if err != nil {
		t.Fatalf("first Put: %v", err)
	}
	ref2, err := st.Put(ctx, data)
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if ref1 != ref2 {
		t.Fatalf("refs differ: %s vs %s", ref1, ref2)
	}
}

func TestFileStoreExistsAndDelete(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	ref, err := st.Put(ctx, []byte("temple donation receipt"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	ok, err := st.Exists(ctx, ref)
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v; want true", ok, err)
	}

	if err := st.Delete(ctx, ref); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	ok, err = st.Exists(ctx, ref)
	if err != nil || ok {
		t.Fatalf("Exists after delete = %v, %v; want false", ok, err)
	}

	// Deleting again is a no-op.
	if err := st.Delete(ctx, ref); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestInvalidRefs(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	for _, ref := range []string{"", "abc123", "md5:deadbeef", "sha256:not-hex!"} {
		if _, err := st.Get(ctx, ref); err == nil {
			t.Errorf("Get(%q) accepted invalid ref", ref)
		}
		if _, err := st.Exists(ctx, ref); err == nil {
			t.Errorf("Exists(%q) accepted invalid ref", ref)
		}
	}
}

func TestGetMissing(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	ref := Ref([]byte("never stored"))
	if _, err := st.Get(context.Background(), ref); err == nil {
		t.Fatal("expected error for missing evidence")
	}
}

func TestNewStoreFromEnvDefaultsToFS(t *testing.T) {
	t.Setenv("SAMSARA_EVIDENCE_BACKEND", "")
	t.Setenv("SAMSARA_DATA_DIR", t.TempDir())

	st, err := NewStoreFromEnv(context.Background())
	if err != nil {
		t.Fatalf("NewStoreFromEnv: %v", err)
	}
	if _, ok := st.(*FileStore); !ok {
		t.Fatalf("expected *FileStore, got %T", st)
	}
}

func TestNewStoreFromEnvS3RequiresBucket(t *testing.T) {
	t.Setenv("SAMSARA_EVIDENCE_BACKEND", "s3")
	t.Setenv("SAMSARA_EVIDENCE_S3_BUCKET", "")

	if _, err := NewStoreFromEnv(context.Background()); err == nil {
		t.Fatal("expected error without bucket")
	}
}

func TestNewStoreFromEnvUnknownBackend(t *testing.T) {
	t.Setenv("SAMSARA_EVIDENCE_BACKEND", "tape")
	if _, err := NewStoreFromEnv(context.Background()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
