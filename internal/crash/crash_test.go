package crash

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"genstudio/internal/storage"
)

func TestWriteReportCreatesFileInTemp(t *testing.T) {
	path, err := writeReport(nil, "boom", []byte("stacktrace"))
	if err != nil {
		t.Fatalf("writeReport error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("report file missing: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, "GenStudio Crash Report") {
		t.Fatalf("report header missing")
	}
	if !strings.Contains(s, "Panic: boom") {
		t.Fatalf("panic content missing: %s", s)
	}
}

func TestWriteReportCreatesFileNextToSlot(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	st, err := storage.Open(ctx, storage.Options{Path: filepath.Join(root, "studio.snapshot")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = st.Close(ctx) }()

	path, err := writeReport(st, "kaboom", []byte("stack"))
	if err != nil {
		t.Fatalf("writeReport error: %v", err)
	}
	if filepath.Dir(path) != root {
		t.Fatalf("expected crash report next to snapshot slot, got %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("report file missing: %v", err)
	}
}
