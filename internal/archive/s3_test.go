package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"spaces-summarizer/internal/logging"
)

func TestLocalArchiveWritesDatedKey(t *testing.T) {
	dir := t.TempDir()
	a, err := New(context.Background(), "", "", dir, logging.NewTest())
	if err != nil {
		t.Fatalf("new archiver: %v", err)
	}

	if err := a.Archive(context.Background(), "abc-123", "summary text"); err != nil {
		t.Fatalf("archive: %v", err)
	}

	var found string
	filepath.Walk(dir, func(path string, info os.FileInfo, _ error) error {
		if info != nil && !info.IsDir() && strings.HasSuffix(path, "abc-123.txt") {
			found = path
		}
		return nil
	})
	if found == "" {
		t.Fatal("archived file not found")
	}
	body, err := os.ReadFile(found)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if string(body) != "summary text" {
		t.Fatalf("unexpected archive content: %q", body)
	}
	if !strings.Contains(found, filepath.Join("summaries")) {
		t.Fatalf("expected summaries prefix in %q", found)
	}
}
