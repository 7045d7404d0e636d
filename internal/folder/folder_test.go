package folder_test

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/zynqcloud/capdocs/internal/apperr"
	"github.com/zynqcloud/capdocs/internal/fileops"
	"github.com/zynqcloud/capdocs/internal/folder"
	"github.com/zynqcloud/capdocs/internal/store"
)

func newTestFolderService(t *testing.T) (*folder.Service, *fileops.Service) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return folder.New(s), fileops.New(s, 24*time.Hour)
}

func errCodeFolder(t *testing.T, err error) apperr.Code {
	t.Helper()
	ae, ok := err.(*apperr.Error)
	if !ok {
		t.Fatalf("expected *apperr.Error, got %T (%v)", err, err)
	}
	return ae.Code
}

func TestCreateAndListFolder(t *testing.T) {
	folders, files := newTestFolderService(t)
	if err := folders.Create("ws_1", "/", "projects"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := files.Put("ws_1", "/projects/a.md", "a", "", store.FileSettings{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := files.Put("ws_1", "/other.md", "o", "", store.FileSettings{}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	children, err := folders.List("ws_1", "/", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var names []string
	for _, c := range children {
		names = append(names, c.Name)
	}
	if len(children) != 2 {
		t.Fatalf("expected 2 root children, got %d: %v", len(children), names)
	}
}

func TestCreateDuplicateFolderConflicts(t *testing.T) {
	folders, _ := newTestFolderService(t)
	if err := folders.Create("ws_1", "/", "projects"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := folders.Create("ws_1", "/", "projects"); err == nil {
		t.Fatal("expected conflict creating a duplicate folder")
	}
}

func TestDeleteEmptyFolderSucceeds(t *testing.T) {
	folders, _ := newTestFolderService(t)
	if err := folders.Create("ws_1", "/", "empty"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := folders.Delete("ws_1", "/empty", false, "", time.Hour); err != nil {
		t.Fatalf("Delete empty folder: %v", err)
	}
}

func TestDeleteNonEmptyFolderWithoutCascadeFails(t *testing.T) {
	folders, files := newTestFolderService(t)
	if _, err := files.Put("ws_1", "/docs/a.md", "a", "", store.FileSettings{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	err := folders.Delete("ws_1", "/docs", false, "", time.Hour)
	if err == nil {
		t.Fatal("expected FOLDER_NOT_EMPTY")
	}
	if got := errCodeFolder(t, err); got != apperr.CodeFolderNotEmpty {
		t.Errorf("code = %q, want FOLDER_NOT_EMPTY", got)
	}
}

func TestDeleteCascadeRequiresConfirmPathMatch(t *testing.T) {
	folders, files := newTestFolderService(t)
	if _, err := files.Put("ws_1", "/docs/a.md", "a", "", store.FileSettings{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	err := folders.Delete("ws_1", "/docs", true, "wrong-name", time.Hour)
	if err == nil {
		t.Fatal("expected confirm path mismatch")
	}
	if got := errCodeFolder(t, err); got != apperr.CodeConfirmPathMismatch {
		t.Errorf("code = %q, want CONFIRM_PATH_MISMATCH", got)
	}
}

func TestDeleteCascadeSoftDeletesContents(t *testing.T) {
	folders, files := newTestFolderService(t)
	if _, err := files.Put("ws_1", "/docs/a.md", "a", "", store.FileSettings{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := folders.Delete("ws_1", "/docs", true, "docs", time.Hour); err != nil {
		t.Fatalf("cascade delete: %v", err)
	}
	_, err := files.Get("ws_1", "/docs/a.md")
	if err == nil {
		t.Fatal("expected file to be inaccessible after cascade delete")
	}
}

func TestRenameMovesEveryFileUnderPrefix(t *testing.T) {
	folders, files := newTestFolderService(t)
	if _, err := files.Put("ws_1", "/docs/a.md", "a", "", store.FileSettings{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := files.Put("ws_1", "/docs/sub/b.md", "b", "", store.FileSettings{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := folders.Rename("ws_1", "/docs", "documents"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := files.Get("ws_1", "/documents/a.md"); err != nil {
		t.Errorf("expected /documents/a.md to exist: %v", err)
	}
	if _, err := files.Get("ws_1", "/documents/sub/b.md"); err != nil {
		t.Errorf("expected /documents/sub/b.md to exist: %v", err)
	}
}

func TestBulkCreatePartialFailureIsPerEntry(t *testing.T) {
	folders, _ := newTestFolderService(t)
	results := folders.Bulk("ws_1", "/docs", []folder.BulkFile{
		{Filename: "ok.md", Content: "fine"},
		{Filename: "big.md", Content: string(bytes.Repeat([]byte("x"), 10*1024*1024+1))},
	})
	if len(results) != 2 {
		t.Fatalf("expected two results, got %d", len(results))
	}
	if !results[0].Success {
		t.Errorf("expected ok.md to succeed, got %+v", results[0])
	}
	if results[1].Success {
		t.Errorf("expected oversize big.md to fail on its own entry, got Success=true")
	}
}

func TestSearchFindsContentMatch(t *testing.T) {
	folders, files := newTestFolderService(t)
	if _, err := files.Put("ws_1", "/docs/a.md", "the quick brown fox", "", store.FileSettings{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	results, err := folders.Search("ws_1", "/", "brown")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Path != "/docs/a.md" {
		t.Fatalf("results = %+v", results)
	}
}

func TestStatsCountsFilesAndFolders(t *testing.T) {
	folders, files := newTestFolderService(t)
	if err := folders.Create("ws_1", "/docs", "sub"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := files.Put("ws_1", "/docs/a.md", "12345", "", store.FileSettings{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	stats, err := folders.Stats("ws_1", "/docs")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.FileCount != 1 {
		t.Errorf("fileCount = %d, want 1", stats.FileCount)
	}
	if stats.FolderCount != 1 {
		t.Errorf("folderCount = %d, want 1", stats.FolderCount)
	}
	if stats.TotalSize != 5 {
		t.Errorf("totalSize = %d, want 5", stats.TotalSize)
	}
}

func TestExportProducesNonEmptyZipWithChecksum(t *testing.T) {
	folders, files := newTestFolderService(t)
	if _, err := files.Put("ws_1", "/docs/a.md", "hello", "", store.FileSettings{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	var buf bytes.Buffer
	checksum, err := folders.Export("ws_1", "/docs", &buf)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("expected non-empty zip archive")
	}
	if checksum == "" || checksum[:7] != "sha256:" {
		t.Errorf("checksum = %q, want sha256: prefix", checksum)
	}
}
