package fileops_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/zynqcloud/capdocs/internal/apperr"
	"github.com/zynqcloud/capdocs/internal/fileops"
	"github.com/zynqcloud/capdocs/internal/store"
)

func newTestService(t *testing.T) *fileops.Service {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return fileops.New(s, 24*time.Hour)
}

func errCodeF(t *testing.T, err error) apperr.Code {
	t.Helper()
	ae, ok := err.(*apperr.Error)
	if !ok {
		t.Fatalf("expected *apperr.Error, got %T (%v)", err, err)
	}
	return ae.Code
}

func TestPutCreatesThenUpdates(t *testing.T) {
	svc := newTestService(t)

	res, err := svc.Put("ws_1", "/notes.md", "# hello", "", store.FileSettings{})
	if err != nil {
		t.Fatalf("Put create: %v", err)
	}
	if !res.Created {
		t.Error("first Put should report Created=true")
	}
	firstETag := res.File.ETag

	res2, err := svc.Put("ws_1", "/notes.md", "# hello world", res.File.ETag, store.FileSettings{})
	if err != nil {
		t.Fatalf("Put update: %v", err)
	}
	if res2.Created {
		t.Error("second Put should report Created=false")
	}
	if res2.File.ETag == firstETag {
		t.Error("etag should change after content update")
	}
}

func TestPutRejectsStaleIfMatch(t *testing.T) {
	svc := newTestService(t)
	res, err := svc.Put("ws_1", "/notes.md", "v1", "", store.FileSettings{})
	if err != nil {
		t.Fatalf("Put create: %v", err)
	}
	_ = res

	_, err = svc.Put("ws_1", "/notes.md", "v2", "stale-etag", store.FileSettings{})
	if err == nil {
		t.Fatal("expected conflict for stale If-Match")
	}
	ae, ok := err.(*apperr.Error)
	if !ok || ae.HTTPStatus != 412 {
		t.Errorf("expected HTTP 412, got %+v", err)
	}
}

func TestGetTranslatesSoftDeleteToFileDeleted(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Put("ws_1", "/notes.md", "v1", "", store.FileSettings{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := svc.Delete("ws_1", "/notes.md", false); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	_, err := svc.Get("ws_1", "/notes.md")
	if err == nil {
		t.Fatal("expected error reading a soft-deleted file")
	}
	if got := errCodeF(t, err); got != apperr.CodeFileDeleted {
		t.Errorf("code = %q, want FILE_DELETED", got)
	}
}

func TestGetMissingFileIsFileNotFound(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Get("ws_1", "/missing.md")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if got := errCodeF(t, err); got != apperr.CodeFileNotFound {
		t.Errorf("code = %q, want FILE_NOT_FOUND", got)
	}
}

func TestSoftDeleteThenRecoverRoundTrip(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Put("ws_1", "/notes.md", "v1", "", store.FileSettings{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	delRes, err := svc.Delete("ws_1", "/notes.md", false)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !delRes.Recoverable || delRes.ExpiresAt == nil {
		t.Error("soft delete should be recoverable with an expiry")
	}

	recovered, err := svc.Recover("ws_1", "/notes.md")
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if recovered.DeletedAt != nil {
		t.Error("recovered file should have DeletedAt cleared")
	}

	got, err := svc.Get("ws_1", "/notes.md")
	if err != nil {
		t.Fatalf("Get after recover: %v", err)
	}
	if got.Content != "v1" {
		t.Errorf("content = %q, want v1", got.Content)
	}
}

func TestPermanentDeleteIsUnrecoverable(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Put("ws_1", "/notes.md", "v1", "", store.FileSettings{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := svc.Delete("ws_1", "/notes.md", true); err != nil {
		t.Fatalf("permanent Delete: %v", err)
	}
	if _, err := svc.Recover("ws_1", "/notes.md"); err == nil {
		t.Fatal("expected recover to fail after permanent delete")
	}
}

func TestMoveRejectsExistingDestination(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Put("ws_1", "/a.md", "a", "", store.FileSettings{}); err != nil {
		t.Fatalf("Put a: %v", err)
	}
	if _, err := svc.Put("ws_1", "/dest/a.md", "b", "", store.FileSettings{}); err != nil {
		t.Fatalf("Put dest/a: %v", err)
	}
	_, err := svc.Move("ws_1", "/a.md", "/dest")
	if err == nil {
		t.Fatal("expected conflict moving onto an existing file")
	}
}

func TestRename(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Put("ws_1", "/a.md", "a", "", store.FileSettings{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	renamed, err := svc.Rename("ws_1", "/a.md", "b.md")
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if renamed.Path != "/b.md" {
		t.Errorf("path = %q, want /b.md", renamed.Path)
	}
}

func TestStructureFindsATXHeadings(t *testing.T) {
	content := "# Title\n\nintro text\n\n## Sub\n\nbody\n"
	headings := fileops.Structure(content)
	if len(headings) != 2 {
		t.Fatalf("expected 2 headings, got %d", len(headings))
	}
	if headings[0].Level != 1 || headings[0].Text != "Title" {
		t.Errorf("heading[0] = %+v", headings[0])
	}
	if headings[1].Level != 2 || headings[1].Text != "Sub" {
		t.Errorf("heading[1] = %+v", headings[1])
	}
}

func TestStructureIgnoresHashWithoutSpace(t *testing.T) {
	content := "#NotAHeading\nplain text\n"
	headings := fileops.Structure(content)
	if len(headings) != 0 {
		t.Errorf("expected no headings, got %d", len(headings))
	}
}

func TestSectionExtractsUntilNextEqualOrShallowerHeading(t *testing.T) {
	content := "# Title\n\n## One\nbody one\n\n## Two\nbody two\n"
	_, section, err := fileops.Section(content, "One")
	if err != nil {
		t.Fatalf("Section: %v", err)
	}
	if section != "## One\nbody one\n" {
		t.Errorf("section = %q", section)
	}
}

func TestSectionNotFound(t *testing.T) {
	_, _, err := fileops.Section("# Title\nbody\n", "Missing")
	if err == nil {
		t.Fatal("expected section not found error")
	}
	if got := errCodeF(t, err); got != apperr.CodeSectionNotFound {
		t.Errorf("code = %q, want SECTION_NOT_FOUND", got)
	}
}

func TestTailByLines(t *testing.T) {
	content := "l1\nl2\nl3\nl4\nl5\n"
	res, err := fileops.Tail(content, 2, 0)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if res.Content != "l4\nl5\n" {
		t.Errorf("tail content = %q", res.Content)
	}
	if !res.Truncated {
		t.Error("expected truncated=true")
	}
}

func TestTailRejectsBothLinesAndBytes(t *testing.T) {
	_, err := fileops.Tail("x", 1, 1)
	if err == nil {
		t.Fatal("expected error when both lines and bytes are set")
	}
}

func TestPatchSettingsValidatesBounds(t *testing.T) {
	_, err := fileops.PatchSettings(store.FileSettings{}, map[string]any{"claimDurationSeconds": float64(10)})
	if err == nil {
		t.Fatal("expected rejection of claimDurationSeconds below 60")
	}

	out, err := fileops.PatchSettings(store.FileSettings{}, map[string]any{"wipLimit": float64(3)})
	if err != nil {
		t.Fatalf("PatchSettings: %v", err)
	}
	if out.WIPLimit == nil || *out.WIPLimit != 3 {
		t.Errorf("wipLimit = %v, want 3", out.WIPLimit)
	}
}
