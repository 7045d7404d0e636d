package validate_test

import (
	"strings"
	"testing"

	"github.com/zynqcloud/capdocs/internal/validate"
)

func TestPathNormalizesSlashesAndDot(t *testing.T) {
	got, err := validate.Path("//docs//./readme.md/")
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if got != "/docs/readme.md" {
		t.Errorf("got %q, want /docs/readme.md", got)
	}
}

func TestPathAddsLeadingSlash(t *testing.T) {
	got, err := validate.Path("readme.md")
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if got != "/readme.md" {
		t.Errorf("got %q", got)
	}
}

func TestPathRootIsSlash(t *testing.T) {
	got, err := validate.Path("")
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if got != "/" {
		t.Errorf("got %q, want /", got)
	}
}

func TestPathRejectsTraversal(t *testing.T) {
	cases := []string{
		"/../etc/passwd",
		"/docs/../../etc/passwd",
		"/docs/..",
	}
	for _, c := range cases {
		if _, err := validate.Path(c); err == nil {
			t.Errorf("Path(%q): expected traversal rejection, got nil", c)
		}
	}
}

func TestPathRejectsNullByte(t *testing.T) {
	if _, err := validate.Path("/docs/read\x00me.md"); err == nil {
		t.Error("expected null byte rejection")
	}
}

func TestPathRejectsControlCharacters(t *testing.T) {
	if _, err := validate.Path("/docs/read\x01me.md"); err == nil {
		t.Error("expected control character rejection")
	}
	if _, err := validate.Path("/docs/read\x7fme.md"); err == nil {
		t.Error("expected DEL rejection")
	}
}

func TestPathAllowsTabAndBackslash(t *testing.T) {
	got, err := validate.Path("/docs/weird\\name\t.md")
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if !strings.Contains(got, "\\name") {
		t.Errorf("backslash should be preserved literally, got %q", got)
	}
}

func TestPathRejectsOversizeSegment(t *testing.T) {
	longSeg := strings.Repeat("a", validate.MaxSegmentBytes+1)
	if _, err := validate.Path("/" + longSeg); err == nil {
		t.Error("expected oversize segment rejection")
	}
}

func TestPathRejectsOversizePath(t *testing.T) {
	seg := strings.Repeat("a", 200)
	var b strings.Builder
	for b.Len() < validate.MaxPathBytes {
		b.WriteString("/" + seg)
	}
	if _, err := validate.Path(b.String()); err == nil {
		t.Error("expected oversize path rejection")
	}
}

func TestFileContentSizeLimit(t *testing.T) {
	if err := validate.FileContentSize(validate.MaxFileContentBytes); err != nil {
		t.Errorf("at limit should be allowed: %v", err)
	}
	if err := validate.FileContentSize(validate.MaxFileContentBytes + 1); err == nil {
		t.Error("expected payload too large")
	}
}

func TestAppendContentSizeLimit(t *testing.T) {
	if err := validate.AppendContentSize(validate.MaxAppendContentBytes); err != nil {
		t.Errorf("at limit should be allowed: %v", err)
	}
	if err := validate.AppendContentSize(validate.MaxAppendContentBytes + 1); err == nil {
		t.Error("expected payload too large")
	}
}

func TestBasenameAndDirname(t *testing.T) {
	if got := validate.Basename("/docs/readme.md"); got != "readme.md" {
		t.Errorf("Basename = %q", got)
	}
	if got := validate.Basename("/"); got != "" {
		t.Errorf("Basename(/) = %q, want empty", got)
	}
	if got := validate.Dirname("/docs/readme.md"); got != "/docs" {
		t.Errorf("Dirname = %q", got)
	}
	if got := validate.Dirname("/readme.md"); got != "/" {
		t.Errorf("Dirname(root file) = %q, want /", got)
	}
}

func TestJoinFolder(t *testing.T) {
	if got := validate.JoinFolder("/docs", "readme.md"); got != "/docs/readme.md" {
		t.Errorf("JoinFolder = %q", got)
	}
	if got := validate.JoinFolder("/", "readme.md"); got != "/readme.md" {
		t.Errorf("JoinFolder(root) = %q", got)
	}
}
