// Package fileops implements file CRUD, rename/move/recover/rotate, and the
// read-side structural queries (structure, section, tail) that make up C5.
package fileops

import (
	"bufio"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zynqcloud/capdocs/internal/apperr"
	"github.com/zynqcloud/capdocs/internal/store"
	"github.com/zynqcloud/capdocs/internal/validate"
)

// Service implements file operations against the storage layer.
type Service struct {
	store     *store.Store
	retention time.Duration
}

func New(s *store.Store, retention time.Duration) *Service {
	return &Service{store: s, retention: retention}
}

// PutResult reports whether Put created (201) or updated (200) a file.
type PutResult struct {
	File    *store.File
	Created bool
}

// Put creates a file if absent or updates it in place, honoring If-Match
// optimistic concurrency (§4.5, P2).
func (s *Service) Put(workspaceID, path, content, ifMatch string, defaultSettings store.FileSettings) (*PutResult, error) {
	if err := validate.FileContentSize(len(content)); err != nil {
		return nil, err
	}
	res, err := s.store.PutFile(workspaceID, path, func(existing *store.File) (*store.File, error) {
		now := time.Now().UTC()
		if existing == nil {
			if ifMatch != "" {
				return nil, apperr.Conflict("no existing file matches If-Match", 412)
			}
			return &store.File{
				ID:          "file_" + uuid.NewString(),
				WorkspaceID: workspaceID,
				Path:        path,
				Filename:    validate.Basename(path),
				Folder:      validate.Dirname(path),
				Content:     content,
				ETag:        store.ComputeETag(content),
				Size:        len(content),
				CreatedAt:   now,
				UpdatedAt:   now,
				Settings:    defaultSettings,
			}, nil
		}
		if existing.DeletedAt != nil {
			return nil, apperr.Gone(apperr.CodeFileDeleted, "file is soft-deleted")
		}
		if ifMatch != "" && ifMatch != existing.ETag {
			return nil, apperr.Conflict("etag does not match If-Match", 412)
		}
		cp := *existing
		cp.Content = content
		cp.ETag = store.ComputeETag(content)
		cp.Size = len(content)
		cp.UpdatedAt = now
		return &cp, nil
	})
	if err != nil {
		return nil, err
	}
	return &PutResult{File: res.File, Created: res.Created}, nil
}

// Get returns a readable file, translating soft-delete into FILE_DELETED
// (HTTP 410) per §4.3, and an absent row into FILE_NOT_FOUND.
func (s *Service) Get(workspaceID, path string) (*store.File, error) {
	f, err := s.store.GetFile(workspaceID, path)
	if err != nil {
		return nil, apperr.NotFound(apperr.CodeFileNotFound, "file not found")
	}
	if f.DeletedAt != nil {
		return nil, apperr.Gone(apperr.CodeFileDeleted, "file has been deleted")
	}
	return f, nil
}

// TaskStats summarizes a file's appends for the meta endpoint.
type TaskStats struct {
	Pending     int `json:"pending"`
	Claimed     int `json:"claimed"`
	Completed   int `json:"completed"`
	AppendCount int `json:"appendCount"`
}

// Meta computes task stats and append count for a file (§4.5 meta route).
func (s *Service) Meta(f *store.File, reduce func(appends []*store.Append, taskAppendID string, now time.Time) (status string)) (*TaskStats, error) {
	appends, err := s.store.ListAppends(f.ID)
	if err != nil {
		return nil, err
	}
	stats := &TaskStats{AppendCount: len(appends)}
	now := time.Now().UTC()
	for _, a := range appends {
		if a.Type != store.AppendTask {
			continue
		}
		switch reduce(appends, a.AppendID, now) {
		case "open":
			stats.Pending++
		case "claimed":
			stats.Claimed++
		case "done":
			stats.Completed++
		}
	}
	return stats, nil
}

// Heading is one ATX heading found in document order.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
	Line  int    `json:"line"`
}

// Structure scans content for ATX headings at the start of a line (§4.5).
func Structure(content string) []Heading {
	var out []Heading
	scanner := bufio.NewScanner(strings.NewReader(content))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		level := 0
		for level < len(line) && level < 6 && line[level] == '#' {
			level++
		}
		if level == 0 || level >= len(line) || line[level] != ' ' {
			continue
		}
		text := strings.TrimSpace(line[level:])
		out = append(out, Heading{Level: level, Text: text, Line: lineNo})
	}
	return out
}

// Section extracts the section under the heading whose text matches exactly,
// ending at the next heading of equal or shallower level, or at EOF (§4.5).
func Section(content, heading string) (*Heading, string, error) {
	lines := strings.Split(content, "\n")
	headings := Structure(content)

	var target *Heading
	var targetIdx int
	for i, h := range headings {
		if h.Text == heading {
			target = &headings[i]
			targetIdx = i
			break
		}
	}
	if target == nil {
		return nil, "", apperr.NotFound(apperr.CodeSectionNotFound, "section not found")
	}

	endLine := len(lines)
	for i := targetIdx + 1; i < len(headings); i++ {
		if headings[i].Level <= target.Level {
			endLine = headings[i].Line - 1
			break
		}
	}

	section := lines[target.Line-1 : endLine]
	return target, strings.Join(section, "\n"), nil
}

const (
	maxTailLines = 1000
	maxTailBytes = 100000
	defaultTailBytes = 10000
)

// TailResult is the response body for the tail query.
type TailResult struct {
	Content       string `json:"content"`
	BytesReturned int    `json:"bytesReturned"`
	Truncated     bool   `json:"truncated"`
}

// Tail returns the last N lines or last M bytes of content (§4.5).
func Tail(content string, lines, bytes int) (*TailResult, error) {
	if lines > 0 && bytes > 0 {
		return nil, apperr.Invalid("specify either lines or bytes, not both")
	}
	if lines > maxTailLines {
		return nil, apperr.Invalid("lines exceeds the maximum of 1000")
	}
	if bytes > maxTailBytes {
		return nil, apperr.Invalid("bytes exceeds the maximum of 100000")
	}

	if lines > 0 {
		all := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
		truncated := len(all) > lines
		start := 0
		if truncated {
			start = len(all) - lines
		}
		out := strings.Join(all[start:], "\n")
		if strings.HasSuffix(content, "\n") {
			out += "\n"
		}
		return &TailResult{Content: out, BytesReturned: len(out), Truncated: truncated}, nil
	}

	limit := bytes
	if limit <= 0 {
		limit = defaultTailBytes
	}
	b := []byte(content)
	truncated := len(b) > limit
	start := 0
	if truncated {
		start = len(b) - limit
	}
	out := string(b[start:])
	return &TailResult{Content: out, BytesReturned: len(out), Truncated: truncated}, nil
}

// DeleteResult is the response body for a file delete.
type DeleteResult struct {
	Recoverable bool       `json:"recoverable"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Deleted     bool       `json:"deleted"`
}

// Delete soft-deletes a file by default, or permanently removes it when
// permanent is true (§4.5).
func (s *Service) Delete(workspaceID, path string, permanent bool) (*DeleteResult, error) {
	if permanent {
		if err := s.store.DeleteFilePermanent(workspaceID, path); err != nil {
			return nil, apperr.NotFound(apperr.CodeFileNotFound, "file not found")
		}
		return &DeleteResult{Deleted: true}, nil
	}
	f, err := s.store.SoftDeleteFile(workspaceID, path, s.retention)
	if err != nil {
		return nil, apperr.NotFound(apperr.CodeFileNotFound, "file not found")
	}
	return &DeleteResult{Recoverable: true, ExpiresAt: f.DeleteExpiresAt, Deleted: true}, nil
}

// Move relocates a file to destination/basename(source) (§4.5).
func (s *Service) Move(workspaceID, source, destination string) (*store.File, error) {
	name := validate.Basename(source)
	dstPath := validate.JoinFolder(destination, name)
	f, err := s.store.MoveFile(workspaceID, source, dstPath, "")
	if err != nil {
		if _, ok := err.(*store.ErrConflict); ok {
			return nil, apperr.Conflict("destination already exists", 409)
		}
		return nil, apperr.NotFound(apperr.CodeFileNotFound, "file not found")
	}
	return f, nil
}

// Rename changes a file's filename in place (§4.5).
func (s *Service) Rename(workspaceID, path, filename string) (*store.File, error) {
	dstPath := validate.JoinFolder(validate.Dirname(path), filename)
	f, err := s.store.MoveFile(workspaceID, path, dstPath, filename)
	if err != nil {
		if _, ok := err.(*store.ErrConflict); ok {
			return nil, apperr.Conflict("destination already exists", 409)
		}
		return nil, apperr.NotFound(apperr.CodeFileNotFound, "file not found")
	}
	return f, nil
}

// Recover lifts a soft-delete (§4.5, P10).
func (s *Service) Recover(workspaceID, path string) (*store.File, error) {
	f, err := s.store.RecoverFile(workspaceID, path)
	if err != nil {
		return nil, apperr.NotFound(apperr.CodeFileNotFound, "file is not soft-deleted")
	}
	return f, nil
}

// PatchSettings merges a partial settings update, validating enum and
// numeric bounds (§4.5).
func PatchSettings(existing store.FileSettings, patch map[string]any) (store.FileSettings, error) {
	out := existing
	if v, ok := patch["wipLimit"]; ok {
		n, ok := toInt(v)
		if !ok || n < 1 {
			return out, apperr.Invalid("wipLimit must be >= 1")
		}
		out.WIPLimit = &n
	}
	if v, ok := patch["claimDurationSeconds"]; ok {
		n, ok := toInt(v)
		if !ok || n < 60 {
			return out, apperr.Invalid("claimDurationSeconds must be >= 60")
		}
		out.ClaimDurationSeconds = &n
	}
	if v, ok := patch["allowedAppendTypes"]; ok {
		types, ok := toStringSlice(v)
		if !ok {
			return out, apperr.Invalid("allowedAppendTypes must be a list of strings")
		}
		out.AllowedAppendTypes = types
	}
	if v, ok := patch["labels"]; ok {
		labels, ok := toStringSlice(v)
		if !ok {
			return out, apperr.Invalid("labels must be a list of strings")
		}
		out.Labels = labels
	}
	return out, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

func toStringSlice(v any) ([]string, bool) {
	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
