// Package folder implements folder virtualization (C6): folders are not
// first-class rows, only prefix range-queries over the files bucket with a
// folding step to surface distinct immediate subfolder names (§9).
package folder

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zynqcloud/capdocs/internal/apperr"
	"github.com/zynqcloud/capdocs/internal/store"
	"github.com/zynqcloud/capdocs/internal/validate"
)

// Service implements folder operations against the storage layer.
type Service struct {
	store *store.Store
}

func New(s *store.Store) *Service {
	return &Service{store: s}
}

// Create makes a virtual folder at validate.JoinFolder(parent, name), stored
// as a zero-length marker file so prefix scans surface it even with no
// children yet.
func (s *Service) Create(workspaceID, parent, name string) error {
	path := validate.JoinFolder(parent, name)
	_, err := s.store.PutFile(workspaceID, path, func(existing *store.File) (*store.File, error) {
		if existing != nil && existing.DeletedAt == nil {
			return nil, apperr.Conflict("folder already exists", 409)
		}
		now := time.Now().UTC()
		return &store.File{
			ID:             "file_" + uuid.NewString(),
			WorkspaceID:    workspaceID,
			Path:           path,
			Filename:       validate.Basename(path),
			Folder:         validate.Dirname(path),
			CreatedAt:      now,
			UpdatedAt:      now,
			IsFolderMarker: true,
		}, nil
	})
	return err
}

// Child describes one immediate child of a listed folder.
type Child struct {
	Name      string    `json:"name"`
	Type      string    `json:"type"` // file | folder
	Size      int       `json:"size,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// List returns the immediate children of path (files and folded subfolder
// names), honoring a result limit.
func (s *Service) List(workspaceID, path string, limit int) ([]Child, error) {
	files, err := s.store.ListFilesByPrefix(workspaceID, path, false)
	if err != nil {
		return nil, err
	}
	boundary := strings.TrimSuffix(path, "/")

	seenFolders := map[string]bool{}
	var children []Child
	for _, f := range files {
		if f.Path == boundary {
			continue // the folder marker for path itself
		}
		rest := strings.TrimPrefix(f.Path, boundary+"/")
		if rest == f.Path {
			continue
		}
		if idx := strings.Index(rest, "/"); idx >= 0 {
			sub := rest[:idx]
			if !seenFolders[sub] {
				seenFolders[sub] = true
				children = append(children, Child{Name: sub, Type: "folder"})
			}
			continue
		}
		if f.IsFolderMarker {
			if !seenFolders[rest] {
				seenFolders[rest] = true
				children = append(children, Child{Name: rest, Type: "folder"})
			}
			continue
		}
		children = append(children, Child{Name: rest, Type: "file", Size: f.Size, UpdatedAt: f.UpdatedAt})
	}

	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	if limit > 0 && len(children) > limit {
		children = children[:limit]
	}
	return children, nil
}

// Stats aggregates fileCount, folderCount, totalSize recursively under path.
type Stats struct {
	FileCount   int `json:"fileCount"`
	FolderCount int `json:"folderCount"`
	TotalSize   int `json:"totalSize"`
}

func (s *Service) Stats(workspaceID, path string) (*Stats, error) {
	files, err := s.store.ListFilesByPrefix(workspaceID, path, false)
	if err != nil {
		return nil, err
	}
	stats := &Stats{}
	folders := map[string]bool{}
	boundary := strings.TrimSuffix(path, "/")
	for _, f := range files {
		if f.Path == boundary {
			continue
		}
		if f.IsFolderMarker {
			folders[f.Path] = true
			continue
		}
		stats.FileCount++
		stats.TotalSize += f.Size
	}
	stats.FolderCount = len(folders)
	return stats, nil
}

// SearchResult is one hit from a recursive content/append search.
type SearchResult struct {
	Path    string `json:"path"`
	Snippet string `json:"snippet"`
}

// Search scans file content and append content under path for substring q.
func (s *Service) Search(workspaceID, path, q string) ([]SearchResult, error) {
	files, err := s.store.ListFilesByPrefix(workspaceID, path, false)
	if err != nil {
		return nil, err
	}
	var out []SearchResult
	for _, f := range files {
		if f.IsFolderMarker {
			continue
		}
		if idx := strings.Index(f.Content, q); idx >= 0 {
			out = append(out, SearchResult{Path: f.Path, Snippet: snippet(f.Content, idx, len(q))})
			continue
		}
		appends, err := s.store.ListAppends(f.ID)
		if err != nil {
			return nil, err
		}
		for _, a := range appends {
			if idx := strings.Index(a.Content, q); idx >= 0 {
				out = append(out, SearchResult{Path: f.Path, Snippet: snippet(a.Content, idx, len(q))})
				break
			}
		}
	}
	return out, nil
}

func snippet(content string, idx, matchLen int) string {
	const pad = 40
	start := idx - pad
	if start < 0 {
		start = 0
	}
	end := idx + matchLen + pad
	if end > len(content) {
		end = len(content)
	}
	return content[start:end]
}

// BulkFile is one entry of a bulk-create request.
type BulkFile struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// BulkResult reports the per-entry outcome of a bulk create.
type BulkResult struct {
	Filename string `json:"filename"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// Bulk creates many files under path; each entry succeeds or fails
// independently (§4.6).
func (s *Service) Bulk(workspaceID, path string, files []BulkFile) []BulkResult {
	out := make([]BulkResult, 0, len(files))
	for _, bf := range files {
		filePath := validate.JoinFolder(path, bf.Filename)
		if err := validate.FileContentSize(len(bf.Content)); err != nil {
			out = append(out, BulkResult{Filename: bf.Filename, Success: false, Error: err.Error()})
			continue
		}
		_, err := s.store.PutFile(workspaceID, filePath, func(existing *store.File) (*store.File, error) {
			now := time.Now().UTC()
			if existing != nil && existing.DeletedAt == nil {
				cp := *existing
				cp.Content = bf.Content
				cp.ETag = store.ComputeETag(bf.Content)
				cp.Size = len(bf.Content)
				cp.UpdatedAt = now
				return &cp, nil
			}
			return &store.File{
				ID:          "file_" + uuid.NewString(),
				WorkspaceID: workspaceID,
				Path:        filePath,
				Filename:    bf.Filename,
				Folder:      path,
				Content:     bf.Content,
				ETag:        store.ComputeETag(bf.Content),
				Size:        len(bf.Content),
				CreatedAt:   now,
				UpdatedAt:   now,
			}, nil
		})
		if err != nil {
			out = append(out, BulkResult{Filename: bf.Filename, Success: false, Error: "could not create file"})
			continue
		}
		out = append(out, BulkResult{Filename: bf.Filename, Success: true})
	}
	return out
}

// Export streams to w a zip archive of every live, non-marker file under
// path, recursively, and returns "sha256:" plus the hex digest of the
// archive bytes. The archive holds file contents only; no manifest entry is
// written.
func (s *Service) Export(workspaceID, path string, w io.Writer) (string, error) {
	files, err := s.store.ListFilesByPrefix(workspaceID, path, false)
	if err != nil {
		return "", err
	}
	hasher := sha256.New()
	mw := io.MultiWriter(w, hasher)
	zw := zip.NewWriter(mw)
	for _, f := range files {
		if f.IsFolderMarker {
			continue
		}
		entry, err := zw.Create(strings.TrimPrefix(f.Path, "/"))
		if err != nil {
			return "", err
		}
		if _, err := entry.Write([]byte(f.Content)); err != nil {
			return "", err
		}
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return "sha256:" + hex.EncodeToString(hasher.Sum(nil)), nil
}

// Delete removes a folder. Empty folders delete directly; non-empty
// folders require cascade=true and a matching confirmPath basename
// (§4.6).
func (s *Service) Delete(workspaceID, path string, cascade bool, confirmPath string, retention time.Duration) error {
	files, err := s.store.ListFilesByPrefix(workspaceID, path, false)
	if err != nil {
		return err
	}
	boundary := strings.TrimSuffix(path, "/")
	var contents []*store.File
	for _, f := range files {
		if f.Path == boundary {
			continue
		}
		contents = append(contents, f)
	}

	if len(contents) == 0 {
		if err := s.store.DeleteFilePermanent(workspaceID, boundary); err != nil {
			return apperr.NotFound(apperr.CodeFolderNotFound, "folder not found")
		}
		return nil
	}

	if !cascade {
		return apperr.BadRequest(apperr.CodeFolderNotEmpty, "folder is not empty")
	}
	if confirmPath != validate.Basename(boundary) {
		return apperr.BadRequest(apperr.CodeConfirmPathMismatch, "confirmPath does not match the folder name")
	}
	for _, f := range contents {
		if f.IsFolderMarker {
			continue
		}
		if _, err := s.store.SoftDeleteFile(workspaceID, f.Path, retention); err != nil {
			return err
		}
	}
	return nil
}

// Rename relocates every file under the old folder prefix to the new one,
// applied per-file (§4.6). Each file moves in its own write transaction, so
// the sweep as a whole is not atomic: a concurrent reader can see the folder
// partly renamed, and a failure part way leaves the files already moved at
// the new prefix.
func (s *Service) Rename(workspaceID, path, newName string) error {
	files, err := s.store.ListFilesByPrefix(workspaceID, path, true)
	if err != nil {
		return err
	}
	boundary := strings.TrimSuffix(path, "/")
	newBoundary := validate.JoinFolder(validate.Dirname(boundary), newName)
	for _, f := range files {
		suffix := strings.TrimPrefix(f.Path, boundary)
		dst := newBoundary + suffix
		if _, err := s.store.MoveFile(workspaceID, f.Path, dst, ""); err != nil {
			return err
		}
	}
	return nil
}
