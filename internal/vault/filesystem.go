package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"clinicdesk/internal/clinic"
	"clinicdesk/internal/fs"
)

const metaSuffix = ".meta.json"

// fileMeta is the sidecar stored next to every object.
type fileMeta struct {
	MimeType    string                   `json:"mime_type"`
	Description clinic.BackupDescription `json:"description"`
	UploadedAt  time.Time                `json:"uploaded_at"`
}

// FileSystemVault is a filesystem-based implementation of clinic.RemoteStore,
// suited to a mounted network share or a synced folder. It stores objects
// as files in a flat directory:
//
//	<root>/
//	  <name>            (object content)
//	  <name>.meta.json  (mime type and backup description)
//
// The object name doubles as its ID.
type FileSystemVault struct {
	name string
	root string
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}
	return &FileSystemVault{name: name, root: root}, nil
}

// IsAuthenticated reports whether the vault root is an accessible directory.
func (v *FileSystemVault) IsAuthenticated(ctx context.Context) (bool, error) {
	info, err := os.Stat(v.root)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("vault root not accessible: %w", err)
	}
	return info.IsDir(), nil
}

func (v *FileSystemVault) objectPath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || strings.HasSuffix(name, metaSuffix) {
		return "", fmt.Errorf("invalid object name %q", name)
	}
	return filepath.Join(v.root, name), nil
}

// UploadFile copies the file at path into the vault, replacing any object
// with the same name. The content is written before its sidecar.
func (v *FileSystemVault) UploadFile(ctx context.Context, path, name, mimeType string, desc clinic.BackupDescription) (*clinic.RemoteFile, error) {
	dest, err := v.objectPath(name)
	if err != nil {
		return nil, err
	}
	if err := fs.CopyFile(path, dest); err != nil {
		return nil, fmt.Errorf("uploading %s: %w", name, err)
	}

	meta := fileMeta{MimeType: mimeType, Description: desc, UploadedAt: time.Now().UTC()}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	if err := fs.WriteFile(dest+metaSuffix, bytes.NewReader(data), int64(len(data))); err != nil {
		return nil, fmt.Errorf("writing metadata for %s: %w", name, err)
	}

	return v.stat(name)
}

func (v *FileSystemVault) FindFile(ctx context.Context, name string) (*clinic.RemoteFile, error) {
	f, err := v.stat(name)
	if errors.Is(err, clinic.ErrRemoteNotFound) {
		return nil, nil
	}
	return f, err
}

func (v *FileSystemVault) DownloadFile(ctx context.Context, fileID, destPath string) error {
	src, err := v.objectPath(fileID)
	if err != nil {
		return err
	}
	if err := fs.CopyFile(src, destPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("file %s: %w", fileID, clinic.ErrRemoteNotFound)
		}
		return fmt.Errorf("downloading %s: %w", fileID, err)
	}
	return nil
}

func (v *FileSystemVault) ListFiles(ctx context.Context, limit int) ([]*clinic.RemoteFile, error) {
	entries, err := os.ReadDir(v.root)
	if err != nil {
		return nil, fmt.Errorf("reading vault directory: %w", err)
	}

	var files []*clinic.RemoteFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, metaSuffix) {
			continue
		}
		f, err := v.stat(name)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	sortNewestFirst(files)
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}

func (v *FileSystemVault) DeleteFile(ctx context.Context, fileID string) error {
	path, err := v.objectPath(fileID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("file %s: %w", fileID, clinic.ErrRemoteNotFound)
		}
		return fmt.Errorf("deleting %s: %w", fileID, err)
	}
	if err := os.Remove(path + metaSuffix); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting metadata for %s: %w", fileID, err)
	}
	return nil
}

func (v *FileSystemVault) GetFileMetadata(ctx context.Context, fileID string) (*clinic.RemoteFile, error) {
	return v.stat(fileID)
}

// stat builds the RemoteFile for name from the object and its sidecar.
// A missing sidecar leaves the description empty.
func (v *FileSystemVault) stat(name string) (*clinic.RemoteFile, error) {
	path, err := v.objectPath(name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file %s: %w", name, clinic.ErrRemoteNotFound)
		}
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}

	f := &clinic.RemoteFile{
		ID:         name,
		Name:       name,
		Size:       info.Size(),
		ModifiedAt: info.ModTime().UTC(),
	}

	data, err := os.ReadFile(path + metaSuffix)
	switch {
	case os.IsNotExist(err):
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("reading metadata for %s: %w", name, err)
	}
	var meta fileMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decoding metadata for %s: %w", name, err)
	}
	f.MimeType = meta.MimeType
	f.Description = meta.Description
	return f, nil
}

// Compile-time check that FileSystemVault implements clinic.RemoteStore
var _ clinic.RemoteStore = (*FileSystemVault)(nil)
