package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// BackupFile is one backup stored in a BackupFolder.
type BackupFile struct {
	Name      string
	Path      string
	Size      int64
	ModTime   time.Time
	Encrypted bool
}

// BackupFolder is a user-chosen directory holding timestamped local
// backups. Only files whose name starts with Prefix belong to it.
type BackupFolder struct {
	Dir    string
	Prefix string
}

// NewBackupFolder returns a folder rooted at dir.
func NewBackupFolder(dir, prefix string) *BackupFolder {
	return &BackupFolder{Dir: dir, Prefix: prefix}
}

// Name builds the file name for a backup taken at t.
func (f *BackupFolder) Name(t time.Time, encrypted bool) string {
	name := f.Prefix + t.UTC().Format("2006-01-02_15-04-05") + ".db"
	if encrypted {
		name += ".enc"
	}
	return name
}

// Store copies the artifact at src into the folder under name.
func (f *BackupFolder) Store(src, name string) (string, error) {
	if f.Dir == "" {
		return "", errors.New("local backup folder is not configured")
	}
	dest := filepath.Join(f.Dir, name)
	if err := CopyFile(src, dest); err != nil {
		return "", fmt.Errorf("storing local backup: %w", err)
	}
	return dest, nil
}

// List returns the folder's backups, newest first.
func (f *BackupFolder) List() ([]BackupFile, error) {
	entries, err := os.ReadDir(f.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading backup folder: %w", err)
	}

	var files []BackupFile
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || !strings.HasPrefix(name, f.Prefix) {
			continue
		}
		if !strings.HasSuffix(name, ".db") && !strings.HasSuffix(name, ".db.enc") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		files = append(files, BackupFile{
			Name:      name,
			Path:      filepath.Join(f.Dir, name),
			Size:      info.Size(),
			ModTime:   info.ModTime(),
			Encrypted: strings.HasSuffix(name, ".enc"),
		})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].ModTime.Equal(files[j].ModTime) {
			return files[i].Name > files[j].Name
		}
		return files[i].ModTime.After(files[j].ModTime)
	})
	return files, nil
}

// Prune deletes all but the newest keep backups and returns the removed
// paths. A keep <= 0 disables pruning.
func (f *BackupFolder) Prune(keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	files, err := f.List()
	if err != nil {
		return nil, err
	}
	var removed []string
	for i := keep; i < len(files); i++ {
		if err := os.Remove(files[i].Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("removing old backup %s: %w", files[i].Name, err)
		}
		removed = append(removed, files[i].Path)
	}
	return removed, nil
}
