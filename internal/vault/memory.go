package vault

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"

	"clinicdesk/internal/clinic"
	"clinicdesk/internal/fs"
)

type memoryObject struct {
	file clinic.RemoteFile
	data []byte
}

// MemoryVault is an in-memory implementation of clinic.RemoteStore.
// Objects are keyed by name; re-uploading a name keeps its ID.
// This implementation is safe for concurrent use.
type MemoryVault struct {
	name  string
	clock clinic.Clock

	mu            sync.RWMutex
	objects       map[string]*memoryObject // name -> object
	byID          map[string]string        // id -> name
	authenticated bool
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string, clock clinic.Clock) *MemoryVault {
	if clock == nil {
		clock = clinic.RealClock{}
	}
	return &MemoryVault{
		name:          name,
		clock:         clock,
		objects:       make(map[string]*memoryObject),
		byID:          make(map[string]string),
		authenticated: true,
	}
}

// SetAuthenticated toggles the credentials state reported by IsAuthenticated.
func (m *MemoryVault) SetAuthenticated(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authenticated = ok
}

func (m *MemoryVault) IsAuthenticated(ctx context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.authenticated, nil
}

func (m *MemoryVault) checkAuth() error {
	if !m.authenticated {
		return clinic.ErrNotAuthenticated
	}
	return nil
}

// UploadFile stores the file at path under name.
func (m *MemoryVault) UploadFile(ctx context.Context, path, name, mimeType string, desc clinic.BackupDescription) (*clinic.RemoteFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload source: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkAuth(); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	if prev, ok := m.objects[name]; ok {
		id = prev.file.ID
	}
	obj := &memoryObject{
		file: clinic.RemoteFile{
			ID:          id,
			Name:        name,
			Size:        int64(len(data)),
			ModifiedAt:  m.clock.Now().UTC(),
			MimeType:    mimeType,
			Description: desc,
		},
		data: data,
	}
	m.objects[name] = obj
	m.byID[id] = name

	f := obj.file
	return &f, nil
}

func (m *MemoryVault) FindFile(ctx context.Context, name string) (*clinic.RemoteFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkAuth(); err != nil {
		return nil, err
	}

	obj, ok := m.objects[name]
	if !ok {
		return nil, nil
	}
	f := obj.file
	return &f, nil
}

func (m *MemoryVault) lookup(fileID string) (*memoryObject, error) {
	name, ok := m.byID[fileID]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", fileID, clinic.ErrRemoteNotFound)
	}
	return m.objects[name], nil
}

// DownloadFile writes the object with fileID to destPath.
func (m *MemoryVault) DownloadFile(ctx context.Context, fileID, destPath string) error {
	m.mu.RLock()
	if err := m.checkAuth(); err != nil {
		m.mu.RUnlock()
		return err
	}
	obj, err := m.lookup(fileID)
	m.mu.RUnlock()
	if err != nil {
		return err
	}

	return fs.WriteFile(destPath, bytes.NewReader(obj.data), int64(len(obj.data)))
}

func (m *MemoryVault) ListFiles(ctx context.Context, limit int) ([]*clinic.RemoteFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkAuth(); err != nil {
		return nil, err
	}

	files := make([]*clinic.RemoteFile, 0, len(m.objects))
	for _, obj := range m.objects {
		f := obj.file
		files = append(files, &f)
	}
	sortNewestFirst(files)
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}

func (m *MemoryVault) DeleteFile(ctx context.Context, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkAuth(); err != nil {
		return err
	}

	obj, err := m.lookup(fileID)
	if err != nil {
		return err
	}
	delete(m.objects, obj.file.Name)
	delete(m.byID, fileID)
	return nil
}

func (m *MemoryVault) GetFileMetadata(ctx context.Context, fileID string) (*clinic.RemoteFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkAuth(); err != nil {
		return nil, err
	}

	obj, err := m.lookup(fileID)
	if err != nil {
		return nil, err
	}
	f := obj.file
	return &f, nil
}

// sortNewestFirst orders files by modification time, newest first, with
// the name as a tie breaker.
func sortNewestFirst(files []*clinic.RemoteFile) {
	sort.Slice(files, func(i, j int) bool {
		if !files[i].ModifiedAt.Equal(files[j].ModifiedAt) {
			return files[i].ModifiedAt.After(files[j].ModifiedAt)
		}
		return files[i].Name < files[j].Name
	})
}

// Compile-time check that MemoryVault implements clinic.RemoteStore
var _ clinic.RemoteStore = (*MemoryVault)(nil)
