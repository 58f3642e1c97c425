package fs

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.db")
	dst := filepath.Join(dir, "nested", "dst.db")
	data := []byte("SQLite format 3\x00 and then some pages")
	if err := os.WriteFile(src, data, 0644); err != nil {
		t.Fatal(err)
	}

	if err := CopyFile(src, dst); err != nil {
		t.Fatalf("CopyFile() error = %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("copied content = %q, want %q", got, data)
	}

	entries, _ := os.ReadDir(filepath.Dir(dst))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestCopyFileMissingSource(t *testing.T) {
	dir := t.TempDir()
	if err := CopyFile(filepath.Join(dir, "missing"), filepath.Join(dir, "dst")); err == nil {
		t.Fatal("expected error for missing source")
	}
	if _, err := os.Stat(filepath.Join(dir, "dst")); !os.IsNotExist(err) {
		t.Error("destination should not exist after failed copy")
	}
}

func TestWriteFileSizeMismatch(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "out")
	err := WriteFile(dst, strings.NewReader("abc"), 10)
	if err == nil || !strings.Contains(err.Error(), "size mismatch") {
		t.Fatalf("WriteFile() error = %v, want size mismatch", err)
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Error("destination should not exist after size mismatch")
	}
}

func TestReplaceDatabaseFileRemovesSidecars(t *testing.T) {
	dir := t.TempDir()
	live := filepath.Join(dir, "clinic.db")
	candidate := filepath.Join(dir, "candidate.db")
	os.WriteFile(live, []byte("old"), 0644)
	os.WriteFile(live+"-wal", []byte("stale wal"), 0644)
	os.WriteFile(live+"-shm", []byte("stale shm"), 0644)
	os.WriteFile(candidate, []byte("new"), 0644)

	if err := ReplaceDatabaseFile(candidate, live); err != nil {
		t.Fatalf("ReplaceDatabaseFile() error = %v", err)
	}
	got, _ := os.ReadFile(live)
	if string(got) != "new" {
		t.Errorf("live content = %q, want %q", got, "new")
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if _, err := os.Stat(live + suffix); !os.IsNotExist(err) {
			t.Errorf("%s sidecar still present", suffix)
		}
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	os.WriteFile(file, nil, 0644)

	if ok, err := Exists(file); !ok || err != nil {
		t.Errorf("Exists(file) = %v, %v; want true, nil", ok, err)
	}
	if ok, err := Exists(filepath.Join(dir, "nope")); ok || err != nil {
		t.Errorf("Exists(missing) = %v, %v; want false, nil", ok, err)
	}
	if _, err := Exists(dir); err == nil {
		t.Error("Exists(dir) should fail")
	}
}

func TestBackupFolderListAndPrune(t *testing.T) {
	dir := t.TempDir()
	folder := NewBackupFolder(dir, "clinicdesk_backup_")
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	var names []string
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Hour)
		name := folder.Name(ts, i%2 == 1)
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte{byte(i)}, 0644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(path, ts, ts); err != nil {
			t.Fatal(err)
		}
		names = append(names, name)
	}
	os.WriteFile(filepath.Join(dir, "unrelated.db"), nil, 0644)

	files, err := folder.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(files) != 5 {
		t.Fatalf("List() returned %d files, want 5", len(files))
	}
	if files[0].Name != names[4] {
		t.Errorf("newest = %s, want %s", files[0].Name, names[4])
	}
	if !files[1].Encrypted || files[0].Encrypted {
		t.Errorf("encrypted flags = %v, %v; want false, true", files[0].Encrypted, files[1].Encrypted)
	}

	removed, err := folder.Prune(2)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if len(removed) != 3 {
		t.Errorf("Prune() removed %d files, want 3", len(removed))
	}
	files, _ = folder.List()
	if len(files) != 2 || files[1].Name != names[3] {
		t.Errorf("after prune: %+v", files)
	}
	if _, err := os.Stat(filepath.Join(dir, "unrelated.db")); err != nil {
		t.Error("prune removed a file outside the folder prefix")
	}
}

func TestBackupFolderName(t *testing.T) {
	f := NewBackupFolder("", "clinicdesk_backup_")
	ts := time.Date(2025, 6, 7, 8, 9, 10, 0, time.UTC)
	if got := f.Name(ts, false); got != "clinicdesk_backup_2025-06-07_08-09-10.db" {
		t.Errorf("Name() = %s", got)
	}
	if got := f.Name(ts, true); got != "clinicdesk_backup_2025-06-07_08-09-10.db.enc" {
		t.Errorf("Name(encrypted) = %s", got)
	}
	if _, err := f.Store("x", "y"); err == nil {
		t.Error("Store() with empty dir should fail")
	}
}
