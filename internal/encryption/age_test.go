package encryption

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"clinicdesk/internal/config"
)

// lowWorkFactor keeps scrypt fast in tests.
const lowWorkFactor = 10

func newTestGate(t *testing.T) *AgeGate {
	t.Helper()
	return NewAgeGate(config.EncryptionConfig{Type: "age", WorkFactor: lowWorkFactor})
}

func TestAgeGate_EncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "simple text", input: []byte("hello world")},
		{name: "empty", input: []byte{}},
		{name: "binary data", input: []byte{0x00, 0xff, 0x01, 0xfe}},
		{name: "large data", input: bytes.Repeat([]byte("abcdef"), 100000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := newTestGate(t)
			dir := t.TempDir()
			src := filepath.Join(dir, "plain.db")
			enc := filepath.Join(dir, "plain.db.enc")
			out := filepath.Join(dir, "out.db")
			if err := os.WriteFile(src, tt.input, 0644); err != nil {
				t.Fatal(err)
			}

			if err := g.EncryptFile(src, enc, "correct-horse"); err != nil {
				t.Fatalf("EncryptFile() error = %v", err)
			}
			ok, err := g.IsEncryptedFile(enc)
			if err != nil || !ok {
				t.Errorf("IsEncryptedFile(enc) = %v, %v; want true", ok, err)
			}
			if err := g.DecryptFile(enc, out, "correct-horse"); err != nil {
				t.Fatalf("DecryptFile() error = %v", err)
			}
			got, _ := os.ReadFile(out)
			if !bytes.Equal(got, tt.input) {
				t.Errorf("round trip mismatch: got %d bytes, want %d", len(got), len(tt.input))
			}
		})
	}
}

func TestAgeGate_WrongPassphrase(t *testing.T) {
	t.Parallel()
	g := newTestGate(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "plain.db")
	enc := filepath.Join(dir, "plain.db.enc")
	out := filepath.Join(dir, "out.db")
	os.WriteFile(src, []byte("SQLite format 3\x00 secret patient data"), 0644)

	if err := g.EncryptFile(src, enc, "correct-horse"); err != nil {
		t.Fatal(err)
	}
	err := g.DecryptFile(enc, out, "wrong")
	if !errors.Is(err, ErrDecrypt) {
		t.Fatalf("DecryptFile(wrong passphrase) error = %v, want ErrDecrypt", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("partial plaintext left behind after failed decryption")
	}
}

func TestAgeGate_TamperedPayload(t *testing.T) {
	t.Parallel()
	g := newTestGate(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "plain.db")
	enc := filepath.Join(dir, "plain.db.enc")
	os.WriteFile(src, bytes.Repeat([]byte("patient "), 4096), 0644)
	if err := g.EncryptFile(src, enc, "pw"); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(enc)
	data[len(data)-10] ^= 0xff
	os.WriteFile(enc, data, 0644)

	err := g.DecryptFile(enc, filepath.Join(dir, "out.db"), "pw")
	if !errors.Is(err, ErrDecrypt) {
		t.Errorf("DecryptFile(tampered) error = %v, want ErrDecrypt", err)
	}
}

func TestAgeGate_IsEncryptedFile(t *testing.T) {
	t.Parallel()
	g := newTestGate(t)
	dir := t.TempDir()

	plain := filepath.Join(dir, "plain.db")
	os.WriteFile(plain, []byte("SQLite format 3\x00........................"), 0644)
	if ok, err := g.IsEncryptedFile(plain); ok || err != nil {
		t.Errorf("IsEncryptedFile(sqlite) = %v, %v; want false", ok, err)
	}

	short := filepath.Join(dir, "short")
	os.WriteFile(short, []byte("age"), 0644)
	if ok, err := g.IsEncryptedFile(short); ok || err != nil {
		t.Errorf("IsEncryptedFile(short) = %v, %v; want false", ok, err)
	}

	if _, err := g.IsEncryptedFile(filepath.Join(dir, "missing")); err == nil {
		t.Error("IsEncryptedFile(missing) should fail")
	}
}

func TestAgeGate_EmptyPassphrase(t *testing.T) {
	t.Parallel()
	g := newTestGate(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "plain.db")
	os.WriteFile(src, []byte("data"), 0644)
	if err := g.EncryptFile(src, filepath.Join(dir, "x.enc"), ""); err == nil {
		t.Error("EncryptFile() with empty passphrase should fail")
	}
}

func TestNewGateFromConfig(t *testing.T) {
	if _, err := NewGateFromConfig(config.EncryptionConfig{Type: "age"}); err != nil {
		t.Errorf("age: %v", err)
	}
	if _, err := NewGateFromConfig(config.EncryptionConfig{}); err != nil {
		t.Errorf("default: %v", err)
	}
	if _, err := NewGateFromConfig(config.EncryptionConfig{Type: "rot13"}); err == nil {
		t.Error("unknown type should fail")
	}
}
