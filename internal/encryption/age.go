package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"

	"clinicdesk/internal/clinic"
	"clinicdesk/internal/config"
)

// ErrDecrypt is the clinic sentinel for a wrong passphrase or a payload
// that fails authentication.
var ErrDecrypt = clinic.ErrDecryptionFailed

// ageHeader starts every binary age file.
var ageHeader = []byte("age-encryption.org/v1\n")

// DefaultWorkFactor is the scrypt work factor (log2 N) used for new files.
const DefaultWorkFactor = 18

// AgeGate implements clinic.CryptoGate with age's scrypt passphrase
// recipient. The key is derived from the passphrase with a random salt
// stored in the file header, and the payload is authenticated, so a wrong
// passphrase and a modified file are both detected.
type AgeGate struct {
	workFactor int
}

var _ clinic.CryptoGate = (*AgeGate)(nil)

// NewAgeGate creates an AgeGate from configuration.
func NewAgeGate(cfg config.EncryptionConfig) *AgeGate {
	wf := cfg.WorkFactor
	if wf <= 0 {
		wf = DefaultWorkFactor
	}
	return &AgeGate{workFactor: wf}
}

// IsEncryptedFile reports whether path starts with the age header. Only the
// first few bytes are read.
func (g *AgeGate) IsEncryptedFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, len(ageHeader))
	if _, err := io.ReadFull(f, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, fmt.Errorf("reading %s: %w", path, err)
	}
	return bytes.Equal(buf, ageHeader), nil
}

// Encrypt reads plaintext from r and writes age ciphertext to w.
func (g *AgeGate) Encrypt(r io.Reader, w io.Writer, passphrase string) error {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}
	recipient.SetWorkFactor(g.workFactor)

	encWriter, err := age.Encrypt(w, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.Copy(encWriter, r); err != nil {
		return fmt.Errorf("encrypting data: %w", err)
	}
	if err := encWriter.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	return nil
}

// Decrypt reads age ciphertext from r and writes plaintext to w. Errors
// caused by the passphrase or the ciphertext wrap ErrDecrypt.
func (g *AgeGate) Decrypt(r io.Reader, w io.Writer, passphrase string) error {
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	// Accept files written with a higher work factor than our own.
	identity.SetMaxWorkFactor(max(g.workFactor, DefaultWorkFactor+4))

	decReader, err := age.Decrypt(r, identity)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if _, err := io.Copy(w, decReader); err != nil {
		return fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return nil
}

// EncryptFile encrypts src into dst. dst is removed on failure.
func (g *AgeGate) EncryptFile(src, dst, passphrase string) error {
	if passphrase == "" {
		return errors.New("passphrase must not be empty")
	}
	return transformFile(src, dst, func(r io.Reader, w io.Writer) error {
		return g.Encrypt(r, w, passphrase)
	})
}

// DecryptFile decrypts src into dst. dst is removed on failure, so a
// wrong passphrase never leaves partial plaintext behind.
func (g *AgeGate) DecryptFile(src, dst, passphrase string) error {
	return transformFile(src, dst, func(r io.Reader, w io.Writer) error {
		return g.Decrypt(r, w, passphrase)
	})
}

func transformFile(src, dst string, fn func(io.Reader, io.Writer) error) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}

	if err := fn(in, out); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("closing %s: %w", dst, err)
	}
	return nil
}
