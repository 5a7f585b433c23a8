// Package checksum compares pushed files with their source by content hash.
package checksum

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/spf13/afero"

	"github.com/Ning0612/Phonesync/internal/domain"
)

// Algorithm represents the hashing algorithm to use
type Algorithm string

const (
	// MD5 is cheaper on old devices
	MD5 Algorithm = "md5"
	// SHA256 is the default
	SHA256 Algorithm = "sha256"
)

// DefaultBufferSize is the read size used while hashing
const DefaultBufferSize = 32 * 1024

// IsSupported checks if the given algorithm is supported
func IsSupported(algo Algorithm) bool {
	switch algo {
	case MD5, SHA256:
		return true
	default:
		return false
	}
}

// Command returns the device shell tool printing algo digests
func Command(algo Algorithm) string {
	return string(algo) + "sum"
}

func newHash(algo Algorithm) (hash.Hash, error) {
	switch algo {
	case MD5:
		return md5.New(), nil
	case SHA256:
		return sha256.New(), nil
	}
	return nil, fmt.Errorf("unsupported algorithm: %s", algo)
}

// Sum streams r through algo and returns the hex digest. It stops early
// when ctx is cancelled.
func Sum(ctx context.Context, r io.Reader, algo Algorithm) (string, error) {
	h, err := newHash(algo)
	if err != nil {
		return "", err
	}

	buf := make([]byte, DefaultBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read error: %w", err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// SumFile hashes the file at path on fs
func SumFile(ctx context.Context, fs afero.Fs, path string, algo Algorithm) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", &domain.IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()
	return Sum(ctx, f, algo)
}

// ParseDigest extracts the digest from `md5sum`/`sha256sum` output of the
// form "<hex>  <path>"
func ParseDigest(output string, algo Algorithm) (string, error) {
	fields := strings.Fields(output)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty %s output", Command(algo))
	}

	digest := strings.ToLower(fields[0])
	want := 2 * sha256.Size
	if algo == MD5 {
		want = 2 * md5.Size
	}
	if len(digest) != want {
		return "", fmt.Errorf("unexpected %s output: %q", Command(algo), strings.TrimSpace(output))
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", fmt.Errorf("unexpected %s output: %q", Command(algo), strings.TrimSpace(output))
	}
	return digest, nil
}

// RemoteHasher computes digests of files on the device
type RemoteHasher interface {
	Hash(ctx context.Context, remotePath string, algo Algorithm) (string, error)
}

// MismatchError reports a pushed file whose content differs from its source
type MismatchError struct {
	Path   string
	Local  string
	Remote string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: local %s, device %s", e.Path, e.Local, e.Remote)
}

// Verifier compares local files with their copies on a device
type Verifier struct {
	fs     afero.Fs
	device RemoteHasher
	algo   Algorithm
}

// NewVerifier creates a verifier hashing with algo
func NewVerifier(fs afero.Fs, device RemoteHasher, algo Algorithm) (*Verifier, error) {
	if !IsSupported(algo) {
		return nil, fmt.Errorf("%w: unsupported checksum algorithm %q", domain.ErrConfigInvalid, algo)
	}
	return &Verifier{fs: fs, device: device, algo: algo}, nil
}

// Verify returns a *MismatchError when remotePath differs from localPath
func (v *Verifier) Verify(ctx context.Context, localPath, remotePath string) error {
	local, err := SumFile(ctx, v.fs, localPath, v.algo)
	if err != nil {
		return err
	}
	remote, err := v.device.Hash(ctx, remotePath, v.algo)
	if err != nil {
		return err
	}
	if local != remote {
		return &MismatchError{Path: remotePath, Local: local, Remote: remote}
	}
	return nil
}
