package storage

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"sort"
	"strings"

	"dstransfer/pkg/types"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

// Algorithm is a registered digest.
type Algorithm struct {
	Name string
	New  func() hash.Hash
}

var algorithms = map[string]Algorithm{
	"MD5":     {Name: "MD5", New: md5.New},
	"SHA1":    {Name: "SHA-1", New: sha1.New},
	"SHA256":  {Name: "SHA-256", New: sha256.New},
	"SHA384":  {Name: "SHA-384", New: sha512.New384},
	"SHA512":  {Name: "SHA-512", New: sha512.New},
	"SHA3256": {Name: "SHA3-256", New: sha3.New256},
	"BLAKE3":  {Name: "BLAKE3", New: func() hash.Hash { return blake3.New() }},
}

func normalizeAlgorithm(name string) string {
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToUpper(strings.TrimSpace(name)))
}

// LookupAlgorithm resolves name case-insensitively, ignoring '-' and '_'.
// Unknown names, including the repository's DISABLED, are an integrity error.
func LookupAlgorithm(name string) (Algorithm, error) {
	alg, ok := algorithms[normalizeAlgorithm(name)]
	if !ok {
		return Algorithm{}, types.NewIntegrityError("checksum", fmt.Errorf("%w: %q", types.ErrUnsupportedAlgorithm, name))
	}
	return alg, nil
}

// SupportedAlgorithms returns the canonical names of every registered digest.
func SupportedAlgorithms() []string {
	names := make([]string, 0, len(algorithms))
	for _, alg := range algorithms {
		names = append(names, alg.Name)
	}
	sort.Strings(names)
	return names
}

// Verifier computes and compares content digests.
type Verifier struct {
	bufferSize int
}

// NewVerifier returns a Verifier reading bufferSize bytes at a time.
func NewVerifier(bufferSize int) *Verifier {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Verifier{bufferSize: bufferSize}
}

// Checksum reads r to the end and returns its lowercase hex digest. Every
// call uses a fresh digest.
func (v *Verifier) Checksum(algorithm string, r io.Reader) (string, error) {
	alg, err := LookupAlgorithm(algorithm)
	if err != nil {
		return "", err
	}

	h := alg.New()
	if _, err := io.CopyBuffer(h, r, make([]byte, v.bufferSize)); err != nil {
		return "", types.NewIntegrityError("checksum", fmt.Errorf("failed to read content for %s digest: %w", alg.Name, err))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ChecksumFile returns the digest of the file at path.
func (v *Verifier) ChecksumFile(algorithm, path string) (string, error) {
	if _, err := LookupAlgorithm(algorithm); err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return v.Checksum(algorithm, f)
}

// Compare reports whether two hex digests are equal ignoring case. An empty
// value on either side never matches.
func Compare(local, remote string) bool {
	local = strings.TrimSpace(local)
	remote = strings.TrimSpace(remote)
	if local == "" || remote == "" {
		return false
	}
	return strings.EqualFold(local, remote)
}

// Verify digests the file at path and compares it with remote. The local
// digest is returned even when verification fails.
func (v *Verifier) Verify(algorithm, path, remote string) (string, error) {
	local, err := v.ChecksumFile(algorithm, path)
	if err != nil {
		return "", err
	}
	if !Compare(local, remote) {
		alg, _ := LookupAlgorithm(algorithm)
		return local, types.NewIntegrityError("verify", &types.ChecksumMismatchError{
			Algorithm: alg.Name,
			Local:     local,
			Remote:    remote,
		})
	}
	return local, nil
}
