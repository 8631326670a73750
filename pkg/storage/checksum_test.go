package storage

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"dstransfer/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksumKnownVectors(t *testing.T) {
	v := NewVerifier(0)

	tests := []struct {
		algorithm string
		want      string
	}{
		{"MD5", "900150983cd24fb0d6963f7d28e17f72"},
		{"SHA-1", "a9993e364706816aba3e25717850c26c9cd0d89d"},
		{"SHA-256", "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{"SHA-384", "cb00753f45a35e8bb5a03d699ac65007272c32ab0eded1631a8b605a43ff5bed8086072ba1e7cc2358baeca134c825a7"},
		{"SHA-512", "ddaf35a193617abacc417349ae20413112e6fa4e89a97ea20a9eeee64b55d39a2192992a274fc1a836ba3c23a3feebbd454d4423643ce80e2a9ac94fa54ca49f"},
		{"SHA3-256", "3a985da74fe225b2045c172d6bd390bd855f086e3e9d525b46bfe24511431532"},
		{"BLAKE3", "6437b3ac38465133ffb63b75273a8db548c558465d79db03fd359c6cd5bd9d85"},
	}

	for _, tt := range tests {
		t.Run(tt.algorithm, func(t *testing.T) {
			got, err := v.Checksum(tt.algorithm, strings.NewReader("abc"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLookupAlgorithmNames(t *testing.T) {
	for _, name := range []string{"md5", "MD5", "sha1", "SHA-1", "sha_256", "Sha-256", "sha3-256", "SHA3_256", "blake3"} {
		_, err := LookupAlgorithm(name)
		assert.NoError(t, err, name)
	}

	for _, name := range []string{"", "DISABLED", "CRC32", "SHA-999"} {
		_, err := LookupAlgorithm(name)
		require.Error(t, err, name)
		assert.ErrorIs(t, err, types.ErrUnsupportedAlgorithm)
		assert.Equal(t, types.KindIntegrity, types.KindOf(err))
		assert.Equal(t, types.OutcomeChecksumMismatch, types.OutcomeFor(err))
	}

	assert.Contains(t, SupportedAlgorithms(), "SHA-256")
	assert.Len(t, SupportedAlgorithms(), 7)
}

func TestChecksumIsDeterministic(t *testing.T) {
	v := NewVerifier(1024)
	data := make([]byte, 300*1024)
	_, err := rand.Read(data)
	require.NoError(t, err)

	a, err := v.Checksum("SHA-256", bytes.NewReader(data))
	require.NoError(t, err)
	b, err := v.Checksum("SHA-256", bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	data[0] ^= 0xff
	c, err := v.Checksum("SHA-256", bytes.NewReader(data))
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name          string
		local, remote string
		want          bool
	}{
		{"equal", "abc123", "abc123", true},
		{"case insensitive", "ABC123", "abc123", true},
		{"surrounding space", " abc123\n", "abc123", true},
		{"different", "abc123", "abc124", false},
		{"empty local", "", "abc123", false},
		{"empty remote", "abc123", "", false},
		{"both empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.local, tt.remote))
		})
	}
}

func TestVerifyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "content.bin")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0644))
	v := NewVerifier(0)

	local, err := v.Verify("MD5", path, "900150983CD24FB0D6963F7D28E17F72")
	require.NoError(t, err)
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", local)

	local, err = v.Verify("MD5", path, "00000000000000000000000000000000")
	require.Error(t, err)
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", local, "local digest is reported on mismatch")
	assert.ErrorIs(t, err, types.ErrChecksumMismatch)
	assert.Equal(t, types.OutcomeChecksumMismatch, types.OutcomeFor(err))

	var mismatch *types.ChecksumMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "MD5", mismatch.Algorithm)
	assert.Equal(t, "00000000000000000000000000000000", mismatch.Remote)

	_, err = v.Verify("MD5", path, "")
	assert.ErrorIs(t, err, types.ErrChecksumMismatch, "a missing remote checksum never verifies")

	_, err = v.Verify("DISABLED", path, "none")
	assert.ErrorIs(t, err, types.ErrUnsupportedAlgorithm)

	_, err = v.ChecksumFile("MD5", filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestChecksumReadFailure(t *testing.T) {
	v := NewVerifier(0)
	readErr := errors.New("device error")

	src := io.MultiReader(strings.NewReader("partial"), iotest.ErrReader(readErr))
	_, err := v.Checksum("SHA-256", src)
	require.Error(t, err)
	assert.ErrorIs(t, err, readErr)
	assert.Equal(t, types.KindIntegrity, types.KindOf(err))
	assert.Equal(t, types.OutcomeChecksumMismatch, types.OutcomeFor(err))
}

func BenchmarkChecksum(b *testing.B) {
	data := make([]byte, 10*1024*1024) // 10MB
	rand.Read(data)
	v := NewVerifier(DefaultBufferSize)

	for _, alg := range []string{"MD5", "SHA-256", "BLAKE3"} {
		b.Run(alg, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(data)))
			for i := 0; i < b.N; i++ {
				_, _ = v.Checksum(alg, bytes.NewReader(data))
			}
		})
	}
}
