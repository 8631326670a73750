package webdav

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dstransfer/pkg/auth"
	"dstransfer/pkg/client"
	"dstransfer/pkg/config"
	"dstransfer/pkg/storage"
	"dstransfer/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	xwebdav "golang.org/x/net/webdav"
)

type memoryRecorder struct {
	mu      sync.Mutex
	results []*types.TransferResult
}

func (m *memoryRecorder) Record(r *types.TransferResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
	return nil
}

type davServer struct {
	*httptest.Server
	fs xwebdav.FileSystem

	// truncatePuts drops the last byte of every PUT body when set.
	truncatePuts atomic.Bool
	mkcols       atomic.Int32
}

func newDAVServer(t *testing.T) *davServer {
	t.Helper()
	s := &davServer{fs: xwebdav.NewMemFS()}
	handler := &xwebdav.Handler{
		Prefix:     "/dav",
		FileSystem: s.fs,
		LockSystem: xwebdav.NewMemLS(),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "MKCOL":
			s.mkcols.Add(1)
		case http.MethodPut:
			if s.truncatePuts.Load() && r.ContentLength > 0 {
				r.Body = io.NopCloser(io.LimitReader(r.Body, r.ContentLength-1))
			}
		}
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *davServer) settings() config.EndpointSettings {
	u, _ := url.Parse(s.URL)
	host, portStr, _ := net.SplitHostPort(u.Host)
	port, _ := strconv.Atoi(portStr)
	return config.EndpointSettings{
		Server:          host,
		Port:            port,
		Root:            "/dav/",
		Transport:       config.SchemeHTTP,
		TLS:             auth.DefaultTLSOptions(),
		ConnectTimeout:  5 * time.Second,
		ResponseTimeout: 5 * time.Second,
	}
}

func (s *davServer) write(t *testing.T, name string, content []byte) {
	t.Helper()
	ctx := context.Background()
	f, err := s.fs.OpenFile(ctx, name, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	require.NoError(t, err)
	_, err = f.Write(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func (s *davServer) read(t *testing.T, name string) []byte {
	t.Helper()
	f, err := s.fs.OpenFile(context.Background(), name, os.O_RDONLY, 0)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return data
}

func newTestClient(t *testing.T, server *davServer, opts ...Option) *Client {
	t.Helper()
	logger := zaptest.NewLogger(t)
	conn, err := client.NewConnector(server.settings(), logger)
	require.NoError(t, err)
	engine := storage.NewTransferEngine(logger, storage.WithIdleTimeout(2*time.Second))
	return NewClient(conn, nil, engine, storage.NewVerifier(0), logger, opts...)
}

func randomContent(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.Read(data)
	require.NoError(t, err)
	return data
}

func md5Of(t *testing.T, data []byte) string {
	t.Helper()
	sum, err := storage.NewVerifier(0).Checksum("MD5", bytes.NewReader(data))
	require.NoError(t, err)
	return sum
}

func TestRecoverFile(t *testing.T) {
	server := newDAVServer(t)
	content := randomContent(t, 300*1024)
	require.NoError(t, server.fs.Mkdir(context.Background(), "/reports", 0755))
	server.write(t, "/reports/2024 annual.pdf", content)

	recorder := &memoryRecorder{}
	c := newTestClient(t, server, WithRecorder(recorder))
	local := filepath.Join(t.TempDir(), "annual.pdf")

	res, err := c.RecoverFile(context.Background(), "reports/2024 annual.pdf", local)
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeSuccess, res.Outcome)
	assert.Equal(t, types.DirectionDownload, res.Direction)
	assert.Equal(t, "/reports/2024 annual.pdf", res.RemotePath)
	assert.Equal(t, int64(len(content)), res.BytesTransferred)
	assert.Equal(t, "MD5", res.ChecksumType)
	assert.Equal(t, md5Of(t, content), res.LocalChecksum)

	got, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	require.Len(t, recorder.results, 1)
	assert.Same(t, res, recorder.results[0])
}

func TestRecoverFileKeepsModificationTime(t *testing.T) {
	server := newDAVServer(t)
	server.write(t, "/notes.txt", []byte("field notes"))
	remote, err := server.fs.Stat(context.Background(), "/notes.txt")
	require.NoError(t, err)

	c := newTestClient(t, server)
	local := filepath.Join(t.TempDir(), "notes.txt")
	_, err = c.RecoverFile(context.Background(), "/notes.txt", local)
	require.NoError(t, err)

	info, err := os.Stat(local)
	require.NoError(t, err)
	assert.WithinDuration(t, remote.ModTime(), info.ModTime(), time.Second)
}

func TestRecoverFileMissing(t *testing.T) {
	server := newDAVServer(t)
	c := newTestClient(t, server)

	res, err := c.RecoverFile(context.Background(), "/absent.bin", filepath.Join(t.TempDir(), "absent.bin"))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Equal(t, types.OutcomeTransportError, res.Outcome)
	assert.NotEmpty(t, res.Error)
}

func TestPostFileCreatesCollections(t *testing.T) {
	server := newDAVServer(t)
	content := randomContent(t, 128*1024)
	local := filepath.Join(t.TempDir(), "upload.bin")
	require.NoError(t, os.WriteFile(local, content, 0644))

	c := newTestClient(t, server, WithChecksum("SHA256"))
	res, err := c.PostFile(context.Background(), local, "/archive/2024/q1/upload.bin")
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeSuccess, res.Outcome)
	assert.Equal(t, types.DirectionUpload, res.Direction)
	assert.Equal(t, int64(len(content)), res.BytesTransferred)
	assert.Equal(t, "SHA-256", res.ChecksumType)
	assert.Len(t, res.LocalChecksum, 64)
	assert.Equal(t, int32(3), server.mkcols.Load())

	for _, dir := range []string{"/archive", "/archive/2024", "/archive/2024/q1"} {
		info, err := server.fs.Stat(context.Background(), dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir(), dir)
	}
	assert.Equal(t, content, server.read(t, "/archive/2024/q1/upload.bin"))
}

func TestPostFileExistingCollections(t *testing.T) {
	server := newDAVServer(t)
	require.NoError(t, server.fs.Mkdir(context.Background(), "/in", 0755))
	local := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(local, []byte("alpha"), 0644))

	c := newTestClient(t, server)
	_, err := c.PostFile(context.Background(), local, "/in/a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), server.read(t, "/in/a.txt"))
}

func TestPostFileRefusesOverwrite(t *testing.T) {
	server := newDAVServer(t)
	server.write(t, "/keep.txt", []byte("original"))
	local := filepath.Join(t.TempDir(), "keep.txt")
	require.NoError(t, os.WriteFile(local, []byte("replacement"), 0644))

	c := newTestClient(t, server)
	res, err := c.PostFile(context.Background(), local, "/keep.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemoteExists)
	assert.Equal(t, types.OutcomeTransportError, res.Outcome)
	assert.Equal(t, []byte("original"), server.read(t, "/keep.txt"))
}

func TestPostFileOverwrite(t *testing.T) {
	server := newDAVServer(t)
	server.write(t, "/keep.txt", []byte("original"))
	local := filepath.Join(t.TempDir(), "keep.txt")
	require.NoError(t, os.WriteFile(local, []byte("replacement"), 0644))

	c := newTestClient(t, server, WithOverwrite(true))
	res, err := c.PostFile(context.Background(), local, "/keep.txt")
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSuccess, res.Outcome)
	assert.Equal(t, []byte("replacement"), server.read(t, "/keep.txt"))
}

func TestPostFileSizeMismatch(t *testing.T) {
	server := newDAVServer(t)
	server.truncatePuts.Store(true)
	local := filepath.Join(t.TempDir(), "short.txt")
	require.NoError(t, os.WriteFile(local, bytes.Repeat([]byte("x"), 100), 0644))

	c := newTestClient(t, server)
	res, err := c.PostFile(context.Background(), local, "/short.txt")
	require.Error(t, err)
	assert.Equal(t, types.OutcomeTransportError, res.Outcome)
}

func TestPostFileMissingLocal(t *testing.T) {
	server := newDAVServer(t)
	c := newTestClient(t, server)

	res, err := c.PostFile(context.Background(), filepath.Join(t.TempDir(), "nope"), "/nope")
	require.Error(t, err)
	assert.Equal(t, types.OutcomeTransportError, res.Outcome)
	assert.Zero(t, server.mkcols.Load())
}

func TestCleanRemote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a/b.txt", "/a/b.txt"},
		{"/a//b.txt", "/a/b.txt"},
		{" /a/./b.txt ", "/a/b.txt"},
		{"../../etc/passwd", "/etc/passwd"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cleanRemote(tt.in), tt.in)
	}
}

func TestEscapePath(t *testing.T) {
	assert.Equal(t, "/reports/2024%20annual.pdf", escapePath("/reports/2024 annual.pdf"))
	assert.Equal(t, "/a%23b/c%3Fd", escapePath("/a#b/c?d"))
}
