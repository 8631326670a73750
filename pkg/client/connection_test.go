package client

import (
	"context"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"dstransfer/pkg/auth"
	"dstransfer/pkg/config"
	"dstransfer/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func settingsFor(t *testing.T, server *httptest.Server, root string) config.EndpointSettings {
	t.Helper()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return config.EndpointSettings{
		Server:          host,
		Port:            port,
		Root:            root,
		Transport:       config.Scheme(u.Scheme),
		TLS:             auth.DefaultTLSOptions(),
		ConnectTimeout:  2 * time.Second,
		ResponseTimeout: 2 * time.Second,
	}
}

func TestOpenBuildsURLAndAttachesCredentials(t *testing.T) {
	var gotPath, gotQuery, gotUser, gotPass string
	var gotAuth bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotUser, gotPass, gotAuth = r.BasicAuth()
		w.Header().Set("X-Test", "ok")
		_, _ = io.WriteString(w, "hello")
	}))
	defer server.Close()

	settings := settingsFor(t, server, "/fedora/")
	settings.Username = "fedoraAdmin"
	settings.Password = "secret"

	conn, err := NewConnector(settings, zaptest.NewLogger(t))
	require.NoError(t, err)

	h, err := conn.Open(context.Background(), "objects/demo:1/datastreams/DS1", http.MethodGet, url.Values{"format": {"xml"}})
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, h.Method())
	assert.Equal(t, 0, h.StatusCode())
	assert.True(t, strings.HasSuffix(h.URL(), "/fedora/objects/demo:1/datastreams/DS1?format=xml"), h.URL())

	resp, err := h.Do()
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, "hello", string(body))
	assert.Equal(t, http.StatusOK, h.StatusCode())
	assert.Equal(t, "ok", h.Header("X-Test"))
	assert.Equal(t, int64(5), h.ContentLength())
	assert.Equal(t, "/fedora/objects/demo:1/datastreams/DS1", gotPath)
	assert.Equal(t, "format=xml", gotQuery)
	assert.True(t, gotAuth)
	assert.Equal(t, "fedoraAdmin", gotUser)
	assert.Equal(t, "secret", gotPass)
}

func TestCredentialsArePerConnector(t *testing.T) {
	users := make(chan string, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, _, _ := r.BasicAuth()
		users <- u
	}))
	defer server.Close()

	a := settingsFor(t, server, "/")
	a.Username, a.Password = "alice", "a"
	b := settingsFor(t, server, "/")
	b.Username, b.Password = "bob", "b"

	ca, err := NewConnector(a, zaptest.NewLogger(t))
	require.NoError(t, err)
	cb, err := NewConnector(b, zaptest.NewLogger(t))
	require.NoError(t, err)

	for _, c := range []*Connector{ca, cb} {
		h, err := c.Open(context.Background(), "x", http.MethodGet, nil)
		require.NoError(t, err)
		resp, err := h.Do()
		require.NoError(t, err)
		resp.Body.Close()
	}

	assert.Equal(t, "alice", <-users)
	assert.Equal(t, "bob", <-users)
}

func TestDoNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	conn, err := NewConnector(settingsFor(t, server, "/"), zaptest.NewLogger(t))
	require.NoError(t, err)

	t.Run("404 matches ErrNotFound", func(t *testing.T) {
		h, err := conn.Open(context.Background(), "missing", http.MethodGet, nil)
		require.NoError(t, err)
		_, err = h.Do()
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrNotFound)
		assert.Equal(t, types.KindTransport, types.KindOf(err))
		assert.Equal(t, http.StatusNotFound, h.StatusCode())
	})

	t.Run("500 carries status code", func(t *testing.T) {
		h, err := conn.Open(context.Background(), "broken", http.MethodGet, nil)
		require.NoError(t, err)
		_, err = h.Do()
		require.Error(t, err)

		var te *types.Error
		require.True(t, errors.As(err, &te))
		assert.Equal(t, http.StatusInternalServerError, te.StatusCode)
		assert.Contains(t, err.Error(), "HTTP 500")
	})
}

func TestSetBodyStreamsUpload(t *testing.T) {
	var received []byte
	var contentLength int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		contentLength = r.ContentLength
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	conn, err := NewConnector(settingsFor(t, server, "/"), zaptest.NewLogger(t))
	require.NoError(t, err)

	h, err := conn.Open(context.Background(), "upload", http.MethodPut, nil)
	require.NoError(t, err)
	h.SetHeader("Content-Type", "text/plain")
	h.SetBody(strings.NewReader("payload"), 7)

	resp, err := h.Do()
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusCreated, h.StatusCode())
	assert.Equal(t, "payload", string(received))
	assert.Equal(t, int64(7), contentLength)
}

func TestNetworkFailureIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	settings := settingsFor(t, server, "/")
	server.Close()

	conn, err := NewConnector(settings, zaptest.NewLogger(t))
	require.NoError(t, err)

	h, err := conn.Open(context.Background(), "x", http.MethodGet, nil)
	require.NoError(t, err)
	_, err = h.Do()
	require.Error(t, err)
	assert.Equal(t, types.KindTransport, types.KindOf(err))
}

func TestResponseTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	settings := settingsFor(t, server, "/")
	settings.ResponseTimeout = 100 * time.Millisecond

	conn, err := NewConnector(settings, zaptest.NewLogger(t))
	require.NoError(t, err)

	h, err := conn.Open(context.Background(), "slow", http.MethodGet, nil)
	require.NoError(t, err)
	_, err = h.Do()
	require.Error(t, err)
	assert.Equal(t, types.KindTransport, types.KindOf(err))
}

func TestNewConnectorRejectsInvalidSettings(t *testing.T) {
	_, err := NewConnector(config.EndpointSettings{Port: 80, Transport: config.SchemeHTTP}, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Equal(t, types.KindConfiguration, types.KindOf(err))
}

func TestResolveURLRejectsAbsolutePaths(t *testing.T) {
	conn, err := NewConnector(config.EndpointSettings{
		Server: "localhost", Port: 8080, Root: "/fedora/", Transport: config.SchemeHTTP,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = conn.ResolveURL("http://elsewhere.example.org/x", nil)
	require.Error(t, err)
	assert.Equal(t, types.KindTransport, types.KindOf(err))

	u, err := conn.ResolveURL("/objects/a:1", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/fedora/objects/a:1", u.String())

	_, err = conn.ResolveURL("../../etc/passwd", nil)
	require.Error(t, err)
}

func TestTLSPolicyPerConnector(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "secure")
	}))
	defer server.Close()

	get := func(settings config.EndpointSettings) error {
		conn, err := NewConnector(settings, zaptest.NewLogger(t))
		require.NoError(t, err)
		h, err := conn.Open(context.Background(), "", http.MethodGet, nil)
		require.NoError(t, err)
		resp, err := h.Do()
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}

	strict := settingsFor(t, server, "/")
	err := get(strict)
	require.Error(t, err, "self-signed certificate must be rejected by default")
	assert.Equal(t, types.KindTransport, types.KindOf(err))

	insecure := settingsFor(t, server, "/")
	insecure.TLS.Policy = auth.PolicyInsecureAcceptAll
	assert.NoError(t, get(insecure))

	caPath := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(caPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: server.Certificate().Raw}), 0600))
	pinned := settingsFor(t, server, "/")
	pinned.TLS.CAPath = caPath
	assert.NoError(t, get(pinned))

	// the strict connector is unaffected by the insecure one built after it
	assert.Error(t, get(strict))
}
