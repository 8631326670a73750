package client

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dstransfer/pkg/auth"
	"dstransfer/pkg/config"
	"dstransfer/pkg/types"

	"go.uber.org/zap"
)

const userAgent = "dstransfer/1.0"

// Connector opens requests against one configured endpoint. It is safe for
// concurrent use: settings are copied at construction and credentials are
// attached to each request rather than installed globally.
type Connector struct {
	settings config.EndpointSettings
	base     *url.URL
	client   *http.Client
	logger   *zap.Logger
}

// NewConnector validates settings and builds the endpoint's HTTP client with
// its own TLS policy.
func NewConnector(settings config.EndpointSettings, logger *zap.Logger) (*Connector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	builder, err := auth.NewTLSConfigBuilder(settings.TLS)
	if err != nil {
		return nil, types.NewConfigurationError("tls options", err)
	}
	tlsConfig, err := builder.BuildClientConfig()
	if err != nil {
		return nil, types.NewConfigurationError("tls config", err)
	}

	dialer := &net.Dialer{
		Timeout:   settings.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       tlsConfig,
		TLSHandshakeTimeout:   settings.ConnectTimeout,
		ResponseHeaderTimeout: settings.ResponseTimeout,
		ExpectContinueTimeout: time.Second,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}

	c := &Connector{
		settings: settings,
		base:     settings.BaseURL(),
		client:   &http.Client{Transport: transport},
		logger:   logger.With(zap.String("endpoint", settings.String())),
	}

	if settings.Transport == config.SchemeHTTPS {
		if settings.TLS.Insecure() {
			c.logger.Warn("TLS certificate verification disabled for endpoint")
		}
		c.checkCertificates()
	}

	return c, nil
}

// checkCertificates logs configured certificates that are expired or close
// to expiry. The handshake itself reports hard failures.
func (c *Connector) checkCertificates() {
	for _, path := range c.settings.TLS.CertificateFiles() {
		infos, err := auth.LoadCertificateInfo(path, auth.DefaultExpiryWarning)
		if err != nil {
			c.logger.Debug("Certificate not inspected", zap.String("path", path), zap.Error(err))
			continue
		}
		for _, info := range infos {
			if info.State == auth.CertValid {
				continue
			}
			c.logger.Warn("Certificate needs attention",
				zap.String("path", path),
				zap.String("subject", info.Subject),
				zap.String("state", string(info.State)),
				zap.Time("not_after", info.NotAfter))
		}
	}
}

// Transport exposes the endpoint's round tripper so other HTTP clients (the
// WebDAV client) share its TLS policy and timeouts.
func (c *Connector) Transport() http.RoundTripper {
	return c.client.Transport
}

func (c *Connector) Settings() config.EndpointSettings {
	return c.settings
}

// Credentials returns the configured basic auth pair.
func (c *Connector) Credentials() (username, password string) {
	return c.settings.Username, c.settings.Password
}

// ResolveURL joins remotePath onto the endpoint root.
func (c *Connector) ResolveURL(remotePath string, query url.Values) (*url.URL, error) {
	trimmed := strings.TrimLeft(remotePath, "/")
	if strings.Contains(trimmed, "://") {
		return nil, types.NewTransportError("resolve", remotePath, fmt.Errorf("remote path must be relative to the endpoint root"))
	}

	// "./" keeps a colon in the first segment from parsing as a scheme.
	rel, err := url.Parse("./" + trimmed)
	if err != nil {
		return nil, types.NewTransportError("resolve", remotePath, err)
	}

	u := c.base.ResolveReference(rel)
	if !strings.HasPrefix(u.Path, c.base.Path) {
		return nil, types.NewTransportError("resolve", remotePath, fmt.Errorf("remote path escapes the endpoint root"))
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u, nil
}

// Open prepares a request for remotePath. No network traffic happens until
// Do is called.
func (c *Connector) Open(ctx context.Context, remotePath, method string, query url.Values) (*Handle, error) {
	u, err := c.ResolveURL(remotePath, query)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, types.NewTransportError(strings.ToLower(method), u.String(), err)
	}
	req.Header.Set("User-Agent", userAgent)
	if c.settings.Username != "" {
		req.SetBasicAuth(c.settings.Username, c.settings.Password)
	}

	return &Handle{connector: c, req: req}, nil
}

// Handle is one prepared request and, after Do, its response.
type Handle struct {
	connector *Connector
	req       *http.Request
	resp      *http.Response
}

func (h *Handle) Method() string {
	return h.req.Method
}

// URL returns the request URL without credentials.
func (h *Handle) URL() string {
	return h.req.URL.String()
}

// SetHeader sets a request header before Do.
func (h *Handle) SetHeader(name, value string) {
	h.req.Header.Set(name, value)
}

// SetBody enables the request body. A negative length sends the body chunked.
func (h *Handle) SetBody(body io.Reader, length int64) {
	if rc, ok := body.(io.ReadCloser); ok {
		h.req.Body = rc
	} else {
		h.req.Body = io.NopCloser(body)
	}
	h.req.ContentLength = length
	if length == 0 {
		h.req.Body = http.NoBody
	}
	h.req.GetBody = nil
}

// Do executes the request. A network failure or a non-2xx status is returned
// as a transport error; on a non-2xx status the response body is drained and
// closed.
func (h *Handle) Do() (*http.Response, error) {
	op := strings.ToLower(h.req.Method)
	start := time.Now()

	resp, err := h.connector.client.Do(h.req)
	if err != nil {
		return nil, types.NewTransportError(op, h.URL(), err)
	}
	h.resp = resp

	h.connector.logger.Debug("HTTP response",
		zap.String("method", h.req.Method),
		zap.String("url", h.URL()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		return nil, types.NewStatusError(op, h.URL(), resp.StatusCode)
	}
	return resp, nil
}

// StatusCode returns the response status, or 0 before Do.
func (h *Handle) StatusCode() int {
	if h.resp == nil {
		return 0
	}
	return h.resp.StatusCode
}

// Header returns a response header value.
func (h *Handle) Header(name string) string {
	if h.resp == nil {
		return ""
	}
	return h.resp.Header.Get(name)
}

// ContentLength returns the declared response length, or -1 when unknown.
func (h *Handle) ContentLength() int64 {
	if h.resp == nil {
		return -1
	}
	return h.resp.ContentLength
}
