package webdav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"dstransfer/pkg/client"
	"dstransfer/pkg/storage"
	"dstransfer/pkg/types"
	"dstransfer/pkg/utils"

	"github.com/studio-b12/gowebdav"
	"go.uber.org/zap"
)

var ErrRemoteExists = errors.New("remote file already exists")

// Option configures a Client.
type Option func(*Client)

// WithOverwrite allows PostFile to replace an existing remote file.
func WithOverwrite(overwrite bool) Option {
	return func(c *Client) {
		c.overwrite = overwrite
	}
}

// WithRecorder records every result, successful or not.
func WithRecorder(r types.Recorder) Option {
	return func(c *Client) {
		c.recorder = r
	}
}

// WithChecksum sets the algorithm used to fingerprint transferred files.
func WithChecksum(algorithm string) Option {
	return func(c *Client) {
		if algorithm != "" {
			c.checksum = algorithm
		}
	}
}

// Client copies plain files to and from a WebDAV store. Downloads and
// uploads may use different endpoints.
type Client struct {
	get       *client.Connector
	put       *client.Connector
	dav       *gowebdav.Client
	engine    *storage.TransferEngine
	verifier  *storage.Verifier
	recorder  types.Recorder
	checksum  string
	overwrite bool
	logger    *zap.Logger
}

// NewClient creates a WebDAV client. put may be nil, in which case uploads
// use the get endpoint.
func NewClient(get, put *client.Connector, engine *storage.TransferEngine, verifier *storage.Verifier, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if put == nil {
		put = get
	}

	user, pass := put.Credentials()
	dav := gowebdav.NewClient(put.Settings().BaseURL().String(), user, pass)
	dav.SetTransport(put.Transport())
	dav.SetHeader("User-Agent", "dstransfer/1.0")

	c := &Client{
		get:      get,
		put:      put,
		dav:      dav,
		engine:   engine,
		verifier: verifier,
		checksum: "MD5",
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func cleanRemote(p string) string {
	return path.Clean("/" + strings.TrimSpace(p))
}

// escapePath percent-encodes each segment of a clean remote path.
func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// RecoverFile downloads remotePath to localPath. A declared Content-Length
// is copied exactly; otherwise the body is read to end of stream. The
// server's Last-Modified time is applied to the local file.
func (c *Client) RecoverFile(ctx context.Context, remotePath, localPath string) (*types.TransferResult, error) {
	remotePath = cleanRemote(remotePath)
	res := types.NewTransferResult(types.DirectionDownload)
	res.RemotePath = remotePath
	res.LocalPath = localPath

	h, err := c.get.Open(ctx, escapePath(remotePath), http.MethodGet, nil)
	if err != nil {
		return res, c.finish(res, err)
	}
	resp, err := h.Do()
	if err != nil {
		return res, c.finish(res, err)
	}
	defer resp.Body.Close()

	c.logger.Info("Copying file",
		zap.String("url", h.URL()),
		zap.String("local_path", localPath),
		zap.Int64("content_length", resp.ContentLength))

	f, err := os.Create(localPath)
	if err != nil {
		return res, c.finish(res, fmt.Errorf("failed to create %s: %w", localPath, err))
	}

	var stats storage.Stats
	if resp.ContentLength >= 0 {
		stats, err = c.engine.CopyExact(ctx, "download", resp.Body, f, resp.ContentLength)
	} else {
		stats, err = c.engine.CopyUntilEOF(ctx, "download", resp.Body, f)
	}
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close %s: %w", localPath, cerr)
	}
	res.BytesTransferred = stats.Bytes
	res.Elapsed = stats.Elapsed
	if err != nil {
		return res, c.finish(res, err)
	}

	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if mtime, perr := http.ParseTime(lm); perr == nil {
			if err := os.Chtimes(localPath, time.Now(), mtime); err != nil {
				c.logger.Warn("Failed to set modification time", zap.String("local_path", localPath), zap.Error(err))
			}
		}
	}

	if err := c.fingerprint(res, localPath); err != nil {
		return res, c.finish(res, err)
	}
	return res, c.finish(res, nil)
}

// PostFile uploads localPath to remotePath, creating each missing parent
// collection. An existing remote file is only replaced with WithOverwrite.
// After the PUT the remote size is read back and must equal the local size.
func (c *Client) PostFile(ctx context.Context, localPath, remotePath string) (*types.TransferResult, error) {
	remotePath = cleanRemote(remotePath)
	res := types.NewTransferResult(types.DirectionUpload)
	res.RemotePath = remotePath
	res.LocalPath = localPath

	info, err := os.Stat(localPath)
	if err != nil {
		return res, c.finish(res, fmt.Errorf("failed to stat %s: %w", localPath, err))
	}
	if info.IsDir() {
		return res, c.finish(res, fmt.Errorf("%s is a directory", localPath))
	}

	if err := c.makeCollections(path.Dir(remotePath)); err != nil {
		return res, c.finish(res, err)
	}

	_, err = c.dav.Stat(remotePath)
	exists := err == nil
	switch {
	case exists && !c.overwrite:
		return res, c.finish(res, types.NewTransportError("put", remotePath, ErrRemoteExists))
	case err != nil && !gowebdav.IsErrNotFound(err):
		return res, c.finish(res, types.NewTransportError("propfind", remotePath, err))
	}

	c.logger.Info("Uploading file",
		zap.String("local_path", localPath),
		zap.String("remote_path", remotePath),
		zap.Int64("size", info.Size()),
		zap.Bool("overwrite", exists))

	stats, err := c.send(ctx, localPath, remotePath, info.Size(), exists)
	res.BytesTransferred = stats.Bytes
	res.Elapsed = stats.Elapsed
	if err != nil {
		return res, c.finish(res, err)
	}

	remote, err := c.dav.Stat(remotePath)
	if err != nil {
		return res, c.finish(res, types.NewTransportError("propfind", remotePath, err))
	}
	if remote.Size() != info.Size() {
		return res, c.finish(res, types.NewTransportError("verify", remotePath,
			&types.ShortTransferError{Expected: info.Size(), Transferred: remote.Size()}))
	}

	if err := c.fingerprint(res, localPath); err != nil {
		return res, c.finish(res, err)
	}
	return res, c.finish(res, nil)
}

// makeCollections issues MKCOL for every segment of dir, outermost first.
// A collection that already exists is not an error.
func (c *Client) makeCollections(dir string) error {
	if dir == "/" || dir == "." {
		return nil
	}

	current := ""
	for _, segment := range strings.Split(strings.Trim(dir, "/"), "/") {
		current += "/" + segment
		if err := c.dav.Mkdir(current, 0755); err != nil {
			return types.NewTransportError("mkcol", current, err)
		}
		c.logger.Debug("Collection ready", zap.String("path", current))
	}
	return nil
}

func (c *Client) send(ctx context.Context, localPath, remotePath string, size int64, overwrite bool) (storage.Stats, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return storage.Stats{}, fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	h, err := c.put.Open(ctx, escapePath(remotePath), http.MethodPut, nil)
	if err != nil {
		return storage.Stats{}, err
	}
	pr, pw := io.Pipe()
	h.SetHeader("Content-Type", "application/octet-stream")
	h.SetBody(pr, size)

	type uploadResult struct {
		stats storage.Stats
		err   error
	}
	done := make(chan uploadResult, 1)
	go func() {
		stats, err := c.engine.Upload(ctx, f, pw, size)
		pw.CloseWithError(err)
		done <- uploadResult{stats, err}
	}()

	resp, doErr := h.Do()
	if doErr != nil {
		pr.CloseWithError(doErr)
	} else {
		resp.Body.Close()
	}
	up := <-done

	switch {
	case up.err != nil && (doErr == nil || !errors.Is(up.err, io.ErrClosedPipe)):
		return up.stats, up.err
	case doErr != nil:
		return up.stats, doErr
	}

	status := h.StatusCode()
	if status != http.StatusCreated && !(overwrite && (status == http.StatusNoContent || status == http.StatusOK)) {
		return up.stats, types.NewStatusError("put", h.URL(), status)
	}
	return up.stats, nil
}

func (c *Client) fingerprint(res *types.TransferResult, localPath string) error {
	sum, err := c.verifier.ChecksumFile(c.checksum, localPath)
	if err != nil {
		return err
	}
	alg, _ := storage.LookupAlgorithm(c.checksum)
	res.ChecksumType = alg.Name
	res.LocalChecksum = sum
	return nil
}

func (c *Client) finish(res *types.TransferResult, err error) error {
	err = res.Finish(err)

	fields := []zap.Field{
		zap.String("id", res.ID),
		zap.String("direction", string(res.Direction)),
		zap.String("remote_path", res.RemotePath),
		zap.String("outcome", string(res.Outcome)),
		zap.Int64("bytes", res.BytesTransferred),
		zap.Int64("elapsed_ms", res.ElapsedMillis()),
		zap.String("rate", utils.FormatRate(res.BytesTransferred, res.Elapsed)),
	}
	if err != nil {
		c.logger.Warn("Transfer failed", append(fields, zap.Error(err))...)
	} else {
		c.logger.Info("Transfer completed", append(fields, zap.String("checksum_type", res.ChecksumType), zap.String("local_checksum", res.LocalChecksum))...)
	}

	if c.recorder != nil {
		if rerr := c.recorder.Record(res); rerr != nil {
			c.logger.Error("Failed to record transfer result", zap.String("id", res.ID), zap.Error(rerr))
		}
	}
	return err
}
