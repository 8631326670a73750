package fedora

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"dstransfer/pkg/client"
	"dstransfer/pkg/metadata"
	"dstransfer/pkg/storage"
	"dstransfer/pkg/types"
	"dstransfer/pkg/utils"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

const DefaultUploadChecksum = "MD5"

// repositoryChecksumTypes are the checksumType values a Fedora 3 repository
// accepts on write.
var repositoryChecksumTypes = map[string]bool{
	"MD5":     true,
	"SHA-1":   true,
	"SHA-256": true,
	"SHA-384": true,
	"SHA-512": true,
}

// uploadAlgorithm resolves name to its canonical form and rejects digests the
// repository cannot record.
func uploadAlgorithm(name string) (storage.Algorithm, error) {
	alg, err := storage.LookupAlgorithm(name)
	if err != nil {
		return storage.Algorithm{}, err
	}
	if !repositoryChecksumTypes[alg.Name] {
		return storage.Algorithm{}, types.NewConfigurationError("post datastream",
			fmt.Errorf("%w: %s is not a repository checksum type", types.ErrUnsupportedAlgorithm, alg.Name))
	}
	return alg, nil
}

// Option configures a Client.
type Option func(*Client)

// WithRecorder records every result, successful or not.
func WithRecorder(r types.Recorder) Option {
	return func(c *Client) {
		c.recorder = r
	}
}

// WithUploadChecksum sets the algorithm sent with uploads.
func WithUploadChecksum(algorithm string) Option {
	return func(c *Client) {
		if algorithm != "" {
			c.uploadChecksum = algorithm
		}
	}
}

// Client moves datastreams to and from a Fedora repository and verifies them
// against the repository's checksums.
type Client struct {
	connector      *client.Connector
	resolver       *metadata.Resolver
	engine         *storage.TransferEngine
	verifier       *storage.Verifier
	recorder       types.Recorder
	uploadChecksum string
	logger         *zap.Logger
}

// NewClient creates a Client for the repository behind connector. Uploads
// use MD5 unless WithUploadChecksum says otherwise.
func NewClient(connector *client.Connector, engine *storage.TransferEngine, verifier *storage.Verifier, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		connector:      connector,
		resolver:       metadata.NewResolver(connector, logger),
		engine:         engine,
		verifier:       verifier,
		uploadChecksum: DefaultUploadChecksum,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchProperties exposes the metadata lookup used by both directions.
func (c *Client) FetchProperties(ctx context.Context, addr types.ObjectAddress) (*metadata.DatastreamProperties, error) {
	return c.resolver.FetchProperties(ctx, addr)
}

// LocalName returns the file name a datastream is saved under: the base name
// of its label, or the datastream ID when the label is unusable.
func LocalName(props *metadata.DatastreamProperties) string {
	label := strings.TrimSpace(props.Label())
	if label != "" {
		label = filepath.Base(filepath.Clean("/" + strings.ReplaceAll(label, "\\", "/")))
	}
	switch label {
	case "", ".", "..", "/":
		return string(props.Address.DatastreamID)
	}
	return label
}

// RecoverDatastream downloads addr into localDir, naming the file after the
// datastream label, and verifies it. A file that fails verification is left
// in place.
func (c *Client) RecoverDatastream(ctx context.Context, addr types.ObjectAddress, localDir string) (*types.TransferResult, error) {
	return c.recover(ctx, addr, func(props *metadata.DatastreamProperties) (string, error) {
		if err := os.MkdirAll(localDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create %s: %w", localDir, err)
		}
		return filepath.Join(localDir, LocalName(props)), nil
	})
}

// RecoverDatastreamTo downloads addr to exactly localPath and verifies it.
func (c *Client) RecoverDatastreamTo(ctx context.Context, addr types.ObjectAddress, localPath string) (*types.TransferResult, error) {
	return c.recover(ctx, addr, func(*metadata.DatastreamProperties) (string, error) {
		return localPath, nil
	})
}

func (c *Client) recover(ctx context.Context, addr types.ObjectAddress, target func(*metadata.DatastreamProperties) (string, error)) (*types.TransferResult, error) {
	res := types.NewTransferResult(types.DirectionDownload)
	res.Address = addr
	res.RemotePath = metadata.ContentPath(addr)

	props, err := c.resolver.FetchProperties(ctx, addr)
	if err != nil {
		return res, c.finish(res, err)
	}

	localPath, err := target(props)
	if err != nil {
		return res, c.finish(res, err)
	}
	res.LocalPath = localPath
	res.ChecksumType = props.ChecksumType()
	res.RemoteChecksum = props.Checksum()

	h, err := c.connector.Open(ctx, metadata.ContentPath(addr), http.MethodGet, nil)
	if err != nil {
		return res, c.finish(res, err)
	}
	resp, err := h.Do()
	if err != nil {
		return res, c.finish(res, err)
	}
	defer resp.Body.Close()

	c.logger.Info("Copying datastream",
		zap.String("address", addr.String()),
		zap.String("url", h.URL()),
		zap.String("local_path", localPath),
		zap.String("control_group", props.ControlGroup().String()))

	f, err := os.Create(localPath)
	if err != nil {
		return res, c.finish(res, fmt.Errorf("failed to create %s: %w", localPath, err))
	}
	stats, err := c.engine.Download(ctx, props, resp.Body, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close %s: %w", localPath, cerr)
	}
	res.BytesTransferred = stats.Bytes
	res.Elapsed = stats.Elapsed
	if err != nil {
		return res, c.finish(res, err)
	}

	c.logger.Info("Copied datastream",
		zap.String("address", addr.String()),
		zap.Int64("bytes", stats.Bytes),
		zap.Int64("elapsed_ms", stats.Elapsed.Milliseconds()),
		zap.String("rate", utils.FormatRate(stats.Bytes, stats.Elapsed)))

	local, err := c.verifier.Verify(props.ChecksumType(), localPath, props.Checksum())
	res.LocalChecksum = local
	return res, c.finish(res, err)
}

// PostDatastream uploads localPath to addr, creating the datastream when the
// repository does not have it yet, then re-reads the repository's checksum
// and verifies the local file against it. An empty mimeType is detected
// from the file content.
func (c *Client) PostDatastream(ctx context.Context, addr types.ObjectAddress, localPath, logMessage, mimeType string) (*types.TransferResult, error) {
	res := types.NewTransferResult(types.DirectionUpload)
	res.Address = addr
	res.LocalPath = localPath
	res.RemotePath = metadata.DatastreamPath(addr)

	if err := addr.Validate(); err != nil {
		return res, c.finish(res, types.NewConfigurationError("post datastream", err))
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return res, c.finish(res, fmt.Errorf("failed to stat %s: %w", localPath, err))
	}
	if info.IsDir() {
		return res, c.finish(res, fmt.Errorf("%s is a directory", localPath))
	}

	alg, err := uploadAlgorithm(c.uploadChecksum)
	if err != nil {
		return res, c.finish(res, err)
	}

	if mimeType == "" {
		detected, err := mimetype.DetectFile(localPath)
		if err != nil {
			return res, c.finish(res, fmt.Errorf("failed to detect content type of %s: %w", localPath, err))
		}
		mimeType, _, _ = strings.Cut(detected.String(), ";")
	}

	checksum, err := c.verifier.ChecksumFile(alg.Name, localPath)
	if err != nil {
		return res, c.finish(res, err)
	}

	existing, err := c.resolver.FetchProperties(ctx, addr)
	isNew := errors.Is(err, types.ErrNotFound)
	if err != nil && !isNew {
		return res, c.finish(res, err)
	}

	query := url.Values{
		"controlGroup": {string(types.ControlGroupManaged)},
		"logMessage":   {strings.ReplaceAll(logMessage, " ", "")},
		"mimeType":     {mimeType},
		"checksumType": {alg.Name},
		"checksum":     {checksum},
	}
	method := http.MethodPut
	if isNew {
		method = http.MethodPost
	}
	if isNew || existing.Label() == "" {
		query.Set("dsLabel", filepath.Base(localPath))
	}

	c.logger.Info("Uploading datastream",
		zap.String("address", addr.String()),
		zap.String("local_path", localPath),
		zap.String("method", method),
		zap.Int64("size", info.Size()),
		zap.String("mime_type", mimeType),
		zap.Bool("new", isNew))

	stats, err := c.send(ctx, addr, method, query, localPath, info.Size(), mimeType)
	res.BytesTransferred = stats.Bytes
	res.Elapsed = stats.Elapsed
	if err != nil {
		return res, c.finish(res, err)
	}

	c.logger.Info("Copied datastream",
		zap.String("address", addr.String()),
		zap.Int64("bytes", stats.Bytes),
		zap.Int64("elapsed_ms", stats.Elapsed.Milliseconds()),
		zap.String("rate", utils.FormatRate(stats.Bytes, stats.Elapsed)))

	props, err := c.resolver.FetchProperties(ctx, addr)
	if err != nil {
		return res, c.finish(res, err)
	}
	res.ChecksumType = props.ChecksumType()
	res.RemoteChecksum = props.Checksum()

	local, err := c.verifier.Verify(props.ChecksumType(), localPath, props.Checksum())
	res.LocalChecksum = local
	return res, c.finish(res, err)
}

// send streams the file through a pipe into the request body.
func (c *Client) send(ctx context.Context, addr types.ObjectAddress, method string, query url.Values, localPath string, size int64, mimeType string) (storage.Stats, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return storage.Stats{}, fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	h, err := c.connector.Open(ctx, metadata.DatastreamPath(addr), method, query)
	if err != nil {
		return storage.Stats{}, err
	}

	pr, pw := io.Pipe()
	h.SetHeader("Content-Type", mimeType)
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
	return up.stats, nil
}

func (c *Client) finish(res *types.TransferResult, err error) error {
	err = res.Finish(err)

	fields := []zap.Field{
		zap.String("id", res.ID),
		zap.String("direction", string(res.Direction)),
		zap.String("address", res.Address.String()),
		zap.String("outcome", string(res.Outcome)),
		zap.Int64("bytes", res.BytesTransferred),
		zap.String("checksum_type", res.ChecksumType),
		zap.String("remote_checksum", res.RemoteChecksum),
		zap.String("local_checksum", res.LocalChecksum),
	}
	if err != nil {
		c.logger.Warn("Transfer failed", append(fields, zap.Error(err))...)
	} else {
		c.logger.Info("Checksums ok", fields...)
	}

	if c.recorder != nil {
		if rerr := c.recorder.Record(res); rerr != nil {
			c.logger.Error("Failed to record transfer result", zap.String("id", res.ID), zap.Error(rerr))
		}
	}
	return err
}
