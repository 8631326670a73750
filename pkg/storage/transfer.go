package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"dstransfer/pkg/types"
	"dstransfer/pkg/utils"

	"go.uber.org/zap"
)

const DefaultBufferSize = 32 * 1024

// Policy is the loop termination rule for one copy.
type Policy string

const (
	// PolicyExactSize stops after exactly the declared number of bytes.
	PolicyExactSize Policy = "exact-size"
	// PolicyUntilEOF stops when the source reports end of stream.
	PolicyUntilEOF Policy = "until-eof"
)

// ContentProperties is what the engine needs to know about a remote datastream.
type ContentProperties interface {
	ControlGroup() types.ControlGroup
	Size() (int64, bool)
}

// SelectPolicy picks the exact-size policy only for MANAGED content with a
// known non-zero size. Everything else is read until end of stream.
func SelectPolicy(props ContentProperties) (Policy, int64) {
	if props == nil || props.ControlGroup() != types.ControlGroupManaged {
		return PolicyUntilEOF, 0
	}
	size, ok := props.Size()
	if !ok || size <= 0 {
		return PolicyUntilEOF, 0
	}
	return PolicyExactSize, size
}

// Stats summarizes one copy.
type Stats struct {
	Bytes   int64
	Elapsed time.Duration
	Policy  Policy
}

// ProgressFunc receives the number of bytes written by each chunk.
type ProgressFunc func(delta int64)

// maxEmptyReads bounds consecutive reads that return neither data nor an
// error, as bufio does.
const maxEmptyReads = 100

// Option configures a TransferEngine.
type Option func(*TransferEngine)

// WithBufferSize sets the chunk size; non-positive values keep the default.
func WithBufferSize(n int) Option {
	return func(e *TransferEngine) {
		if n > 0 {
			e.bufferSize = n
		}
	}
}

// WithIdleTimeout closes the source when no byte arrives for d. Zero disables
// the guard.
func WithIdleTimeout(d time.Duration) Option {
	return func(e *TransferEngine) {
		e.idleTimeout = d
	}
}

// WithProgress reports every chunk written to fn.
func WithProgress(fn ProgressFunc) Option {
	return func(e *TransferEngine) {
		e.progress = fn
	}
}

// TransferEngine streams bytes between a remote connection and local storage
// in fixed-size chunks.
type TransferEngine struct {
	logger      *zap.Logger
	bufferSize  int
	idleTimeout time.Duration
	progress    ProgressFunc
}

// NewTransferEngine creates an engine with the default 32 KiB buffer.
func NewTransferEngine(logger *zap.Logger, opts ...Option) *TransferEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &TransferEngine{
		logger:     logger,
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Download copies a datastream from src to dst under the policy chosen for
// props.
func (e *TransferEngine) Download(ctx context.Context, props ContentProperties, src io.Reader, dst io.Writer) (Stats, error) {
	policy, size := SelectPolicy(props)
	if policy == PolicyExactSize {
		return e.CopyExact(ctx, "download", src, dst, size)
	}
	return e.CopyUntilEOF(ctx, "download", src, dst)
}

// Upload copies exactly declaredSize bytes from src to dst.
func (e *TransferEngine) Upload(ctx context.Context, src io.Reader, dst io.Writer, declaredSize int64) (Stats, error) {
	if declaredSize < 0 {
		return Stats{}, types.NewTransportError("upload", "", fmt.Errorf("negative declared size %d", declaredSize))
	}
	return e.CopyExact(ctx, "upload", src, dst, declaredSize)
}

// CopyExact copies exactly n bytes. Each read is capped at the remaining
// count, so the loop ends at n however the source splits its reads. An end
// of stream before n is a short transfer.
func (e *TransferEngine) CopyExact(ctx context.Context, op string, src io.Reader, dst io.Writer, n int64) (Stats, error) {
	return e.copy(ctx, op, src, dst, PolicyExactSize, n)
}

// CopyUntilEOF copies until the source reports end of stream.
func (e *TransferEngine) CopyUntilEOF(ctx context.Context, op string, src io.Reader, dst io.Writer) (Stats, error) {
	return e.copy(ctx, op, src, dst, PolicyUntilEOF, -1)
}

func (e *TransferEngine) copy(ctx context.Context, op string, src io.Reader, dst io.Writer, policy Policy, n int64) (Stats, error) {
	stats := Stats{Policy: policy}
	start := time.Now()

	guard := newStallGuard(ctx, src, e.idleTimeout)
	defer guard.stop()

	buf := make([]byte, e.bufferSize)
	emptyReads := 0
	for policy == PolicyUntilEOF || stats.Bytes < n {
		if guard.fired() {
			stats.Elapsed = time.Since(start)
			return stats, e.stallError(op, stats.Bytes)
		}
		if err := ctx.Err(); err != nil {
			stats.Elapsed = time.Since(start)
			return stats, types.NewTransportError(op, "", err)
		}

		want := len(buf)
		if policy == PolicyExactSize {
			if remaining := n - stats.Bytes; remaining < int64(want) {
				want = int(remaining)
			}
		}

		nr, rerr := src.Read(buf[:want])
		if nr == 0 && rerr == nil {
			emptyReads++
			if emptyReads >= maxEmptyReads {
				stats.Elapsed = time.Since(start)
				return stats, e.stallError(op, stats.Bytes)
			}
			continue
		}
		emptyReads = 0
		if nr > 0 {
			guard.touch()
			nw, werr := dst.Write(buf[:nr])
			stats.Bytes += int64(nw)
			if e.progress != nil && nw > 0 {
				e.progress(int64(nw))
			}
			if werr == nil && nw != nr {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				stats.Elapsed = time.Since(start)
				return stats, types.NewTransportError(op, "", fmt.Errorf("write failed after %d bytes: %w", stats.Bytes, werr))
			}
		}

		if rerr == io.EOF {
			if policy == PolicyExactSize && stats.Bytes < n {
				stats.Elapsed = time.Since(start)
				return stats, types.NewTransportError(op, "", &types.ShortTransferError{Expected: n, Transferred: stats.Bytes})
			}
			break
		}
		if rerr != nil {
			stats.Elapsed = time.Since(start)
			return stats, e.readError(ctx, op, guard, stats.Bytes, rerr)
		}
	}

	stats.Elapsed = time.Since(start)

	e.logger.Debug("Transfer completed",
		zap.String("op", op),
		zap.String("policy", string(policy)),
		zap.Int64("bytes", stats.Bytes),
		zap.String("size", utils.FormatDataSize(stats.Bytes)),
		zap.Int64("elapsed_ms", stats.Elapsed.Milliseconds()),
		zap.String("rate", utils.FormatRate(stats.Bytes, stats.Elapsed)))

	return stats, nil
}

func (e *TransferEngine) readError(ctx context.Context, op string, guard *stallGuard, transferred int64, err error) error {
	switch {
	case guard.fired():
		return e.stallError(op, transferred)
	case ctx.Err() != nil:
		return types.NewTransportError(op, "", ctx.Err())
	case errors.Is(err, io.ErrUnexpectedEOF):
		return types.NewTransportError(op, "", fmt.Errorf("connection closed after %d bytes: %w", transferred, err))
	default:
		return types.NewTransportError(op, "", err)
	}
}

func (e *TransferEngine) stallError(op string, transferred int64) error {
	if e.idleTimeout > 0 {
		return types.NewTransportError(op, "", fmt.Errorf("%w: no data for %s after %d bytes", types.ErrStalled, e.idleTimeout, transferred))
	}
	return types.NewTransportError(op, "", fmt.Errorf("%w: %d empty reads after %d bytes", types.ErrStalled, maxEmptyReads, transferred))
}

// stallGuard closes the source when it makes no progress for the idle
// timeout or when ctx is cancelled, unblocking a pending Read.
type stallGuard struct {
	timer     *time.Timer
	stopCtx   func() bool
	idle      time.Duration
	stalled   atomic.Bool
	closeOnce atomic.Bool
	closeSrc  func()
}

func newStallGuard(ctx context.Context, src io.Reader, idle time.Duration) *stallGuard {
	g := &stallGuard{idle: idle}

	closer, ok := src.(io.Closer)
	g.closeSrc = func() {
		if ok && g.closeOnce.CompareAndSwap(false, true) {
			_ = closer.Close()
		}
	}

	g.stopCtx = context.AfterFunc(ctx, g.closeSrc)
	if idle > 0 {
		g.timer = time.AfterFunc(idle, func() {
			g.stalled.Store(true)
			g.closeSrc()
		})
	}
	return g
}

func (g *stallGuard) touch() {
	if g.timer != nil {
		g.timer.Reset(g.idle)
	}
}

func (g *stallGuard) fired() bool {
	return g.stalled.Load()
}

func (g *stallGuard) stop() {
	if g.timer != nil {
		g.timer.Stop()
	}
	g.stopCtx()
}
