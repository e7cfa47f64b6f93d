// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sps2/sps2go/lib/clock"
	"github.com/sps2/sps2go/lib/errkind"
	"github.com/sps2/sps2go/lib/hash"
)

// Config configures a Fetcher. Every field except MaxRetries has a
// default that applies when it is left zero (300s total deadline, 60s
// stall timeout, 500ms-30s backoff).
type Config struct {
	// HTTPClient performs the requests. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Clock provides time operations. Defaults to clock.Real(). Inject
	// clock.Fake() in tests for deterministic stall/deadline behavior.
	Clock clock.Clock

	// Logger is used for structured progress logging. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// TotalDeadline bounds the entire fetch, including retries.
	// Defaults to 300s.
	TotalDeadline time.Duration

	// StallTimeout bounds how long a single attempt may go without
	// receiving any bytes. Defaults to 60s.
	StallTimeout time.Duration

	// MaxRetries bounds how many additional attempts a retriable error
	// gets. Zero means a single attempt with no retries; sps2 passes the
	// configured pipeline retry_attempts, which defaults to 3.
	MaxRetries int

	// BackoffBase is the first retry's base delay, doubled each
	// subsequent retry and capped at BackoffMax. Defaults to 500ms.
	BackoffBase time.Duration

	// BackoffMax caps the computed backoff delay before jitter.
	// Defaults to 30s.
	BackoffMax time.Duration
}

func (c Config) withDefaults() Config {
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.TotalDeadline == 0 {
		c.TotalDeadline = 300 * time.Second
	}
	if c.StallTimeout == 0 {
		c.StallTimeout = 60 * time.Second
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = 30 * time.Second
	}
	return c
}

// Fetcher downloads package archives to disk, implementing spec.md
// §6's Fetcher collaborator contract.
type Fetcher struct {
	cfg Config
}

// New returns a Fetcher with cfg's defaults applied.
func New(cfg Config) *Fetcher {
	return &Fetcher{cfg: cfg.withDefaults()}
}

// Get downloads url to destPath, resuming from any partial content
// already present at destPath and verifying the completed file against
// expected before returning. On success destPath contains exactly the
// verified bytes. On any error destPath is left in place (resumable)
// unless the error is a hash mismatch, in which case the corrupt
// content is removed since resuming from it would only reproduce the
// mismatch.
//
// Verification hashes the completed file from disk rather than the
// stream as it arrives: a resumed download's earlier bytes were never
// seen by this process, so only a whole-file hash can cover them. This
// trades one extra sequential read of destPath for never having to
// persist streaming-hasher state across attempts.
func (f *Fetcher) Get(ctx context.Context, url string, expected hash.Content, destPath string) error {
	if err := f.fetchWithRetry(ctx, url, destPath); err != nil {
		return err
	}
	return f.verify(url, destPath, expected)
}

// GetUnverified downloads url to destPath with the same resumable,
// stall-aware, retrying transport as Get, but performs no hash check
// on completion. It exists for documents that are themselves the root
// of trust — the package index and its key ledger — which have no
// expected hash to check against and are instead authenticated by
// signature once parsed. Everything that is not itself a trust root
// (package archives, SBOM blobs) must use Get.
func (f *Fetcher) GetUnverified(ctx context.Context, url, destPath string) error {
	return f.fetchWithRetry(ctx, url, destPath)
}

// fetchWithRetry runs attempt in a loop bounded by TotalDeadline,
// retrying retriable failures with backoff up to MaxRetries times.
func (f *Fetcher) fetchWithRetry(ctx context.Context, url, destPath string) error {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.TotalDeadline)
	defer cancel()

	var err error
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(f.cfg.BackoffBase, f.cfg.BackoffMax, attempt)
			f.cfg.Logger.Info("fetch retrying after backoff", "url", url, "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return wrapContextErr(ctx.Err())
			case <-f.cfg.Clock.After(delay):
			}
		}

		err = f.attempt(ctx, url, destPath)
		if err == nil {
			return nil
		}
		if !isRetriable(err) {
			return err
		}
		f.cfg.Logger.Warn("fetch attempt failed", "url", url, "attempt", attempt, "error", err)
	}
	return err
}

// verify hashes the completed download and removes it if it does not
// match expected. Unlike network errors, a hash mismatch is never
// retried (spec.md §7).
func (f *Fetcher) verify(url, destPath string, expected hash.Content) error {
	digest, err := hash.HashFile(destPath)
	if err != nil {
		return errkind.Wrap(errkind.KindIOError, "hashing downloaded file", err)
	}
	if digest != expected {
		os.Remove(destPath)
		return errkind.New(errkind.KindChecksumMismatch, "downloaded content does not match expected hash").
			WithContext("url", url).
			WithContext("expected", expected.String()).
			WithContext("actual", digest.String())
	}
	return nil
}

// attempt performs a single request/response cycle, resuming from any
// existing partial content at destPath.
func (f *Fetcher) attempt(ctx context.Context, url, destPath string) error {
	// attemptCtx is what the request itself runs under, so that
	// stream's stall-timeout cancel actually aborts a stuck
	// resp.Body.Read rather than only canceling a context nothing
	// observes.
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	offset, err := partialSize(destPath)
	if err != nil {
		return errkind.Wrap(errkind.KindIOError, "statting partial download", err)
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return errkind.Wrap(errkind.KindIOError, "building fetch request", err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := f.cfg.HTTPClient.Do(req)
	if err != nil {
		return classifyTransportErr(err)
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusPartialContent:
		flags |= os.O_APPEND
	case http.StatusOK:
		flags |= os.O_TRUNC
		offset = 0
	case http.StatusRequestedRangeNotSatisfiable:
		// The server considers our partial content already complete, or
		// offset is past the real length; restart clean.
		flags |= os.O_TRUNC
		offset = 0
	default:
		return errkind.New(errkind.KindHTTPStatus, fmt.Sprintf("unexpected status %d", resp.StatusCode)).
			WithContext("url", url).
			WithContext("status", strconv.Itoa(resp.StatusCode))
	}

	out, err := os.OpenFile(destPath, flags, 0o644)
	if err != nil {
		return errkind.Wrap(errkind.KindIOError, "opening download destination", err)
	}
	defer out.Close()

	return f.stream(ctx, attemptCtx, cancel, resp.Body, out)
}

// stream copies src into dst, canceling attemptCtx (which the request
// that produced src runs under) if no bytes arrive for
// f.cfg.StallTimeout. ctx is the caller's original context, consulted
// afterward to tell a stall apart from the caller's own cancellation
// or total-deadline expiry.
func (f *Fetcher) stream(ctx, attemptCtx context.Context, cancel context.CancelFunc, src io.Reader, dst io.Writer) error {
	progress := make(chan struct{}, 1)
	done := make(chan struct{})
	stalled := false

	timer := f.cfg.Clock.AfterFunc(f.cfg.StallTimeout, func() {
		stalled = true
		cancel()
	})
	defer timer.Stop()

	go func() {
		defer close(done)
		for {
			select {
			case <-progress:
				timer.Reset(f.cfg.StallTimeout)
			case <-attemptCtx.Done():
				return
			}
		}
	}()

	reader := &progressReader{r: src, progress: progress}
	_, copyErr := io.Copy(dst, reader)
	cancel()
	<-done

	if copyErr == nil {
		return nil
	}
	if stalled {
		return errkind.New(errkind.KindTimeout, "no progress within stall timeout")
	}
	if ctx.Err() != nil {
		return wrapContextErr(ctx.Err())
	}
	return classifyTransportErr(copyErr)
}

type progressReader struct {
	r        io.Reader
	progress chan struct{}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		select {
		case p.progress <- struct{}{}:
		default:
		}
	}
	return n, err
}

func partialSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func wrapContextErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errkind.Wrap(errkind.KindTimeout, "fetch exceeded total deadline", err)
	}
	return errkind.Wrap(errkind.KindUnavailable, "fetch canceled", err)
}

func classifyTransportErr(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "connection refused") {
		return errkind.Wrap(errkind.KindConnectionRefused, "connecting to fetch source", err)
	}
	return errkind.Wrap(errkind.KindUnavailable, "fetch transport error", err)
}

// isRetriable reports whether err is a network-domain failure that a
// retry might overcome. Verification (hash mismatch) and usage errors
// are never retried (spec.md §7).
func isRetriable(err error) bool {
	kind, ok := errkind.KindOf(err)
	if !ok {
		return false
	}
	switch kind {
	case errkind.KindTimeout, errkind.KindConnectionRefused, errkind.KindUnavailable:
		return true
	case errkind.KindHTTPStatus:
		return true
	default:
		return false
	}
}

// backoffDelay computes the exponential backoff for the given retry
// attempt (1-indexed), capped at max, plus up to 50% jitter.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > max {
			delay = max
			break
		}
	}
	if delay > max {
		delay = max
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	return delay + jitter
}
