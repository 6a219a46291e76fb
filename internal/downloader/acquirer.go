package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dustin/go-humanize"
	"github.com/italolelis/model_provisioner/internal/downloader/progress"
	"github.com/italolelis/model_provisioner/internal/filelock"
	"github.com/italolelis/model_provisioner/internal/logctx"
	"github.com/italolelis/model_provisioner/internal/telemetry"
	"github.com/italolelis/model_provisioner/internal/transfer"
)

const (
	dirPerm  = 0755
	filePerm = 0644

	progressInterval = int64(100 * 1024 * 1024) // 100MB
)

// Options tunes a single acquisition.
type Options struct {
	MaxAttempts    int
	LockTimeout    time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// RequestTimeout bounds the wait for the response headers of one
	// attempt. The body itself may take as long as it needs.
	RequestTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts:    5,
		LockTimeout:    5 * time.Minute,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     60 * time.Second,
		RequestTimeout: 60 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()

	if o.MaxAttempts < 1 {
		o.MaxAttempts = def.MaxAttempts
	}

	if o.LockTimeout <= 0 {
		o.LockTimeout = def.LockTimeout
	}

	if o.InitialBackoff <= 0 {
		o.InitialBackoff = def.InitialBackoff
	}

	if o.MaxBackoff <= 0 {
		o.MaxBackoff = def.MaxBackoff
	}

	o.MaxBackoff = max(o.MaxBackoff, o.InitialBackoff)

	return o
}

// Acquirer fetches resolved plans to their destination exactly once.
type Acquirer struct {
	client *http.Client
	opts   Options
	tel    *telemetry.Telemetry
}

func NewAcquirer(client *http.Client, opts Options, tel *telemetry.Telemetry) *Acquirer {
	if client == nil {
		client = http.DefaultClient
	}

	return &Acquirer{
		client: client,
		opts:   opts.withDefaults(),
		tel:    tel,
	}
}

// Acquire serializes on the plan's lock file, skips destinations that
// already exist and otherwise streams the source into a temp file that is
// renamed into place. Failures are reported in the outcome, never returned.
func (a *Acquirer) Acquire(ctx context.Context, plan *transfer.Plan) *transfer.Outcome {
	start := time.Now()
	kind := plan.Request.Kind.String()
	out := &transfer.Outcome{Request: plan.Request, FinalPath: plan.FinalPath}

	ctx, logger := logctx.With(ctx, "url", plan.FetchURL, "destination", plan.FinalPath)

	err := a.tel.InstrumentDownload(ctx, kind, func(ctx context.Context) error {
		return a.acquire(ctx, plan, out)
	})

	out.Duration = time.Since(start)
	a.tel.RecordDownload(ctx, kind, out.Status(), out.Duration)

	switch {
	case err != nil:
		out.Succeeded = false
		out.LastError = err.Error()

		logger.ErrorContext(ctx, "download failed", "attempts", out.Attempts, "err", err)
	case !out.Skipped:
		a.tel.RecordBytes(ctx, kind, out.Bytes)

		logger.InfoContext(ctx, "download completed",
			"size", humanize.Bytes(uint64(out.Bytes)),
			"duration", out.Duration.Round(time.Millisecond).String(),
			"attempts", out.Attempts,
		)
	}

	return out
}

func (a *Acquirer) acquire(ctx context.Context, plan *transfer.Plan, out *transfer.Outcome) error {
	logger := logctx.LoggerFromContext(ctx)

	if err := os.MkdirAll(filepath.Dir(plan.FinalPath), dirPerm); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	lock := filelock.New(plan.LockPath, a.opts.LockTimeout)
	waitStart := time.Now()

	if err := lock.Lock(ctx); err != nil {
		if errors.Is(err, filelock.ErrTimeout) {
			a.tel.RecordLockWait(ctx, "timeout", time.Since(waitStart))

			return &transfer.LockTimeoutError{Path: plan.LockPath, Timeout: a.opts.LockTimeout, Err: err}
		}

		a.tel.RecordLockWait(ctx, "error", time.Since(waitStart))

		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	a.tel.RecordLockWait(ctx, "acquired", time.Since(waitStart))

	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.WarnContext(ctx, "failed to release lock", "lock", plan.LockPath, "err", err)
		}
	}()

	if _, err := os.Stat(plan.FinalPath); err == nil {
		logger.InfoContext(ctx, "file already exists, skipping download")

		out.Succeeded = true
		out.Skipped = true

		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to stat destination: %w", err)
	}

	kind := plan.Request.Kind.String()
	b := a.newBackOff()

	for attempt := 1; ; attempt++ {
		out.Attempts = attempt

		logger.InfoContext(ctx, "downloading file", "attempt", attempt, "max_attempts", a.opts.MaxAttempts)

		n, err := a.fetch(ctx, plan, attempt)
		if err == nil {
			a.tel.RecordAttempt(ctx, kind, "success")

			out.Succeeded = true
			out.Bytes = n

			return nil
		}

		a.tel.RecordAttempt(ctx, kind, "error")

		if attempt >= a.opts.MaxAttempts || ctx.Err() != nil || !transfer.IsRetryable(err) {
			return err
		}

		delay := b.NextBackOff()

		logger.WarnContext(ctx, "download attempt failed, retrying",
			"attempt", attempt,
			"retry_in", delay.String(),
			"err", err,
		)

		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry of %s interrupted: %w", plan.FetchURL, err)
		}
	}
}

// fetch performs one attempt and returns the number of bytes promoted to
// the destination.
func (a *Acquirer) fetch(ctx context.Context, plan *transfer.Plan, attempt int) (int64, error) {
	fail := func(status int, err error) error {
		return &transfer.TransferError{URL: plan.FetchURL, Attempt: attempt, StatusCode: status, Err: err}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, plan.FetchURL, nil)
	if err != nil {
		return 0, fail(0, fmt.Errorf("failed to create request: %w", err))
	}

	if plan.Header != nil {
		req.Header = plan.Header.Clone()
	}

	var timer *time.Timer
	if a.opts.RequestTimeout > 0 {
		timer = time.AfterFunc(a.opts.RequestTimeout, cancel)
	}

	resp, err := a.client.Do(req)

	if timer != nil && !timer.Stop() {
		if err == nil {
			resp.Body.Close()
		}

		return 0, fail(0, fmt.Errorf("no response within %s", a.opts.RequestTimeout))
	}

	if err != nil {
		return 0, fail(0, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fail(resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status))
	}

	n, err := a.writeFile(ctx, plan, resp)
	if err != nil {
		return n, fail(0, err)
	}

	return n, nil
}

func (a *Acquirer) writeFile(ctx context.Context, plan *transfer.Plan, resp *http.Response) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)
	tmpPath := plan.TempPath()

	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	discard := func(err error) error {
		out.Close()

		if rmErr := os.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			logger.WarnContext(ctx, "failed to remove temp file", "temp_path", tmpPath, "err", rmErr)
		}

		return err
	}

	if resp.ContentLength > 0 {
		logger.DebugContext(ctx, "receiving file", "file_size", humanize.Bytes(uint64(resp.ContentLength)))
	}

	progressCb := func(written int64, total int64) {
		if total > 0 {
			logger.DebugContext(ctx, "download progress",
				"downloaded", humanize.Bytes(uint64(written)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(written)*100/float64(total), 2))
		} else {
			logger.DebugContext(ctx, "download progress", "downloaded", humanize.Bytes(uint64(written)))
		}
	}
	pr := progress.NewReader(resp.Body, resp.ContentLength, progressInterval, progressCb)

	if _, err := io.Copy(out, pr); err != nil {
		return pr.Written(), discard(fmt.Errorf("failed to copy file: %w", err))
	}

	if err := out.Sync(); err != nil {
		return pr.Written(), discard(fmt.Errorf("failed to sync temp file: %w", err))
	}

	if err := out.Close(); err != nil {
		return pr.Written(), discard(fmt.Errorf("failed to close temp file: %w", err))
	}

	if err := os.Rename(tmpPath, plan.FinalPath); err != nil {
		return pr.Written(), discard(fmt.Errorf("failed to move file into place: %w", err))
	}

	return pr.Written(), nil
}

// newBackOff returns the retry delay schedule: InitialBackoff doubled after
// every failed attempt, capped at MaxBackoff, without jitter.
func (a *Acquirer) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.opts.InitialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = a.opts.MaxBackoff
	b.Reset()

	return b
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
