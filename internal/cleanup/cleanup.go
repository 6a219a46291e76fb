package cleanup

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/italolelis/model_provisioner/internal/filelock"
	"github.com/italolelis/model_provisioner/internal/logctx"
	"github.com/italolelis/model_provisioner/internal/transfer"
)

// TempCandidates returns the temp files the requests could have left behind,
// sorted and absolute. An exact-path request contributes only "<dest>.tmp";
// a directory request contributes every "*.tmp" in its directory.
func TempCandidates(requests []transfer.Request) ([]string, error) {
	seen := make(map[string]struct{})

	for _, req := range requests {
		abs, err := filepath.Abs(req.Destination)
		if err != nil {
			continue
		}

		if !req.IsDirectory() {
			seen[abs+transfer.TempSuffix] = struct{}{}

			continue
		}

		entries, err := os.ReadDir(abs)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue // nothing downloaded there yet
			}

			return nil, err
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), transfer.TempSuffix) {
				continue
			}

			seen[filepath.Join(abs, entry.Name())] = struct{}{}
		}
	}

	candidates := make([]string, 0, len(seen))
	for p := range seen {
		candidates = append(candidates, p)
	}

	sort.Strings(candidates)

	return candidates, nil
}

// DeleteStaleTempFiles removes leftovers of interrupted downloads for the
// requests. A temp file is removed only when it has not been modified for
// longer than olderThan and the lock of its final path exists and can be
// taken without waiting. It returns the number of removed files.
func DeleteStaleTempFiles(ctx context.Context, requests []transfer.Request, olderThan time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)

	candidates, err := TempCandidates(requests)
	if err != nil {
		logger.Error("failed to list temp files", "err", err)

		return 0, err
	}

	now := time.Now()
	removed := 0

	for _, tmpPath := range candidates {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		info, err := os.Stat(tmpPath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			return removed, err
		}

		if now.Sub(info.ModTime()) <= olderThan {
			continue
		}

		ok, err := removeUnlocked(ctx, tmpPath)
		if err != nil {
			logger.Error("failed to delete stale temp file", "file", tmpPath, "err", err)

			return removed, err
		}

		if !ok {
			logger.Debug("temp file not owned by an idle download, keeping it", "file", tmpPath)

			continue
		}

		removed++

		logger.Info("deleted stale temp file", "file", tmpPath, "modified_at", info.ModTime())
	}

	return removed, nil
}

func removeUnlocked(ctx context.Context, tmpPath string) (bool, error) {
	lockPath := transfer.LockPathFor(strings.TrimSuffix(tmpPath, transfer.TempSuffix))

	// lock files are never deleted, so a missing one means we did not write tmpPath
	if _, err := os.Stat(lockPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, err
	}

	lock := filelock.New(lockPath, 0)
	if err := lock.Lock(ctx); err != nil {
		if errors.Is(err, filelock.ErrTimeout) {
			return false, nil
		}

		return false, err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logctx.LoggerFromContext(ctx).Warn("failed to release lock", "lock", lockPath, "err", err)
		}
	}()

	if err := os.Remove(tmpPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}
