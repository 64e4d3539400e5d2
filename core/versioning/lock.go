package versioning

import (
	"context"
	"errors"
	"time"

	coreerrors "github.com/adalundhe/envolve/core/errors"
	"github.com/gofrs/flock"
)

const lockRetryDelay = 25 * time.Millisecond

// logLock is an advisory lock on a version log. Writers hold it exclusively
// for the whole validate-then-append cycle; readers hold it shared so they
// never observe a half-written line.
type logLock struct {
	path string
	fl   *flock.Flock
}

func newLogLock(path string) *logLock {
	return &logLock{path: path, fl: flock.New(path)}
}

func (l *logLock) acquire(ctx context.Context, timeout time.Duration, exclusive bool) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		locked bool
		err    error
	)
	if exclusive {
		locked, err = l.fl.TryLockContext(ctx, lockRetryDelay)
	} else {
		locked, err = l.fl.TryRLockContext(ctx, lockRetryDelay)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return coreerrors.New(coreerrors.KindLockTimeout, "lock", err).WithPath(l.path)
	}
	if err != nil {
		return coreerrors.IO("lock", l.path, err)
	}
	if !locked {
		return coreerrors.New(coreerrors.KindLockTimeout, "lock", nil).WithPath(l.path)
	}
	return nil
}

func (l *logLock) release() error {
	return l.fl.Unlock()
}
