package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	coreerrors "github.com/adalundhe/envolve/core/errors"
)

// Exit statuses by error kind.
const (
	exitOK          = 0
	exitFailure     = 1
	exitUsage       = 2
	exitNotFound    = 3
	exitHistory     = 4
	exitLockTimeout = 5
	exitIO          = 6
	exitInterrupted = 130
)

var kindHints = map[coreerrors.Kind]string{
	coreerrors.KindNotFound:          "check the service name or variable, or run `envolve ls`",
	coreerrors.KindHistoryUnreadable: "the history log is damaged; it was left untouched, repair it by hand before changing this file",
	coreerrors.KindLockTimeout:       "another envolve process is holding the history lock; retry, or raise lock_timeout",
	coreerrors.KindIOFailure:         "run `envolve status` to check the file against its history",
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errAborted), errors.Is(err, context.Canceled):
		return exitInterrupted
	}

	switch coreerrors.KindOf(err) {
	case coreerrors.KindInvalidInput:
		return exitUsage
	case coreerrors.KindNotFound:
		return exitNotFound
	case coreerrors.KindHistoryUnreadable:
		return exitHistory
	case coreerrors.KindLockTimeout:
		return exitLockTimeout
	case coreerrors.KindIOFailure:
		return exitIO
	default:
		return exitFailure
	}
}

func renderError(w io.Writer, err error) {
	if errors.Is(err, errAborted) {
		fmt.Fprintln(w, styleMuted.Render("Operation cancelled."))
		return
	}

	fmt.Fprintf(w, "%s %v\n", styleError.Render("error:"), err)
	if hint, ok := kindHints[coreerrors.KindOf(err)]; ok {
		fmt.Fprintln(w, styleMuted.Render("hint: "+hint))
	}
}
