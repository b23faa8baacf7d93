package exec

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// SetSubreaper marks the current process as the child subreaper, so that
// processes orphaned by the supervisors we spawn are reparented to us instead
// of whatever init is. They are then reaped along with our own children.
func SetSubreaper() error {
	if err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0); err != nil {
		return errors.Wrap(err, "failed to set subreaper")
	}
	return nil
}
