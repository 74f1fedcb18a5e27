//go:build linux || darwin

package stdio

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// isolate duplicates out and then points out's descriptor at errOut.
func isolate(out, errOut *os.File) (*os.File, error) {
	outFd := int(out.Fd())
	fd, err := unix.Dup(outFd)
	if err != nil {
		return nil, fmt.Errorf("stdio: dup stdout: %w", err)
	}
	unix.CloseOnExec(fd)
	if err := unix.Dup2(int(errOut.Fd()), outFd); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("stdio: redirect stdout: %w", err)
	}
	return os.NewFile(uintptr(fd), "protocol"), nil
}
