// SPDX-License-Identifier: MIT
package stream

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// input is the raw PCM source, always read without blocking.
type input struct {
	file *os.File
	fd   int
}

// openInput opens path, or standard input for StdioPath. A FIFO opened here
// does not report end of file until a writer has come and gone.
func openInput(path string) (*input, error) {
	if path == "" || path == StdioPath {
		return wrapInput(os.Stdin)
	}
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open input %s: %w", path, err)
	}
	return wrapInput(os.NewFile(uintptr(fd), path))
}

func wrapInput(f *os.File) (*input, error) {
	fd := int(f.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("failed to set input non-blocking: %w", err)
	}
	return &input{file: f, fd: fd}, nil
}

func (in *input) close() error {
	return in.file.Close()
}
