// Package stdio keeps the native messaging stream on standard output free of
// anything but protocol frames.
//
// Inference libraries, cgo ones in particular, print progress and warnings to
// file descriptor 1. [Isolate] hands the protocol a private duplicate of the
// original stdout and then re-points descriptor 1 at stderr, so that output
// ends up next to the logs instead of inside a frame.
package stdio

import "os"

// Isolate returns the file the protocol should write to. On platforms without
// descriptor duplication it returns os.Stdout unchanged.
func Isolate() (*os.File, error) {
	return isolate(os.Stdout, os.Stderr)
}
