//go:build !(linux || darwin)

package stdio

import "os"

func isolate(out, _ *os.File) (*os.File, error) {
	return out, nil
}
