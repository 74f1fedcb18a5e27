// Package chromaprint computes Chromaprint fingerprints by running the fpcalc
// tool that ships with libchromaprint.
//
// Audio is piped to fpcalc as raw s16le PCM on stdin and the raw signed
// fingerprint is parsed from its key=value output.
package chromaprint

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/customcuts/whisperhost/pkg/audio"
	"github.com/customcuts/whisperhost/pkg/provider/fingerprint"
)

// DefaultBinary is the fpcalc executable looked up on PATH.
const DefaultBinary = "fpcalc"

// ErrNoFingerprint is returned when fpcalc output has no FINGERPRINT line.
var ErrNoFingerprint = errors.New("chromaprint: no fingerprint in fpcalc output")

var _ fingerprint.Fingerprinter = (*FPCalc)(nil)

// FPCalc implements fingerprint.Fingerprinter with the fpcalc binary.
type FPCalc struct {
	path    string
	timeout time.Duration
}

// New resolves the fpcalc binary. An empty bin selects [DefaultBinary]. A
// timeout <= 0 means 10 seconds per call.
func New(bin string, timeout time.Duration) (*FPCalc, error) {
	if bin == "" {
		bin = DefaultBinary
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("chromaprint: locate %s: %w", bin, err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FPCalc{path: path, timeout: timeout}, nil
}

// Fingerprint implements fingerprint.Fingerprinter.
func (f *FPCalc) Fingerprint(ctx context.Context, samples []float32) ([]int32, error) {
	if len(samples) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.path,
		"-raw", "-signed",
		"-format", "s16le",
		"-rate", strconv.Itoa(audio.SampleRate),
		"-channels", "1",
		"-",
	)
	cmd.Stdin = bytes.NewReader(audio.Float32ToPCM16(samples))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("chromaprint: fpcalc: %w", ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		// fpcalc refuses audio too short to fingerprint.
		if strings.Contains(strings.ToLower(msg), "empty fingerprint") {
			return nil, nil
		}
		return nil, fmt.Errorf("chromaprint: fpcalc: %w: %s", err, msg)
	}

	fp, err := ParseOutput(stdout.Bytes())
	if errors.Is(err, ErrNoFingerprint) {
		return nil, nil
	}
	return fp, err
}

// ParseOutput extracts the raw fingerprint from fpcalc's default output
// format. Unsigned values are reinterpreted as int32.
func ParseOutput(out []byte) ([]int32, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		val, ok := strings.CutPrefix(strings.TrimSpace(sc.Text()), "FINGERPRINT=")
		if !ok {
			continue
		}
		if val == "" {
			return nil, ErrNoFingerprint
		}
		fields := strings.Split(val, ",")
		fp := make([]int32, 0, len(fields))
		for _, s := range fields {
			v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("chromaprint: parse fingerprint value %q: %w", s, err)
			}
			fp = append(fp, int32(uint32(v)))
		}
		return fp, nil
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("chromaprint: read fpcalc output: %w", err)
	}
	return nil, ErrNoFingerprint
}
