package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultExecArgs is the argument template used when none is configured.
var DefaultExecArgs = []string{
	"--input", "{input}", "--output", "{output}", "--model", "{model}",
	"--scale", "{scale}", "--tile", "{tile}", "--tile-pad", "{tile_pad}",
	"--pre-pad", "{pre_pad}", "--half", "{half}", "--blocks", "{blocks}",
}

// ExecBackend runs an external enhancer binary once per image, exchanging
// PNG files in a scratch directory.
type ExecBackend struct {
	Command string
	Args    []string
	// WorkDir holds scratch files; os.TempDir when empty.
	WorkDir string
}

func (b *ExecBackend) Name() string { return "exec" }

// Load checks that the command resolves; no process stays resident.
func (b *ExecBackend) Load(ctx context.Context, spec LoadSpec) (Engine, error) {
	cmd := strings.TrimSpace(b.Command)
	if cmd == "" {
		return nil, ErrBackendUnavailable("exec backend: no command configured")
	}
	resolved, err := exec.LookPath(cmd)
	if err != nil {
		return nil, ErrBackendUnavailable(fmt.Sprintf("exec backend: %v", err))
	}
	args := b.Args
	if len(args) == 0 {
		args = DefaultExecArgs
	}
	return &execEngine{b: b, bin: resolved, args: args, spec: spec}, nil
}

// errNoEngine is returned by engines that were closed underneath a caller.
var errNoEngine = errors.New("engine closed")

type execEngine struct {
	b      *ExecBackend
	bin    string
	args   []string
	spec   LoadSpec
	closed atomic.Bool
}

func (e *execEngine) Close() error {
	e.closed.Store(true)
	return nil
}

func (e *execEngine) Enhance(ctx context.Context, img image.Image, outScale int) (image.Image, error) {
	if e.closed.Load() {
		return nil, errNoEngine
	}
	dir, err := os.MkdirTemp(e.b.WorkDir, "muhost-exec-")
	if err != nil {
		return nil, fmt.Errorf("scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)
	id := uuid.NewString()
	in := filepath.Join(dir, id+"-in.png")
	out := filepath.Join(dir, id+"-out.png")

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}
	if err := os.WriteFile(in, buf.Bytes(), 0o600); err != nil {
		return nil, fmt.Errorf("write input: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.bin, expandArgs(e.args, e.spec, in, out)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if isOOMText(msg) {
			return nil, ErrOutOfMemory(lastLine(msg))
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("enhancer failed: %w: %s", err, lastLine(msg))
	}
	f, err := os.Open(out)
	if err != nil {
		return nil, fmt.Errorf("enhancer output: %w", err)
	}
	defer f.Close()
	res, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode enhancer output: %w", err)
	}
	return res, nil
}

func expandArgs(tmpl []string, spec LoadSpec, in, out string) []string {
	r := strings.NewReplacer(
		"{input}", in,
		"{output}", out,
		"{model}", spec.Path,
		"{scale}", strconv.Itoa(spec.Scale),
		"{tile}", strconv.Itoa(spec.Profile.Tile),
		"{tile_pad}", strconv.Itoa(spec.Profile.TilePad),
		"{pre_pad}", strconv.Itoa(spec.Profile.PrePad),
		"{half}", strconv.FormatBool(spec.Profile.Half),
		"{blocks}", strconv.Itoa(spec.Blocks),
	)
	args := make([]string, len(tmpl))
	for i, a := range tmpl {
		args[i] = r.Replace(a)
	}
	return args
}

func isOOMText(s string) bool {
	return strings.Contains(strings.ToLower(s), "out of memory")
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if len(s) > 300 {
		s = s[:300]
	}
	return s
}
