package shader

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// GLSLC compiles GLSL shaders by running the glslc tool from the Vulkan SDK.
type GLSLC struct {
	// Path to the glslc binary. Defaults to "glslc" on $PATH.
	Binary  string
	Timeout time.Duration
}

func NewGLSLC() *GLSLC {
	return &GLSLC{Binary: "glslc", Timeout: 30 * time.Second}
}

func glslcStage(stage Stage) string {
	switch stage {
	case StageVertex:
		return "vert"
	case StageFragment:
		return "frag"
	default:
		return "comp"
	}
}

// Args returns the glslc command line used to compile path.
func (g *GLSLC) Args(path string, stage Stage, macros Macros) []string {
	args := []string{
		"--target-env=vulkan1.2",
		"-fshader-stage=" + glslcStage(stage),
	}
	for _, k := range macros.Keys() {
		args = append(args, "-D"+k+"="+macros[k])
	}
	return append(args, "-o", "-", path)
}

func (g *GLSLC) Compile(path string, stage Stage, macros Macros) ([]byte, error) {
	binary := g.Binary
	if binary == "" {
		binary = "glslc"
	}

	ctx := context.Background()
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, g.Args(path, stage, macros)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &CompileError{Path: path, Stage: stage, Message: strings.TrimSpace(stderr.String())}
		}
		return nil, errors.Wrapf(err, "run %s", binary)
	}
	return stdout.Bytes(), nil
}
