// Package shader turns shader source files into bytecode for gpu programs.
package shader

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kiyo/gpu"
)

type Stage int

const (
	StageCompute Stage = iota
	StageVertex
	StageFragment
)

func (s Stage) String() string {
	switch s {
	case StageCompute:
		return "compute"
	case StageVertex:
		return "vertex"
	case StageFragment:
		return "fragment"
	default:
		return "unknown"
	}
}

// ShaderStage maps s onto the gpu stage flag.
func (s Stage) ShaderStage() gpu.ShaderStage {
	switch s {
	case StageVertex:
		return gpu.ShaderStageVertex
	case StageFragment:
		return gpu.ShaderStageFragment
	default:
		return gpu.ShaderStageCompute
	}
}

// StageFromPath derives the shader stage from a source file extension.
// WGSL modules are treated as compute shaders.
func StageFromPath(path string) (Stage, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".comp", ".wgsl":
		return StageCompute, nil
	case ".vert":
		return StageVertex, nil
	case ".frag":
		return StageFragment, nil
	default:
		return 0, errors.Newf("cannot derive shader stage from %q", path)
	}
}

// Macros are preprocessor definitions injected into a shader before
// compilation.
type Macros map[string]string

// Keys returns the macro names in sorted order.
func (m Macros) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m Macros) Clone() Macros {
	if m == nil {
		return nil
	}
	out := make(Macros, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Compiler compiles the shader at path for stage, with macros defined.
type Compiler interface {
	Compile(path string, stage Stage, macros Macros) ([]byte, error)
}

// CompileError is a compilation failure reported by a Compiler.
type CompileError struct {
	Path    string
	Stage   Stage
	Message string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s shader %s: %s", e.Stage, e.Path, e.Message)
}

// AsCompileError extracts a CompileError from err's chain.
func AsCompileError(err error) (*CompileError, bool) {
	var ce *CompileError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Extensions routes each source file to a Compiler by file extension.
type Extensions map[string]Compiler

// DefaultExtensions compiles WGSL with naga and GLSL with glslc.
func DefaultExtensions() Extensions {
	wgsl := NewNaga()
	glsl := NewGLSLC()
	return Extensions{
		".wgsl": wgsl,
		".comp": glsl,
		".vert": glsl,
		".frag": glsl,
	}
}

func (e Extensions) Compile(path string, stage Stage, macros Macros) ([]byte, error) {
	c, ok := e[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, &CompileError{Path: path, Stage: stage, Message: "no compiler registered for this file type"}
	}
	return c.Compile(path, stage, macros)
}
