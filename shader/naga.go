package shader

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/naga"
)

// Naga compiles WGSL compute shaders to SPIR-V. Macros become module-scope
// constants prepended to the source, so a macro NUM_IMAGES=4 is visible to
// the shader as `const NUM_IMAGES = 4;`.
type Naga struct {
	// ReadFile loads shader source. Defaults to os.ReadFile.
	ReadFile func(path string) ([]byte, error)
}

func NewNaga() *Naga {
	return &Naga{ReadFile: os.ReadFile}
}

func (n *Naga) Compile(path string, stage Stage, macros Macros) ([]byte, error) {
	if stage != StageCompute {
		return nil, &CompileError{Path: path, Stage: stage, Message: "only compute stages are supported for WGSL"}
	}

	read := n.ReadFile
	if read == nil {
		read = os.ReadFile
	}
	src, err := read(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read shader %s", path)
	}

	spirv, err := naga.Compile(Preamble(macros) + string(src))
	if err != nil {
		return nil, &CompileError{Path: path, Stage: stage, Message: err.Error()}
	}
	if len(spirv)%4 != 0 {
		return nil, &CompileError{Path: path, Stage: stage, Message: "compiler produced a truncated SPIR-V module"}
	}
	return spirv, nil
}

// Preamble renders macros as WGSL constant declarations.
func Preamble(macros Macros) string {
	var b strings.Builder
	for _, k := range macros.Keys() {
		b.WriteString("const ")
		b.WriteString(k)
		b.WriteString(" = ")
		b.WriteString(macros[k])
		b.WriteString(";\n")
	}
	return b.String()
}
