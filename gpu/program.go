package gpu

import "github.com/cockroachdb/errors"

// ProgramKind is the closed set of program variants.
type ProgramKind int

const (
	ProgramCompute ProgramKind = iota
	ProgramGraphics
)

func (k ProgramKind) String() string {
	switch k {
	case ProgramCompute:
		return "compute"
	case ProgramGraphics:
		return "graphics"
	default:
		return "unknown"
	}
}

// BindPoint returns the pipeline bind point programs of this kind use.
func (k ProgramKind) BindPoint() BindPoint {
	if k == ProgramGraphics {
		return BindPointGraphics
	}
	return BindPointCompute
}

func (k ProgramKind) stages() []ShaderStage {
	if k == ProgramGraphics {
		return []ShaderStage{ShaderStageVertex, ShaderStageFragment}
	}
	return []ShaderStage{ShaderStageCompute}
}

// Program is a compiled pipeline together with the layout it was built
// against.
type Program struct {
	ref
	kind      ProgramKind
	layout    *ResourceLayout
	constants ConstantRange
}

// NewProgram builds a program of kind from compiled bytecode. code must hold
// an entry for every stage the kind requires.
func (d *Device) NewProgram(kind ProgramKind, layout *ResourceLayout, constants ConstantRange, code map[ShaderStage][]byte) (*Program, error) {
	for _, stage := range kind.stages() {
		if len(code[stage]) == 0 {
			return nil, errors.Newf("create %s program: missing bytecode for stage %d", kind, stage)
		}
	}

	h, err := d.driver.CreateProgram(ProgramInfo{
		Kind:      kind,
		Layout:    layout.Handle(),
		Constants: constants,
		Stages:    code,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "create %s program", kind)
	}

	p := &Program{
		kind:      kind,
		layout:    layout,
		constants: constants,
	}
	p.init(newObject("program", h, d.driver.DestroyProgram, d.obj, layout.obj))
	return p, nil
}

func (p *Program) Clone() *Program {
	c := &Program{
		kind:      p.kind,
		layout:    p.layout,
		constants: p.constants,
	}
	c.init(p.obj.retain())
	return c
}

func (p *Program) Kind() ProgramKind {
	return p.kind
}

func (p *Program) BindPoint() BindPoint {
	return p.kind.BindPoint()
}

// Layout returns the resource layout the program was built against. The
// layout stays valid for as long as the program does.
func (p *Program) Layout() *ResourceLayout {
	return p.layout
}

func (p *Program) Constants() ConstantRange {
	return p.constants
}

// Same reports whether p and other refer to the same compiled program.
func (p *Program) Same(other *Program) bool {
	if other == nil {
		return false
	}
	return p.same(&other.ref)
}
