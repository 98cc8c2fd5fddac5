// Package shadertest provides a scripted shader.Compiler.
package shadertest

import (
	"path/filepath"
	"sync"

	"github.com/vkngwrapper/kiyo/shader"
)

var _ shader.Compiler = (*Compiler)(nil)

type Call struct {
	Path   string
	Stage  shader.Stage
	Macros shader.Macros
}

// Compiler compiles in-memory sources. The bytecode it returns is the
// source followed by the rendered macros, padded to a multiple of four bytes,
// so identical inputs compile to identical output.
type Compiler struct {
	mu       sync.Mutex
	sources  map[string]string
	failures map[string]string
	calls    []Call
}

func New() *Compiler {
	return &Compiler{
		sources:  map[string]string{},
		failures: map[string]string{},
	}
}

func (c *Compiler) SetSource(path, src string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[filepath.Clean(path)] = src
}

// Fail makes compiles of path fail with message until Recover is called.
func (c *Compiler) Fail(path, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[filepath.Clean(path)] = message
}

func (c *Compiler) Recover(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.failures, filepath.Clean(path))
}

func (c *Compiler) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

func (c *Compiler) Compile(path string, stage shader.Stage, macros shader.Macros) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	path = filepath.Clean(path)
	c.calls = append(c.calls, Call{Path: path, Stage: stage, Macros: macros.Clone()})

	if msg, ok := c.failures[path]; ok {
		return nil, &shader.CompileError{Path: path, Stage: stage, Message: msg}
	}
	src, ok := c.sources[path]
	if !ok {
		return nil, &shader.CompileError{Path: path, Stage: stage, Message: "no such file"}
	}

	code := []byte(src + shader.Preamble(macros))
	for len(code)%4 != 0 || len(code) == 0 {
		code = append(code, 0)
	}
	return code, nil
}
