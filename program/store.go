// Package program caches compiled gpu programs behind stable handles and
// hot-reloads them when their source changes.
package program

import (
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/vkngwrapper/kiyo"
	"github.com/vkngwrapper/kiyo/gpu"
	"github.com/vkngwrapper/kiyo/metrics"
	"github.com/vkngwrapper/kiyo/shader"
)

// Handle identifies a registered program. It stays valid across reloads.
type Handle uuid.UUID

func (h Handle) String() string {
	return uuid.UUID(h).String()
}

var ErrUnknownHandle = errors.New("unknown program handle")

// ReloadError reports a program whose reload failed. The program that was
// current before the reload is still in use.
type ReloadError struct {
	Path   string
	Handle Handle
	Err    error
}

func (e *ReloadError) Error() string {
	return "reload " + e.Path + " (" + e.Handle.String() + "): " + e.Err.Error()
}

func (e *ReloadError) Unwrap() error {
	return e.Err
}

type entry struct {
	seq       int
	path      string
	stage     shader.Stage
	layout    *gpu.ResourceLayout
	constants gpu.ConstantRange
	macros    shader.Macros
	program   *gpu.Program
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// Store owns every compiled program. Register, Get and Reload serialize on
// one mutex, which is held while shaders compile.
type Store struct {
	device   *gpu.Device
	compiler shader.Compiler
	log      *slog.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	seq     int
	entries map[Handle]*entry
}

func NewStore(device *gpu.Device, compiler shader.Compiler, opts ...Option) *Store {
	s := &Store{
		device:   device.Clone(),
		compiler: compiler,
		log:      kiyo.Logger(),
		entries:  map[Handle]*entry{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrapf(err, "resolve %s", path)
	}
	return abs, nil
}

func (s *Store) build(path string, stage shader.Stage, layout *gpu.ResourceLayout, constants gpu.ConstantRange, macros shader.Macros) (*gpu.Program, error) {
	code, err := s.compiler.Compile(path, stage, macros)
	if err != nil {
		return nil, err
	}
	return s.device.NewProgram(gpu.ProgramCompute, layout, constants, map[gpu.ShaderStage][]byte{
		stage.ShaderStage(): code,
	})
}

// Register compiles the compute shader at path against layout and returns a
// fresh handle for it.
func (s *Store) Register(path string, layout *gpu.ResourceLayout, constants gpu.ConstantRange, macros shader.Macros) (Handle, error) {
	abs, err := canonical(path)
	if err != nil {
		return Handle{}, err
	}
	stage, err := shader.StageFromPath(abs)
	if err != nil {
		return Handle{}, err
	}
	if stage != shader.StageCompute {
		return Handle{}, errors.Newf("register %s: only compute programs can be registered, got %s", abs, stage)
	}

	s.mu.Lock()
	prog, err := s.build(abs, stage, layout, constants, macros)
	if err != nil {
		s.mu.Unlock()
		return Handle{}, errors.Wrapf(err, "register %s", abs)
	}

	h := Handle(uuid.New())
	s.seq++
	s.entries[h] = &entry{
		seq:       s.seq,
		path:      abs,
		stage:     stage,
		layout:    layout.Clone(),
		constants: constants,
		macros:    macros.Clone(),
		program:   prog,
	}
	n := len(s.entries)
	s.mu.Unlock()

	s.metrics.SetPrograms(n)
	s.log.Debug("program registered", "path", abs, "handle", h)
	return h, nil
}

// Get returns a new reference to the current program for h. The caller
// releases it; a reload does not invalidate it.
func (s *Store) Get(h Handle) (*gpu.Program, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[h]
	if !ok {
		return nil, false
	}
	return e.program.Clone(), true
}

// Reload recompiles every program whose source is path and swaps in the
// results. It returns how many programs were replaced. Programs that fail to
// compile keep their previous version and are reported as *ReloadError values
// combined into the returned error. A path no program was built from is a
// no-op.
//
// The store stays locked until every matching program is rebuilt, so
// overlapping reloads of one path land in the order they were made.
func (s *Store) Reload(path string) (int, error) {
	abs, err := canonical(path)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []Handle
	for h, e := range s.entries {
		if e.path == abs {
			matched = append(matched, h)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return s.entries[matched[i]].seq < s.entries[matched[j]].seq
	})

	var errs error
	replaced := 0
	for _, h := range matched {
		e := s.entries[h]
		prog, err := s.build(e.path, e.stage, e.layout, e.constants, e.macros)
		if err != nil {
			rerr := &ReloadError{Path: e.path, Handle: h, Err: err}
			s.log.Warn("program reload failed, keeping previous version", "path", e.path, "handle", h, "err", err)
			s.metrics.ObserveReload(metrics.ReloadFailed)
			errs = errors.CombineErrors(errs, rerr)
			continue
		}

		e.program.Release()
		e.program = prog
		replaced++
		s.metrics.ObserveReload(metrics.ReloadOK)
		s.log.Info("program reloaded", "path", e.path, "handle", h)
	}
	return replaced, errs
}

// Unregister drops h. References already handed out stay valid.
func (s *Store) Unregister(h Handle) error {
	s.mu.Lock()
	e, ok := s.entries[h]
	delete(s.entries, h)
	n := len(s.entries)
	s.mu.Unlock()

	if !ok {
		return errors.Wrapf(ErrUnknownHandle, "unregister %s", h)
	}
	e.program.Release()
	e.layout.Release()
	s.metrics.SetPrograms(n)
	return nil
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Path returns the source path h was registered with.
func (s *Store) Path(h Handle) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[h]
	if !ok {
		return "", false
	}
	return e.path, true
}

// Paths returns the distinct source paths of all registered programs.
func (s *Store) Paths() []string {
	s.mu.Lock()
	seen := map[string]struct{}{}
	for _, e := range s.entries {
		seen[e.path] = struct{}{}
	}
	s.mu.Unlock()

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Close releases every program and the store's device reference.
func (s *Store) Close() {
	s.mu.Lock()
	entries := s.entries
	s.entries = map[Handle]*entry{}
	s.mu.Unlock()

	for _, e := range entries {
		e.program.Release()
		e.layout.Release()
	}
	s.metrics.SetPrograms(0)
	s.device.Release()
}
