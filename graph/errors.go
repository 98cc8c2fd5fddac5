package graph

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	ErrOutOfBounds = errors.New("image identity out of bounds")
	ErrEmptyGraph  = errors.New("graph needs at least one image")
)

// BoundsError reports a pass referencing an image that does not exist.
type BoundsError struct {
	Pass       int
	Shader     string
	Identity   int
	ImageCount int
	Output     bool
}

func (e *BoundsError) Error() string {
	dir := "input"
	if e.Output {
		dir = "output"
	}
	return fmt.Sprintf("pass %d (%s): %s image %d out of bounds for %d images", e.Pass, e.Shader, dir, e.Identity, e.ImageCount)
}

func (e *BoundsError) Is(target error) bool {
	return target == ErrOutOfBounds
}

// BuildError reports a pass whose program could not be built.
type BuildError struct {
	Pass   int
	Shader string
	Err    error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("pass %d (%s): %v", e.Pass, e.Shader, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}
