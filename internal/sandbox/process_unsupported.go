//go:build !unix

package sandbox

import (
	"context"
	"errors"
)

func (r *ProcessRunner) Run(_ context.Context, spec Spec) *Attempt {
	return newAttempt(spec).fail(errors.New("process backend is not supported on this platform"))
}
