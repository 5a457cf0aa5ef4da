package backend

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// Fake is a deterministic in-process backend.
type Fake struct {
	name     string
	failures int64
	err      error
	calls    atomic.Int64
}

// AlwaysSucceed never fails.
func AlwaysSucceed(name string) *Fake {
	return &Fake{name: name}
}

// AlwaysFail fails every send with the given message.
func AlwaysFail(name, message string) *Fake {
	if message == "" {
		message = name + " failed"
	}
	return &Fake{name: name, failures: -1, err: errors.New(message)}
}

// FailN fails the first n sends and succeeds afterwards.
func FailN(name string, n int) *Fake {
	return &Fake{name: name, failures: int64(n), err: fmt.Errorf("%s failed", name)}
}

func (f *Fake) Name() string {
	return f.name
}

func (f *Fake) Send(ctx context.Context, _ Message) error {
	call := f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.failures < 0 || call <= f.failures {
		return f.err
	}
	return nil
}

// Calls returns how many times Send was invoked.
func (f *Fake) Calls() int {
	return int(f.calls.Load())
}
