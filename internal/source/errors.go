package source

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a data source failure.
type Kind int

// Failure kinds.
const (
	KindProcess Kind = iota + 1
	KindNonZeroExit
	KindMalformedOutput
	KindTimeout
)

// Sentinels matched by errors.Is against a *SourceError of the same kind.
var (
	ErrProcess         = errors.New("process error")
	ErrNonZeroExit     = errors.New("non-zero exit")
	ErrMalformedOutput = errors.New("malformed output")
	ErrTimeout         = errors.New("timeout")
)

func (k Kind) sentinel() error {
	switch k {
	case KindProcess:
		return ErrProcess
	case KindNonZeroExit:
		return ErrNonZeroExit
	case KindMalformedOutput:
		return ErrMalformedOutput
	case KindTimeout:
		return ErrTimeout
	}
	return nil
}

// String returns the kind name.
func (k Kind) String() string {
	if s := k.sentinel(); s != nil {
		return s.Error()
	}
	return "unknown"
}

// SourceError is a failed forester invocation with its captured output.
type SourceError struct {
	Kind   Kind
	Msg    string
	Err    error
	Stdout string
	Stderr string
}

// Error renders a single human-readable reason including a short excerpt of
// stderr when there is one.
func (e *SourceError) Error() string {
	var b strings.Builder
	b.WriteString(e.Msg)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if s := excerpt(e.Stderr); s != "" {
		fmt.Fprintf(&b, " (stderr: %s)", s)
	}
	return b.String()
}

// Unwrap exposes the underlying cause.
func (e *SourceError) Unwrap() error { return e.Err }

// Is matches the sentinel for this error's kind.
func (e *SourceError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

const excerptLen = 300

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > excerptLen {
		return s[:excerptLen] + "..."
	}
	return s
}
