// Package apperr classifies failures by origin so callers can react to the
// kind of a failure without exposing its detail.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindInput
	KindDependency
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindDependency:
		return "dependency"
	case KindConfig:
		return "config"
	default:
		return "internal"
	}
}

// Error carries a Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func Input(op string, err error) error      { return &Error{Kind: KindInput, Op: op, Err: err} }
func Dependency(op string, err error) error { return &Error{Kind: KindDependency, Op: op, Err: err} }
func Config(op string, err error) error     { return &Error{Kind: KindConfig, Op: op, Err: err} }

// KindOf returns the kind of the outermost classified error in the chain,
// or KindInternal when none is present.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
