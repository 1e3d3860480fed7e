// Package assert provides named boolean conditions for guarding aggregate
// commands. A failed condition reports its name, which becomes the reason of
// the resulting invariant error.
package assert

import (
	"fmt"
)

type CondFunc func() bool

type Cond interface {
	String() string
	Eval() bool
	Check() error
}

// FailedError is returned by Check when a condition does not hold.
type FailedError struct{ Name string }

func (e *FailedError) Error() string { return fmt.Sprintf("assertion failed: %s", e.Name) }

type cond struct {
	name string
	fn   CondFunc
}

func (c *cond) String() string { return c.name }
func (c *cond) Eval() bool     { return c.fn() }
func (c *cond) Check() error {
	if !c.fn() {
		return &FailedError{Name: c.name}
	}
	return nil
}

func New(name string, fn CondFunc) Cond { return &cond{name: name, fn: fn} }

func True(v bool, name string) Cond  { return New(name, func() bool { return v }) }
func False(v bool, name string) Cond { return New(name, func() bool { return !v }) }

func Not(c Cond) Cond {
	return New(fmt.Sprintf("not(%s)", c.String()), func() bool { return !c.Eval() })
}

// Equal holds when a == b.
func Equal[T comparable](a, b T, name string) Cond {
	return New(name, func() bool { return a == b })
}

// NotEmpty holds when s is not the empty string.
func NotEmpty(s string, name string) Cond {
	return New(name, func() bool { return s != "" })
}

type all struct{ cs []Cond }

func (a *all) String() string { return "all" }
func (a *all) Eval() bool {
	_, failed := Failing(a.cs...)
	return !failed
}
func (a *all) Check() error {
	for _, c := range a.cs {
		if err := c.Check(); err != nil {
			return err
		}
	}
	return nil
}

func All(cs ...Cond) Cond { return &all{cs: cs} }

// Failing returns the first condition in cs that does not hold.
func Failing(cs ...Cond) (Cond, bool) {
	for _, c := range cs {
		if !c.Eval() {
			return c, true
		}
	}
	return nil, false
}
