package graph

import (
	"fmt"
)

type ErrInvalidConfig struct {
	Reason string
}

func (e ErrInvalidConfig) Error() string {
	return fmt.Sprintf("invalid pipeline config: %s", e.Reason)
}

type ErrUnknownComponentType struct {
	Type ComponentType
}

func (e ErrUnknownComponentType) Error() string {
	return fmt.Sprintf("unknown component type '%s'", e.Type)
}

type ErrUnknownComponent struct {
	Name string
}

func (e ErrUnknownComponent) Error() string {
	return fmt.Sprintf("unknown component '%s'", e.Name)
}

// ErrComponent tells which component failed to be built.
type ErrComponent struct {
	Name string
	Err  error
}

func (e ErrComponent) Error() string {
	return fmt.Sprintf("unable to build component '%s': %v", e.Name, e.Err)
}

func (e ErrComponent) Unwrap() error {
	return e.Err
}

// ErrLink tells which link failed to be established.
type ErrLink struct {
	Link LinkConfig
	Err  error
}

func (e ErrLink) Error() string {
	return fmt.Sprintf("unable to link %s: %v", e.Link, e.Err)
}

func (e ErrLink) Unwrap() error {
	return e.Err
}
