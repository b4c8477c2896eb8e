// Copyright 2020 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package backend defines the binary patching capabilities the instrumentation
// controller relies on, and provides an ELF/DWARF implementation of them.
//
// A backend opens an executable for rewriting, enumerates its modules and
// their statements (file, line, address), resolves functions and program
// points, inserts calls at points and writes the patched binary.
package backend

import (
	"errors"
	"fmt"
)

var (
	ErrNoText       = errors.New("binary has no text section")
	ErrNoDebugInfo  = errors.New("binary has no debug info")
	ErrNotSupported = errors.New("not supported by the backend")
	ErrBadInsertion = errors.New("bad call insertion")
)

type Backend interface {
	OpenBinary(path string) (Binary, error)
}

// Binary is an executable opened for rewriting.
type Binary interface {
	Image() (Image, error)
	// LoadLibrary makes the shared object at path a dependency of the binary,
	// its functions become visible to Image.FindFunction.
	LoadLibrary(path string) (*Object, error)
	InsertCall(points []Point, fn *Function, args []Arg, order Order) (Handle, error)
	WriteBinary(path string) error
	Close() error
}

// Image is the static view of the binary and of the loaded libraries.
type Image interface {
	Modules() ([]Module, error)
	// FindFunction returns all functions with the given (possibly demangled) name.
	FindFunction(name string) ([]*Function, error)
	// FindPoints returns instrumentable points at addr, none if addr can't be patched.
	FindPoints(addr uint64) ([]Point, error)
}

// Module is a unit of source the binary was built from.
type Module interface {
	Name() string
	Statements() ([]Statement, error)
}

type Statement struct {
	File string
	Line int
	Addr uint64
}

type Point struct {
	Addr uint64
	Func string
}

type Function struct {
	Name  string
	Addr  uint64
	Size  uint64
	Entry []Point
	// Object is the path of the loaded library the function comes from,
	// empty for functions of the binary itself.
	Object string
}

type Object struct {
	Path string
	Name string
}

type Handle int

type Order int

const (
	// OrderFirst runs the call before the other calls inserted at the same point.
	OrderFirst Order = iota
	OrderLast
)

func (o Order) String() string {
	switch o {
	case OrderFirst:
		return "first"
	case OrderLast:
		return "last"
	}
	return fmt.Sprintf("order(%d)", int(o))
}

type ArgKind int

const (
	ArgInt ArgKind = iota
	ArgString
)

// Arg is a constant argument of an inserted call.
type Arg struct {
	Kind ArgKind `json:"kind"`
	Int  uint64  `json:"int,omitempty"`
	Str  string  `json:"str,omitempty"`
}

func IntArg(v uint64) Arg {
	return Arg{Kind: ArgInt, Int: v}
}

func StringArg(s string) Arg {
	return Arg{Kind: ArgString, Str: s}
}

func (a Arg) String() string {
	if a.Kind == ArgString {
		return fmt.Sprintf("%q", a.Str)
	}
	return fmt.Sprintf("0x%x", a.Int)
}
