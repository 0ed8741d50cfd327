package script

import (
	"path"
	"reflect"
	"slices"

	"github.com/traefik/yaegi/interp"
)

// DefaultIncludes are the imports every scaffolded unit may use without a
// //@using directive.
var DefaultIncludes = []string{
	"fmt",
	"strings",
	"strconv",
	"time",
	"math",
	"sort",
	"errors",
	"sync",
	"encoding/json",
	"encoding/hex",
	"crypto/sha256",
	"crypto/hmac",
	"net/http",
	"net/url",
}

// Environment is the host-provided compilation context: default imports,
// default reference roots and host packages exposed to scripts.
//
// An Environment is immutable; the With methods return modified copies, so
// one value can be shared by concurrent compilations.
type Environment struct {
	includes   []string
	references []string
	symbols    interp.Exports
}

// NewEnvironment creates an environment with the given default includes and
// default reference roots.
func NewEnvironment(includes, references []string) *Environment {
	return &Environment{
		includes:   slices.Clone(includes),
		references: slices.Clone(references),
		symbols:    interp.Exports{},
	}
}

// DefaultEnvironment returns an environment with DefaultIncludes and no
// reference roots.
func DefaultEnvironment() *Environment {
	return NewEnvironment(DefaultIncludes, nil)
}

// Includes returns the default import paths.
func (e *Environment) Includes() []string {
	return slices.Clone(e.includes)
}

// References returns the default reference roots.
func (e *Environment) References() []string {
	return slices.Clone(e.references)
}

// WithIncludes returns a copy with extra default imports appended.
func (e *Environment) WithIncludes(paths ...string) *Environment {
	c := e.clone()
	for _, p := range paths {
		if !slices.Contains(c.includes, p) {
			c.includes = append(c.includes, p)
		}
	}
	return c
}

// WithReferences returns a copy with extra default reference roots appended.
func (e *Environment) WithReferences(dirs ...string) *Environment {
	c := e.clone()
	for _, d := range dirs {
		if !slices.Contains(c.references, d) {
			c.references = append(c.references, d)
		}
	}
	return c
}

// WithPackage returns a copy exposing a host package to scripts under
// importPath and adding it to the default includes.
//
// The package name is the last element of importPath:
//
//	env = env.WithPackage("graylogic/hub", map[string]reflect.Value{
//	    "Log": reflect.ValueOf(logFn),
//	})
func (e *Environment) WithPackage(importPath string, symbols map[string]reflect.Value) *Environment {
	c := e.WithIncludes(importPath)
	c.symbols = make(interp.Exports, len(e.symbols)+1)
	for k, v := range e.symbols {
		c.symbols[k] = v
	}
	c.symbols[importPath+"/"+path.Base(importPath)] = symbols
	return c
}

func (e *Environment) clone() *Environment {
	return &Environment{
		includes:   slices.Clone(e.includes),
		references: slices.Clone(e.references),
		symbols:    e.symbols,
	}
}
