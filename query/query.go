// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package query evaluates boolean row predicates, such as sample selections
// and variant queries, written as JavaScript expressions.  Each row's fields
// are bound as variables before evaluation, so
//   country == 'Mali' && year >= 2012
// selects rows whose country field is "Mali" and whose year is at least 2012.
// The keywords and, or and not may be used in place of &&, || and !.
package query

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/robertkrimen/otto"
)

// Expr is a compiled predicate.  It is safe for concurrent use; evaluations
// are serialized on its interpreter.
type Expr struct {
	src    string
	mu     sync.Mutex
	vm     *otto.Otto
	script *otto.Script
	// bound lists the variables set by the previous evaluation, so that
	// fields absent from the next row don't leak through.
	bound []string
}

// Compile parses a predicate.
func Compile(src string) (*Expr, error) {
	vm := otto.New()
	script, err := vm.Compile("", translate(src))
	if err != nil {
		return nil, fmt.Errorf("query.Compile: %q: %v", src, err)
	}
	return &Expr{src: src, vm: vm, script: script}, nil
}

// String returns the source text of e.
func (e *Expr) String() string { return e.src }

// Eval evaluates e with the given variable bindings.  A nil binding, or a
// float NaN, is visible to the expression as null.
func (e *Expr) Eval(vars map[string]interface{}) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, name := range e.bound {
		if _, ok := vars[name]; !ok {
			if err := e.vm.Set(name, otto.UndefinedValue()); err != nil {
				return false, err
			}
		}
	}
	e.bound = e.bound[:0]
	for name, v := range vars {
		if f, ok := v.(float64); ok && math.IsNaN(f) {
			v = nil
		}
		var err error
		if v == nil {
			err = e.vm.Set(name, otto.NullValue())
		} else {
			err = e.vm.Set(name, v)
		}
		if err != nil {
			return false, fmt.Errorf("query.Eval: binding %s: %v", name, err)
		}
		e.bound = append(e.bound, name)
	}
	value, err := e.vm.Run(e.script)
	if err != nil {
		return false, fmt.Errorf("query.Eval: %q: %v", e.src, err)
	}
	if !value.IsBoolean() {
		return false, fmt.Errorf("query.Eval: %q evaluated to %v, not a boolean", e.src, value)
	}
	return value.ToBoolean()
}

// translate rewrites the word operators and, or and not outside of string
// literals.
func translate(src string) string {
	var (
		b     strings.Builder
		quote byte
	)
	isWord := func(c byte) bool {
		return c == '_' || c == '$' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
	}
	for i := 0; i < len(src); {
		c := src[i]
		if quote != 0 {
			b.WriteByte(c)
			if c == '\\' && i+1 < len(src) {
				b.WriteByte(src[i+1])
				i += 2
				continue
			}
			if c == quote {
				quote = 0
			}
			i++
			continue
		}
		if c == '\'' || c == '"' {
			quote = c
			b.WriteByte(c)
			i++
			continue
		}
		if isWord(c) {
			j := i
			for j < len(src) && isWord(src[j]) {
				j++
			}
			switch word := src[i:j]; word {
			case "and":
				b.WriteString("&&")
			case "or":
				b.WriteString("||")
			case "not":
				b.WriteString("!")
			default:
				b.WriteString(word)
			}
			i = j
			continue
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}
