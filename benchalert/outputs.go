// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package benchalert

import "fmt"

// Outputs maps step names to the values their steps returned, in the
// order the steps ran. A later step with the same name replaces the
// value but keeps the original position.
type Outputs struct {
	names  []string
	values map[string]any
}

func newOutputs() *Outputs {
	return &Outputs{values: make(map[string]any)}
}

func (o *Outputs) set(name string, v any) {
	if _, ok := o.values[name]; !ok {
		o.names = append(o.names, name)
	}
	o.values[name] = v
}

// Get returns the output of the named step.
func (o *Outputs) Get(name string) (any, bool) {
	v, ok := o.values[name]
	return v, ok
}

// Names returns the step names in the order the steps first ran.
func (o *Outputs) Names() []string {
	return append([]string(nil), o.names...)
}

// Len returns the number of outputs.
func (o *Outputs) Len() int { return len(o.names) }

// Lookup returns the output of the named step as a T. It fails if the
// step has not run or returned something else.
func Lookup[T any](o *Outputs, name string) (T, error) {
	var zero T
	v, ok := o.Get(name)
	if !ok {
		return zero, fmt.Errorf("no output from step %q", name)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("output of step %q is %T, want %T", name, v, zero)
	}
	return t, nil
}
