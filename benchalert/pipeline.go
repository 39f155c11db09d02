// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package benchalert runs benchmark alerting pipelines.
//
// A Pipeline runs its Steps strictly in order. Each step sees the
// outputs of all steps before it, by name. If a step fails, every
// ErrorHandler is called with the failure, in order, and the failure
// is then returned to the caller: handlers exist to publish a degraded
// report, not to recover.
package benchalert

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// A Step is one unit of work in a pipeline. Its return value is
// stored in the pipeline's Outputs under the step's name.
type Step interface {
	Run(ctx context.Context, outputs *Outputs) (any, error)
}

// A Named step or error handler chooses its own name. Other steps are
// named after their type, without package or pointer.
type Named interface {
	Name() string
}

// An ErrorHandler reacts to a failed step, typically by publishing
// the failure. It must not fail: an error from a handler is returned
// from Pipeline.Run as a *HandlerError and the remaining handlers are
// skipped.
type ErrorHandler interface {
	HandleError(ctx context.Context, err *StepError) error
}

// StepFunc adapts a function to a Step named name.
func StepFunc(name string, f func(ctx context.Context, outputs *Outputs) (any, error)) Step {
	return &funcStep{name: name, f: f}
}

type funcStep struct {
	name string
	f    func(context.Context, *Outputs) (any, error)
}

func (s *funcStep) Name() string { return s.name }

func (s *funcStep) Run(ctx context.Context, o *Outputs) (any, error) { return s.f(ctx, o) }

// HandlerFunc adapts a function to an ErrorHandler.
type HandlerFunc func(ctx context.Context, err *StepError) error

func (f HandlerFunc) HandleError(ctx context.Context, err *StepError) error { return f(ctx, err) }

// A StepError reports the failure of a step.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Trace returns a human-readable description of the failure,
// including the stack if the step panicked.
func (e *StepError) Trace() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", e.Error())
	if p, ok := e.Err.(*PanicError); ok {
		b.Write(p.Stack)
	}
	return b.String()
}

// A PanicError is a recovered panic of a step.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// A HandlerError reports that an error handler failed while handling
// a step failure.
type HandlerError struct {
	Handler string
	Err     error      // the handler's error
	Cause   *StepError // the failure being handled
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("error handler %s failed: %v (while handling: %v)", e.Handler, e.Err, e.Cause)
}

func (e *HandlerError) Unwrap() []error { return []error{e.Err, e.Cause} }

// A Pipeline is an ordered list of steps and the error handlers that
// run when one of them fails.
type Pipeline struct {
	steps    []Step
	handlers []ErrorHandler
	log      *zap.Logger
	runID    string
}

// New returns a pipeline. A nil logger discards logs.
func New(steps []Step, handlers []ErrorHandler, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Pipeline{
		steps:    steps,
		handlers: handlers,
		log:      logger.With(zap.String("pipeline_run", id)),
		runID:    id,
	}
}

// RunID returns the unique id of p, which is attached to its logs.
func (p *Pipeline) RunID() string { return p.runID }

// Run runs every step in order and returns their outputs.
//
// If a step fails, the remaining steps are skipped, the error
// handlers are called, and Run returns the outputs of the steps that
// completed together with a *StepError (or a *HandlerError if a
// handler failed).
func (p *Pipeline) Run(ctx context.Context) (*Outputs, error) {
	outputs := newOutputs()
	for i, s := range p.steps {
		name := NameOf(s)
		log := p.log.With(zap.String("step", name), zap.Int("index", i))
		log.Info("running step")
		start := time.Now()
		v, err := runStep(ctx, s, outputs)
		if err != nil {
			serr := &StepError{Step: name, Err: err}
			log.Error("step failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
			if herr := p.handle(ctx, serr); herr != nil {
				return outputs, herr
			}
			return outputs, serr
		}
		outputs.set(name, v)
		log.Info("step finished", zap.Duration("elapsed", time.Since(start)))
	}
	p.log.Info("pipeline finished", zap.Int("steps", len(p.steps)))
	return outputs, nil
}

func runStep(ctx context.Context, s Step, outputs *Outputs) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return s.Run(ctx, outputs)
}

func (p *Pipeline) handle(ctx context.Context, serr *StepError) error {
	for _, h := range p.handlers {
		name := NameOf(h)
		p.log.Info("running error handler", zap.String("handler", name))
		if err := h.HandleError(ctx, serr); err != nil {
			p.log.Error("error handler failed", zap.String("handler", name), zap.Error(err))
			return &HandlerError{Handler: name, Err: err, Cause: serr}
		}
	}
	return nil
}

// NameOf returns the name of a step or error handler.
func NameOf(v any) string {
	if n, ok := v.(Named); ok {
		if name := n.Name(); name != "" {
			return name
		}
	}
	name := strings.TrimLeft(fmt.Sprintf("%T", v), "*")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}
