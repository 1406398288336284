// Package scripts evaluates scripted columns. Scripts are CEL expressions over
// the hit: `doc` is the stored document, `id` its identifier and `score` its
// relevance, e.g. `doc.bytes / 1024.0` or `doc.status >= 500.0 ? "error" : "ok"`.
package scripts

import (
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of compiled programs kept when none is configured
const DefaultCacheSize = 256

var (
	// ErrCompile wraps script syntax and type errors
	ErrCompile = errors.New("script compile error")
	// ErrEval wraps runtime evaluation errors
	ErrEval = errors.New("script evaluation error")
)

// Engine compiles and evaluates scripts. Compiled programs are cached by source.
type Engine struct {
	env      *cel.Env
	programs *lru.Cache[string, cel.Program]
}

// NewEngine creates an Engine caching up to cacheSize compiled programs
func NewEngine(cacheSize int) (*Engine, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	env, err := cel.NewEnv(
		cel.Variable("doc", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("id", cel.StringType),
		cel.Variable("score", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create script environment: %w", err)
	}

	programs, err := lru.New[string, cel.Program](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create program cache: %w", err)
	}

	return &Engine{
		env:      env,
		programs: programs,
	}, nil
}

// Compile checks a script and caches its program
func (e *Engine) Compile(source string) error {
	_, err := e.program(source)
	return err
}

// Eval runs a script against one hit
func (e *Engine) Eval(source string, doc map[string]any, id string, score float64) (any, error) {
	prg, err := e.program(source)
	if err != nil {
		return nil, err
	}

	if doc == nil {
		doc = map[string]any{}
	}
	out, _, err := prg.Eval(map[string]any{
		"doc":   doc,
		"id":    id,
		"score": score,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEval, err)
	}

	return out.Value(), nil
}

func (e *Engine) program(source string) (cel.Program, error) {
	if prg, ok := e.programs.Get(source); ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, issues.Err())
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}

	e.programs.Add(source, prg)
	return prg, nil
}
