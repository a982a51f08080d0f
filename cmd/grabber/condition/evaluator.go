package condition

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// Evaluator evaluates URL predicates using CEL (Common Expression Language).
// Expressions see four string variables: url, host, path and query.
type Evaluator struct {
	env   *cel.Env
	cache map[string]cel.Program
	mu    sync.RWMutex
}

// NewEvaluator creates a new evaluator with a compiled-program cache
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("url", cel.StringType),
		cel.Variable("host", cel.StringType),
		cel.Variable("path", cel.StringType),
		cel.Variable("query", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	return &Evaluator{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// Compile checks expr and caches its program
func (e *Evaluator) Compile(expr string) error {
	_, err := e.program(expr)
	return err
}

// Evaluate runs expr against rawURL. The url variable is lowercased so
// substring rules are case-insensitive.
func (e *Evaluator) Evaluate(expr, rawURL string) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	vars := map[string]interface{}{
		"url":   strings.ToLower(rawURL),
		"host":  "",
		"path":  "",
		"query": "",
	}
	if u, err := url.Parse(rawURL); err == nil {
		vars["host"] = strings.ToLower(u.Hostname())
		vars["path"] = strings.ToLower(u.Path)
		vars["query"] = u.RawQuery
	}

	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return boolean, got %T", out.Value())
	}

	return result, nil
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, exists := e.cache[expr]
	e.mu.RUnlock()
	if exists {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("CEL expression must return bool, got %s", ast.OutputType())
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	e.mu.Lock()
	e.cache[expr] = prg
	e.mu.Unlock()

	return prg, nil
}

// CacheSize returns the number of cached expressions
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
