package policy

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/dotsetup/dotsetup/pkg/engine"
)

// Engine compiles Rego policies and evaluates them against the commands a
// task resolves to.
type Engine struct {
	mu       sync.RWMutex
	policies []*compiledPolicy
	logger   zerolog.Logger
	root     bool
	now      func() time.Time
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRoot tells policies whether dot-setup runs as root. Defaults to the
// effective uid of the process.
func WithRoot(root bool) EngineOption {
	return func(e *Engine) { e.root = root }
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		logger: logger.With().Str("component", "policy-engine").Logger(),
		root:   os.Geteuid() == 0,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	builtins := GetBuiltinPolicies()
	for i := range builtins {
		if err := e.add(context.Background(), &builtins[i]); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	e.logger.Debug().
		Int("count", len(builtins)).
		Msg("Built-in policies loaded")

	return e, nil
}

// LoadPolicies loads .rego and .json policies from files or directories. A
// policy with the name of an existing one replaces it.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	for i := range policies {
		if err := e.add(ctx, &policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded")

	return nil
}

// add compiles policy and stores it, replacing a policy of the same name.
func (e *Engine) add(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	query, err := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	cp := &compiledPolicy{policy: policy, query: query, compiled: e.now()}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i, existing := range e.policies {
		if existing.policy.Name == policy.Name {
			e.policies[i] = cp
			return nil
		}
	}
	e.policies = append(e.policies, cp)

	e.logger.Debug().
		Str("policy", policy.Name).
		Msg("Policy compiled")
	return nil
}

// Evaluate runs every enabled policy against one input. A policy that fails
// to evaluate is reported as a warning rather than blocking.
func (e *Engine) Evaluate(ctx context.Context, input *Input) (*Result, error) {
	start := e.now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := NewResult()
	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, cp.policy.Name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Str("task", input.Task.ID).
				Msg("Policy evaluation failed")
			result.add(Violation{
				Policy:   cp.policy.Name,
				TaskID:   input.Task.ID,
				Command:  input.Command,
				Message:  fmt.Sprintf("evaluation failed: %v", err),
				Severity: SeverityWarning,
			})
			continue
		}
		for _, v := range violations {
			result.add(v)
		}
	}

	result.Duration = e.now().Sub(start)
	return result, nil
}

// EvaluateTask evaluates each command of task and merges the results.
func (e *Engine) EvaluateTask(ctx context.Context, task engine.Task, commands []engine.Command, operation string) (*Result, error) {
	result := NewResult()
	for _, cmd := range commands {
		input := &Input{
			Task: TaskInput{
				ID:         task.ID,
				Name:       task.Name,
				Privileged: task.RequiresPrivilege,
			},
			Command:    cmd.Line,
			Privileged: cmd.Privileged,
			Context: InputContext{
				Operation: operation,
				Root:      e.root,
				Timestamp: e.now(),
			},
		}
		res, err := e.Evaluate(ctx, input)
		if err != nil {
			return nil, err
		}
		result.Merge(res)
	}

	e.logger.Debug().
		Str("task", task.ID).
		Int("commands", len(commands)).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Msg("Task policy evaluation completed")

	return result, nil
}

// CheckTasks resolves every task with resolver and evaluates its commands.
// Resolution errors are returned as is.
func (e *Engine) CheckTasks(ctx context.Context, resolver engine.Resolver, tasks []engine.Task, operation string) (*Result, error) {
	result := NewResult()
	for _, task := range tasks {
		commands, err := resolver.Resolve(task)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", task.ID, err)
		}
		res, err := e.EvaluateTask(ctx, task, commands, operation)
		if err != nil {
			return nil, err
		}
		result.Merge(res)
	}
	return result, nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d, input))
		}
	}
	return violations, nil
}

// createViolation creates a Violation from one element of a deny set.
func createViolation(policy *Policy, result interface{}, input *Input) Violation {
	violation := Violation{
		Policy:   policy.Name,
		TaskID:   input.Task.ID,
		Command:  input.Command,
		Severity: policy.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok && Severity(sev).Valid() {
			violation.Severity = Severity(sev)
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, cp := range e.policies {
		if cp.policy.Name == name {
			return cp.policy, nil
		}
	}
	return nil, fmt.Errorf("policy not found: %s", name)
}

// ListPolicies returns all loaded policies in load order.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, cp := range e.policies {
		if cp.policy.Name == name {
			cp.policy.Enabled = enabled
			e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
			return nil
		}
	}
	return fmt.Errorf("policy not found: %s", name)
}
