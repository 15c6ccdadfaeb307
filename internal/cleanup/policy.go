package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const suspiciousQuery = "data.authcore.suspicious.flag_ip"

// Built-in rule: flag an address once its failed logins in the window reach the threshold.
const defaultSuspiciousPolicy = `package authcore.suspicious

default flag_ip = false

flag_ip if {
	input.count >= input.threshold
}
`

// IPInput is the policy input for one address.
type IPInput struct {
	IPAddress     string
	Count         int
	Threshold     int
	WindowMinutes int
}

// Policy decides which addresses the monitor flags. Rules are Rego and must define
// data.authcore.suspicious.flag_ip as a boolean.
type Policy struct {
	compiler *ast.Compiler
}

// NewPolicy compiles source, or the built-in rule when source is empty.
func NewPolicy(source string) (*Policy, error) {
	if source == "" {
		source = defaultSuspiciousPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"suspicious.rego": source})
	if err != nil {
		return nil, fmt.Errorf("compile suspicious policy: %w", err)
	}
	return &Policy{compiler: compiler}, nil
}

// LoadPolicy reads a Rego file. An empty path selects the built-in rule.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return NewPolicy("")
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read suspicious policy: %w", err)
	}
	return NewPolicy(string(src))
}

// FlagIP evaluates the policy for one address.
func (p *Policy) FlagIP(ctx context.Context, in IPInput) (bool, error) {
	q := rego.New(
		rego.Query(suspiciousQuery),
		rego.Compiler(p.compiler),
		rego.Input(map[string]interface{}{
			"ip":             in.IPAddress,
			"count":          in.Count,
			"threshold":      in.Threshold,
			"window_minutes": in.WindowMinutes,
		}),
	)
	rs, err := q.Eval(ctx)
	if err != nil {
		return false, fmt.Errorf("eval suspicious policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, errors.New("suspicious policy returned no result")
	}
	flag, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("suspicious policy returned %T, want bool", rs[0].Expressions[0].Value)
	}
	return flag, nil
}

// HealthCheck evaluates the compiled policy against a minimal input.
func (p *Policy) HealthCheck(ctx context.Context) error {
	_, err := p.FlagIP(ctx, IPInput{IPAddress: "127.0.0.1", Threshold: 1})
	return err
}
