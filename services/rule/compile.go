package rule

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"inventory-collector/pkg/celengine"
)

const (
	VarResource     = "resource"
	VarResourceType = "resource_type"
)

type CompiledRule struct {
	ID             string
	Actions        Actions
	StopProcessing bool
	// Program is nil for rules without a condition.
	Program cel.Program
}

func resourceEnv() (*cel.Env, error) {
	return celengine.GetOrBuildEnv(map[string]any{
		VarResource:     map[string]any{},
		VarResourceType: "",
	})
}

func compile(rules []CollectorRule) ([]*CompiledRule, error) {
	env, err := resourceEnv()
	if err != nil {
		return nil, fmt.Errorf("build rule env: %w", err)
	}

	out := make([]*CompiledRule, 0, len(rules))
	for _, r := range rules {
		c := &CompiledRule{
			ID:             r.RuleID,
			Actions:        r.Actions.Data(),
			StopProcessing: r.StopProcessing,
		}
		if expr := strings.TrimSpace(r.Condition); expr != "" {
			prg, err := celengine.Compile(env, expr)
			if err != nil {
				return nil, fmt.Errorf("compile rule %s: %w", r.RuleID, err)
			}
			c.Program = prg
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *CompiledRule) matches(resourceType string, snapshot map[string]any) (bool, error) {
	if r.Program == nil {
		return true, nil
	}
	matched, err := celengine.EvalBool(r.Program, map[string]any{
		VarResource:     snapshot,
		VarResourceType: resourceType,
	})
	if err != nil {
		return false, fmt.Errorf("eval failed for rule %s: %w", r.ID, err)
	}
	return matched, nil
}
