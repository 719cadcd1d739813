package celengine

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"go.uber.org/zap"
)

var envCache = sync.Map{}

// GetOrBuildEnv caches environments by the set of variable names and Go types.
func GetOrBuildEnv(attrs map[string]any) (*cel.Env, error) {
	key := envKey(attrs)
	if v, ok := envCache.Load(key); ok {
		return v.(*cel.Env), nil
	}

	env, err := BuildCelEnvFromAttributes(attrs)
	if err == nil {
		envCache.Store(key, env)
	}

	return env, err
}

func envKey(attrs map[string]any) string {
	parts := make([]string, 0, len(attrs))
	for k, v := range attrs {
		parts = append(parts, k+"="+reflect.TypeOf(v).String())
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// BuildCelEnvFromAttributes declares one variable per attribute, typed from
// the sample value.
func BuildCelEnvFromAttributes(attrs map[string]any) (*cel.Env, error) {
	var variables []cel.EnvOption

	for key, val := range attrs {
		switch v := val.(type) {
		case string:
			variables = append(variables, cel.Variable(key, cel.StringType))

		case int, int64, int32:
			variables = append(variables, cel.Variable(key, cel.IntType))

		case float64, float32:
			variables = append(variables, cel.Variable(key, cel.DoubleType))

		case bool:
			variables = append(variables, cel.Variable(key, cel.BoolType))

		case []any:
			if len(v) > 0 {
				if _, ok := v[0].(map[string]any); ok {
					variables = append(variables, cel.Variable(key, cel.ListType(cel.MapType(cel.StringType, cel.DynType))))
					continue
				}
			}
			variables = append(variables, cel.Variable(key, cel.ListType(cel.DynType)))

		case []map[string]any:
			variables = append(variables, cel.Variable(key, cel.ListType(cel.MapType(cel.StringType, cel.DynType))))

		case map[string]any:
			variables = append(variables, cel.Variable(key, cel.MapType(cel.StringType, cel.DynType)))

		default:
			zap.L().Debug("cel variable declared as dyn", zap.String("key", key), zap.String("type", fmt.Sprintf("%T", val)))
			variables = append(variables, cel.Variable(key, cel.DynType))
		}
	}

	return cel.NewEnv(variables...)
}

// Compile checks expr against env and requires a boolean result.
func Compile(env *cel.Env, expr string) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expected bool expression, got %s", out)
	}
	return env.Program(ast)
}

func ValidateExpression(env *cel.Env, expr string) error {
	_, err := Compile(env, expr)
	return err
}

// EvalBool runs a compiled program. Evaluation errors such as a missing map
// key are returned to the caller.
func EvalBool(prg cel.Program, attrs map[string]any) (bool, error) {
	out, _, err := prg.Eval(attrs)
	if err != nil {
		return false, err
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expected bool from expression, got %T (%v)", out.Value(), out.Value())
	}
	return b, nil
}

func Evaluate(env *cel.Env, expr string, attrs map[string]any) (bool, error) {
	prg, err := Compile(env, expr)
	if err != nil {
		return false, err
	}
	return EvalBool(prg, attrs)
}
