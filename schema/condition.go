package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/mohitkumar/actionrouter/model"
)

const scriptBudget = 100 * time.Millisecond

// Visible evaluates cond against scope. A nil or empty condition is visible.
func (in *Interpreter) Visible(cond *model.Condition, scope Scope) (bool, error) {
	if cond == nil {
		return true, nil
	}
	return in.eval(*cond, scope)
}

func (in *Interpreter) eval(cond model.Condition, scope Scope) (bool, error) {
	switch {
	case cond.Expr != "":
		return in.evalExpr(cond.Expr, scope)
	case len(cond.All) > 0:
		for _, c := range cond.All {
			ok, err := in.eval(c, scope)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case len(cond.Any) > 0:
		for _, c := range cond.Any {
			ok, err := in.eval(c, scope)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case cond.Not != nil:
		ok, err := in.eval(*cond.Not, scope)
		return !ok, err
	case cond.Key != "":
		return evalKey(cond, scope)
	}
	return true, nil
}

func evalKey(cond model.Condition, scope Scope) (bool, error) {
	value, found := scope.Lookup(cond.Key)
	op := cond.Op
	if op == "" {
		op = model.OP_PRESENT
		if cond.Value != nil {
			op = model.OP_EQ
		}
	}
	switch op {
	case model.OP_PRESENT:
		return found && present(value), nil
	case model.OP_ABSENT:
		return !found || !present(value), nil
	case model.OP_EQ:
		return found && equal(value, cond.Value), nil
	case model.OP_NEQ:
		return !found || !equal(value, cond.Value), nil
	}
	return false, fmt.Errorf("unknown condition operator %q", op)
}

// equal compares numbers numerically, booleans by truth value and everything
// else by its string form, so "3" == 3 and "true" == true.
func equal(a, b any) bool {
	if af, ok := model.Typed(model.TYPE_NUMBER, a).Float(); ok {
		if bf, ok := model.Typed(model.TYPE_NUMBER, b).Float(); ok {
			return af == bf
		}
	}
	if ab, ok := toBool(a); ok {
		if bb, ok := toBool(b); ok {
			return ab == bb
		}
	}
	return strings.TrimSpace(fmt.Sprint(a)) == strings.TrimSpace(fmt.Sprint(b))
}

func toBool(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		return b, err == nil
	}
	return false, false
}

func (in *Interpreter) program(expr string) (*goja.Program, error) {
	if p, ok := in.programs.Get(expr); ok {
		return p, nil
	}
	p, err := goja.Compile("condition.js", "("+expr+")", true)
	if err != nil {
		return nil, fmt.Errorf("invalid condition expression %q: %w", expr, err)
	}
	in.programs.Add(expr, p)
	return p, nil
}

func (in *Interpreter) evalExpr(expr string, scope Scope) (bool, error) {
	p, err := in.program(expr)
	if err != nil {
		return false, err
	}
	vm := goja.New()
	if err := vm.Set("$", scope.merged()); err != nil {
		return false, err
	}
	timer := time.AfterFunc(scriptBudget, func() { vm.Interrupt("condition took too long") })
	defer timer.Stop()
	val, err := vm.RunProgram(p)
	if err != nil {
		return false, fmt.Errorf("error evaluating condition %q: %w", expr, err)
	}
	return val.ToBoolean(), nil
}
