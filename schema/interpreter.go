// Package schema turns declarative modal configs into render-ready descriptors
// and validates submitted form state against them.
package schema

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dop251/goja"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mohitkumar/actionrouter/model"
	"github.com/mohitkumar/actionrouter/util"
)

const DefaultCacheSize = 512

type Interpreter struct {
	programs *lru.Cache[string, *goja.Program]
	patterns *lru.Cache[string, *regexp.Regexp]
}

func NewInterpreter(cacheSize int) (*Interpreter, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	programs, err := lru.New[string, *goja.Program](cacheSize)
	if err != nil {
		return nil, err
	}
	patterns, err := lru.New[string, *regexp.Regexp](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Interpreter{programs: programs, patterns: patterns}, nil
}

// Lint compiles every expression and pattern in cfg so defects surface at load
// time rather than while a user is looking at the modal.
func (in *Interpreter) Lint(cfg model.ModalConfig) error {
	var errs []error
	check := func(c *model.Condition) {
		if c == nil {
			return
		}
		var walk func(model.Condition)
		walk = func(c model.Condition) {
			if c.Expr != "" {
				if _, err := in.program(c.Expr); err != nil {
					errs = append(errs, err)
				}
			}
			if c.Key != "" {
				switch c.Op {
				case "", model.OP_EQ, model.OP_NEQ, model.OP_PRESENT, model.OP_ABSENT:
				default:
					errs = append(errs, fmt.Errorf("unknown condition operator %q", c.Op))
				}
			}
			for _, sub := range c.All {
				walk(sub)
			}
			for _, sub := range c.Any {
				walk(sub)
			}
			if c.Not != nil {
				walk(*c.Not)
			}
		}
		walk(*c)
	}
	for _, s := range cfg.Sections {
		check(s.VisibilityCondition)
		for _, f := range s.Fields {
			check(f.VisibilityCondition)
			if f.Validation != nil && f.Validation.Pattern != "" {
				if _, err := in.pattern(f.Validation.Pattern); err != nil {
					errs = append(errs, fmt.Errorf("field %s: %w", f.Id, err))
				}
			}
		}
	}
	return errors.Join(errs...)
}

// Render evaluates visibility and prefills values. Hidden sections and fields
// are left out of the descriptor entirely.
func (in *Interpreter) Render(cfg model.ModalConfig, scope Scope) (model.ModalDescriptor, error) {
	desc := model.ModalDescriptor{
		ConfigId:             cfg.Id,
		Version:              cfg.Version,
		ActionId:             cfg.ActionId,
		Title:                util.Interpolate(cfg.Title, scope.Data()),
		Sections:             []model.SectionDescriptor{},
		Buttons:              buttons(cfg),
		ConfirmationRequired: cfg.ConfirmationRequired,
	}
	err := in.visit(cfg, scope, func(s model.Section, fields []model.Field) {
		sd := model.SectionDescriptor{Id: s.Id, Title: s.Title, Collapsible: s.Collapsible, Fields: []model.FieldDescriptor{}}
		for _, f := range fields {
			value, _ := fieldValue(f, scope)
			sd.Fields = append(sd.Fields, model.FieldDescriptor{
				Id:          f.Id,
				Label:       f.Label,
				Type:        f.Type,
				Required:    f.Required,
				Value:       value,
				Options:     f.Options,
				Placeholder: f.Placeholder,
			})
		}
		desc.Sections = append(desc.Sections, sd)
	})
	if err != nil {
		return model.ModalDescriptor{}, err
	}
	return desc, nil
}

// Validate checks visible fields in declaration order, reporting at most one
// failure per section. The result maps field id to message.
func (in *Interpreter) Validate(cfg model.ModalConfig, scope Scope) (map[string]string, error) {
	errs := make(map[string]string)
	err := in.visit(cfg, scope, func(s model.Section, fields []model.Field) {
		for _, f := range fields {
			if msg := in.validateField(f, scope); msg != "" {
				errs[f.Id] = msg
				return
			}
		}
	})
	return errs, err
}

// Submit renders cfg with inline errors. It returns a ValidationFailed error
// while any visible field is invalid.
func (in *Interpreter) Submit(cfg model.ModalConfig, scope Scope) (model.ModalDescriptor, error) {
	desc, err := in.Render(cfg, scope)
	if err != nil {
		return desc, err
	}
	errs, err := in.Validate(cfg, scope)
	if err != nil {
		return desc, err
	}
	if len(errs) == 0 {
		return desc, nil
	}
	desc.Errors = errs
	for i := range desc.Sections {
		for j := range desc.Sections[i].Fields {
			desc.Sections[i].Fields[j].Error = errs[desc.Sections[i].Fields[j].Id]
		}
	}
	ids := make([]string, 0, len(errs))
	for _, s := range desc.Sections {
		for _, f := range s.Fields {
			if _, ok := errs[f.Id]; ok {
				ids = append(ids, f.Id)
			}
		}
	}
	return desc, model.NewActionError(model.VALIDATION_FAILED, cfg.ActionId, "invalid fields: "+strings.Join(ids, ", "))
}

// ResolveButton interpolates the button's params and url against scope.
func (in *Interpreter) ResolveButton(b model.Button, scope Scope) model.ButtonAction {
	out := b.Action
	if out.Type == "" {
		out.Type = model.BUTTON_DISMISS
	}
	data := scope.Data()
	if len(out.Params) > 0 {
		out.Params = util.ResolveParams(out.Params, data)
	}
	if out.Url != "" {
		out.Url = util.Interpolate(out.Url, data)
	}
	return out
}

func (in *Interpreter) visit(cfg model.ModalConfig, scope Scope, fn func(model.Section, []model.Field)) error {
	for _, s := range cfg.Sections {
		ok, err := in.Visible(s.VisibilityCondition, scope)
		if err != nil {
			return fmt.Errorf("section %s: %w", s.Id, err)
		}
		if !ok {
			continue
		}
		fields := make([]model.Field, 0, len(s.Fields))
		for _, f := range s.Fields {
			ok, err := in.Visible(f.VisibilityCondition, scope)
			if err != nil {
				return fmt.Errorf("field %s: %w", f.Id, err)
			}
			if ok {
				fields = append(fields, f)
			}
		}
		fn(s, fields)
	}
	return nil
}

// fieldValue prefers live form state and falls back to the bound context key.
func fieldValue(f model.Field, scope Scope) (any, bool) {
	if v, ok := scope.Form[f.Id]; ok {
		return v, true
	}
	if f.ContextKey != "" {
		if v, ok := scope.Context[f.ContextKey]; ok {
			return v, true
		}
	}
	return nil, false
}

func buttons(cfg model.ModalConfig) []model.ButtonDescriptor {
	out := make([]model.ButtonDescriptor, 0, 3)
	for _, role := range []model.ButtonRole{model.BUTTON_PRIMARY, model.BUTTON_SECONDARY, model.BUTTON_TERTIARY} {
		b, ok := cfg.Button(role)
		if !ok || b.Label == "" {
			continue
		}
		t := b.Action.Type
		if t == "" {
			t = model.BUTTON_DISMISS
		}
		out = append(out, model.ButtonDescriptor{Role: role, Label: b.Label, ActionType: t})
	}
	return out
}

func (in *Interpreter) pattern(expr string) (*regexp.Regexp, error) {
	if re, ok := in.patterns.Get(expr); ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", expr, err)
	}
	in.patterns.Add(expr, re)
	return re, nil
}

func label(f model.Field) string {
	if f.Label != "" {
		return f.Label
	}
	return f.Id
}

func (in *Interpreter) validateField(f model.Field, scope Scope) string {
	if f.Type == model.FIELD_READONLY {
		return ""
	}
	value, _ := fieldValue(f, scope)
	rule := f.Validation
	fail := func(msg string) string {
		if rule != nil && rule.Message != "" {
			return rule.Message
		}
		return msg
	}
	if f.Type == model.FIELD_CHECKBOX {
		b, _ := toBool(value)
		if f.Required && !b {
			return fail(label(f) + " must be checked")
		}
		return ""
	}
	if !present(value) {
		if f.Required {
			return fail(label(f) + " is required")
		}
		return ""
	}

	switch f.Type {
	case model.FIELD_NUMBER:
		if !model.Typed(model.TYPE_NUMBER, value).Compatible(model.TYPE_NUMBER) {
			return fail(label(f) + " must be a number")
		}
	case model.FIELD_DATE:
		if !model.Typed(model.TYPE_DATE, value).Compatible(model.TYPE_DATE) {
			return fail(label(f) + " must be a date")
		}
	case model.FIELD_EMAIL:
		if !model.Typed(model.TYPE_EMAIL, value).Compatible(model.TYPE_EMAIL) {
			return fail(label(f) + " must be an email address")
		}
	case model.FIELD_URL:
		if !model.Typed(model.TYPE_URL, value).Compatible(model.TYPE_URL) {
			return fail(label(f) + " must be a url")
		}
	case model.FIELD_SELECT:
		if len(f.Options) > 0 && !contains(f.Options, fmt.Sprint(value)) {
			return fail(label(f) + " must be one of " + strings.Join(f.Options, ", "))
		}
	}
	if rule == nil {
		return ""
	}

	s := fmt.Sprint(value)
	n := utf8.RuneCountInString(s)
	if rule.MinLength != nil && n < *rule.MinLength {
		return fail(fmt.Sprintf("%s must be at least %d characters", label(f), *rule.MinLength))
	}
	if rule.MaxLength != nil && n > *rule.MaxLength {
		return fail(fmt.Sprintf("%s must be at most %d characters", label(f), *rule.MaxLength))
	}
	if rule.Pattern != "" {
		re, err := in.pattern(rule.Pattern)
		if err != nil || !re.MatchString(s) {
			return fail(label(f) + " has an invalid format")
		}
	}
	if rule.Min != nil || rule.Max != nil {
		num, ok := model.Typed(model.TYPE_NUMBER, value).Float()
		if !ok {
			return fail(label(f) + " must be a number")
		}
		if rule.Min != nil && num < *rule.Min {
			return fail(fmt.Sprintf("%s must be at least %v", label(f), *rule.Min))
		}
		if rule.Max != nil && num > *rule.Max {
			return fail(fmt.Sprintf("%s must be at most %v", label(f), *rule.Max))
		}
	}
	return ""
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
