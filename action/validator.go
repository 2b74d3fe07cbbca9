package action

import (
	"fmt"
	"strings"

	"github.com/mohitkumar/actionrouter/logger"
	"github.com/mohitkumar/actionrouter/model"
	"go.uber.org/zap"
)

// Applicable is one catalog entry that survived validation for an item.
// Disabled entries come from the showError fallback and carry the reason.
type Applicable struct {
	Action      model.ActionDefinition
	Disabled    bool
	Reason      string
	Missing     []string
	Substituted map[string]string
}

// Apply returns a copy of item whose context carries substituted values under
// the required key names. The original item is left untouched.
func (a Applicable) Apply(item model.ContentItem) model.ContentItem {
	if len(a.Substituted) == 0 {
		return item
	}
	ctx := make(map[string]model.ContextValue, len(item.Context)+len(a.Substituted))
	for k, v := range item.Context {
		ctx[k] = v
	}
	for required, alt := range a.Substituted {
		ctx[required] = item.Context[alt]
	}
	return model.ContentItem{Id: item.Id, Mode: item.Mode, Context: ctx}
}

type Validator struct {
	catalog *Catalog
	flags   FeatureFlags
}

func NewValidator(catalog *Catalog, flags FeatureFlags) *Validator {
	if flags == nil {
		flags = NewStaticFlags()
	}
	return &Validator{
		catalog: catalog,
		flags:   flags,
	}
}

// ResolveApplicable returns the definitions usable for item by a user holding tier,
// in static priority order.
func (v *Validator) ResolveApplicable(item model.ContentItem, tier model.PermissionTier) []Applicable {
	snap := v.catalog.Snapshot()
	out := make([]Applicable, 0)
	for _, def := range snap.ForMode(item.Mode) {
		app, err := v.evaluate(def, item, tier)
		if err != nil {
			logger.Debug("action not applicable", zap.String("action", def.Id), zap.String("item", item.Id), zap.Error(err))
			continue
		}
		out = append(out, app)
	}
	return out
}

// Check validates a single action for item. Unlike ResolveApplicable it reports
// why an action is unusable, and treats a showError entry as MissingContext.
func (v *Validator) Check(actionId string, item model.ContentItem, tier model.PermissionTier) (Applicable, error) {
	def, ok := v.catalog.Get(actionId)
	if !ok {
		return Applicable{}, model.NewActionError(model.NOT_FOUND, actionId, "unknown action")
	}
	if !def.AppliesTo(item.Mode) {
		return Applicable{}, model.NewActionError(model.MISSING_CONTEXT, actionId, fmt.Sprintf("action does not apply to mode %s", item.Mode))
	}
	app, err := v.evaluate(def, item, tier)
	if err != nil {
		return Applicable{}, err
	}
	if app.Disabled {
		return app, model.NewActionError(model.MISSING_CONTEXT, actionId, app.Reason)
	}
	return app, nil
}

func (v *Validator) evaluate(def model.ActionDefinition, item model.ContentItem, tier model.PermissionTier) (Applicable, error) {
	if !tier.Satisfies(def.PermissionTier) {
		return Applicable{}, model.NewActionError(model.PERMISSION_DENIED, def.Id, fmt.Sprintf("requires tier %s", def.PermissionTier))
	}
	if def.FeatureFlag != "" && !v.flags.Enabled(def.FeatureFlag) {
		return Applicable{}, model.NewActionError(model.FEATURE_DISABLED, def.Id, fmt.Sprintf("feature %s disabled", def.FeatureFlag))
	}
	app := Applicable{Action: def}
	for _, key := range def.RequiredContextKeys {
		expected := def.ExpectedType(key)
		if val, ok := item.Lookup(key); ok && val.Compatible(expected) {
			continue
		}
		if def.Fallback.Type == model.FALLBACK_SUBSTITUTE {
			alt := def.Fallback.AlternateFor(key)
			if val, ok := item.Lookup(alt); alt != "" && ok && val.Compatible(expected) {
				if app.Substituted == nil {
					app.Substituted = make(map[string]string)
				}
				app.Substituted[key] = alt
				continue
			}
		}
		app.Missing = append(app.Missing, key)
	}
	if len(app.Missing) == 0 {
		return app, nil
	}
	reason := fmt.Sprintf("missing or invalid context: %s", strings.Join(app.Missing, ", "))
	if def.Fallback.Type == model.FALLBACK_SHOW_ERROR {
		app.Disabled = true
		app.Reason = reason
		app.Substituted = nil
		return app, nil
	}
	return Applicable{}, model.NewActionError(model.MISSING_CONTEXT, def.Id, reason)
}
