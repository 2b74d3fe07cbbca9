package schema

import (
	"testing"

	"github.com/mohitkumar/actionrouter/action"
	"github.com/mohitkumar/actionrouter/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int           { return &n }
func floatPtr(f float64) *float64 { return &f }

func newInterpreter(t *testing.T) *Interpreter {
	t.Helper()
	in, err := NewInterpreter(16)
	require.NoError(t, err)
	return in
}

func shareConfig() model.ModalConfig {
	return model.ModalConfig{
		Id:       "share_v1",
		Version:  1,
		ActionId: "share",
		Title:    "Share {$.context.subject}",
		Sections: []model.Section{
			{
				Id: "recipient",
				Fields: []model.Field{
					{Id: "email", Label: "Email", Type: model.FIELD_EMAIL, Required: true},
					{Id: "note", Label: "Note", Type: model.FIELD_TEXTAREA, Validation: &model.ValidationRule{MaxLength: intPtr(10)}},
				},
			},
			{
				Id: "schedule",
				Fields: []model.Field{
					{Id: "sendLater", Type: model.FIELD_CHECKBOX},
					{Id: "sendAt", Label: "Send at", Type: model.FIELD_DATE, Required: true,
						VisibilityCondition: &model.Condition{Key: "sendLater", Op: model.OP_EQ, Value: true}},
				},
			},
			{
				Id:                  "billing",
				VisibilityCondition: &model.Condition{Key: "context.premium", Op: model.OP_PRESENT},
				Fields: []model.Field{
					{Id: "amount", Label: "Amount", Type: model.FIELD_NUMBER, Required: true,
						Validation: &model.ValidationRule{Min: floatPtr(1), Max: floatPtr(100)}},
				},
			},
		},
		PrimaryButton:   model.Button{Label: "Send", Action: model.ButtonAction{Type: model.BUTTON_SERVICE, Service: "mail", Method: "share", Params: map[string]any{"to": "{$.form.email}"}}},
		SecondaryButton: model.Button{Label: "Cancel"},
	}
}

func scope(ctx map[string]any, form map[string]any) Scope {
	if ctx == nil {
		ctx = map[string]any{}
	}
	if form == nil {
		form = map[string]any{}
	}
	return Scope{Context: ctx, Form: form}
}

func TestRenderExcludesHiddenParts(t *testing.T) {
	in := newInterpreter(t)
	desc, err := in.Render(shareConfig(), scope(map[string]any{"subject": "Invoice"}, nil))
	require.NoError(t, err)

	assert.Equal(t, "Share Invoice", desc.Title)
	assert.True(t, desc.HasSection("recipient"))
	assert.False(t, desc.HasSection("billing"))
	assert.True(t, desc.HasField("sendLater"))
	assert.False(t, desc.HasField("sendAt"))
	require.Len(t, desc.Buttons, 2)
	assert.Equal(t, model.BUTTON_DISMISS, desc.Buttons[1].ActionType)

	desc, err = in.Render(shareConfig(), scope(map[string]any{"premium": "yes"}, map[string]any{"sendLater": "true"}))
	require.NoError(t, err)
	assert.True(t, desc.HasField("sendAt"))
	assert.True(t, desc.HasSection("billing"))
}

func TestHiddenFieldNeverBlocksSubmit(t *testing.T) {
	in := newInterpreter(t)
	// sendAt and amount are required but hidden.
	desc, err := in.Submit(shareConfig(), scope(nil, map[string]any{"email": "bob@example.com", "sendLater": false}))
	require.NoError(t, err)
	assert.Empty(t, desc.Errors)
}

func TestSubmitReportsFirstFailurePerSection(t *testing.T) {
	in := newInterpreter(t)
	form := map[string]any{"email": "", "note": "far too long a note", "sendLater": true, "amount": 500}
	desc, err := in.Submit(shareConfig(), scope(map[string]any{"premium": true}, form))
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.VALIDATION_FAILED))

	assert.Equal(t, "Email is required", desc.Errors["email"])
	_, noteReported := desc.Errors["note"]
	assert.False(t, noteReported, "only the first failure in a section is reported")
	assert.Equal(t, "Send at is required", desc.Errors["sendAt"])
	assert.Equal(t, "Amount must be at most 100", desc.Errors["amount"])
	assert.Equal(t, "Email is required", desc.Sections[0].Fields[0].Error)
}

func TestFieldRules(t *testing.T) {
	in := newInterpreter(t)
	for scenario, tc := range map[string]struct {
		field model.Field
		value any
		want  string
	}{
		"valid email":        {model.Field{Id: "e", Type: model.FIELD_EMAIL}, "a@b.co", ""},
		"bad email":          {model.Field{Id: "e", Type: model.FIELD_EMAIL}, "nope", "e must be an email address"},
		"bad url":            {model.Field{Id: "u", Type: model.FIELD_URL}, "example", "u must be a url"},
		"number from string": {model.Field{Id: "n", Type: model.FIELD_NUMBER}, "12.5", ""},
		"not a number":       {model.Field{Id: "n", Type: model.FIELD_NUMBER}, "twelve", "n must be a number"},
		"bad date":           {model.Field{Id: "d", Type: model.FIELD_DATE}, "tomorrow", "d must be a date"},
		"select option":      {model.Field{Id: "s", Type: model.FIELD_SELECT, Options: []string{"a", "b"}}, "c", "s must be one of a, b"},
		"min length":         {model.Field{Id: "t", Type: model.FIELD_TEXT, Validation: &model.ValidationRule{MinLength: intPtr(3)}}, "ab", "t must be at least 3 characters"},
		"pattern":            {model.Field{Id: "t", Type: model.FIELD_TEXT, Validation: &model.ValidationRule{Pattern: `^\d{5}$`}}, "1234", "t has an invalid format"},
		"pattern message":    {model.Field{Id: "t", Type: model.FIELD_TEXT, Validation: &model.ValidationRule{Pattern: `^\d{5}$`, Message: "zip code"}}, "x", "zip code"},
		"range min":          {model.Field{Id: "n", Type: model.FIELD_NUMBER, Validation: &model.ValidationRule{Min: floatPtr(10)}}, 3, "n must be at least 10"},
		"optional empty":     {model.Field{Id: "t", Type: model.FIELD_TEXT, Validation: &model.ValidationRule{MinLength: intPtr(3)}}, "", ""},
		"required checkbox":  {model.Field{Id: "c", Type: model.FIELD_CHECKBOX, Required: true}, false, "c must be checked"},
		"readonly skipped":   {model.Field{Id: "r", Type: model.FIELD_READONLY, Required: true}, nil, ""},
		"required default":   {model.Field{Id: "t", Type: model.FIELD_TEXT, Required: true}, "", "t is required"},
		"required message":   {model.Field{Id: "t", Type: model.FIELD_TEXT, Required: true, Validation: &model.ValidationRule{Message: "enter a title"}}, "", "enter a title"},
	} {
		t.Run(scenario, func(t *testing.T) {
			got := in.validateField(tc.field, scope(nil, map[string]any{tc.field.Id: tc.value}))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestConditions(t *testing.T) {
	in := newInterpreter(t)
	s := scope(map[string]any{"amount": 250.0, "carrier": "ups"}, map[string]any{"priority": "3", "empty": " "})
	for scenario, tc := range map[string]struct {
		cond model.Condition
		want bool
	}{
		"empty is true":         {model.Condition{}, true},
		"eq string":             {model.Condition{Key: "carrier", Op: model.OP_EQ, Value: "ups"}, true},
		"eq number normalizes":  {model.Condition{Key: "priority", Op: model.OP_EQ, Value: 3}, true},
		"neq":                   {model.Condition{Key: "carrier", Op: model.OP_NEQ, Value: "fedex"}, true},
		"neq on missing key":    {model.Condition{Key: "missing", Op: model.OP_NEQ, Value: "x"}, true},
		"present":               {model.Condition{Key: "amount", Op: model.OP_PRESENT}, true},
		"blank is absent":       {model.Condition{Key: "empty", Op: model.OP_ABSENT}, true},
		"implicit eq":           {model.Condition{Key: "carrier", Value: "dhl"}, false},
		"all":                   {model.Condition{All: []model.Condition{{Key: "amount"}, {Key: "carrier", Value: "ups"}}}, true},
		"any":                   {model.Condition{Any: []model.Condition{{Key: "missing"}, {Key: "carrier"}}}, true},
		"not":                   {model.Condition{Not: &model.Condition{Key: "carrier"}}, false},
		"qualified form key":    {model.Condition{Key: "form.carrier", Op: model.OP_PRESENT}, false},
		"expression":            {model.Condition{Expr: "$.amount > 100 && $.form.priority == '3'"}, true},
		"expression on context": {model.Condition{Expr: "$.context.carrier === 'fedex'"}, false},
	} {
		t.Run(scenario, func(t *testing.T) {
			got, err := in.Visible(&tc.cond, s)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBrokenExpressionSurfaces(t *testing.T) {
	in := newInterpreter(t)
	_, err := in.Visible(&model.Condition{Expr: "$.amount >"}, scope(nil, nil))
	assert.Error(t, err)

	_, err = in.Visible(&model.Condition{Expr: "(function(){ while(true) {} })()"}, scope(nil, nil))
	assert.Error(t, err)

	cfg := shareConfig()
	cfg.Sections[0].Fields[0].VisibilityCondition = &model.Condition{Expr: "$.x ==="}
	cfg.Sections[0].Fields[1].Validation = &model.ValidationRule{Pattern: "("}
	assert.Error(t, in.Lint(cfg))
	assert.NoError(t, in.Lint(shareConfig()))
}

func TestResolveButton(t *testing.T) {
	in := newInterpreter(t)
	s := scope(map[string]any{"id": "m1"}, map[string]any{"email": "bob@example.com"})
	action := in.ResolveButton(shareConfig().PrimaryButton, s)
	assert.Equal(t, "bob@example.com", action.Params["to"])

	url := in.ResolveButton(model.Button{Action: model.ButtonAction{Type: model.BUTTON_URL, Url: "https://mail.example.com/m/{$.context.id}"}}, s)
	assert.Equal(t, "https://mail.example.com/m/m1", url.Url)

	assert.Equal(t, model.BUTTON_DISMISS, in.ResolveButton(model.Button{}, s).Type)
}

func TestBundledModalConfigs(t *testing.T) {
	in := newInterpreter(t)
	snap, err := action.LoadFile("../catalog.yaml")
	require.NoError(t, err)
	for _, cfg := range snap.Modals() {
		require.NoError(t, in.Lint(cfg), cfg.Id)
	}

	rsvp, ok := snap.Modal("rsvp")
	require.True(t, ok)
	item := model.ContentItem{Id: "m1", Mode: model.MODE_MAIL, Context: map[string]model.ContextValue{"eventDate": model.Str("2026-11-02")}}
	desc, err := in.Render(rsvp, NewScope(item, map[string]any{}))
	require.NoError(t, err)
	assert.True(t, desc.HasField("note"))
	desc, err = in.Render(rsvp, NewScope(item, map[string]any{"response": "yes"}))
	require.NoError(t, err)
	assert.False(t, desc.HasField("note"))

	pay, ok := snap.Modal("pay_invoice")
	require.True(t, ok)
	payItem := model.ContentItem{Id: "m2", Mode: model.MODE_MAIL, Context: map[string]model.ContextValue{"payee": model.Str("ACME"), "amount": model.Num(12.5)}}
	desc, err = in.Render(pay, NewScope(payItem, map[string]any{"method": "card"}))
	require.NoError(t, err)
	assert.Equal(t, "Pay ACME", desc.Title)
	assert.False(t, desc.HasField("iban"))
	desc, err = in.Render(pay, NewScope(payItem, map[string]any{"method": "bank"}))
	require.NoError(t, err)
	assert.True(t, desc.HasField("iban"))
}
