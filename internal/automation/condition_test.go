package automation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClauseEvaluate(t *testing.T) {
	t.Parallel()
	ctx := Context{
		"status":     "pending",
		"progress":   75,
		"amount":     json.Number("1200.50"),
		"due_date":   "2024-03-01",
		"signature":  "jdoe",
		"monthly":    50.0,
		"nil_field":  nil,
		"title_text": "Kickoff meeting",
	}
	tests := []struct {
		name    string
		clause  Clause
		want    bool
		wantErr bool
	}{
		{name: "eq string", clause: Clause{Field: "status", Op: OpEq, Value: "pending"}, want: true},
		{name: "eq alias", clause: Clause{Field: "status", Op: "==", Value: "pending"}, want: true},
		{name: "ne", clause: Clause{Field: "status", Op: OpNe, Value: "done"}, want: true},
		{name: "ne missing", clause: Clause{Field: "absent", Op: OpNe, Value: "done"}, want: true},
		{name: "eq numeric across types", clause: Clause{Field: "progress", Op: OpEq, Value: 75.0}, want: true},
		{name: "gte", clause: Clause{Field: "monthly", Op: OpGte, Value: 50}, want: true},
		{name: "gt json number", clause: Clause{Field: "amount", Op: OpGt, Value: 1000}, want: true},
		{name: "lt date", clause: Clause{Field: "due_date", Op: OpLt, Value: "2024-03-02"}, want: true},
		{name: "ordering on missing is false", clause: Clause{Field: "absent", Op: OpGt, Value: 1}, want: false},
		{name: "ordering type mismatch errors", clause: Clause{Field: "status", Op: OpGt, Value: 3}, wantErr: true},
		{name: "in", clause: Clause{Field: "progress", Op: OpIn, Value: []any{25, 50, 75, 100}}, want: true},
		{name: "in typed slice", clause: Clause{Field: "status", Op: OpIn, Value: []string{"new", "pending"}}, want: true},
		{name: "not in", clause: Clause{Field: "status", Op: OpNotIn, Value: []any{"done", "completed"}}, want: true},
		{name: "in without list errors", clause: Clause{Field: "status", Op: OpIn, Value: "x"}, wantErr: true},
		{name: "exists", clause: Clause{Field: "signature", Op: OpExists}, want: true},
		{name: "nil is missing", clause: Clause{Field: "nil_field", Op: OpMissing}, want: true},
		{name: "contains", clause: Clause{Field: "title_text", Op: OpContains, Value: "Kick"}, want: true},
		{name: "unknown op", clause: Clause{Field: "status", Op: "like"}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.clause.Evaluate(ctx)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExprAllAny(t *testing.T) {
	t.Parallel()
	e := Expr{
		All: []Clause{{Field: "status", Op: OpEq, Value: "active"}},
		Any: []Clause{
			{Field: "progress", Op: OpGte, Value: 100},
			{Field: "force", Op: OpEq, Value: true},
		},
	}
	ok, err := e.Evaluate(Context{"status": "active", "progress": 100})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Evaluate(Context{"status": "active", "progress": 10, "force": true})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Evaluate(Context{"status": "active", "progress": 10})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Expr{}.Evaluate(Context{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExprValidate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Where("progress", OpIn, []int{25, 50}).Validate())
	assert.Error(t, Where("", OpEq, 1).Validate())
	assert.Error(t, Where("progress", "between", 1).Validate())
	assert.Error(t, Where("progress", OpNotIn, 5).Validate())
}

func TestExprDecodesFromJSON(t *testing.T) {
	t.Parallel()
	var e Expr
	require.NoError(t, json.Unmarshal([]byte(`{"all":[{"field":"progress","op":">=","value":100}]}`), &e))
	ok, err := e.Evaluate(Context{"progress": 100})
	require.NoError(t, err)
	assert.True(t, ok)
}
