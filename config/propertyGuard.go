package config

import (
	"context"
	"strings"

	"bitbucket.org/stayshield/disputes_backend/appctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PropertyGuardPlugin enforces per-property isolation by automatically scoping
// queries/updates/deletes to the request's property_id when the model has a property_id column.
//
// NOTE:
// - This does NOT apply to Raw SQL queries. Those must include property_id manually.
// - Admin/internal bypass is explicit via context flags.
type PropertyGuardPlugin struct{}

func NewPropertyGuardPlugin() *PropertyGuardPlugin { return &PropertyGuardPlugin{} }

func (p *PropertyGuardPlugin) Name() string { return "property_guard" }

func (p *PropertyGuardPlugin) Initialize(db *gorm.DB) error {
	// Query
	if err := db.Callback().Query().Before("gorm:query").Register("property_guard:query", propertyGuardCallback); err != nil {
		return err
	}
	// Row (First/Take)
	if err := db.Callback().Row().Before("gorm:row").Register("property_guard:row", propertyGuardCallback); err != nil {
		return err
	}
	// Update
	if err := db.Callback().Update().Before("gorm:update").Register("property_guard:update", propertyGuardCallback); err != nil {
		return err
	}
	// Delete
	if err := db.Callback().Delete().Before("gorm:delete").Register("property_guard:delete", propertyGuardCallback); err != nil {
		return err
	}
	return nil
}

func propertyGuardCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil {
		return
	}
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	if shouldBypassPropertyScope(ctx) {
		return
	}
	propertyID := propertyIdFromContext(ctx)
	if propertyID == "" {
		return
	}

	// Only apply if the current model/table includes a property_id column.
	if db.Statement.Schema == nil {
		return
	}
	hasPropertyID := false
	for _, f := range db.Statement.Schema.Fields {
		if strings.EqualFold(f.DBName, "property_id") {
			hasPropertyID = true
			break
		}
	}
	if !hasPropertyID {
		return
	}

	// Don't duplicate an explicit property filter.
	if whereHasPropertyID(db.Statement.Clauses["WHERE"]) {
		return
	}

	db.Statement.AddClause(clause.Where{
		Exprs: []clause.Expression{
			clause.Eq{
				Column: clause.Column{Table: db.Statement.Table, Name: "property_id"},
				Value:  propertyID,
			},
		},
	})
}

func propertyIdFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(appctx.ContextKeyPropertyId).(string); ok && v != "" {
		return v
	}
	return ""
}

func shouldBypassPropertyScope(ctx context.Context) bool {
	if v, ok := ctx.Value(appctx.ContextKeySkipPropertyScope).(bool); ok && v {
		return true
	}
	if v, ok := ctx.Value(appctx.ContextKeyIsAdmin).(bool); ok && v {
		return true
	}
	return false
}

func whereHasPropertyID(c clause.Clause) bool {
	if c.Expression == nil {
		return false
	}
	w, ok := c.Expression.(clause.Where)
	if !ok {
		return false
	}
	for _, e := range w.Exprs {
		if exprHasPropertyID(e) {
			return true
		}
	}
	return false
}

func exprHasPropertyID(e clause.Expression) bool {
	switch v := e.(type) {
	case clause.Eq:
		return colIsPropertyID(v.Column)
	case clause.Neq:
		return colIsPropertyID(v.Column)
	case clause.IN:
		return colIsPropertyID(v.Column)
	case clause.AndConditions:
		for _, x := range v.Exprs {
			if exprHasPropertyID(x) {
				return true
			}
		}
		return false
	case clause.OrConditions:
		for _, x := range v.Exprs {
			if exprHasPropertyID(x) {
				return true
			}
		}
		return false
	case clause.Expr:
		// Best-effort for raw expressions.
		return strings.Contains(strings.ToLower(v.SQL), "property_id")
	default:
		return false
	}
}

func colIsPropertyID(col any) bool {
	switch c := col.(type) {
	case string:
		return strings.EqualFold(c, "property_id")
	case clause.Column:
		return strings.EqualFold(c.Name, "property_id")
	default:
		return false
	}
}
