package config

import (
	"context"
	"strings"

	"github.com/alphaitsolutions/storefront_backend/appctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CustomerScopePlugin scopes reads of customer-owned tables (any model with a
// customer_id column) to the authenticated customer. Staff, admin and system
// contexts are not scoped.
//
// NOTE:
// - Writes are not scoped; write paths authorize explicitly.
// - Raw SQL is not scoped.
type CustomerScopePlugin struct{}

func NewCustomerScopePlugin() *CustomerScopePlugin { return &CustomerScopePlugin{} }

func (p *CustomerScopePlugin) Name() string { return "customer_scope" }

func (p *CustomerScopePlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Query().Before("gorm:query").Register("customer_scope:query", customerScopeCallback); err != nil {
		return err
	}
	if err := db.Callback().Row().Before("gorm:row").Register("customer_scope:row", customerScopeCallback); err != nil {
		return err
	}
	return nil
}

func customerScopeCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil {
		return
	}
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	customerId, ok := scopedCustomer(ctx)
	if !ok {
		return
	}

	if db.Statement.Schema == nil {
		return
	}
	hasCustomerId := false
	for _, f := range db.Statement.Schema.Fields {
		if strings.EqualFold(f.DBName, "customer_id") {
			hasCustomerId = true
			break
		}
	}
	if !hasCustomerId {
		return
	}

	// Don't duplicate an explicit owner filter.
	if whereHasCustomerId(db.Statement.Clauses["WHERE"]) {
		return
	}

	db.Statement.AddClause(clause.Where{
		Exprs: []clause.Expression{
			clause.Eq{
				Column: clause.Column{Table: db.Statement.Table, Name: "customer_id"},
				Value:  customerId,
			},
		},
	})
}

func scopedCustomer(ctx context.Context) (int, bool) {
	role, _ := appctx.GetString(ctx, appctx.ContextKeyRole)
	if role != appctx.RoleCustomer {
		return 0, false
	}
	id, ok := appctx.GetInt(ctx, appctx.ContextKeyCustomerId)
	if !ok || id <= 0 {
		return 0, false
	}
	return id, true
}

func whereHasCustomerId(c clause.Clause) bool {
	if c.Expression == nil {
		return false
	}
	w, ok := c.Expression.(clause.Where)
	if !ok {
		return false
	}
	for _, e := range w.Exprs {
		if exprHasCustomerId(e) {
			return true
		}
	}
	return false
}

func exprHasCustomerId(e clause.Expression) bool {
	switch v := e.(type) {
	case clause.Eq:
		return colIsCustomerId(v.Column)
	case clause.IN:
		return colIsCustomerId(v.Column)
	case clause.AndConditions:
		for _, x := range v.Exprs {
			if exprHasCustomerId(x) {
				return true
			}
		}
		return false
	case clause.Expr:
		// Best-effort for raw expressions.
		return strings.Contains(strings.ToLower(v.SQL), "customer_id")
	default:
		return false
	}
}

func colIsCustomerId(col any) bool {
	switch c := col.(type) {
	case string:
		return strings.EqualFold(c, "customer_id")
	case clause.Column:
		return strings.EqualFold(c.Name, "customer_id")
	default:
		return false
	}
}
