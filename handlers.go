package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alphaitsolutions/storefront_backend/config"
	"github.com/alphaitsolutions/storefront_backend/models"
	"github.com/alphaitsolutions/storefront_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func registerRoutes(r gin.IRouter, a *app) {
	r.POST("/orders", a.createOrder)
	r.PUT("/orders/:id/contact", a.updateOrderContact)
	r.POST("/orders/:id/reevaluate", requireAdmin, a.reevaluateOrder)

	r.POST("/success-orders", a.createSuccessOrder)
	r.GET("/success-orders/:id", a.getSuccessOrder)
	r.PATCH("/success-orders/:id/status", requireAdmin, a.transitionStatus)

	ledger := r.Group("/", requireAdmin)
	ledger.POST("/transactions", a.postTransaction)
	ledger.GET("/transactions", a.listTransactions)
	ledger.POST("/petty-cash", a.addPettyCash)
	ledger.GET("/petty-cash", a.listPettyCash)

	ops := r.Group("/internal/ops", requireAdmin)
	ops.POST("/outbox/replay", a.replayOutboxJob)
	ops.POST("/reconciliation/rollup", a.rollupMonth)
	ops.POST("/inquiries/:id/resolve", a.resolveInquiry)
	ops.POST("/inquiries/purge", a.purgeInquiries)
}

func requireAdmin(c *gin.Context) {
	if !utils.IsAdmin(c.Request.Context()) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
		return
	}
	c.Next()
}

// writeError maps workflow errors onto HTTP statuses. Anything unrecognised
// is logged and reported as 500 without detail.
func (a *app) writeError(c *gin.Context, funcName string, err error) {
	var validation *models.ValidationError
	switch {
	case errors.As(err, &validation):
		body := gin.H{"error": validation.Error(), "field": validation.Field}
		if len(validation.Missing) > 0 {
			body["missing"] = validation.Missing
		}
		c.JSON(http.StatusBadRequest, body)
	case models.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case models.IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request cancelled"})
	default:
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		config.LogError(a.logger, "handlers.go", funcName, c.FullPath(), cid, err)
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (a *app) bind(c *gin.Context, dest any, name string) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		a.writeError(c, "bind", models.NewValidationError(name, "malformed body: %s", err.Error()))
		return false
	}
	return true
}

func (a *app) pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		a.writeError(c, "pathId", models.NewValidationError("id", "must be a positive integer"))
		return 0, false
	}
	return id, true
}

// ownCustomer forces a non-admin caller's customer id onto the input.
func ownCustomer(ctx context.Context, customerId *int) {
	if utils.IsAdmin(ctx) {
		return
	}
	if id, ok := utils.GetCustomerIdFromContext(ctx); ok {
		*customerId = id
	}
}

func (a *app) createOrder(c *gin.Context) {
	var input models.NewOrder
	if !a.bind(c, &input, "order") {
		return
	}
	ownCustomer(c.Request.Context(), &input.CustomerId)
	order, err := a.orders.CreateOrder(c.Request.Context(), &input)
	if err != nil {
		a.writeError(c, "createOrder", err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (a *app) updateOrderContact(c *gin.Context) {
	id, ok := a.pathId(c)
	if !ok {
		return
	}
	var input models.OrderContactUpdate
	if !a.bind(c, &input, "contact") {
		return
	}
	order, err := a.orders.UpdateOrderContact(c.Request.Context(), id, &input)
	if err != nil {
		a.writeError(c, "updateOrderContact", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (a *app) reevaluateOrder(c *gin.Context) {
	id, ok := a.pathId(c)
	if !ok {
		return
	}
	order, err := a.orders.ReevaluateOrderFraud(c.Request.Context(), id)
	if err != nil {
		a.writeError(c, "reevaluateOrder", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (a *app) createSuccessOrder(c *gin.Context) {
	var input models.NewSuccessOrder
	if !a.bind(c, &input, "success_order") {
		return
	}
	ownCustomer(c.Request.Context(), &input.CustomerId)
	order, err := a.orders.CreateSuccessOrder(c.Request.Context(), &input)
	if err != nil {
		a.writeError(c, "createSuccessOrder", err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (a *app) getSuccessOrder(c *gin.Context) {
	id, ok := a.pathId(c)
	if !ok {
		return
	}
	order, err := a.orders.GetSuccessOrder(c.Request.Context(), id)
	if err != nil {
		a.writeError(c, "getSuccessOrder", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type statusRequest struct {
	Status models.SuccessOrderStatus `json:"status"`
}

func (a *app) transitionStatus(c *gin.Context) {
	id, ok := a.pathId(c)
	if !ok {
		return
	}
	var req statusRequest
	if !a.bind(c, &req, "status") {
		return
	}
	order, err := a.orders.TransitionStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		a.writeError(c, "transitionStatus", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (a *app) postTransaction(c *gin.Context) {
	var input models.NewTransaction
	if !a.bind(c, &input, "transaction") {
		return
	}
	txn, err := a.ledger.PostTransaction(c.Request.Context(), &input)
	if err != nil {
		a.writeError(c, "postTransaction", err)
		return
	}
	c.JSON(http.StatusCreated, txn)
}

func (a *app) listTransactions(c *gin.Context) {
	var f models.TransactionFilter
	if raw := strings.TrimSpace(c.Query("type")); raw != "" {
		t := models.TransactionType(raw)
		if !t.IsValid() {
			a.writeError(c, "listTransactions", models.NewValidationError("type", "must be Income or Expense"))
			return
		}
		f.Type = &t
	}
	f.Category = strings.TrimSpace(c.Query("category"))
	var ok bool
	if f.From, ok = a.queryTime(c, "from"); !ok {
		return
	}
	if f.To, ok = a.queryTime(c, "to"); !ok {
		return
	}
	if f.Limit, ok = a.queryLimit(c); !ok {
		return
	}
	rows, err := a.ledger.ListTransactions(c.Request.Context(), f)
	if err != nil {
		a.writeError(c, "listTransactions", err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (a *app) addPettyCash(c *gin.Context) {
	var input models.NewPettyCash
	if !a.bind(c, &input, "petty_cash") {
		return
	}
	entry, err := a.ledger.AddPettyCash(c.Request.Context(), &input)
	if err != nil {
		a.writeError(c, "addPettyCash", err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (a *app) listPettyCash(c *gin.Context) {
	from, ok := a.queryTime(c, "from")
	if !ok {
		return
	}
	to, ok := a.queryTime(c, "to")
	if !ok {
		return
	}
	limit, ok := a.queryLimit(c)
	if !ok {
		return
	}
	rows, err := a.ledger.ListPettyCash(c.Request.Context(), from, to, limit)
	if err != nil {
		a.writeError(c, "listPettyCash", err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// queryTime accepts RFC 3339 or a bare YYYY-MM-DD (UTC midnight).
func (a *app) queryTime(c *gin.Context, name string) (*time.Time, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, true
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, true
		}
	}
	a.writeError(c, "queryTime", models.NewValidationError(name, "must be RFC 3339 or YYYY-MM-DD"))
	return nil, false
}

func (a *app) queryLimit(c *gin.Context) (int, bool) {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return 100, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 1000 {
		a.writeError(c, "queryLimit", models.NewValidationError("limit", "must be between 1 and 1000"))
		return 0, false
	}
	return n, true
}

type replayRequest struct {
	JobId int `json:"job_id"`
}

func (a *app) replayOutboxJob(c *gin.Context) {
	var req replayRequest
	if !a.bind(c, &req, "job_id") {
		return
	}
	if req.JobId <= 0 {
		a.writeError(c, "replayOutboxJob", models.NewValidationError("job_id", "is required"))
		return
	}
	job, err := a.dispatcher.Replay(c.Request.Context(), req.JobId)
	if err != nil {
		a.writeError(c, "replayOutboxJob", err)
		return
	}
	a.logger.WithFields(opsFields(c, logrus.Fields{
		"field":  "outbox",
		"job_id": job.ID,
		"kind":   job.Kind,
	})).Info("outbox job replayed by operator")
	c.JSON(http.StatusOK, job)
}

type rollupRequest struct {
	Period string `json:"period"`
}

func (a *app) rollupMonth(c *gin.Context) {
	var req rollupRequest
	if !a.bind(c, &req, "period") {
		return
	}
	period, err := time.Parse("2006-01", strings.TrimSpace(req.Period))
	if err != nil {
		a.writeError(c, "rollupMonth", models.NewValidationError("period", "must be YYYY-MM"))
		return
	}
	res, err := a.reconciliation.RollupMonth(c.Request.Context(), period.Year(), period.Month())
	if err != nil {
		a.writeError(c, "rollupMonth", err)
		return
	}
	a.logger.WithFields(opsFields(c, logrus.Fields{
		"field":   "Reconciliation",
		"period":  res.Period,
		"skipped": res.Skipped,
	})).Info("petty cash rollup run by operator")
	c.JSON(http.StatusOK, res)
}

func (a *app) resolveInquiry(c *gin.Context) {
	id, ok := a.pathId(c)
	if !ok {
		return
	}
	inq, err := models.ResolveInquiry(c.Request.Context(), a.db, id, a.clock.Now())
	if err != nil {
		a.writeError(c, "resolveInquiry", err)
		return
	}
	a.logger.WithFields(opsFields(c, logrus.Fields{
		"field":      "Inquiry",
		"inquiry_id": inq.ID,
	})).Info("inquiry resolved by operator")
	c.JSON(http.StatusOK, inq)
}

func (a *app) purgeInquiries(c *gin.Context) {
	deleted, err := a.reconciliation.RunResolvedPurge(c.Request.Context())
	if err != nil {
		a.writeError(c, "purgeInquiries", err)
		return
	}
	a.logger.WithFields(opsFields(c, logrus.Fields{
		"field":   "Inquiry",
		"deleted": deleted,
	})).Info("resolved inquiries purged by operator")
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// opsFields tags an operator action with the caller's user name.
func opsFields(c *gin.Context, fields logrus.Fields) logrus.Fields {
	if name, ok := utils.GetUserNameFromContext(c.Request.Context()); ok {
		fields["operator"] = name
	}
	return fields
}
