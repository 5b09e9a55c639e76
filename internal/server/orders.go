package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/cartpilot/internal/agent/core"
	"github.com/mohammad-safakhou/cartpilot/internal/notify"
	"github.com/mohammad-safakhou/cartpilot/models"
)

// OrderStore is the read side of the order journal.
type OrderStore interface {
	GetOutcome(ctx context.Context, runID string) (models.OrderOutcome, error)
	ListOutcomes(ctx context.Context, userID string, limit int) ([]models.OrderOutcome, error)
	GetScreenshot(ctx context.Context, runID string) (models.Artifact, error)
}

// OrdersHandler starts order runs in-process and lets a client follow and
// answer them.
type OrdersHandler struct {
	Resolve core.Resolver
	Store   OrderStore
	Runs    *Runs
	Logger  *log.Logger

	// Base scopes every run; cancelling it cancels all runs.
	Base context.Context
}

func (h *OrdersHandler) Register(g *echo.Group, secret []byte) {
	g.Use(requireAuth(secret))
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.POST("/:id/reply", h.reply)
	g.POST("/:id/cancel", h.cancel)
	g.GET("/:id/screenshot", h.screenshot)
}

// create
//
//	@Summary	Start an order
//	@Tags		orders
//	@Accept		json
//	@Produce	json
//	@Param		payload	body		CreateOrderRequest	true	"Order"
//	@Success	202		{object}	IDResponse
//	@Failure	400		{object}	HTTPError
//	@Router		/api/orders [post]
func (h *OrdersHandler) create(c echo.Context) error {
	var req CreateOrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt required")
	}
	runner, err := h.Resolve(strings.TrimSpace(req.Storefront))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	order := models.OrderRequest{
		ID:          uuid.NewString(),
		Prompt:      req.Prompt,
		UserID:      userID(c),
		Storefront:  strings.TrimSpace(req.Storefront),
		RequestedAt: time.Now().UTC(),
	}
	base := h.Base
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	history := notify.NewHistory(order.ID)
	lr := &liveRun{req: order, history: history, cancel: cancel}

	var ch notify.Channel = history
	if h.Logger != nil {
		ch = notify.NewTee(history, h.Logger, notify.LogSink{RunID: order.ID, Logger: h.Logger})
		h.Logger.Printf("order %s started for %s", order.ID, order.UserID)
	}
	h.Runs.Start(lr, func() models.OrderOutcome {
		return runner.Run(ctx, order, ch)
	})

	c.Response().Header().Set(echo.HeaderLocation, "/api/orders/"+order.ID)
	return c.JSON(http.StatusAccepted, IDResponse{ID: order.ID})
}

// list
//
//	@Summary	List the caller's orders
//	@Tags		orders
//	@Produce	json
//	@Param		limit	query		int	false	"Maximum finished orders"
//	@Success	200		{object}	OrderListResponse
//	@Router		/api/orders [get]
func (h *OrdersHandler) list(c echo.Context) error {
	uid := userID(c)
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	resp := OrderListResponse{Active: []string{}, Finished: []models.OrderOutcome{}}
	for _, lr := range h.Runs.Active(uid) {
		resp.Active = append(resp.Active, lr.req.ID)
	}
	if h.Store != nil {
		outs, err := h.Store.ListOutcomes(c.Request().Context(), uid, limit)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		resp.Finished = append(resp.Finished, outs...)
	}
	return c.JSON(http.StatusOK, resp)
}

// get
//
//	@Summary	Order status, events and outcome
//	@Tags		orders
//	@Produce	json
//	@Param		id	path		string	true	"Order ID"
//	@Success	200	{object}	OrderResponse
//	@Failure	404	{object}	HTTPError
//	@Router		/api/orders/{id} [get]
func (h *OrdersHandler) get(c echo.Context) error {
	id := c.Param("id")
	if lr, ok := h.owned(c, id); ok {
		resp := OrderResponse{ID: id, Status: StatusRunning, Events: lr.history.Events()}
		if out, done := lr.Outcome(); done {
			resp.Status = string(out.Status)
			resp.Outcome = &out
		} else if p, pending := lr.history.Pending(); pending {
			resp.Status = StatusAwaitingChoice
			resp.Prompt = &p
		}
		return c.JSON(http.StatusOK, resp)
	}
	out, err := h.stored(c, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, OrderResponse{ID: id, Status: string(out.Status), Outcome: &out})
}

// reply
//
//	@Summary	Answer the outstanding prompt
//	@Tags		orders
//	@Accept		json
//	@Param		id		path	string			true	"Order ID"
//	@Param		payload	body	ReplyRequest	true	"Answer"
//	@Success	204
//	@Failure	404	{object}	HTTPError
//	@Failure	409	{object}	HTTPError
//	@Router		/api/orders/{id}/reply [post]
func (h *OrdersHandler) reply(c echo.Context) error {
	var req ReplyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Answer) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "answer required")
	}
	lr, ok := h.owned(c, c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "order not found")
	}
	if _, done := lr.Outcome(); done {
		return echo.NewHTTPError(http.StatusConflict, "order already finished")
	}
	if err := lr.history.Reply(req.Answer); err != nil {
		if errors.Is(err, notify.ErrNoPrompt) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// cancel
//
//	@Summary	Cancel a running order
//	@Tags		orders
//	@Param		id	path	string	true	"Order ID"
//	@Success	202
//	@Failure	404	{object}	HTTPError
//	@Failure	409	{object}	HTTPError
//	@Router		/api/orders/{id}/cancel [post]
func (h *OrdersHandler) cancel(c echo.Context) error {
	lr, ok := h.owned(c, c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "order not found")
	}
	if _, done := lr.Outcome(); done {
		return echo.NewHTTPError(http.StatusConflict, "order already finished")
	}
	lr.cancel()
	return c.NoContent(http.StatusAccepted)
}

// screenshot
//
//	@Summary	Checkout confirmation screenshot
//	@Tags		orders
//	@Produce	image/png
//	@Param		id	path	string	true	"Order ID"
//	@Success	200
//	@Failure	404	{object}	HTTPError
//	@Router		/api/orders/{id}/screenshot [get]
func (h *OrdersHandler) screenshot(c echo.Context) error {
	id := c.Param("id")
	if lr, ok := h.owned(c, id); ok {
		if data, mime, ok := lr.history.Image(); ok {
			return c.Blob(http.StatusOK, mime, data)
		}
		if _, done := lr.Outcome(); !done || h.Store == nil {
			return echo.NewHTTPError(http.StatusNotFound, "no screenshot")
		}
	}
	if _, err := h.stored(c, id); err != nil {
		return err
	}
	art, err := h.Store.GetScreenshot(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrOrderNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "no screenshot")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if len(art.Data) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "no screenshot")
	}
	return c.Blob(http.StatusOK, art.MIME, art.Data)
}

// owned returns the live run id when it belongs to the caller.
func (h *OrdersHandler) owned(c echo.Context, id string) (*liveRun, bool) {
	lr, ok := h.Runs.Get(id)
	if !ok || lr.req.UserID != userID(c) {
		return nil, false
	}
	return lr, true
}

// stored loads a journaled outcome owned by the caller.
func (h *OrdersHandler) stored(c echo.Context, id string) (models.OrderOutcome, error) {
	if h.Store == nil {
		return models.OrderOutcome{}, echo.NewHTTPError(http.StatusNotFound, "order not found")
	}
	out, err := h.Store.GetOutcome(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrOrderNotFound) {
			return out, echo.NewHTTPError(http.StatusNotFound, "order not found")
		}
		return out, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if out.UserID != userID(c) {
		return models.OrderOutcome{}, echo.NewHTTPError(http.StatusNotFound, "order not found")
	}
	return out, nil
}
