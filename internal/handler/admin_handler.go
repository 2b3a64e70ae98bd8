package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/fallback-engine/internal/domain"
	"github.com/kursadbilgin/fallback-engine/internal/service"
)

type AdminService interface {
	GetUnresolved(ctx context.Context, criticalOnly bool) ([]domain.FailedNotification, error)
	ResolveManually(ctx context.Context, id string) (*domain.FailedNotification, error)
	GetNotificationDLQ(ctx context.Context) ([]domain.FailedNotification, error)
	GetDlqEntries(ctx context.Context) ([]domain.PaymentRetry, error)
	RequeuePayment(ctx context.Context, id string) (*domain.PaymentRetry, error)
	Stats(ctx context.Context) (service.Stats, error)
}

type AdminHandler struct {
	service AdminService
}

func NewAdminHandler(service AdminService) (*AdminHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("admin service is required")
	}
	return &AdminHandler{service: service}, nil
}

func RegisterAdminRoutes(router fiber.Router, service AdminService) error {
	h, err := NewAdminHandler(service)
	if err != nil {
		return err
	}

	admin := router.Group("/v1/admin")
	admin.Get("/notifications/unresolved", h.ListUnresolved)
	admin.Get("/notifications/dlq", h.ListNotificationDLQ)
	admin.Post("/notifications/:id/resolve", h.ResolveNotification)
	admin.Get("/payments/dlq", h.ListPaymentDLQ)
	admin.Post("/payments/:id/requeue", h.RequeuePayment)
	admin.Get("/stats", h.GetStats)

	return nil
}

func RegisterMetricsRoute(router fiber.Router, metrics http.Handler) {
	if metrics == nil {
		return
	}
	router.Get("/metrics", adaptor.HTTPHandler(metrics))
}

type notificationResponse struct {
	ID            string         `json:"id"`
	RecipientID   int64          `json:"recipientId"`
	Category      string         `json:"category"`
	Message       string         `json:"message"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	AttemptCount  int            `json:"attemptCount"`
	LastError     *string        `json:"lastError,omitempty"`
	Resolved      bool           `json:"resolved"`
	Critical      bool           `json:"critical"`
	InDLQ         bool           `json:"inDlq"`
	LastAttemptAt *time.Time     `json:"lastAttemptAt,omitempty"`
	ResolvedAt    *time.Time     `json:"resolvedAt,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

type paymentResponse struct {
	ID            string     `json:"id"`
	RecipientID   int64      `json:"recipientId"`
	Amount        string     `json:"amount"`
	PaymentType   string     `json:"paymentType"`
	EarningIDs    []int64    `json:"earningIds"`
	AttemptCount  int        `json:"attemptCount"`
	MaxRetries    int        `json:"maxRetries"`
	LastError     *string    `json:"lastError,omitempty"`
	ErrorDetail   *string    `json:"errorDetail,omitempty"`
	InDLQ         bool       `json:"inDlq"`
	Resolved      bool       `json:"resolved"`
	TxReference   *string    `json:"txReference,omitempty"`
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty"`
	NextRetryAt   *time.Time `json:"nextRetryAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

type listResponse[T any] struct {
	Data  []T `json:"data"`
	Count int `json:"count"`
}

func (h *AdminHandler) ListUnresolved(c *fiber.Ctx) error {
	criticalOnly := false
	if raw := c.Query("critical"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "critical must be a boolean")
		}
		criticalOnly = parsed
	}

	items, err := h.service.GetUnresolved(c.UserContext(), criticalOnly)
	if err != nil {
		return err
	}
	return c.JSON(toListResponse(items, toNotificationResponse))
}

func (h *AdminHandler) ListNotificationDLQ(c *fiber.Ctx) error {
	items, err := h.service.GetNotificationDLQ(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(toListResponse(items, toNotificationResponse))
}

func (h *AdminHandler) ResolveNotification(c *fiber.Ctx) error {
	n, err := h.service.ResolveManually(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toNotificationResponse(n))
}

func (h *AdminHandler) ListPaymentDLQ(c *fiber.Ctx) error {
	items, err := h.service.GetDlqEntries(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(toListResponse(items, toPaymentResponse))
}

func (h *AdminHandler) RequeuePayment(c *fiber.Ctx) error {
	p, err := h.service.RequeuePayment(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(toPaymentResponse(p))
}

func (h *AdminHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.service.Stats(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(stats)
}

func toListResponse[T, R any](items []T, convert func(*T) R) listResponse[R] {
	out := make([]R, 0, len(items))
	for i := range items {
		out = append(out, convert(&items[i]))
	}
	return listResponse[R]{Data: out, Count: len(out)}
}

func toNotificationResponse(n *domain.FailedNotification) notificationResponse {
	return notificationResponse{
		ID:            n.ID,
		RecipientID:   n.RecipientID,
		Category:      n.Category,
		Message:       n.Message,
		Metadata:      n.Metadata,
		AttemptCount:  n.AttemptCount,
		LastError:     n.LastError,
		Resolved:      n.Resolved,
		Critical:      n.Critical,
		InDLQ:         n.InDLQ,
		LastAttemptAt: n.LastAttemptAt,
		ResolvedAt:    n.ResolvedAt,
		CreatedAt:     n.CreatedAt,
	}
}

func toPaymentResponse(p *domain.PaymentRetry) paymentResponse {
	return paymentResponse{
		ID:            p.ID,
		RecipientID:   p.RecipientID,
		Amount:        p.Amount.String(),
		PaymentType:   p.PaymentType.String(),
		EarningIDs:    p.EarningIDs,
		AttemptCount:  p.AttemptCount,
		MaxRetries:    p.MaxRetries,
		LastError:     p.LastError,
		ErrorDetail:   p.ErrorDetail,
		InDLQ:         p.InDLQ,
		Resolved:      p.Resolved,
		TxReference:   p.TxReference,
		LastAttemptAt: p.LastAttemptAt,
		NextRetryAt:   p.NextRetryAt,
		CreatedAt:     p.CreatedAt,
	}
}
