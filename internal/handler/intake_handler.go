package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/fallback-engine/internal/domain"
	"github.com/kursadbilgin/fallback-engine/internal/service"
	"github.com/shopspring/decimal"
)

type FallbackService interface {
	Enqueue(ctx context.Context, recipientID int64, category string, payload map[string]any, priority int) (*domain.FallbackNotification, error)
	PushOrFallback(ctx context.Context, recipientID int64, category string, payload map[string]any, priority int) error
	SaveState(ctx context.Context, userID int64, state *string, data map[string]any) (*domain.FsmState, error)
	SetStateOrFallback(ctx context.Context, userID int64, state *string, data map[string]any) error
}

type FailureService interface {
	RecordFailedNotification(ctx context.Context, in service.FailedNotificationInput) (*domain.FailedNotification, error)
	RecordFailedPayment(ctx context.Context, in service.FailedPaymentInput) (*domain.PaymentRetry, error)
}

// IntakeHandler accepts work from the bot process: queue items and conversation
// state while Redis is down, and deliveries or payouts whose first attempt failed.
type IntakeHandler struct {
	fallback FallbackService
	failures FailureService
}

func NewIntakeHandler(fallback FallbackService, failures FailureService) (*IntakeHandler, error) {
	if fallback == nil {
		return nil, fmt.Errorf("fallback service is required")
	}
	if failures == nil {
		return nil, fmt.Errorf("failure service is required")
	}
	return &IntakeHandler{fallback: fallback, failures: failures}, nil
}

func RegisterIntakeRoutes(router fiber.Router, fallback FallbackService, failures FailureService) error {
	h, err := NewIntakeHandler(fallback, failures)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/queue/notifications", h.QueueNotification)
	v1.Put("/states/:userId", h.PutState)
	v1.Post("/fallback/notifications", h.EnqueueFallbackNotification)
	v1.Post("/fallback/states", h.SaveFallbackState)
	v1.Post("/failures/notifications", h.RecordFailedNotification)
	v1.Post("/failures/payments", h.RecordFailedPayment)

	return nil
}

type queueNotificationRequest struct {
	RecipientID int64          `json:"recipientId"`
	Category    string         `json:"category"`
	Payload     map[string]any `json:"payload"`
	Priority    int            `json:"priority"`
}

type stateRequest struct {
	UserID int64          `json:"userId"`
	State  *string        `json:"state"`
	Data   map[string]any `json:"data"`
}

type failedNotificationRequest struct {
	RecipientID int64          `json:"recipientId"`
	Category    string         `json:"category"`
	Message     string         `json:"message"`
	Metadata    map[string]any `json:"metadata"`
	Critical    bool           `json:"critical"`
	LastError   string         `json:"lastError"`
}

type failedPaymentRequest struct {
	RecipientID int64   `json:"recipientId"`
	Amount      string  `json:"amount"`
	PaymentType string  `json:"paymentType"`
	EarningIDs  []int64 `json:"earningIds"`
	LastError   string  `json:"lastError"`
}

type fallbackNotificationResponse struct {
	ID          string         `json:"id"`
	RecipientID int64          `json:"recipientId"`
	Category    string         `json:"category"`
	Payload     map[string]any `json:"payload,omitempty"`
	Priority    int            `json:"priority"`
	CreatedAt   time.Time      `json:"createdAt"`
}

type stateResponse struct {
	ID     string         `json:"id"`
	UserID int64          `json:"userId"`
	State  *string        `json:"state"`
	Data   map[string]any `json:"data,omitempty"`
}

type acceptedResponse struct {
	Status string `json:"status"`
}

// QueueNotification pushes to the primary queue and falls back to the durable one.
func (h *IntakeHandler) QueueNotification(c *fiber.Ctx) error {
	var req queueNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validateQueueNotification(req); err != nil {
		return err
	}

	if err := h.fallback.PushOrFallback(c.UserContext(), req.RecipientID, req.Category, req.Payload, req.Priority); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(acceptedResponse{Status: "queued"})
}

func (h *IntakeHandler) PutState(c *fiber.Ctx) error {
	userID, err := strconv.ParseInt(strings.TrimSpace(c.Params("userId")), 10, 64)
	if err != nil || userID == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "userId must be a non-zero integer")
	}

	var req stateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.fallback.SetStateOrFallback(c.UserContext(), userID, req.State, req.Data); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(acceptedResponse{Status: "stored"})
}

func (h *IntakeHandler) EnqueueFallbackNotification(c *fiber.Ctx) error {
	var req queueNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validateQueueNotification(req); err != nil {
		return err
	}

	item, err := h.fallback.Enqueue(c.UserContext(), req.RecipientID, req.Category, req.Payload, req.Priority)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fallbackNotificationResponse{
		ID:          item.ID,
		RecipientID: item.RecipientID,
		Category:    item.Category,
		Payload:     item.Payload,
		Priority:    item.Priority,
		CreatedAt:   item.CreatedAt,
	})
}

func (h *IntakeHandler) SaveFallbackState(c *fiber.Ctx) error {
	var req stateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.UserID == 0 {
		return fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}

	s, err := h.fallback.SaveState(c.UserContext(), req.UserID, req.State, req.Data)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(stateResponse{
		ID:     s.ID,
		UserID: s.UserID,
		State:  s.State,
		Data:   s.Data,
	})
}

func (h *IntakeHandler) RecordFailedNotification(c *fiber.Ctx) error {
	var req failedNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	n, err := h.failures.RecordFailedNotification(c.UserContext(), service.FailedNotificationInput{
		RecipientID: req.RecipientID,
		Category:    req.Category,
		Message:     req.Message,
		Metadata:    req.Metadata,
		Critical:    req.Critical,
		Err:         deliveryError(req.LastError),
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toNotificationResponse(n))
}

func (h *IntakeHandler) RecordFailedPayment(c *fiber.Ctx) error {
	var req failedPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		return fmt.Errorf("%w: amount must be a decimal string", domain.ErrValidation)
	}
	paymentType, err := domain.ParsePaymentTypeFromString(req.PaymentType)
	if err != nil {
		return err
	}

	p, err := h.failures.RecordFailedPayment(c.UserContext(), service.FailedPaymentInput{
		RecipientID: req.RecipientID,
		Amount:      amount,
		PaymentType: paymentType,
		EarningIDs:  req.EarningIDs,
		Err:         deliveryError(req.LastError),
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toPaymentResponse(p))
}

func validateQueueNotification(req queueNotificationRequest) error {
	if req.RecipientID == 0 {
		return fmt.Errorf("%w: recipientId is required", domain.ErrValidation)
	}
	if strings.TrimSpace(req.Category) == "" {
		return fmt.Errorf("%w: category is required", domain.ErrValidation)
	}
	return nil
}

func deliveryError(msg string) error {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return nil
	}
	return errors.New(msg)
}
