package sender

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultSendTimeout = 10 * time.Second

type sendMessageRequest struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

type botAPIResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

var _ NotificationSender = (*BotAPISender)(nil)

// BotAPISender delivers notifications through the chat Bot API sendMessage method.
// baseURL includes the bot token path, e.g. https://api.telegram.org/bot<token>.
type BotAPISender struct {
	client  *resty.Client
	baseURL string
}

func NewBotAPISender(baseURL string) (*BotAPISender, error) {
	client := resty.New()
	client.SetTimeout(defaultSendTimeout)

	return NewBotAPISenderWithClient(baseURL, client)
}

func NewBotAPISenderWithClient(baseURL string, client *resty.Client) (*BotAPISender, error) {
	trimmed, err := validateBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSendTimeout)
	}
	client.SetRetryCount(0)

	return &BotAPISender{
		client:  client,
		baseURL: trimmed,
	}, nil
}

func (s *BotAPISender) SendNotification(ctx context.Context, recipientID int64, message string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("sender is not initialized")
	}
	if recipientID == 0 {
		return &ProviderError{Message: "recipient is required"}
	}

	var body botAPIResponse
	response, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(sendMessageRequest{ChatID: recipientID, Text: message}).
		SetResult(&body).
		SetError(&body).
		Post(s.baseURL + "/sendMessage")
	if err != nil {
		return requestError(err)
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices && body.OK {
		return nil
	}

	if body.ErrorCode > 0 {
		statusCode = body.ErrorCode
	}
	providerErr := &ProviderError{
		StatusCode: statusCode,
		Message:    statusErrorMessage(statusCode, strings.TrimSpace(body.Description)),
		Transient:  isTransientHTTPStatus(statusCode),
	}
	if body.Parameters != nil && body.Parameters.RetryAfter > 0 {
		providerErr.RetryAfter = time.Duration(body.Parameters.RetryAfter) * time.Second
	}
	return providerErr
}

func validateBaseURL(raw string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return "", fmt.Errorf("endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}
	return trimmed, nil
}
