package sender

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

type payoutRequest struct {
	RecipientID int64  `json:"recipientId"`
	Amount      string `json:"amount"`
	Reference   string `json:"reference"`
}

type payoutResponse struct {
	TxHash string `json:"txHash"`
	Error  string `json:"error"`
}

var _ PaymentSender = (*PayoutGatewaySender)(nil)

// PayoutGatewaySender broadcasts payouts through the wallet gateway's REST API. The
// payout reference doubles as the Idempotency-Key header.
type PayoutGatewaySender struct {
	client  *resty.Client
	baseURL string
}

func NewPayoutGatewaySender(baseURL string) (*PayoutGatewaySender, error) {
	client := resty.New()
	client.SetTimeout(defaultSendTimeout)

	return NewPayoutGatewaySenderWithClient(baseURL, client)
}

func NewPayoutGatewaySenderWithClient(baseURL string, client *resty.Client) (*PayoutGatewaySender, error) {
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

	return &PayoutGatewaySender{
		client:  client,
		baseURL: trimmed,
	}, nil
}

func (s *PayoutGatewaySender) SendPayment(ctx context.Context, recipientID int64, amount decimal.Decimal, reference string) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("sender is not initialized")
	}
	if !amount.IsPositive() {
		return "", &ProviderError{Message: fmt.Sprintf("amount must be positive (got %s)", amount.String())}
	}

	var body payoutResponse
	response, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Idempotency-Key", reference).
		SetBody(payoutRequest{
			RecipientID: recipientID,
			Amount:      amount.String(),
			Reference:   reference,
		}).
		SetResult(&body).
		SetError(&body).
		Post(s.baseURL + "/payouts")
	if err != nil {
		return "", requestError(err)
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return strings.TrimSpace(body.TxHash), nil
	}

	return "", &ProviderError{
		StatusCode: statusCode,
		Message:    statusErrorMessage(statusCode, strings.TrimSpace(body.Error)),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}
