package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"agentscan/internal/model"
)

const (
	webhookEventCompleted  = "scan.completed"
	webhookSignatureHeader = "X-Webhook-Signature"
)

// WebhookSender posts the completion event for a finished request.
type WebhookSender interface {
	Deliver(ctx context.Context, req *model.ScanRequest, res *model.ScanResult) error
}

type webhookPayload struct {
	Event       string        `json:"event"`
	RequestID   string        `json:"request_id"`
	Message     string        `json:"message"`
	Result      webhookResult `json:"result"`
	CompletedAt *time.Time    `json:"completed_at"`
}

type webhookResult struct {
	PDFURL         string `json:"pdf_url"`
	TextURL        string `json:"text_url"`
	PageCount      int    `json:"page_count"`
	OCRTextPreview string `json:"ocr_text_preview"`
}

// WebhookClient delivers completion events once. There are no retries.
type WebhookClient struct {
	httpClient *http.Client
	baseURL    string
	logger     *zap.Logger
}

func NewWebhookClient(baseURL string, logger *zap.Logger) *WebhookClient {
	return &WebhookClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		logger:     logger.Named("webhook"),
	}
}

func pdfURL(baseURL, requestID string) string {
	return fmt.Sprintf("%s/api/v1/requests/%s/pdf", baseURL, requestID)
}

func textURL(baseURL, requestID string) string {
	return fmt.Sprintf("%s/api/v1/requests/%s/text", baseURL, requestID)
}

// Deliver is a no-op for requests without a webhook URL. When a secret is set
// the body is signed with hex HMAC-SHA256 over the exact bytes sent.
func (c *WebhookClient) Deliver(ctx context.Context, req *model.ScanRequest, res *model.ScanResult) error {
	if req.WebhookURL == nil || *req.WebhookURL == "" {
		return nil
	}

	body, err := json.Marshal(webhookPayload{
		Event:     webhookEventCompleted,
		RequestID: req.ID,
		Message:   req.Message,
		Result: webhookResult{
			PDFURL:         pdfURL(c.baseURL, req.ID),
			TextURL:        textURL(c.baseURL, req.ID),
			PageCount:      res.PageCount,
			OCRTextPreview: model.OCRPreview(res.OCRText),
		},
		CompletedAt: req.CompletedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, *req.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.WebhookSecret != nil && *req.WebhookSecret != "" {
		httpReq.Header.Set(webhookSignatureHeader, SignPayload(body, *req.WebhookSecret))
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("webhook delivery to %s: %w", *req.WebhookURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook delivery to %s: status %d", *req.WebhookURL, resp.StatusCode)
	}

	c.logger.Info("delivered", zap.String("request_id", req.ID), zap.Int("status", resp.StatusCode))
	return nil
}
