package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const expoPushURL = "https://exp.host/--/api/v2/push/send"

// ExpoPushClient sends pushes to React Native apps through Expo's Push API.
// Tokens look like "ExponentPushToken[xxx]"; no credentials are needed.
type ExpoPushClient struct {
	httpClient *http.Client
	endpoint   string
	logger     *zap.Logger
}

type expoPushMessage struct {
	To       string            `json:"to"`
	Title    string            `json:"title,omitempty"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Sound    string            `json:"sound,omitempty"`
	Priority string            `json:"priority,omitempty"`
}

// A single-recipient message gets a single ticket back, not a list.
type expoPushResponse struct {
	Data expoPushTicket `json:"data"`
}

type expoPushTicket struct {
	Status  string `json:"status"` // "ok" or "error"
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
	Details struct {
		Error string `json:"error,omitempty"` // "DeviceNotRegistered", "MessageTooBig", etc.
	} `json:"details,omitempty"`
}

func NewExpoPushClient(logger *zap.Logger) *ExpoPushClient {
	return &ExpoPushClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		endpoint:   expoPushURL,
		logger:     logger.Named("expo"),
	}
}

// IsExpoToken reports whether token was issued by Expo rather than FCM/APNs.
func IsExpoToken(token string) bool {
	return strings.HasPrefix(token, "ExponentPushToken[") || strings.HasPrefix(token, "ExpoPushToken[")
}

func (c *ExpoPushClient) Notify(ctx context.Context, token, title, body string, data map[string]string) error {
	if !IsExpoToken(token) {
		return fmt.Errorf("not an expo push token")
	}

	payload, err := json.Marshal(expoPushMessage{
		To:       token,
		Title:    title,
		Body:     body,
		Data:     data,
		Sound:    "default",
		Priority: "high",
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("expo api error: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	var pushResp expoPushResponse
	if err := json.Unmarshal(respBody, &pushResp); err != nil {
		c.logger.Warn("unparseable response", zap.Error(err))
		return nil // push was accepted
	}
	ticket := pushResp.Data
	if ticket.Status == "error" {
		return fmt.Errorf("expo ticket error: %s (%s)", ticket.Message, ticket.Details.Error)
	}
	return nil
}
