package service

import (
	"context"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// FCMClient delivers pushes to native Android/iOS tokens through Firebase Cloud Messaging.
//
// Credentials come from a Firebase service account: Project Settings ->
// Service Accounts -> Generate New Private Key.
type FCMClient struct {
	client *messaging.Client
	logger *zap.Logger
}

// NewFCMClient builds a messaging client from the three service account fields.
// The private key in .env has literal "\n" sequences which the SDK needs as real newlines.
func NewFCMClient(ctx context.Context, projectID, clientEmail, privateKey string, logger *zap.Logger) (*FCMClient, error) {
	privateKey = strings.ReplaceAll(privateKey, "\\n", "\n")

	credsJSON := fmt.Sprintf(`{
		"type": "service_account",
		"project_id": %q,
		"private_key": %q,
		"client_email": %q,
		"token_uri": "https://oauth2.googleapis.com/token"
	}`, projectID, privateKey, clientEmail)

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsJSON([]byte(credsJSON)))
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("get messaging client: %w", err)
	}

	logger = logger.Named("fcm")
	logger.Info("initialized", zap.String("project", projectID))
	return &FCMClient{client: client, logger: logger}, nil
}

// Notify sends one high-priority notification to a single device token.
func (c *FCMClient) Notify(ctx context.Context, token, title, body string, data map[string]string) error {
	msg := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound: "default",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: "default"},
			},
		},
	}

	id, err := c.client.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("send fcm message: %w", err)
	}
	c.logger.Debug("sent", zap.String("message_id", id))
	return nil
}
