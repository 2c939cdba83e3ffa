package service

import (
	"context"

	"go.uber.org/zap"
)

// Notifier delivers one push notification to one device token.
type Notifier interface {
	Notify(ctx context.Context, token, title, body string, data map[string]string) error
}

// PushRouter sends Expo tokens through Expo and everything else through FCM.
// A nil backend falls through to a log line, which is the behaviour with no
// push credentials configured.
type PushRouter struct {
	expo   Notifier
	fcm    Notifier
	logger *zap.Logger
}

func NewPushRouter(expo, fcm Notifier, logger *zap.Logger) *PushRouter {
	return &PushRouter{expo: expo, fcm: fcm, logger: logger.Named("push")}
}

func (p *PushRouter) Notify(ctx context.Context, token, title, body string, data map[string]string) error {
	switch {
	case IsExpoToken(token) && p.expo != nil:
		return p.expo.Notify(ctx, token, title, body, data)
	case !IsExpoToken(token) && p.fcm != nil:
		return p.fcm.Notify(ctx, token, title, body, data)
	}

	p.logger.Info("push stub",
		zap.String("token", token[:min(20, len(token))]),
		zap.String("title", title),
		zap.String("body", body),
		zap.Any("data", data),
	)
	return nil
}
