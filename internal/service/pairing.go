package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"agentscan/internal/model"
	"agentscan/internal/repository"
)

const (
	maxShortCodeAttempts = 5
	qrSize               = 256
	pairedMessage        = "Device paired successfully. Use your API key to authenticate requests."
)

// PairingService issues short-lived pairing sessions on the dashboard and
// redeems them from a phone, exactly once.
type PairingService struct {
	pairings repository.PairingRepository
	keys     repository.APIKeyRepository
	baseURL  string
	logger   *zap.Logger
	now      func() time.Time
}

func NewPairingService(
	pairings repository.PairingRepository,
	keys repository.APIKeyRepository,
	baseURL string,
	logger *zap.Logger,
) *PairingService {
	return &PairingService{
		pairings: pairings,
		keys:     keys,
		baseURL:  baseURL,
		logger:   logger.Named("pairing"),
		now:      time.Now,
	}
}

type qrPayload struct {
	ServerURL    string `json:"server_url"`
	PairingToken string `json:"pairing_token"`
}

// Generate opens a pairing session for one of the user's active keys. With no
// apiKeyID the user's oldest active key is used.
func (s *PairingService) Generate(ctx context.Context, userID string, apiKeyID *string) (*model.PairingTicket, error) {
	if apiKeyID != nil && *apiKeyID == "" {
		apiKeyID = nil
	}
	if apiKeyID != nil && !isUUID(*apiKeyID) {
		return nil, model.ErrNoActiveKey
	}

	key, err := s.keys.GetActiveForUser(ctx, userID, apiKeyID)
	if err != nil {
		return nil, err
	}

	token, err := randomHex(16)
	if err != nil {
		return nil, err
	}
	token = pairingTokenPrefix + token

	session := &model.PairingSession{
		UserID:    userID,
		APIKeyID:  key.ID,
		Token:     token,
		ExpiresAt: s.now().Add(model.PairingTTL),
	}

	for attempt := 1; ; attempt++ {
		if session.ShortCode, err = generateShortCode(); err != nil {
			return nil, err
		}
		err = s.pairings.Create(ctx, session)
		if err == nil {
			break
		}
		if !errors.Is(err, model.ErrShortCodeTaken) || attempt >= maxShortCodeAttempts {
			return nil, err
		}
		s.logger.Debug("short code collision, retrying", zap.Int("attempt", attempt))
	}

	qrData, err := json.Marshal(qrPayload{ServerURL: s.baseURL, PairingToken: token})
	if err != nil {
		return nil, fmt.Errorf("marshal qr data: %w", err)
	}
	png, err := qrcode.Encode(string(qrData), qrcode.Medium, qrSize)
	if err != nil {
		return nil, fmt.Errorf("render qr code: %w", err)
	}

	s.logger.Info("pairing session created", zap.String("session_id", session.ID), zap.String("key_id", key.ID))

	return &model.PairingTicket{
		Token:     token,
		ShortCode: session.ShortCode,
		QRData:    string(qrData),
		QRPNG:     base64.StdEncoding.EncodeToString(png),
		ExpiresAt: session.ExpiresAt,
	}, nil
}

type redeemErrors struct {
	invalid, used, expired error
}

var (
	tokenErrors = redeemErrors{model.ErrInvalidToken, model.ErrTokenUsed, model.ErrTokenExpired}
	codeErrors  = redeemErrors{model.ErrInvalidCode, model.ErrCodeUsed, model.ErrCodeExpired}
)

func (s *PairingService) RedeemToken(ctx context.Context, token string, info model.DeviceInfo) (*model.PairedDevice, error) {
	session, err := s.pairings.GetByToken(ctx, strings.TrimSpace(token))
	return s.redeem(ctx, session, err, info, tokenErrors)
}

// RedeemCode accepts codes in any case and with surrounding whitespace.
func (s *PairingService) RedeemCode(ctx context.Context, code string, info model.DeviceInfo) (*model.PairedDevice, error) {
	session, err := s.pairings.GetByShortCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	return s.redeem(ctx, session, err, info, codeErrors)
}

func (s *PairingService) redeem(ctx context.Context, session *model.PairingSession, lookupErr error, info model.DeviceInfo, errs redeemErrors) (*model.PairedDevice, error) {
	if lookupErr != nil {
		if errors.Is(lookupErr, model.ErrPairingNotFound) {
			return nil, errs.invalid
		}
		return nil, lookupErr
	}

	now := s.now()
	if session.Used {
		return nil, errs.used
	}
	if session.IsExpired(now) {
		return nil, errs.expired
	}

	device := &model.Device{
		DeviceToken: info.DeviceToken,
		DeviceName:  info.DeviceName,
		Platform:    info.Platform,
	}
	if err := s.pairings.Redeem(ctx, session.ID, device, now); err != nil {
		if errors.Is(err, model.ErrPairingConsumed) {
			// Lost a race with another redemption, or the clock ran out in between.
			if session.IsExpired(s.now()) {
				return nil, errs.expired
			}
			return nil, errs.used
		}
		return nil, err
	}

	var prefix *string
	if key, err := s.keys.GetByID(ctx, device.APIKeyID); err != nil {
		s.logger.Warn("lookup key prefix", zap.String("key_id", device.APIKeyID), zap.Error(err))
	} else {
		prefix = &key.KeyPrefix
	}

	s.logger.Info("device paired via session", zap.String("session_id", session.ID), zap.String("device_id", device.ID))

	return &model.PairedDevice{
		DeviceID:     device.ID,
		APIKeyPrefix: prefix,
		ServerURL:    s.baseURL,
		Message:      pairedMessage,
	}, nil
}

// generateShortCode renders 8 characters as XXXX-XXXX. The alphabet has 32
// symbols, so a byte modulo 32 is unbiased.
func generateShortCode() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	alphabet := model.ShortCodeAlphabet
	var sb strings.Builder
	for i, v := range b {
		if i == 4 {
			sb.WriteByte('-')
		}
		sb.WriteByte(alphabet[int(v)%len(alphabet)])
	}
	return sb.String(), nil
}
