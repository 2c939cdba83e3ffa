package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agentscan/internal/model"
	"agentscan/internal/repository"
	"agentscan/internal/storage"
)

// DeliveryService attaches uploaded artifacts to requests and serves them back.
type DeliveryService struct {
	requests repository.ScanRequestRepository
	results  repository.ScanResultRepository
	blobs    storage.Blob
	webhooks WebhookSender
	runner   TaskRunner
	baseURL  string
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewDeliveryService(
	requests repository.ScanRequestRepository,
	results repository.ScanResultRepository,
	blobs storage.Blob,
	webhooks WebhookSender,
	runner TaskRunner,
	baseURL string,
	ttl time.Duration,
	logger *zap.Logger,
) *DeliveryService {
	return &DeliveryService{
		requests: requests,
		results:  results,
		blobs:    blobs,
		webhooks: webhooks,
		runner:   runner,
		baseURL:  baseURL,
		ttl:      ttl,
		logger:   logger.Named("delivery"),
		now:      time.Now,
	}
}

// AttachResult stores the PDF, then records the result and completes the
// request in one transaction. The blob is written first so a result row never
// points at missing bytes; if the transaction fails the blob is removed again.
func (s *DeliveryService) AttachResult(ctx context.Context, req *model.ScanRequest, art model.Artifact) (*model.ScanResult, error) {
	if len(art.PDF) == 0 {
		return nil, model.ErrNoFile
	}

	name := fmt.Sprintf("%s-%s.pdf", req.ID, uuid.NewString())
	handle, err := s.blobs.Save(ctx, name, art.PDF)
	if err != nil {
		return nil, fmt.Errorf("store pdf: %w", err)
	}

	pageCount := art.PageCount
	if pageCount <= 0 {
		pageCount = model.DefaultPageCount
	}

	now := s.now()
	res := &model.ScanResult{
		RequestID:    req.ID,
		PDFPath:      handle,
		PDFSizeBytes: int64(len(art.PDF)),
		OCRText:      art.OCRText,
		PageCount:    pageCount,
		AutoDeleteAt: now.Add(s.ttl),
	}

	if err := s.results.Complete(ctx, res, now); err != nil {
		if delErr := s.blobs.Delete(ctx, handle); delErr != nil {
			s.logger.Warn("orphaned blob", zap.String("handle", handle), zap.Error(delErr))
		}
		return nil, err
	}

	req.Status = model.StatusCompleted
	req.CompletedAt = &now

	s.logger.Info("result attached",
		zap.String("request_id", req.ID),
		zap.Int64("bytes", res.PDFSizeBytes),
		zap.Int("pages", res.PageCount),
	)

	if req.WebhookURL != nil && *req.WebhookURL != "" {
		snapshot, result := *req, *res
		s.runner.Go("webhook", func(ctx context.Context) error {
			return s.webhooks.Deliver(ctx, &snapshot, &result)
		})
	}
	return res, nil
}

// FetchResult returns the result metadata. The first call marks the result picked up.
func (s *DeliveryService) FetchResult(ctx context.Context, key *model.APIKey, requestID string) (*model.ResultView, error) {
	res, err := s.ownedResult(ctx, key, requestID)
	if err != nil {
		return nil, err
	}

	if !res.PickedUp {
		at := s.now()
		stamped, err := s.results.MarkPickedUp(ctx, res.ID, at)
		if err != nil {
			return nil, err
		}
		if stamped {
			res.PickedUp, res.PickedUpAt = true, &at
		} else if res, err = s.results.GetByRequestID(ctx, requestID); err != nil {
			return nil, err
		}
	}

	return &model.ResultView{
		ID:             res.ID,
		RequestID:      res.RequestID,
		PDFURL:         pdfURL(s.baseURL, res.RequestID),
		TextURL:        textURL(s.baseURL, res.RequestID),
		PDFSizeBytes:   res.PDFSizeBytes,
		PageCount:      res.PageCount,
		OCRTextPreview: model.OCRPreview(res.OCRText),
		CreatedAt:      res.CreatedAt,
		PickedUp:       res.PickedUp,
		PickedUpAt:     res.PickedUpAt,
		AutoDeleteAt:   res.AutoDeleteAt,
	}, nil
}

// FetchPDF fails with model.ErrFileDeleted when the row outlived its blob.
func (s *DeliveryService) FetchPDF(ctx context.Context, key *model.APIKey, requestID string) ([]byte, error) {
	res, err := s.ownedResult(ctx, key, requestID)
	if err != nil {
		return nil, err
	}

	ok, err := s.blobs.Exists(ctx, res.PDFPath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, model.ErrFileDeleted
	}

	data, err := s.blobs.Read(ctx, res.PDFPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, model.ErrFileDeleted
		}
		return nil, err
	}
	return data, nil
}

func (s *DeliveryService) FetchText(ctx context.Context, key *model.APIKey, requestID string) (string, error) {
	res, err := s.ownedResult(ctx, key, requestID)
	if err != nil {
		return "", err
	}
	return res.OCRText, nil
}

func (s *DeliveryService) ownedResult(ctx context.Context, key *model.APIKey, requestID string) (*model.ScanResult, error) {
	if !isUUID(requestID) {
		return nil, model.ErrRequestNotFound
	}
	if _, err := s.requests.GetForKey(ctx, requestID, key.ID); err != nil {
		return nil, err
	}
	return s.results.GetByRequestID(ctx, requestID)
}
