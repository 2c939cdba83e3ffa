package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"agentscan/internal/model"
)

// completedRequest walks a request through accept and complete and returns its id.
func (f *relayFixture) completedRequest(t *testing.T, in *model.CreateScanRequest, art model.Artifact) string {
	t.Helper()
	ctx := context.Background()

	id := f.create(t, in)
	if _, err := f.lifecycle.Accept(ctx, f.key, f.phoneA, id); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.lifecycle.Complete(ctx, f.key, f.phoneA, id, art); err != nil {
		t.Fatalf("complete: %v", err)
	}
	return id
}

func TestDelivery_RoundTrip(t *testing.T) {
	f := newRelayFixture(t)
	ctx := context.Background()
	art := pdfArtifact()
	id := f.completedRequest(t, &model.CreateScanRequest{Message: "invoice"}, art)

	if stored := f.store.results[id]; stored == nil || stored.PickedUp {
		t.Fatalf("fresh result should exist and not be picked up: %+v", stored)
	}

	view, err := f.delivery.FetchResult(ctx, f.key, id)
	if err != nil {
		t.Fatalf("fetch result: %v", err)
	}
	if view.RequestID != id || view.PageCount != 2 || view.PDFSizeBytes != int64(len(art.PDF)) {
		t.Errorf("unexpected view %+v", view)
	}
	if want := testBaseURL + "/api/v1/requests/" + id + "/pdf"; view.PDFURL != want {
		t.Errorf("pdf_url = %q, want %q", view.PDFURL, want)
	}
	if want := testBaseURL + "/api/v1/requests/" + id + "/text"; view.TextURL != want {
		t.Errorf("text_url = %q, want %q", view.TextURL, want)
	}
	if !view.AutoDeleteAt.Equal(f.clock.Now().Add(24 * time.Hour)) {
		t.Errorf("auto_delete_at = %v", view.AutoDeleteAt)
	}

	pdf, err := f.delivery.FetchPDF(ctx, f.key, id)
	if err != nil {
		t.Fatalf("fetch pdf: %v", err)
	}
	if !bytes.Equal(pdf, art.PDF) {
		t.Errorf("pdf bytes differ: %q", pdf)
	}

	text, err := f.delivery.FetchText(ctx, f.key, id)
	if err != nil {
		t.Fatalf("fetch text: %v", err)
	}
	if text != art.OCRText {
		t.Errorf("text = %q, want %q", text, art.OCRText)
	}
}

func TestDelivery_PickedUpIsStampedOnce(t *testing.T) {
	f := newRelayFixture(t)
	ctx := context.Background()
	id := f.completedRequest(t, &model.CreateScanRequest{Message: "x"}, pdfArtifact())

	first, err := f.delivery.FetchResult(ctx, f.key, id)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if !first.PickedUp || first.PickedUpAt == nil {
		t.Fatal("first fetch should mark the result picked up")
	}
	stamp := *first.PickedUpAt

	f.clock.Advance(time.Minute)
	second, err := f.delivery.FetchResult(ctx, f.key, id)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if second.PickedUpAt == nil || !second.PickedUpAt.Equal(stamp) {
		t.Errorf("picked_up_at moved: %v -> %v", stamp, second.PickedUpAt)
	}
}

func TestDelivery_DefaultsPageCount(t *testing.T) {
	f := newRelayFixture(t)
	id := f.completedRequest(t, &model.CreateScanRequest{Message: "x"}, model.Artifact{PDF: []byte("%PDF"), PageCount: -3})

	view, err := f.delivery.FetchResult(context.Background(), f.key, id)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if view.PageCount != model.DefaultPageCount {
		t.Errorf("page_count = %d, want %d", view.PageCount, model.DefaultPageCount)
	}
}

func TestDelivery_PreviewIsTruncated(t *testing.T) {
	f := newRelayFixture(t)
	long := strings.Repeat("é", model.OCRPreviewLen+50)
	id := f.completedRequest(t, &model.CreateScanRequest{Message: "x"}, model.Artifact{PDF: []byte("%PDF"), OCRText: long})

	view, err := f.delivery.FetchResult(context.Background(), f.key, id)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if n := len([]rune(view.OCRTextPreview)); n != model.OCRPreviewLen {
		t.Errorf("preview has %d runes, want %d", n, model.OCRPreviewLen)
	}

	text, _ := f.delivery.FetchText(context.Background(), f.key, id)
	if text != long {
		t.Error("full text should not be truncated")
	}
}

func TestDelivery_MissingBlobIsFileDeleted(t *testing.T) {
	f := newRelayFixture(t)
	ctx := context.Background()
	id := f.completedRequest(t, &model.CreateScanRequest{Message: "x"}, pdfArtifact())

	for _, h := range f.blobs.saved {
		if err := f.blobs.Blob.Delete(ctx, h); err != nil {
			t.Fatalf("delete blob: %v", err)
		}
	}

	if _, err := f.delivery.FetchPDF(ctx, f.key, id); !errors.Is(err, model.ErrFileDeleted) {
		t.Errorf("expected ErrFileDeleted, got %v", err)
	}
	if _, err := f.delivery.FetchResult(ctx, f.key, id); err != nil {
		t.Errorf("metadata should still be served: %v", err)
	}
}

func TestDelivery_NoResultYet(t *testing.T) {
	f := newRelayFixture(t)
	ctx := context.Background()
	id := f.create(t, &model.CreateScanRequest{Message: "x"})

	if _, err := f.delivery.FetchResult(ctx, f.key, id); !errors.Is(err, model.ErrNoResult) {
		t.Errorf("expected ErrNoResult, got %v", err)
	}
	if _, err := f.delivery.FetchPDF(ctx, f.key, "bogus"); !errors.Is(err, model.ErrRequestNotFound) {
		t.Errorf("malformed id: expected ErrRequestNotFound, got %v", err)
	}
}

func TestDelivery_FailedCompletionRemovesBlob(t *testing.T) {
	f := newRelayFixture(t)
	ctx := context.Background()
	id := f.create(t, &model.CreateScanRequest{Message: "x"})
	if _, err := f.lifecycle.Accept(ctx, f.key, f.phoneA, id); err != nil {
		t.Fatalf("accept: %v", err)
	}

	f.store.completeErr = errors.New("connection reset")
	if _, err := f.lifecycle.Complete(ctx, f.key, f.phoneA, id, pdfArtifact()); err == nil {
		t.Fatal("expected completion to fail")
	}

	if len(f.blobs.saved) != 1 || len(f.blobs.deleted) != 1 || f.blobs.saved[0] != f.blobs.deleted[0] {
		t.Errorf("expected the saved blob to be removed, saved=%v deleted=%v", f.blobs.saved, f.blobs.deleted)
	}
	if got := f.status(t, id); got != model.StatusScanning {
		t.Errorf("status = %q, want scanning", got)
	}
}

func TestDelivery_WebhookScheduledOnlyWithURL(t *testing.T) {
	f := newRelayFixture(t)

	f.completedRequest(t, &model.CreateScanRequest{Message: "quiet"}, pdfArtifact())
	if f.runner.count("webhook") != 0 {
		t.Errorf("no webhook expected without url")
	}

	id := f.completedRequest(t, &model.CreateScanRequest{Message: "loud", WebhookURL: strPtr("https://hooks.example.com/scan")}, pdfArtifact())
	if len(f.webhooks.deliveries) != 1 {
		t.Fatalf("expected one webhook, got %d", len(f.webhooks.deliveries))
	}
	got := f.webhooks.deliveries[0]
	if got.ID != id || got.Status != model.StatusCompleted || got.CompletedAt == nil {
		t.Errorf("webhook saw %+v", got)
	}
}
