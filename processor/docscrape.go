package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/VadimVDM/VisAPI-sub006/job"
	"github.com/VadimVDM/VisAPI-sub006/provider/scraper"
	"github.com/VadimVDM/VisAPI-sub006/retry"
)

// DocumentScrape retrieves an issued visa document for an order.
type DocumentScrape struct {
	OrderID        string `json:"order_id"`
	Country        string `json:"country"`
	ApplicationRef string `json:"application_ref"`
	PassportNumber string `json:"passport_number,omitempty"`
}

// JobType implements job.Payload.
func (DocumentScrape) JobType() job.Type { return job.TypeDocumentScrape }

// JobKey keeps one automation per order at a time.
func (p DocumentScrape) JobKey() string { return "scrape:" + p.OrderID }

// DocumentScrapeResult is recorded on the completed job.
type DocumentScrapeResult struct {
	OrderID     string         `json:"order_id"`
	Status      scraper.Status `json:"status"`
	DocumentURL string         `json:"document_url,omitempty"`
}

// DocumentScrapeDefinition returns the document-scrape job definition.
func (p *Processors) DocumentScrapeDefinition() *job.Definition[DocumentScrape, DocumentScrapeResult] {
	return job.NewDefinition(p.ScrapeDocument,
		job.WithLane(job.LaneDefault),
		job.WithMaxAttempts(3),
		job.WithTimeout(10*time.Minute),
	)
}

// ScrapeDocument is the document-scrape handler. completed and not_found
// both finish the job; failed is permanent and retry is transient.
func (p *Processors) ScrapeDocument(ctx context.Context, in DocumentScrape) (DocumentScrapeResult, error) {
	res := DocumentScrapeResult{OrderID: in.OrderID}
	if in.OrderID == "" || in.ApplicationRef == "" {
		return res, retry.Permanent(errors.New("document scrape: order id and application ref are required"))
	}
	if p.scraper == nil {
		return res, retry.Permanent(errors.New("document scrape: no scraper configured"))
	}

	out, err := p.scraper.Scrape(ctx, scraper.Request{
		OrderID:        in.OrderID,
		Country:        in.Country,
		ApplicationRef: in.ApplicationRef,
		PassportNumber: in.PassportNumber,
	})
	if err != nil {
		return res, fmt.Errorf("scrape %s: %w", in.OrderID, err)
	}

	res.Status = out.Status
	switch out.Status {
	case scraper.StatusCompleted:
		res.DocumentURL = out.DocumentURL
		p.logger.Info("document retrieved",
			slog.String("order_id", in.OrderID),
			slog.String("document_url", out.DocumentURL),
		)
		return res, nil
	case scraper.StatusNotFound:
		p.logger.Info("document not issued yet", slog.String("order_id", in.OrderID))
		return res, nil
	case scraper.StatusRetry:
		return res, retry.Transient(fmt.Errorf("scrape %s: automation asked for retry: %s", in.OrderID, out.Reason))
	case scraper.StatusFailed:
		return res, retry.Permanent(fmt.Errorf("scrape %s: automation failed: %s", in.OrderID, out.Reason))
	}
	return res, retry.Permanent(fmt.Errorf("scrape %s: unknown automation status %q", in.OrderID, out.Status))
}
