package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rfichi/borrowed-book-api/internal/domain"
	"github.com/rfichi/borrowed-book-api/internal/observability/metrics"
)

// BookLookup is the part of the books directory the worker reads
type BookLookup interface {
	GetBook(ctx context.Context, bookID int64) (*domain.Book, error)
}

// Discrepancy is an active loan whose book the directory does not show as lent
type Discrepancy struct {
	RecordID int64
	BookID   int64
	UserID   int64
	Reason   string
}

// Report is the outcome of one pass
type Report struct {
	ActiveLoans   int
	Discrepancies []Discrepancy
	Unchecked     int
}

// ConsistencyWorker periodically compares active loans with book availability.
// It only reports; nothing is repaired.
type ConsistencyWorker struct {
	records  domain.BorrowRepository
	books    BookLookup
	logger   *slog.Logger
	interval time.Duration
}

// NewConsistencyWorker creates a new consistency worker
func NewConsistencyWorker(
	records domain.BorrowRepository,
	books BookLookup,
	logger *slog.Logger,
	interval time.Duration,
) *ConsistencyWorker {
	return &ConsistencyWorker{
		records:  records,
		books:    books,
		logger:   logger,
		interval: interval,
	}
}

// Start runs a check every interval until ctx is cancelled
func (w *ConsistencyWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("consistency worker started", slog.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("consistency worker stopped")
			return
		case <-ticker.C:
			if _, err := w.Check(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("consistency check failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Check runs one pass and records its outcome in metrics
func (w *ConsistencyWorker) Check(ctx context.Context) (*Report, error) {
	active, err := w.records.ListActive(ctx)
	if err != nil {
		metrics.ObserveConsistencyCheck("error", 0, 0)
		return nil, err
	}

	report := &Report{ActiveLoans: len(active)}
	for _, rec := range active {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger := w.logger.With(
			slog.Int64("record_id", rec.ID),
			slog.Int64("book_id", rec.BookID),
			slog.Int64("user_id", rec.UserID),
		)

		book, err := w.books.GetBook(ctx, rec.BookID)
		switch {
		case errors.Is(err, domain.ErrBookNotFound):
			report.Discrepancies = append(report.Discrepancies, Discrepancy{rec.ID, rec.BookID, rec.UserID, "book missing from directory"})
			logger.Warn("active loan references a missing book")
		case err != nil:
			report.Unchecked++
			logger.Warn("could not check book", slog.String("error", err.Error()))
		case book.IsAvailable:
			report.Discrepancies = append(report.Discrepancies, Discrepancy{rec.ID, rec.BookID, rec.UserID, "book marked available"})
			logger.Warn("book marked available while a loan is active")
		}
	}

	result := "ok"
	switch {
	case report.Unchecked > 0:
		result = "partial"
	case len(report.Discrepancies) > 0:
		result = "discrepancies"
	}
	metrics.ObserveConsistencyCheck(result, report.ActiveLoans, len(report.Discrepancies))

	w.logger.Info("consistency check completed",
		slog.Int("active_loans", report.ActiveLoans),
		slog.Int("discrepancies", len(report.Discrepancies)),
		slog.Int("unchecked", report.Unchecked),
	)
	return report, nil
}
