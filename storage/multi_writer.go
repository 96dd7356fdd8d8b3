package storage

import (
	"context"
	"errors"

	"booking-scraper/models"
	"booking-scraper/utils"
)

// MultiWriter writes every batch to a primary sink and then to best-effort
// mirrors. Only the primary decides whether a batch was persisted; mirror
// failures are logged.
type MultiWriter struct {
	primary BatchWriter
	mirrors []BatchWriter
	logger  *utils.Logger
}

func NewMultiWriter(logger *utils.Logger, primary BatchWriter, mirrors ...BatchWriter) *MultiWriter {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &MultiWriter{primary: primary, mirrors: mirrors, logger: logger.With("component", "multi-writer")}
}

func (m *MultiWriter) WriteBatch(ctx context.Context, records []*models.Record) error {
	if err := m.primary.WriteBatch(ctx, records); err != nil {
		return err
	}
	for _, mirror := range m.mirrors {
		if err := mirror.WriteBatch(ctx, records); err != nil {
			m.logger.Warn("[writer] mirror %T failed for %d records: %v", mirror, len(records), err)
		}
	}
	return nil
}

func (m *MultiWriter) Close() error {
	errs := []error{m.primary.Close()}
	for _, mirror := range m.mirrors {
		errs = append(errs, mirror.Close())
	}
	return errors.Join(errs...)
}
