package reconciliation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"tuitionledger/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// rowAttempts bounds retries of a single statement row after a lock conflict
const rowAttempts = 3

// RowError is one statement row that could not be processed
type RowError struct {
	Row       int    `json:"row"`
	Reference string `json:"reference,omitempty"`
	Field     string `json:"field,omitempty"`
	Reason    string `json:"reason"`
}

// BatchSummary is the result of one statement import. It is built per call
// and never shared between requests.
type BatchSummary struct {
	BatchID    uint       `json:"batch_id"`
	FileName   string     `json:"file_name"`
	SourceKey  string     `json:"source_key,omitempty"`
	Rows       int        `json:"rows"`
	Processed  int        `json:"processed"`
	Matched    int        `json:"matched"`
	Partial    int        `json:"partial"`
	Overpaid   int        `json:"overpaid"`
	Unmatched  int        `json:"unmatched"`
	Duplicates int        `json:"duplicates"`
	Errors     []RowError `json:"errors"`
	// BatchPersistError is set when the rows committed but the batch counters could not be saved
	BatchPersistError string `json:"batch_persist_error,omitempty"`
}

func (b *BatchSummary) count(c models.Classification) {
	switch c {
	case models.ClassMatched:
		b.Matched++
	case models.ClassPartial:
		b.Partial++
	case models.ClassOverpaid:
		b.Overpaid++
	case models.ClassUnmatched:
		b.Unmatched++
	case models.ClassDuplicate:
		b.Duplicates++
	}
}

// ImportStatement runs an uploaded bank statement through
// parse, dedup, match and apply. Each row commits on its own so one failing
// row never rolls back the rows before it.
func (s *Service) ImportStatement(ctx context.Context, fileName string, r io.Reader, uploadedBy uint) (*BatchSummary, error) {
	data, err := readAllLimited(r, s.opts.MaxStatementBytes)
	if err != nil {
		return nil, err
	}
	rows, err := ParseStatement(fileName, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	summary := &BatchSummary{FileName: fileName, Rows: len(rows), Errors: []RowError{}}

	if s.archiver != nil {
		key, err := s.archiver.ArchiveStatement(ctx, fileName, data)
		if err != nil {
			logrus.WithError(err).WithField("file_name", fileName).Warn("Failed to archive statement, continuing import")
		} else {
			summary.SourceKey = key
		}
	}

	db := s.db.WithContext(ctx)
	batch := &models.UploadBatch{
		FileName:   fileName,
		SourceKey:  summary.SourceKey,
		UploadedBy: uploadedBy,
		UploadedAt: s.now(),
		RowCount:   len(rows),
	}
	if err := db.Create(batch).Error; err != nil {
		return nil, fmt.Errorf("failed to create upload batch: %w", classifyDBError(err))
	}
	summary.BatchID = batch.ID

	fp := newFingerprinter()
	for _, row := range rows {
		if !row.Valid() {
			summary.Errors = append(summary.Errors, RowError{
				Row:    row.Row,
				Field:  row.Err.Field,
				Reason: string(row.Err.Reason),
			})
			logrus.WithFields(logrus.Fields{"batch_id": batch.ID, "row": row.Row}).Warn(row.Err.Error())
			continue
		}

		summary.Processed++
		entry := *row.Entry
		class, err := s.importRow(db, batch.ID, entry, fp.next(entry), uploadedBy)
		if err != nil {
			summary.Errors = append(summary.Errors, RowError{
				Row:       row.Row,
				Reference: entry.Reference,
				Reason:    err.Error(),
			})
			logrus.WithError(err).WithFields(logrus.Fields{
				"batch_id":  batch.ID,
				"row":       row.Row,
				"reference": entry.Reference,
			}).Warn("Statement row failed")
			continue
		}
		summary.count(class)
	}

	// Rows are already committed, so a failed batch update only loses the stored counters
	if err := s.finishBatch(db, batch, summary); err != nil {
		summary.BatchPersistError = err.Error()
		logrus.WithError(err).WithField("batch_id", batch.ID).Error("Failed to store batch summary")
	}

	logrus.WithFields(logrus.Fields{
		"batch_id":   summary.BatchID,
		"file_name":  fileName,
		"rows":       summary.Rows,
		"processed":  summary.Processed,
		"matched":    summary.Matched,
		"partial":    summary.Partial,
		"overpaid":   summary.Overpaid,
		"unmatched":  summary.Unmatched,
		"duplicates": summary.Duplicates,
		"errors":     len(summary.Errors),
	}).Info("Statement imported")

	s.publish(EventStatementImported, summary)
	return summary, nil
}

// importRow retries on lock conflicts; the row's transaction is rolled back
// before each retry so nothing is half applied
func (s *Service) importRow(db *gorm.DB, batchID uint, e Entry, fingerprint string, uploadedBy uint) (models.Classification, error) {
	var class models.Classification
	var err error
	for attempt := 1; attempt <= rowAttempts; attempt++ {
		class, err = s.applyRow(db, batchID, e, fingerprint, uploadedBy)
		if !errors.Is(err, ErrInvoiceLockConflict) {
			break
		}
		logrus.WithFields(logrus.Fields{"batch_id": batchID, "attempt": attempt}).Warn("Invoice lock conflict, retrying row")
	}
	if errors.Is(err, errDuplicate) {
		return models.ClassDuplicate, nil
	}
	return class, err
}

// applyRow records the fingerprint, the transaction and the balance change
// in one database transaction
func (s *Service) applyRow(db *gorm.DB, batchID uint, e Entry, fingerprint string, uploadedBy uint) (models.Classification, error) {
	var class models.Classification
	err := db.Transaction(func(tx *gorm.DB) error {
		exists, err := fingerprintExists(tx, fingerprint)
		if err != nil {
			return err
		}
		if exists {
			return errDuplicate
		}

		inv, err := s.matcher.Resolve(tx, e)
		if err != nil {
			return err
		}
		class = Classify(inv, e.Amount)

		bid := batchID
		pt := &models.PaymentTransaction{
			BatchID:        &bid,
			Amount:         e.Amount,
			Date:           e.Date,
			RawReference:   e.Reference,
			Method:         models.MethodBankImport,
			Classification: class,
			Fingerprint:    fingerprint,
			CreatedBy:      uploadedBy,
		}
		if inv != nil {
			id := inv.ID
			pt.InvoiceID = &id
		}
		if err := tx.Omit(clause.Associations).Create(pt).Error; err != nil {
			if isDuplicateKey(err) {
				return errDuplicate
			}
			return fmt.Errorf("failed to record transaction: %w", classifyDBError(err))
		}

		_, err = s.ledger.Apply(tx, pt.InvoiceID, e.Amount)
		return err
	})
	return class, err
}

func (s *Service) finishBatch(db *gorm.DB, batch *models.UploadBatch, summary *BatchSummary) error {
	errs, err := json.Marshal(summary.Errors)
	if err != nil {
		return err
	}
	batch.Processed = summary.Processed
	batch.Matched = summary.Matched
	batch.Partial = summary.Partial
	batch.Overpaid = summary.Overpaid
	batch.Unmatched = summary.Unmatched
	batch.Duplicates = summary.Duplicates
	batch.ErrorCount = len(summary.Errors)
	batch.Errors = models.JSON(errs)
	if err := db.Save(batch).Error; err != nil {
		return fmt.Errorf("failed to update upload batch %d: %w", batch.ID, classifyDBError(err))
	}
	return nil
}
