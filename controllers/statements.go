package controllers

import (
	"fmt"
	"path/filepath"

	"tuitionledger/config"
	"tuitionledger/middleware"
	"tuitionledger/services/reconciliation"
	"tuitionledger/utils"

	"github.com/gofiber/fiber/v2"
)

// StatementController imports bank statements and lists upload batches
type StatementController struct {
	ledger *reconciliation.Service
	cfg    *config.Config
}

func NewStatementController(ledger *reconciliation.Service, cfg *config.Config) *StatementController {
	return &StatementController{ledger: ledger, cfg: cfg}
}

// Import POST /api/statements/import
// Multipart form with file field: file (csv or xlsx)
func (sc *StatementController) Import(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file is required"})
	}

	name := utils.SafeFileName(fh.Filename)
	if name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file name is required"})
	}
	if !sc.cfg.AllowsExtension(filepath.Ext(name)) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("unsupported file type (%s)", sc.cfg.AllowedExtensions),
		})
	}
	if sc.cfg.MaxFileSize > 0 && fh.Size > sc.cfg.MaxFileSize {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": fmt.Sprintf("file exceeds %d bytes", sc.cfg.MaxFileSize),
		})
	}

	f, err := fh.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "cannot open file"})
	}
	defer f.Close()

	summary, err := sc.ledger.ImportStatement(c.UserContext(), name, f, middleware.CurrentUserID(c))
	if err != nil {
		return serviceError(c, err)
	}

	middleware.LogActivity(c, "IMPORT", "statements", summary.BatchID, fiber.Map{
		"file_name":  summary.FileName,
		"rows":       summary.Rows,
		"matched":    summary.Matched,
		"unmatched":  summary.Unmatched,
		"duplicates": summary.Duplicates,
		"errors":     len(summary.Errors),
	})

	return c.JSON(fiber.Map{
		"success": true,
		"summary": summary,
	})
}

// GetBatches GET /api/statements/batches
func (sc *StatementController) GetBatches(c *fiber.Ctx) error {
	list, err := sc.ledger.ListBatches(c.UserContext(), c.QueryInt("page", 1), c.QueryInt("limit", 20))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(list)
}

// GetBatch GET /api/statements/batches/:id
// Includes the batch's transactions so unmatched rows can be assigned.
func (sc *StatementController) GetBatch(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return invalidID(c, "batch")
	}

	batch, err := sc.ledger.GetBatch(c.UserContext(), id)
	if err != nil {
		return serviceError(c, err)
	}
	txs, err := sc.ledger.ListTransactions(c.UserContext(), reconciliation.TransactionFilter{
		BatchID:         id,
		IncludeReversed: true,
		Limit:           100,
		Page:            c.QueryInt("page", 1),
	})
	if err != nil {
		return serviceError(c, err)
	}

	return c.JSON(fiber.Map{
		"batch":        batch,
		"transactions": utils.ToTransactionDTOs(txs.Transactions),
		"pagination":   txs.Pagination,
	})
}
