package controllers

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"tuitionledger/middleware"
	"tuitionledger/models"
	"tuitionledger/services/reconciliation"
	"tuitionledger/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// InvoiceController exposes invoice listing, generation and export
type InvoiceController struct {
	ledger     *reconciliation.Service
	defaultFee decimal.Decimal
}

func NewInvoiceController(ledger *reconciliation.Service, defaultFee decimal.Decimal) *InvoiceController {
	return &InvoiceController{ledger: ledger, defaultFee: defaultFee}
}

type generateInvoicesRequest struct {
	Month     int              `json:"month" validate:"required,min=1,max=12"`
	Year      int              `json:"year" validate:"required,min=2000,max=2100"`
	AmountDue *decimal.Decimal `json:"amount_due"`
	DueDate   string           `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
}

func invoiceFilterFromQuery(c *fiber.Ctx) reconciliation.InvoiceFilter {
	return reconciliation.InvoiceFilter{
		Status:        models.InvoiceStatus(strings.TrimSpace(c.Query("status"))),
		Month:         c.QueryInt("month"),
		Year:          c.QueryInt("year"),
		StudentNumber: strings.TrimSpace(c.Query("student_number")),
		Page:          c.QueryInt("page", 1),
		Limit:         c.QueryInt("limit", 20),
	}
}

// GetInvoices GET /api/invoices
// Query params: status, month, year, student_number, page, limit
func (ic *InvoiceController) GetInvoices(c *fiber.Ctx) error {
	list, err := ic.ledger.ListInvoices(c.UserContext(), invoiceFilterFromQuery(c))
	if err != nil {
		return serviceError(c, err)
	}

	return c.JSON(fiber.Map{
		"invoices":   utils.ToInvoiceDTOs(list.Invoices),
		"summary":    list.Summary,
		"pagination": list.Pagination,
	})
}

// GetInvoice GET /api/invoices/:id
func (ic *InvoiceController) GetInvoice(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return invalidID(c, "invoice")
	}

	inv, err := ic.ledger.GetInvoice(c.UserContext(), id)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"invoice": utils.ToInvoiceDTO(*inv)})
}

// ExportInvoices GET /api/invoices/export?format=csv|xlsx
// Accepts the same filters as GetInvoices; pagination is ignored.
func (ic *InvoiceController) ExportInvoices(c *fiber.Ctx) error {
	f := invoiceFilterFromQuery(c)
	format := strings.ToLower(c.Query("format", "csv"))
	stamp := time.Now().Format("20060102_150405")

	var (
		buf         bytes.Buffer
		n           int
		err         error
		contentType string
		fileName    string
	)
	switch format {
	case "csv":
		n, err = ic.ledger.ExportInvoicesCSV(c.UserContext(), f, &buf)
		contentType = "text/csv; charset=utf-8"
		fileName = fmt.Sprintf("invoices_%s.csv", stamp)
	case "xlsx":
		n, err = ic.ledger.ExportInvoicesXLSX(c.UserContext(), f, &buf)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		fileName = fmt.Sprintf("invoices_%s.xlsx", stamp)
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "format must be csv or xlsx"})
	}
	if err != nil {
		return serviceError(c, err)
	}

	middleware.LogActivity(c, "EXPORT", "invoices", 0, fiber.Map{"format": format, "rows": n})

	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, fileName))
	return c.Send(buf.Bytes())
}

// VerifyIntegrity GET /api/invoices/integrity
func (ic *InvoiceController) VerifyIntegrity(c *fiber.Ctx) error {
	issues, err := ic.ledger.VerifyLedger(c.UserContext())
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{
		"consistent": len(issues) == 0,
		"issues":     issues,
	})
}

// GenerateInvoices POST /api/invoices/generate
// amount_due falls back to the configured monthly fee
func (ic *InvoiceController) GenerateInvoices(c *fiber.Ctx) error {
	var req generateInvoicesRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := validate.Struct(&req); err != nil {
		return validationError(c, err)
	}

	amount := ic.defaultFee
	if req.AmountDue != nil {
		amount = *req.AmountDue
	}
	var due *time.Time
	if req.DueDate != "" {
		t, _ := time.Parse("2006-01-02", req.DueDate)
		due = &t
	}

	result, err := ic.ledger.GenerateMonthlyInvoices(c.UserContext(), req.Month, req.Year, amount, due)
	if err != nil {
		return serviceError(c, err)
	}

	middleware.LogActivity(c, "GENERATE", "invoices", 0, fiber.Map{
		"month":      result.Month,
		"year":       result.Year,
		"amount_due": amount.StringFixed(2),
		"created":    result.CreatedCount,
		"skipped":    result.SkippedCount,
	})

	return c.JSON(fiber.Map{
		"message": "Invoices generated",
		"result":  result,
	})
}

// ClearInvoices DELETE /api/invoices
// Requires ?confirm=true since it wipes invoices, payments and batches.
func (ic *InvoiceController) ClearInvoices(c *fiber.Ctx) error {
	if !c.QueryBool("confirm") {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Pass confirm=true to delete all invoices",
		})
	}

	result, err := ic.ledger.ClearAllInvoices(c.UserContext())
	if err != nil {
		return serviceError(c, err)
	}

	middleware.LogActivity(c, "DELETE", "invoices", 0, result)

	return c.JSON(fiber.Map{
		"message": "All invoices cleared",
		"result":  result,
	})
}
