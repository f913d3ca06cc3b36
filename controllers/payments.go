package controllers

import (
	"strings"
	"time"

	"tuitionledger/middleware"
	"tuitionledger/models"
	"tuitionledger/services/reconciliation"
	"tuitionledger/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// PaymentController handles manual payments and unmatched bank rows
type PaymentController struct {
	ledger *reconciliation.Service
}

func NewPaymentController(ledger *reconciliation.Service) *PaymentController {
	return &PaymentController{ledger: ledger}
}

type manualPaymentRequest struct {
	StudentID uint            `json:"student_id" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Date      string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Month     int             `json:"month" validate:"required,min=1,max=12"`
	Year      int             `json:"year" validate:"required,min=2000,max=2100"`
	Reference string          `json:"reference" validate:"max=255"`
	Notes     string          `json:"notes" validate:"max=1000"`
}

type manualPaymentUpdateRequest struct {
	Amount    *decimal.Decimal `json:"amount"`
	Date      *string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Month     *int             `json:"month" validate:"omitempty,min=1,max=12"`
	Year      *int             `json:"year" validate:"omitempty,min=2000,max=2100"`
	Reference *string          `json:"reference" validate:"omitempty,max=255"`
	Notes     *string          `json:"notes" validate:"omitempty,max=1000"`
}

type assignRequest struct {
	InvoiceID uint `json:"invoice_id" validate:"required"`
}

// GetPayments GET /api/payments
// Query params: method, classification, unmatched, batch_id, invoice_id, include_reversed, page, limit
func (pc *PaymentController) GetPayments(c *fiber.Ctx) error {
	f := reconciliation.TransactionFilter{
		Method:          models.PaymentMethod(strings.TrimSpace(c.Query("method"))),
		Classification:  models.Classification(strings.TrimSpace(c.Query("classification"))),
		Unmatched:       c.QueryBool("unmatched"),
		BatchID:         uint(c.QueryInt("batch_id")),
		InvoiceID:       uint(c.QueryInt("invoice_id")),
		IncludeReversed: c.QueryBool("include_reversed"),
		Page:            c.QueryInt("page", 1),
		Limit:           c.QueryInt("limit", 20),
	}

	list, err := pc.ledger.ListTransactions(c.UserContext(), f)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{
		"transactions": utils.ToTransactionDTOs(list.Transactions),
		"pagination":   list.Pagination,
	})
}

// AddPayment POST /api/payments
func (pc *PaymentController) AddPayment(c *fiber.Ctx) error {
	var req manualPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := validate.Struct(&req); err != nil {
		return validationError(c, err)
	}

	in := reconciliation.ManualPaymentInput{
		StudentID: req.StudentID,
		Amount:    req.Amount,
		Month:     req.Month,
		Year:      req.Year,
		Reference: req.Reference,
		Notes:     req.Notes,
		CreatedBy: middleware.CurrentUserID(c),
	}
	if req.Date != "" {
		in.Date, _ = time.Parse("2006-01-02", req.Date)
	}

	inv, pt, err := pc.ledger.AddManualPayment(c.UserContext(), in)
	if err != nil {
		return serviceError(c, err)
	}

	middleware.LogActivity(c, "CREATE", "payments", pt.ID, fiber.Map{
		"invoice_id": inv.ID,
		"amount":     pt.Amount.StringFixed(2),
	})

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":     "Payment recorded",
		"transaction": utils.ToTransactionDTO(*pt),
		"invoice":     utils.ToInvoiceDTO(*inv),
	})
}

// UpdatePayment PUT /api/payments/:id
func (pc *PaymentController) UpdatePayment(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return invalidID(c, "payment")
	}

	var req manualPaymentUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := validate.Struct(&req); err != nil {
		return validationError(c, err)
	}

	upd := reconciliation.ManualPaymentUpdate{
		Amount:    req.Amount,
		Month:     req.Month,
		Year:      req.Year,
		Reference: req.Reference,
		Notes:     req.Notes,
	}
	if req.Date != nil {
		d, _ := time.Parse("2006-01-02", *req.Date)
		upd.Date = &d
	}

	inv, pt, err := pc.ledger.UpdateManualPayment(c.UserContext(), id, upd)
	if err != nil {
		return serviceError(c, err)
	}

	middleware.LogActivity(c, "UPDATE", "payments", pt.ID, fiber.Map{
		"invoice_id": inv.ID,
		"amount":     pt.Amount.StringFixed(2),
	})

	return c.JSON(fiber.Map{
		"message":     "Payment updated",
		"transaction": utils.ToTransactionDTO(*pt),
		"invoice":     utils.ToInvoiceDTO(*inv),
	})
}

// DeletePayment DELETE /api/payments/:id
// The row is kept as a reversed entry and its amount is taken off the invoice.
func (pc *PaymentController) DeletePayment(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return invalidID(c, "payment")
	}

	inv, err := pc.ledger.DeleteManualPayment(c.UserContext(), id)
	if err != nil {
		return serviceError(c, err)
	}

	middleware.LogActivity(c, "DELETE", "payments", id, fiber.Map{"invoice_id": inv.ID})

	return c.JSON(fiber.Map{
		"message": "Payment reversed",
		"invoice": utils.ToInvoiceDTO(*inv),
	})
}

// AssignPayment POST /api/payments/:id/assign
// Links an unmatched bank row to an invoice picked by staff.
func (pc *PaymentController) AssignPayment(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return invalidID(c, "payment")
	}

	var req assignRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := validate.Struct(&req); err != nil {
		return validationError(c, err)
	}

	inv, pt, err := pc.ledger.AssignTransaction(c.UserContext(), id, req.InvoiceID)
	if err != nil {
		return serviceError(c, err)
	}

	middleware.LogActivity(c, "ASSIGN", "payments", pt.ID, fiber.Map{
		"invoice_id":     inv.ID,
		"classification": pt.Classification,
	})

	return c.JSON(fiber.Map{
		"message":     "Payment assigned",
		"transaction": utils.ToTransactionDTO(*pt),
		"invoice":     utils.ToInvoiceDTO(*inv),
	})
}
