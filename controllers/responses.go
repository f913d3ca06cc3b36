package controllers

import (
	"errors"
	"strconv"

	"tuitionledger/services/reconciliation"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

var validate = validator.New()

// validationError reports each failing field with the rule it broke
func validationError(c *fiber.Ctx, err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid input"})
	}

	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		fields[fe.Field()] = fe.Tag()
	}
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":  "Validation failed",
		"fields": fields,
	})
}

// statusFor maps ledger errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, reconciliation.ErrInvalidAmount),
		errors.Is(err, reconciliation.ErrInvalidPeriod),
		errors.Is(err, reconciliation.ErrInvalidFilter):
		return fiber.StatusBadRequest
	case errors.Is(err, reconciliation.ErrInvoiceNotFound),
		errors.Is(err, reconciliation.ErrStudentNotFound),
		errors.Is(err, reconciliation.ErrTransactionNotFound),
		errors.Is(err, reconciliation.ErrBatchNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, reconciliation.ErrInvoiceLockConflict),
		errors.Is(err, reconciliation.ErrNotManualEntry),
		errors.Is(err, reconciliation.ErrTransactionReversed),
		errors.Is(err, reconciliation.ErrAlreadyAssigned),
		errors.Is(err, reconciliation.ErrNegativeBalance):
		return fiber.StatusConflict
	case errors.Is(err, reconciliation.ErrMalformedStatement):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, reconciliation.ErrStatementTooLarge):
		return fiber.StatusRequestEntityTooLarge
	}
	return fiber.StatusInternalServerError
}

// serviceError writes err with its mapped status. Internal errors are logged
// and hidden from the client.
func serviceError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status == fiber.StatusInternalServerError {
		logrus.WithError(err).WithFields(logrus.Fields{
			"method": c.Method(),
			"path":   c.Path(),
		}).Error("Request failed")
		return c.Status(status).JSON(fiber.Map{"error": "Internal server error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// paramID parses a positive numeric route parameter
func paramID(c *fiber.Ctx, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Params(name), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func invalidID(c *fiber.Ctx, what string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid " + what + " ID"})
}
