package controllers

import (
	"errors"
	"strconv"
	"strings"

	"tuitionledger/database"
	"tuitionledger/middleware"
	"tuitionledger/models"
	"tuitionledger/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type StudentController struct{}

type studentRequest struct {
	StudentNumber string `json:"student_number" validate:"required,max=50"`
	FirstName     string `json:"first_name" validate:"required,max=100"`
	LastName      string `json:"last_name" validate:"max=100"`
	GradeLevel    string `json:"grade_level" validate:"max=50"`
	ParentName    string `json:"parent_name" validate:"max=200"`
	ParentPhone   string `json:"parent_phone" validate:"max=20"`
	ParentEmail   string `json:"parent_email" validate:"omitempty,email"`
	Active        *bool  `json:"active"`
}

type studentUpdateRequest struct {
	StudentNumber *string `json:"student_number" validate:"omitempty,max=50"`
	FirstName     *string `json:"first_name" validate:"omitempty,max=100"`
	LastName      *string `json:"last_name" validate:"omitempty,max=100"`
	GradeLevel    *string `json:"grade_level" validate:"omitempty,max=50"`
	ParentName    *string `json:"parent_name" validate:"omitempty,max=200"`
	ParentPhone   *string `json:"parent_phone" validate:"omitempty,max=20"`
	ParentEmail   *string `json:"parent_email" validate:"omitempty,email"`
	Active        *bool   `json:"active"`
}

// GetStudents returns students with pagination
// Query params: page, limit, active (true|false), q (number or name)
func (sc *StudentController) GetStudents(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	query := database.DB.Model(&models.Student{})
	if v := c.Query("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "active must be true or false"})
		}
		query = query.Where("active = ?", active)
	}
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		like := "%" + q + "%"
		query = query.Where("student_number LIKE ? OR first_name LIKE ? OR last_name LIKE ?", like, like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to count students",
		})
	}

	var students []models.Student
	if err := query.Order("student_number").Offset((page - 1) * limit).Limit(limit).Find(&students).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch students",
		})
	}

	return c.JSON(fiber.Map{
		"students": students,
		"pagination": fiber.Map{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetStudent returns a specific student by ID
func (sc *StudentController) GetStudent(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return invalidID(c, "student")
	}

	var student models.Student
	if err := database.DB.First(&student, id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Student not found",
		})
	}
	return c.JSON(fiber.Map{"student": student})
}

// CreateStudent registers a billable student
func (sc *StudentController) CreateStudent(c *fiber.Ctx) error {
	var req studentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	req.StudentNumber = utils.NormalizeStudentNumber(req.StudentNumber)
	if err := validate.Struct(&req); err != nil {
		return validationError(c, err)
	}

	var existing models.Student
	if err := database.DB.Where("student_number = ?", req.StudentNumber).First(&existing).Error; err == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Student number already exists",
		})
	}

	student := models.Student{
		StudentNumber: req.StudentNumber,
		FirstName:     strings.TrimSpace(req.FirstName),
		LastName:      strings.TrimSpace(req.LastName),
		GradeLevel:    strings.TrimSpace(req.GradeLevel),
		ParentName:    strings.TrimSpace(req.ParentName),
		ParentPhone:   strings.TrimSpace(req.ParentPhone),
		ParentEmail:   strings.TrimSpace(req.ParentEmail),
		Active:        true,
	}
	err := database.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&student).Error; err != nil {
			return err
		}
		// the column default swallows a false on insert
		if req.Active != nil && !*req.Active {
			student.Active = false
			return tx.Model(&student).Update("active", false).Error
		}
		return nil
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create student",
		})
	}

	middleware.LogActivity(c, "CREATE", "students", student.ID, utils.ToStudentShort(student))

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Student created successfully",
		"student": student,
	})
}

// UpdateStudent edits a student. The student number is frozen once invoices
// carry it as their reference.
func (sc *StudentController) UpdateStudent(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return invalidID(c, "student")
	}

	var req studentUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.StudentNumber != nil {
		n := utils.NormalizeStudentNumber(*req.StudentNumber)
		req.StudentNumber = &n
	}
	if err := validate.Struct(&req); err != nil {
		return validationError(c, err)
	}

	var student models.Student
	if err := database.DB.First(&student, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Student not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch student"})
	}

	updates := map[string]interface{}{}
	if req.StudentNumber != nil && *req.StudentNumber != student.StudentNumber {
		if *req.StudentNumber == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Student number cannot be empty"})
		}
		var invoices int64
		database.DB.Model(&models.Invoice{}).Where("student_id = ?", student.ID).Count(&invoices)
		if invoices > 0 {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Student number is in use as an invoice reference",
			})
		}
		var clash int64
		database.DB.Model(&models.Student{}).Where("student_number = ? AND id <> ?", *req.StudentNumber, student.ID).Count(&clash)
		if clash > 0 {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Student number already exists"})
		}
		updates["student_number"] = *req.StudentNumber
	}
	setTrimmed := func(col string, v *string) {
		if v != nil {
			updates[col] = strings.TrimSpace(*v)
		}
	}
	setTrimmed("first_name", req.FirstName)
	setTrimmed("last_name", req.LastName)
	setTrimmed("grade_level", req.GradeLevel)
	setTrimmed("parent_name", req.ParentName)
	setTrimmed("parent_phone", req.ParentPhone)
	setTrimmed("parent_email", req.ParentEmail)
	if req.Active != nil {
		updates["active"] = *req.Active
	}
	if len(updates) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "No fields to update"})
	}

	if err := database.DB.Model(&student).Updates(updates).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update student",
		})
	}

	middleware.LogActivity(c, "UPDATE", "students", student.ID, updates)

	return c.JSON(fiber.Map{
		"message": "Student updated successfully",
		"student": student,
	})
}
