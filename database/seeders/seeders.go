package seeders

import (
	"log"
	"time"

	"tuitionledger/database"
	"tuitionledger/models"
	"tuitionledger/utils"
)

// SeedAll runs all seeders
func SeedAll() {
	log.Println("Starting database seeding...")

	SeedUsers()
	SeedStudents()

	log.Println("Database seeding completed successfully!")
}

// SeedUsers seeds the staff accounts
func SeedUsers() {
	var count int64
	database.DB.Model(&models.User{}).Count(&count)
	if count > 0 {
		log.Println("Users already seeded, skipping...")
		return
	}

	hashedPassword, err := utils.HashPassword("password123")
	if err != nil {
		log.Printf("Error hashing seed password: %v", err)
		return
	}

	created := time.Date(2025, 1, 6, 2, 0, 0, 0, time.UTC)
	users := []models.User{
		{
			BaseModel: models.BaseModel{ID: 1, CreatedAt: created},
			Username:  "owner",
			Password:  hashedPassword,
			Email:     "owner@school.local",
			FullName:  "School Owner",
			Role:      "owner",
			Status:    "active",
		},
		{
			BaseModel: models.BaseModel{ID: 2, CreatedAt: created},
			Username:  "admin",
			Password:  hashedPassword,
			Email:     "admin@school.local",
			FullName:  "Finance Admin",
			Role:      "admin",
			Status:    "active",
		},
		{
			BaseModel: models.BaseModel{ID: 3, CreatedAt: created},
			Username:  "bursar",
			Password:  hashedPassword,
			Email:     "bursar@school.local",
			FullName:  "Front Desk Bursar",
			Role:      "staff",
			Status:    "active",
		},
	}

	for _, user := range users {
		if err := database.DB.Create(&user).Error; err != nil {
			log.Printf("Error seeding user %s: %v", user.Username, err)
		}
	}

	log.Println("Users seeded successfully")
}

// SeedStudents seeds a handful of billable students
func SeedStudents() {
	var count int64
	database.DB.Model(&models.Student{}).Count(&count)
	if count > 0 {
		log.Println("Students already seeded, skipping...")
		return
	}

	students := []models.Student{
		{StudentNumber: "STU001", FirstName: "Alice", LastName: "Wilson", GradeLevel: "P4", ParentName: "Mary Wilson", ParentPhone: "0891234567", Active: true},
		{StudentNumber: "STU002", FirstName: "Bob", LastName: "Chen", GradeLevel: "P5", ParentName: "Wei Chen", ParentPhone: "0892345678", Active: true},
		{StudentNumber: "STU003", FirstName: "Chanya", LastName: "Srisuk", GradeLevel: "M1", ParentName: "Somchai Srisuk", ParentPhone: "0893456789", Active: true},
		{StudentNumber: "STU004", FirstName: "Daniel", LastName: "Park", GradeLevel: "M2", ParentName: "Jin Park", ParentPhone: "0894567890", Active: true},
	}

	for _, st := range students {
		if err := database.DB.Create(&st).Error; err != nil {
			log.Printf("Error seeding student %s: %v", st.StudentNumber, err)
		}
	}

	log.Println("Students seeded successfully")
}
