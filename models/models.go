package models

import (
	"database/sql/driver"
	"time"

	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// JSON field type for GORM
type JSON []byte

func (j JSON) Value() (driver.Value, error) {
	if j.IsNull() {
		return nil, nil
	}
	return string(j), nil
}

func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*j = append((*j)[0:0], v...)
	case string:
		*j = append((*j)[0:0], v...)
	}
	return nil
}

func (j JSON) MarshalJSON() ([]byte, error) {
	if j == nil {
		return []byte("null"), nil
	}
	return j, nil
}

func (j *JSON) UnmarshalJSON(data []byte) error {
	if j == nil {
		return nil
	}
	*j = append((*j)[0:0], data...)
	return nil
}

func (j JSON) IsNull() bool {
	return len(j) == 0 || string(j) == "null"
}

// User is a staff account allowed to operate the billing screens
type User struct {
	BaseModel
	Username string `json:"username" gorm:"size:100;not null;uniqueIndex"`
	Password string `json:"-" gorm:"size:255;not null"`
	Email    string `json:"email" gorm:"size:255"`
	FullName string `json:"full_name" gorm:"size:200"`
	Role     string `json:"role" gorm:"size:50;not null;default:'staff'"`    // owner, admin, staff
	Status   string `json:"status" gorm:"size:50;not null;default:'active'"` // active, inactive, suspended
}

// Student is the billed party. StudentNumber doubles as the bank transfer reference.
type Student struct {
	BaseModel
	StudentNumber string `json:"student_number" gorm:"size:50;not null;uniqueIndex"`
	FirstName     string `json:"first_name" gorm:"size:100"`
	LastName      string `json:"last_name" gorm:"size:100"`
	GradeLevel    string `json:"grade_level" gorm:"size:50"`
	ParentName    string `json:"parent_name" gorm:"size:200"`
	ParentPhone   string `json:"parent_phone" gorm:"size:20"`
	ParentEmail   string `json:"parent_email" gorm:"size:255"`
	Active        bool   `json:"active" gorm:"default:true;index"`
}

// FullName joins first and last name, skipping blanks
func (s Student) FullName() string {
	switch {
	case s.FirstName == "":
		return s.LastName
	case s.LastName == "":
		return s.FirstName
	}
	return s.FirstName + " " + s.LastName
}

// Log model for activity tracking
type ActivityLog struct {
	BaseModel
	UserID     uint   `json:"user_id"`
	Action     string `json:"action" gorm:"size:100;not null"`
	Resource   string `json:"resource" gorm:"size:100;not null"`
	ResourceID uint   `json:"resource_id"`
	Details    JSON   `json:"details" gorm:"type:json"`
	IPAddress  string `json:"ip_address" gorm:"size:45"`
	UserAgent  string `json:"user_agent" gorm:"size:500"`
}

// LogArchive model for tracking archived logs
type LogArchive struct {
	BaseModel
	FileName    string    `json:"file_name" gorm:"size:255;not null"`
	S3Key       string    `json:"s3_key" gorm:"size:500;not null"`
	StartDate   time.Time `json:"start_date" gorm:"not null"`
	EndDate     time.Time `json:"end_date" gorm:"not null"`
	RecordCount int       `json:"record_count" gorm:"not null"`
	FileSize    int64     `json:"file_size" gorm:"not null"`
	Status      string    `json:"status" gorm:"size:50;not null;default:'pending'"` // pending, completed, failed
	Error       string    `json:"error" gorm:"type:text"`
}

// All lists every model handled by AutoMigrate, parents first
func All() []interface{} {
	return []interface{}{
		&User{},
		&Student{},
		&Invoice{},
		&UploadBatch{},
		&PaymentTransaction{},
		&ActivityLog{},
		&LogArchive{},
	}
}
