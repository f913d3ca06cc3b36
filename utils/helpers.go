package utils

import (
	"path/filepath"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedBytes), nil
}

// CheckPassword compares a password with its hash
func CheckPassword(password, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// IsValidRole checks if a staff role is valid
func IsValidRole(role string) bool {
	switch role {
	case "owner", "admin", "staff":
		return true
	}
	return false
}

// NormalizeStudentNumber trims and upper-cases a student number so it can be
// used verbatim as an invoice reference
func NormalizeStudentNumber(n string) string {
	return strings.ToUpper(strings.TrimSpace(n))
}

// SafeFileName strips any directory part and control bytes from an uploaded name
func SafeFileName(name string) string {
	name = strings.ReplaceAll(name, "\x00", "")
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	return strings.TrimSpace(name)
}
