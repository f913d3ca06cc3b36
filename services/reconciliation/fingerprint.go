package reconciliation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"tuitionledger/models"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"
)

const manualFingerprintPrefix = "manual:"

// NormalizeReference folds compatibility characters (full-width digits from
// some bank exports), upper-cases and collapses whitespace
func NormalizeReference(ref string) string {
	return strings.Join(strings.Fields(strings.ToUpper(norm.NFKC.String(ref))), " ")
}

// Fingerprint identifies a statement row independent of the upload it came in.
// occurrence separates genuinely repeated identical rows within one file.
func Fingerprint(e Entry, occurrence int) string {
	key := fmt.Sprintf("%s|%s|%s|%d",
		NormalizeReference(e.Reference),
		e.Amount.StringFixed(2),
		e.Date.Format("2006-01-02"),
		occurrence,
	)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// ManualFingerprint gives a manual entry a unique, never-colliding fingerprint
func ManualFingerprint() string {
	return manualFingerprintPrefix + uuid.New().String()
}

// fingerprinter hands out fingerprints for one statement, counting repeats
type fingerprinter struct {
	seen map[string]int
}

func newFingerprinter() *fingerprinter {
	return &fingerprinter{seen: map[string]int{}}
}

func (f *fingerprinter) next(e Entry) string {
	base := Fingerprint(e, 0)
	n := f.seen[base]
	f.seen[base] = n + 1
	if n == 0 {
		return base
	}
	return Fingerprint(e, n)
}

// fingerprintExists checks the full bank-import history, not just the current batch
func fingerprintExists(tx *gorm.DB, fp string) (bool, error) {
	var count int64
	err := tx.Model(&models.PaymentTransaction{}).
		Where("fingerprint = ?", fp).
		Count(&count).Error
	if err != nil {
		return false, classifyDBError(err)
	}
	return count > 0, nil
}
