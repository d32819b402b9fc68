package doctor

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medcrm/medcrm/internal/domain/identity"
	"github.com/medcrm/medcrm/internal/platform/apperr"
)

// Doctor is a clinic specialist that route sheet services are assigned to.
type Doctor struct {
	ID             uuid.UUID              `json:"id"`
	ClinicID       uuid.UUID              `json:"user"`
	Name           string                 `json:"name"`
	Specialization string                 `json:"specialization"`
	Cabinet        *string                `json:"cabinet"`
	WorkSchedule   map[string]interface{} `json:"work_schedule"`
	IIN            string                 `json:"iin"`
	Phone          string                 `json:"phone"`
	Email          string                 `json:"email"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// CabinetOr returns the cabinet or fallback when none is set.
func (d *Doctor) CabinetOr(fallback string) string {
	if d.Cabinet == nil || *d.Cabinet == "" {
		return fallback
	}
	return *d.Cabinet
}

var ErrInvalidPhone = apperr.BadRequest("Неверный формат телефона. Используйте формат: +7 777 123 4567 или 8 777 123 4567")

// FormatPhone normalises a Kazakhstani phone number. Empty input stays empty.
func FormatPhone(raw string) (string, error) {
	d := identity.CleanDigits(raw)
	if raw == "" {
		return "", nil
	}
	switch {
	case len(d) == 11 && d[0] == '8':
		return fmt.Sprintf("8 %s %s %s", d[1:4], d[4:7], d[7:11]), nil
	case len(d) == 11:
		return fmt.Sprintf("+7 %s %s %s", d[1:4], d[4:7], d[7:11]), nil
	case len(d) == 10:
		return fmt.Sprintf("+7 %s %s %s", d[0:3], d[3:6], d[6:10]), nil
	}
	return "", ErrInvalidPhone
}
