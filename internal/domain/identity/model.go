package identity

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/medcrm/medcrm/internal/platform/apperr"
)

const (
	RoleClinic   = "clinic"
	RoleEmployer = "employer"
)

var validRoles = map[string]bool{RoleClinic: true, RoleEmployer: true}

var validClinicRoles = map[string]bool{
	"manager":         true,
	"doctor":          true,
	"profpathologist": true,
	"receptionist":    true,
}

// User is a clinic or employer account. Accounts are created on first OTP
// login with an empty role and filled in by CompleteRegistration.
type User struct {
	ID                    uuid.UUID              `json:"id"`
	Phone                 string                 `json:"phone"`
	Role                  string                 `json:"role"`
	ClinicRole            *string                `json:"clinic_role"`
	RegistrationCompleted bool                   `json:"registration_completed"`
	RegistrationData      map[string]interface{} `json:"registration_data"`
	PasswordHash          string                 `json:"-"`
	CreatedAt             time.Time              `json:"created_at"`
	LastLoginAt           *time.Time             `json:"last_login_at"`
}

func (u *User) IsClinic() bool   { return u != nil && u.Role == RoleClinic }
func (u *User) IsEmployer() bool { return u != nil && u.Role == RoleEmployer }

// ClinicRoleValue returns the clinic staff role or "".
func (u *User) ClinicRoleValue() string {
	if u == nil || u.ClinicRole == nil {
		return ""
	}
	return *u.ClinicRole
}

func (u *User) HasPassword() bool { return u.PasswordHash != "" }

// Data returns registration_data[key] as a string; numbers are formatted
// without exponent so numeric BINs survive.
func (u *User) Data(key string) string {
	if u == nil || u.RegistrationData == nil {
		return ""
	}
	switch v := u.RegistrationData[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprint(v)
	}
}

// BIN returns registration_data bin, falling back to inn.
func (u *User) BIN() string {
	if b := u.Data("bin"); strings.TrimSpace(b) != "" {
		return b
	}
	return u.Data("inn")
}

// DisplayName is the registered organisation name, or the phone.
func (u *User) DisplayName() string {
	if n := u.Data("name"); n != "" {
		return n
	}
	return u.Phone
}

// NormalizeBIN trims s and removes every whitespace rune.
func NormalizeBIN(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

// CleanDigits keeps only ASCII digits.
func CleanDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// ValidateBIN checks that s holds exactly 12 digits once non-digits are removed.
func ValidateBIN(s string) error {
	if len(CleanDigits(s)) != 12 {
		return fmt.Errorf("БИН должен содержать 12 цифр")
	}
	return nil
}

// ValidateIIN checks that s holds exactly 12 digits once non-digits are removed.
func ValidateIIN(s string) error {
	if len(CleanDigits(s)) != 12 {
		return fmt.Errorf("ИИН должен содержать 12 цифр")
	}
	return nil
}

var (
	ErrInvalidIIN = apperr.BadRequest("ИИН должен содержать ровно 12 цифр")
	ErrInvalidBIN = apperr.BadRequest("БИН должен содержать ровно 12 цифр")
)

// CleanIIN returns the digits of an optional IIN. Blank input is allowed.
func CleanIIN(s string) (string, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	if err := ValidateIIN(s); err != nil {
		return "", ErrInvalidIIN
	}
	return CleanDigits(s), nil
}

// CleanBIN is CleanIIN for business numbers.
func CleanBIN(s string) (string, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	if err := ValidateBIN(s); err != nil {
		return "", ErrInvalidBIN
	}
	return CleanDigits(s), nil
}

// MatchesBIN reports whether the user's registered bin or inn equals bin
// after normalisation. An empty bin never matches.
func MatchesBIN(u *User, bin string) bool {
	want := NormalizeBIN(bin)
	if want == "" || u == nil {
		return false
	}
	return NormalizeBIN(u.Data("bin")) == want || NormalizeBIN(u.Data("inn")) == want
}

// BINLookup is the result of FindEmployerByBIN.
type BINLookup struct {
	Found   bool   `json:"found"`
	User    *User  `json:"user,omitempty"`
	Message string `json:"message,omitempty"`
}

// AuthResult is returned by every login flow.
type AuthResult struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}
