package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/medcrm/medcrm/internal/platform/apperr"
	"github.com/medcrm/medcrm/internal/platform/db"
	"github.com/medcrm/medcrm/internal/platform/notification"
	"github.com/medcrm/medcrm/internal/platform/otp"
)

var (
	ErrUserNotFound       = apperr.NotFound("User not found")
	ErrPhoneRequired      = apperr.BadRequest("Phone number is required")
	ErrOTPRequired        = apperr.BadRequest("Phone and OTP are required")
	ErrOTPExpired         = apperr.BadRequest("OTP expired or invalid")
	ErrInvalidOTP         = apperr.BadRequest("Invalid OTP")
	ErrOTPDelivery        = apperr.BadGateway("Failed to send OTP")
	ErrCredentialsMissing = apperr.BadRequest("Phone and password are required")
	ErrPasswordNotSet     = apperr.BadRequest("Password not set for this user. Please use OTP login.")
	ErrInvalidPassword    = apperr.Unauthorized("Invalid password")
	ErrInvalidOldPassword = apperr.Unauthorized("Invalid old password")
	ErrPasswordTooShort   = apperr.BadRequest("Password must be at least 6 characters long")
	ErrBINRequired        = apperr.BadRequest("bin parameter is required")
)

// MinPasswordLength applies to every password the service stores.
const MinPasswordLength = 6

// TokenIssuer signs access tokens for a user.
type TokenIssuer interface {
	Issue(userID uuid.UUID, phone, role, clinicRole string) (string, error)
}

// EmployerLinker attaches contracts created before the employer registered.
type EmployerLinker interface {
	LinkUnlinkedContracts(ctx context.Context, employer *User) (int, error)
}

type Service struct {
	users     Repository
	codes     otp.Store
	notifier  notification.Notifier
	templates *notification.TemplateEngine
	tokens    TokenIssuer
	otpTTL    time.Duration
	linker    EmployerLinker
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(users Repository, codes otp.Store, notifier notification.Notifier, tokens TokenIssuer, otpTTL time.Duration, logger zerolog.Logger) *Service {
	if otpTTL <= 0 {
		otpTTL = 5 * time.Minute
	}
	return &Service{
		users:     users,
		codes:     codes,
		notifier:  notifier,
		templates: notification.NewTemplateEngine(),
		tokens:    tokens,
		otpTTL:    otpTTL,
		logger:    logger,
		now:       time.Now,
	}
}

// SetEmployerLinker wires the contract linker run after employer registration.
func (s *Service) SetEmployerLinker(l EmployerLinker) { s.linker = l }

// Users exposes the repository to packages that resolve actors.
func (s *Service) Users() Repository { return s.users }

// SendOTP stores a fresh code for phone and delivers it over WhatsApp.
func (s *Service) SendOTP(ctx context.Context, phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ErrPhoneRequired
	}
	code, err := otp.GenerateCode()
	if err != nil {
		return err
	}
	if err := s.codes.Set(ctx, phone, code, s.otpTTL); err != nil {
		return err
	}
	text, err := s.templates.Render(notification.TemplateOTP, map[string]string{"code": code})
	if err != nil {
		return err
	}
	if err := s.notifier.Notify(ctx, notification.Message{Phone: phone, Text: text, Kind: "otp"}); err != nil {
		s.logger.Error().Err(err).Str("chat_id", notification.ChatID(phone)).Msg("otp delivery failed")
		return ErrOTPDelivery
	}
	return nil
}

// VerifyOTP consumes the code and logs the user in, creating the account on
// first login.
func (s *Service) VerifyOTP(ctx context.Context, phone, code string) (*AuthResult, error) {
	phone = strings.TrimSpace(phone)
	code = strings.TrimSpace(code)
	if phone == "" || code == "" {
		return nil, ErrOTPRequired
	}
	stored, err := s.codes.Get(ctx, phone)
	if errors.Is(err, otp.ErrNotFound) {
		return nil, ErrOTPExpired
	}
	if err != nil {
		return nil, err
	}
	if stored != code {
		return nil, ErrInvalidOTP
	}
	if err := s.codes.Delete(ctx, phone); err != nil {
		s.logger.Warn().Err(err).Msg("failed to delete used otp")
	}

	u, err := s.getOrCreate(ctx, phone)
	if err != nil {
		return nil, err
	}
	return s.login(ctx, u)
}

func (s *Service) getOrCreate(ctx context.Context, phone string) (*User, error) {
	u, err := s.users.GetByPhone(ctx, phone)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}
	u = &User{Phone: phone, RegistrationData: map[string]interface{}{}}
	if err := s.users.Create(ctx, u); err != nil {
		if db.IsUniqueViolation(err) {
			return s.users.GetByPhone(ctx, phone)
		}
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Msg("user created on first login")
	return u, nil
}

func (s *Service) login(ctx context.Context, u *User) (*AuthResult, error) {
	now := s.now().UTC()
	if err := s.users.TouchLogin(ctx, u.ID, now); err != nil {
		return nil, err
	}
	u.LastLoginAt = &now
	return s.authResult(u)
}

func (s *Service) authResult(u *User) (*AuthResult, error) {
	token, err := s.tokens.Issue(u.ID, u.Phone, u.Role, u.ClinicRoleValue())
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: u, Token: token}, nil
}

func (s *Service) LoginWithPassword(ctx context.Context, phone, password string) (*AuthResult, error) {
	if phone == "" || password == "" {
		return nil, ErrCredentialsMissing
	}
	u, err := s.users.GetByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if !u.HasPassword() {
		return nil, ErrPasswordNotSet
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidPassword
	}
	return s.login(ctx, u)
}

// SetPassword sets or changes the password. When a password already exists
// and oldPassword is given, it must match.
func (s *Service) SetPassword(ctx context.Context, phone, newPassword, oldPassword string) error {
	if phone == "" || newPassword == "" {
		return apperr.BadRequest("Phone and new_password are required")
	}
	if len(newPassword) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	u, err := s.users.GetByPhone(ctx, phone)
	if err != nil {
		return err
	}
	if u.HasPassword() && oldPassword != "" {
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(oldPassword)) != nil {
			return ErrInvalidOldPassword
		}
	}
	hash, err := hashPassword(newPassword)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return s.users.Update(ctx, u)
}

func hashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type CompleteRegistrationInput struct {
	Phone            string                 `json:"phone"`
	Role             string                 `json:"role"`
	RegistrationData map[string]interface{} `json:"registration_data"`
	ClinicRole       string                 `json:"clinic_role"`
	Password         string                 `json:"password"`
}

// CompleteRegistration sets the account role and registration data. A new
// token is issued so the role claims match the stored account.
func (s *Service) CompleteRegistration(ctx context.Context, in CompleteRegistrationInput) (*AuthResult, error) {
	if in.Phone == "" {
		return nil, ErrPhoneRequired
	}
	if !validRoles[in.Role] {
		return nil, apperr.BadRequest("role must be clinic or employer")
	}
	if in.ClinicRole != "" && !validClinicRoles[in.ClinicRole] {
		return nil, apperr.BadRequest("invalid clinic_role")
	}
	u, err := s.users.GetByPhone(ctx, in.Phone)
	if err != nil {
		return nil, err
	}

	u.Role = in.Role
	u.RegistrationData = in.RegistrationData
	if u.RegistrationData == nil {
		u.RegistrationData = map[string]interface{}{}
	}
	u.RegistrationCompleted = true
	if in.Role == RoleClinic && in.ClinicRole != "" {
		cr := in.ClinicRole
		u.ClinicRole = &cr
	}
	if len(in.Password) >= MinPasswordLength {
		hash, err := hashPassword(in.Password)
		if err != nil {
			return nil, err
		}
		u.PasswordHash = hash
	}
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}

	if u.IsEmployer() && s.linker != nil {
		n, err := s.linker.LinkUnlinkedContracts(ctx, u)
		if err != nil {
			s.logger.Error().Err(err).Str("user_id", u.ID.String()).Msg("linking contracts after registration failed")
		} else if n > 0 {
			s.logger.Info().Int("linked", n).Str("user_id", u.ID.String()).Msg("contracts linked to registered employer")
		}
	}
	return s.authResult(u)
}

// FindEmployerByBIN looks up a registered employer by BIN or INN.
func (s *Service) FindEmployerByBIN(ctx context.Context, bin string) (*BINLookup, error) {
	norm := NormalizeBIN(bin)
	if norm == "" {
		return nil, ErrBINRequired
	}
	u, err := s.users.FindEmployerByBIN(ctx, norm)
	if errors.Is(err, ErrUserNotFound) {
		return &BINLookup{Found: false, Message: "Работодатель с таким БИН не найден. Будет создан новый договор."}, nil
	}
	if err != nil {
		return nil, err
	}
	return &BINLookup{Found: true, User: u}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, role string, limit, offset int) ([]*User, int, error) {
	if role != "" && !validRoles[role] {
		return nil, 0, apperr.BadRequest("invalid role filter")
	}
	return s.users.List(ctx, role, limit, offset)
}

// ListClinics returns registered clinic accounts; used to pick subcontractors.
func (s *Service) ListClinics(ctx context.Context, limit, offset int) ([]*User, int, error) {
	return s.users.List(ctx, RoleClinic, limit, offset)
}
