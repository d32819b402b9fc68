package contingent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medcrm/medcrm/internal/domain/doctor"
	"github.com/medcrm/medcrm/internal/domain/identity"
	"github.com/medcrm/medcrm/internal/platform/apperr"
	"github.com/medcrm/medcrm/internal/platform/db"
	"github.com/medcrm/medcrm/internal/platform/qrcode"
	"github.com/medcrm/medcrm/internal/platform/spreadsheet"
	"github.com/medcrm/medcrm/pkg/dateonly"
)

var (
	ErrEmployeeNotFound   = apperr.NotFound("Employee not found")
	ErrNotInRegistry      = apperr.NotFound("Сотрудник не найден в базе данных")
	ErrNotFoundByPhone    = apperr.NotFound("Сотрудник не найден. Проверьте номер телефона.")
	ErrFileRequired       = apperr.BadRequest("Excel file is required")
	ErrQRDataRequired     = apperr.BadRequest("QR data is required")
	ErrInvalidQRFormat    = apperr.BadRequest("Invalid QR code data format")
	ErrInvalidQRType      = apperr.BadRequest("Invalid QR code type")
	ErrNameRequired       = apperr.BadRequest("name is required")
	ErrInvalidGender      = apperr.BadRequest("gender must be male, female or empty")
	ErrUnreadableWorkbook = apperr.BadRequest("Не удалось прочитать Excel файл")
)

// QRType tags employee QR payloads.
const QRType = "employee"

// UserLookup resolves accounts that own contingent rows.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

// DoctorLookup resolves doctors assigned to route sheet services.
type DoctorLookup interface {
	Find(ctx context.Context, id uuid.UUID) (*doctor.Doctor, error)
}

type Service struct {
	repo    Repository
	users   UserLookup
	doctors DoctorLookup
	tx      db.TxRunner
	logger  zerolog.Logger
}

func NewService(repo Repository, users UserLookup, doctors DoctorLookup, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{repo: repo, users: users, doctors: doctors, tx: tx, logger: logger}
}

// Actor loads the acting account.
func (s *Service) Actor(ctx context.Context, id uuid.UUID) (*identity.User, error) {
	return s.users.GetByID(ctx, id)
}

// Input carries the writable employee fields.
type Input struct {
	ContractID              *uuid.UUID     `json:"contract"`
	Name                    string         `json:"name"`
	BirthDate               *dateonly.Date `json:"birth_date"`
	Gender                  string         `json:"gender"`
	Department              string         `json:"department"`
	Position                string         `json:"position"`
	TotalExperienceYears    *int           `json:"total_experience_years"`
	PositionExperienceYears *int           `json:"position_experience_years"`
	LastExaminationDate     *dateonly.Date `json:"last_examination_date"`
	HarmfulFactors          []string       `json:"harmful_factors"`
	Notes                   string         `json:"notes"`
	IIN                     string         `json:"iin"`
	Phone                   string         `json:"phone"`
	RequiresExamination     *bool          `json:"requires_examination"`
	NextExaminationDate     *dateonly.Date `json:"next_examination_date"`
	Quarter                 string         `json:"quarter"`
}

func (in Input) apply(e *Employee) error {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return ErrNameRequired
	}
	switch in.Gender {
	case "", GenderMale, GenderFemale:
	default:
		return ErrInvalidGender
	}
	iin, err := identity.CleanIIN(in.IIN)
	if err != nil {
		return err
	}
	e.ContractID = in.ContractID
	e.Name = name
	e.BirthDate = in.BirthDate
	e.Gender = in.Gender
	e.Department = strings.TrimSpace(in.Department)
	e.Position = strings.TrimSpace(in.Position)
	e.TotalExperienceYears = in.TotalExperienceYears
	e.PositionExperienceYears = in.PositionExperienceYears
	e.LastExaminationDate = in.LastExaminationDate
	e.HarmfulFactors = in.HarmfulFactors
	if e.HarmfulFactors == nil {
		e.HarmfulFactors = []string{}
	}
	e.Notes = in.Notes
	e.IIN = iin
	e.Phone = strings.TrimSpace(in.Phone)
	e.RequiresExamination = true
	if in.RequiresExamination != nil {
		e.RequiresExamination = *in.RequiresExamination
	}
	e.NextExaminationDate = in.NextExaminationDate
	e.Quarter = strings.TrimSpace(in.Quarter)
	return nil
}

func (s *Service) Create(ctx context.Context, actor *identity.User, in Input) (*Employee, error) {
	e := &Employee{OwnerID: actor.ID}
	if err := in.apply(e); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Get returns an employee visible to actor.
func (s *Service) Get(ctx context.Context, actor *identity.User, id uuid.UUID) (*Employee, error) {
	e, err := s.repo.FindOne(ctx, FilterFor(actor), Lookup{ID: &id})
	if err != nil {
		return nil, err
	}
	s.enrich(ctx, []*Employee{e})
	return e, nil
}

// Update is allowed for the owner only.
func (s *Service) Update(ctx context.Context, actor *identity.User, id uuid.UUID, in Input) (*Employee, error) {
	e, err := s.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := in.apply(e); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, e); err != nil {
		return nil, err
	}
	s.enrich(ctx, []*Employee{e})
	return e, nil
}

func (s *Service) Delete(ctx context.Context, actor *identity.User, id uuid.UUID) error {
	if _, err := s.owned(ctx, actor, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

func (s *Service) owned(ctx context.Context, actor *identity.User, id uuid.UUID) (*Employee, error) {
	return s.repo.FindOne(ctx, Filter{OwnerID: actor.ID}, Lookup{ID: &id})
}

func (s *Service) List(ctx context.Context, actor *identity.User, department string, limit, offset int) ([]*Employee, int, error) {
	f := FilterFor(actor)
	f.Department = department
	items, total, err := s.repo.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	s.enrich(ctx, items)
	return items, total, nil
}

// DeleteAll removes every employee owned by actor and returns the count.
func (s *Service) DeleteAll(ctx context.Context, actor *identity.User) (int, error) {
	return s.repo.DeleteByOwner(ctx, actor.ID)
}

// -- Enrichment --

// enrich fills RouteSheetInfo from each employee's latest route sheet.
func (s *Service) enrich(ctx context.Context, items []*Employee) {
	cache := make(map[string]*doctor.Doctor)
	for _, e := range items {
		if e.latestSheet == nil {
			continue
		}
		e.RouteSheetInfo = s.sheetInfo(ctx, e.latestSheet, cache)
	}
}

func (s *Service) sheetInfo(ctx context.Context, ls *latestSheet, cache map[string]*doctor.Doctor) *RouteSheetInfo {
	info := &RouteSheetInfo{VisitDate: ls.VisitDate, Doctors: []DoctorInfo{}, ServicesCount: len(ls.Services)}
	var times []string
	for _, svc := range ls.Services {
		if svc.Time != "" {
			times = append(times, svc.Time)
		}
		if svc.DoctorID == "" {
			continue
		}
		if d := s.resolveDoctor(ctx, svc.DoctorID, cache); d != nil {
			info.Doctors = append(info.Doctors, DoctorInfo{
				Name:           d.Name,
				Specialization: d.Specialization,
				Cabinet:        d.CabinetOr(svc.Cabinet),
				Time:           svc.Time,
			})
			continue
		}
		spec := svc.Specialization
		if spec == "" {
			spec = svc.Name
		}
		info.Doctors = append(info.Doctors, DoctorInfo{Name: svc.Name, Specialization: spec, Cabinet: svc.Cabinet, Time: svc.Time})
	}
	if len(times) > 0 {
		sort.Strings(times)
		r := times[0] + " - " + times[len(times)-1]
		info.TimeRange = &r
	}
	return info
}

func (s *Service) resolveDoctor(ctx context.Context, rawID string, cache map[string]*doctor.Doctor) *doctor.Doctor {
	if d, ok := cache[rawID]; ok {
		return d
	}
	var d *doctor.Doctor
	if id, err := uuid.Parse(rawID); err == nil && s.doctors != nil {
		if found, err := s.doctors.Find(ctx, id); err == nil {
			d = found
		}
	}
	cache[rawID] = d
	return d
}

// -- Excel import --

// ImportResult reports the outcome of an Excel upload.
type ImportResult struct {
	Created        int            `json:"created"`
	Skipped        int            `json:"skipped"`
	SkippedReasons map[string]int `json:"skipped_reasons"`
	Employees      []*Employee    `json:"employees"`
}

// UploadExcel imports the first sheet of an .xlsx workbook into actor's
// contingent. Duplicates of existing rows are skipped.
func (s *Service) UploadExcel(ctx context.Context, actor *identity.User, file io.Reader, contractID *uuid.UUID) (*ImportResult, error) {
	if file == nil {
		return nil, ErrFileRequired
	}
	rows, err := spreadsheet.ReadFirstSheet(file)
	if err != nil {
		s.logger.Warn().Err(err).Str("owner_id", actor.ID.String()).Msg("contingent workbook unreadable")
		return nil, ErrUnreadableWorkbook
	}
	parsed, noName, err := parseRows(rows)
	if err != nil {
		return nil, err
	}

	res := &ImportResult{
		SkippedReasons: map[string]int{"duplicate": 0, "no_name": noName},
		Employees:      []*Employee{},
	}
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		for _, r := range parsed {
			e := r.Employee
			dup, err := s.repo.HasDuplicate(ctx, actor.ID, e.IIN, e.Name, e.BirthDate)
			if err != nil {
				return fmt.Errorf("row %d: %w", r.Row, err)
			}
			if dup {
				res.SkippedReasons["duplicate"]++
				continue
			}
			e.OwnerID = actor.ID
			e.ContractID = contractID
			if err := s.repo.Create(ctx, e); err != nil {
				return fmt.Errorf("row %d: %w", r.Row, err)
			}
			res.Employees = append(res.Employees, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Created = len(res.Employees)
	res.Skipped = res.SkippedReasons["duplicate"] + res.SkippedReasons["no_name"]
	s.logger.Info().Str("owner_id", actor.ID.String()).Int("created", res.Created).
		Int("skipped", res.Skipped).Msg("contingent imported")
	return res, nil
}

// -- QR codes --

// QRPayload is the JSON embedded in an employee QR code.
type QRPayload struct {
	Type       string `json:"type"`
	EmployeeID string `json:"employee_id"`
	IIN        string `json:"iin"`
	Name       string `json:"name"`
	Position   string `json:"position"`
	Department string `json:"department"`
}

func (s *Service) QRCode(ctx context.Context, actor *identity.User, id uuid.UUID) ([]byte, error) {
	e, err := s.repo.FindOne(ctx, FilterFor(actor), Lookup{ID: &id})
	if err != nil {
		return nil, err
	}
	return qrcode.PNG(QRPayload{
		Type:       QRType,
		EmployeeID: e.ID.String(),
		IIN:        e.IIN,
		Name:       e.Name,
		Position:   e.Position,
		Department: e.Department,
	})
}

// FindByQR decodes scanned QR text and returns the employee it names. The
// lookup tries the id, then the IIN, then a name fragment.
func (s *Service) FindByQR(ctx context.Context, actor *identity.User, raw string) (*Employee, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrQRDataRequired
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, ErrInvalidQRFormat
	}
	if t, _ := payload["type"].(string); t != QRType {
		return nil, ErrInvalidQRType
	}
	str := func(k string) string {
		v, _ := payload[k].(string)
		return strings.TrimSpace(v)
	}

	var lookups []Lookup
	if id, err := uuid.Parse(str("employee_id")); err == nil {
		lookups = append(lookups, Lookup{ID: &id})
	}
	if iin := str("iin"); iin != "" {
		lookups = append(lookups, Lookup{IIN: iin})
	}
	if name := str("name"); name != "" {
		lookups = append(lookups, Lookup{Name: name})
	}
	e, err := s.first(ctx, FilterFor(actor), lookups)
	if errors.Is(err, ErrEmployeeNotFound) {
		return nil, ErrNotInRegistry.WithDetails(map[string]interface{}{"qr_data": payload})
	}
	if err != nil {
		return nil, err
	}
	s.enrich(ctx, []*Employee{e})
	return e, nil
}

// first returns the result of the first lookup that matches.
func (s *Service) first(ctx context.Context, f Filter, lookups []Lookup) (*Employee, error) {
	for _, l := range lookups {
		e, err := s.repo.FindOne(ctx, f, l)
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, ErrEmployeeNotFound) {
			return nil, err
		}
	}
	return nil, ErrEmployeeNotFound
}

// -- Lookups used by other packages --

// Criteria identifies an employee at the reception desk.
type Criteria struct {
	Phone string
	IIN   string
	Name  string
}

// Locate searches actor's own contingent by phone digits, IIN and name in
// that order. A clinic then searches employer-owned contingent using the
// first criterion supplied.
func (s *Service) Locate(ctx context.Context, actor *identity.User, c Criteria) (*Employee, error) {
	phone := identity.CleanDigits(c.Phone)
	iin := strings.TrimSpace(c.IIN)
	name := strings.TrimSpace(c.Name)

	var lookups []Lookup
	if phone != "" {
		lookups = append(lookups, Lookup{PhoneDigits: phone})
	}
	if iin != "" {
		lookups = append(lookups, Lookup{IIN: iin})
	}
	if name != "" {
		lookups = append(lookups, Lookup{Name: name})
	}
	e, err := s.first(ctx, Filter{OwnerID: actor.ID}, lookups)
	if err == nil || !errors.Is(err, ErrEmployeeNotFound) {
		return e, err
	}
	if !actor.IsClinic() {
		return nil, ErrNotInRegistry
	}
	if len(lookups) > 0 {
		e, err = s.repo.FindOne(ctx, Filter{IncludeEmployers: true}, lookups[0])
		if err == nil || !errors.Is(err, ErrEmployeeNotFound) {
			return e, err
		}
	}
	return nil, ErrNotFoundByPhone
}

// Employee returns any employee by id.
func (s *Service) Employee(ctx context.Context, id uuid.UUID) (*Employee, error) {
	return s.repo.GetByID(ctx, id)
}

// FindByIIN returns the employee with iin visible to actor.
func (s *Service) FindByIIN(ctx context.Context, actor *identity.User, iin string) (*Employee, error) {
	return s.repo.FindOne(ctx, FilterFor(actor), Lookup{IIN: strings.TrimSpace(iin)})
}
