package routesheet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medcrm/medcrm/internal/domain/contingent"
	"github.com/medcrm/medcrm/internal/domain/doctor"
	"github.com/medcrm/medcrm/internal/domain/identity"
	"github.com/medcrm/medcrm/internal/platform/apperr"
	"github.com/medcrm/medcrm/internal/platform/db"
	"github.com/medcrm/medcrm/internal/platform/qrcode"
	"github.com/medcrm/medcrm/pkg/dateonly"
)

var (
	ErrRouteSheetNotFound  = apperr.NotFound("Route sheet not found")
	ErrTestNotFound        = apperr.NotFound("Test not found")
	ErrServiceNotFound     = apperr.NotFound("Service not found")
	ErrInvalidServiceInput = apperr.BadRequest("Invalid service_id or status")
	ErrVisitDateRequired   = apperr.BadRequest("visit_date is required")
	ErrPatientRequired     = apperr.BadRequest("patient_id is required")
	ErrCriteriaRequired    = apperr.BadRequest("phone, iin or name is required")
	ErrNoApprovedPlan      = apperr.BadRequest("Для этого сотрудника нет утвержденного календарного плана на указанную дату")
	ErrClinicOnly          = apperr.Forbidden("Only clinics can create route sheets")
	ErrOnlyDoctor          = apperr.Forbidden("Только врач может отмечать услуги как выполненные. Клиника может только просматривать статус.")
	ErrDoctorProfile       = apperr.NotFound("Врач не найден в базе данных. Убедитесь, что ваш профиль врача создан.")
	ErrInvalidTestStatus   = apperr.BadRequest("status must be pending, in_progress or completed")
	ErrUnknownRouteSheet   = apperr.BadRequest("route_sheet_id does not reference an existing route sheet")
	ErrTestNameRequired    = apperr.BadRequest("test_type and test_name are required")
)

// EmployeeLocator resolves contingent employees.
type EmployeeLocator interface {
	Locate(ctx context.Context, actor *identity.User, c contingent.Criteria) (*contingent.Employee, error)
	Employee(ctx context.Context, id uuid.UUID) (*contingent.Employee, error)
}

// DoctorLookup resolves the clinic doctors assigned to services.
type DoctorLookup interface {
	FirstBySpecialization(ctx context.Context, clinicID uuid.UUID, specialization string) (*doctor.Doctor, error)
	ForClinicUser(ctx context.Context, clinicID uuid.UUID) (*doctor.Doctor, error)
}

// PlanFinder finds the approved calendar plan covering an employee on a day.
// CoveringClinic returns the plan's clinic, or uuid.Nil when there is none.
// A nil clinicID matches plans of any clinic.
type PlanFinder interface {
	CoveringClinic(ctx context.Context, clinicID *uuid.UUID, employeeID uuid.UUID, date dateonly.Date) (uuid.UUID, error)
}

type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

type Service struct {
	sheets      Repository
	lab         TestRepository
	functional  TestRepository
	employees   EmployeeLocator
	doctors     DoctorLookup
	plans       PlanFinder
	users       UserLookup
	tx          db.TxRunner
	rules       *Rules
	frontendURL string
	logger      zerolog.Logger
	now         func() time.Time
}

func NewService(sheets Repository, lab, functional TestRepository, employees EmployeeLocator, doctors DoctorLookup,
	plans PlanFinder, users UserLookup, tx db.TxRunner, rules *Rules, frontendURL string, logger zerolog.Logger) *Service {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Service{
		sheets:      sheets,
		lab:         lab,
		functional:  functional,
		employees:   employees,
		doctors:     doctors,
		plans:       plans,
		users:       users,
		tx:          tx,
		rules:       rules,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger,
		now:         time.Now,
	}
}

func (s *Service) Actor(ctx context.Context, id uuid.UUID) (*identity.User, error) {
	return s.users.GetByID(ctx, id)
}

// -- Generation --

// Generate creates the route sheet of an employee for a visit day together
// with the laboratory and functional tests it requires. An existing sheet for
// the same clinic, patient and day is returned instead; created reports which
// happened.
func (s *Service) Generate(ctx context.Context, clinicID uuid.UUID, e *contingent.Employee, visitDate dateonly.Date) (sheet *RouteSheet, created bool, err error) {
	existing, err := s.sheets.FindByPatientDate(ctx, clinicID, e.ID, visitDate)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrRouteSheetNotFound) {
		return nil, false, err
	}

	sheet = &RouteSheet{
		ClinicID:    clinicID,
		PatientID:   e.ID,
		PatientName: e.Name,
		IIN:         e.IIN,
		Position:    e.Position,
		Department:  e.Department,
		VisitDate:   visitDate,
		Services:    s.rules.GenerateServices(e.Position, e.HarmfulFactors, s.picker(ctx, clinicID)),
	}
	labSpecs, funcSpecs := s.rules.RequiredTests(e.Position, e.HarmfulFactors)

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.sheets.Create(ctx, sheet); err != nil {
			return err
		}
		if err := s.createTests(ctx, s.lab, sheet, labSpecs); err != nil {
			return fmt.Errorf("laboratory tests: %w", err)
		}
		if err := s.createTests(ctx, s.functional, sheet, funcSpecs); err != nil {
			return fmt.Errorf("functional tests: %w", err)
		}
		return nil
	})
	if db.IsUniqueViolation(err) {
		// A concurrent request created the same sheet.
		existing, ferr := s.sheets.FindByPatientDate(ctx, clinicID, e.ID, visitDate)
		if ferr != nil {
			return nil, false, ferr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	s.logger.Info().Str("route_sheet_id", sheet.ID.String()).Str("patient_id", e.ID.String()).
		Str("visit_date", visitDate.String()).Int("services", len(sheet.Services)).
		Int("lab_tests", len(labSpecs)).Int("functional_tests", len(funcSpecs)).Msg("route sheet generated")
	return sheet, true, nil
}

// picker returns the clinic's first doctor per specialization, memoised for
// one generation.
func (s *Service) picker(ctx context.Context, clinicID uuid.UUID) func(string) *doctor.Doctor {
	cache := make(map[string]*doctor.Doctor)
	return func(spec string) *doctor.Doctor {
		if d, ok := cache[spec]; ok {
			return d
		}
		d, err := s.doctors.FirstBySpecialization(ctx, clinicID, spec)
		if err != nil {
			s.logger.Warn().Err(err).Str("specialization", spec).Msg("doctor lookup failed")
			d = nil
		}
		cache[spec] = d
		return d
	}
}

func (s *Service) createTests(ctx context.Context, repo TestRepository, sheet *RouteSheet, specs []TestSpec) error {
	sheetID := sheet.ID
	for _, spec := range specs {
		t := &Test{
			RouteSheetID: &sheetID,
			PatientID:    sheet.PatientID,
			PatientName:  sheet.PatientName,
			TestType:     spec.Type,
			TestName:     spec.Name,
			Status:       TestPending,
		}
		if err := repo.Create(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

type CreateInput struct {
	PatientID *uuid.UUID     `json:"patient_id"`
	VisitDate *dateonly.Date `json:"visit_date"`
}

// Create generates a sheet for an employee picked by id. Clinics only.
func (s *Service) Create(ctx context.Context, actor *identity.User, in CreateInput) (*RouteSheet, bool, error) {
	if !actor.IsClinic() {
		return nil, false, ErrClinicOnly
	}
	if in.PatientID == nil {
		return nil, false, ErrPatientRequired
	}
	if in.VisitDate == nil {
		return nil, false, ErrVisitDateRequired
	}
	e, err := s.employees.Employee(ctx, *in.PatientID)
	if err != nil {
		return nil, false, err
	}
	return s.Generate(ctx, actor.ID, e, *in.VisitDate)
}

type CreateByIINInput struct {
	Phone     string         `json:"phone"`
	IIN       string         `json:"iin"`
	Name      string         `json:"name"`
	VisitDate *dateonly.Date `json:"visit_date"`
}

// CreateByIIN finds an employee at the reception desk and generates the sheet
// for the visit day. The employee must be on an approved calendar plan that
// covers the day; a clinic actor must own that plan.
func (s *Service) CreateByIIN(ctx context.Context, actor *identity.User, in CreateByIINInput) (*RouteSheet, bool, error) {
	if in.VisitDate == nil {
		return nil, false, ErrVisitDateRequired
	}
	c := contingent.Criteria{Phone: in.Phone, IIN: in.IIN, Name: in.Name}
	if strings.TrimSpace(c.Phone+c.IIN+c.Name) == "" {
		return nil, false, ErrCriteriaRequired
	}
	e, err := s.employees.Locate(ctx, actor, c)
	if err != nil {
		return nil, false, err
	}

	var owner *uuid.UUID
	if actor.IsClinic() {
		owner = &actor.ID
	}
	clinicID, err := s.plans.CoveringClinic(ctx, owner, e.ID, *in.VisitDate)
	if err != nil {
		return nil, false, err
	}
	if clinicID == uuid.Nil {
		return nil, false, ErrNoApprovedPlan
	}
	return s.Generate(ctx, clinicID, e, *in.VisitDate)
}

// -- Reads --

func (s *Service) List(ctx context.Context, actor *identity.User, f Filter, limit, offset int) ([]*RouteSheet, int, error) {
	scope, ok := FilterFor(actor)
	if !ok {
		return []*RouteSheet{}, 0, nil
	}
	scope.PatientID = f.PatientID
	scope.VisitDate = f.VisitDate
	return s.sheets.List(ctx, scope, limit, offset)
}

// Get returns a sheet visible to actor.
func (s *Service) Get(ctx context.Context, actor *identity.User, id uuid.UUID) (*RouteSheet, error) {
	sheet, err := s.sheets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.visible(ctx, actor, sheet) {
		return nil, ErrRouteSheetNotFound
	}
	return sheet, nil
}

func (s *Service) visible(ctx context.Context, actor *identity.User, sheet *RouteSheet) bool {
	switch {
	case actor.IsClinic():
		return sheet.ClinicID == actor.ID
	case actor.IsEmployer():
		e, err := s.employees.Employee(ctx, sheet.PatientID)
		return err == nil && e.OwnerID == actor.ID
	}
	return false
}

func (s *Service) Delete(ctx context.Context, actor *identity.User, id uuid.UUID) error {
	sheet, err := s.Get(ctx, actor, id)
	if err != nil {
		return err
	}
	if sheet.ClinicID != actor.ID {
		return ErrRouteSheetNotFound
	}
	return s.sheets.Delete(ctx, id)
}

// Sheet returns any sheet by id.
func (s *Service) Sheet(ctx context.Context, id uuid.UUID) (*RouteSheet, error) {
	return s.sheets.GetByID(ctx, id)
}

// PatientSheets lists a patient's sheets, newest visit first.
func (s *Service) PatientSheets(ctx context.Context, patientID uuid.UUID) ([]*RouteSheet, error) {
	return s.sheets.ListByPatient(ctx, patientID)
}

// SheetTests returns the laboratory and functional tests of a sheet.
func (s *Service) SheetTests(ctx context.Context, routeSheetID uuid.UUID) (lab, functional []*Test, err error) {
	if lab, err = s.lab.ListBySheet(ctx, routeSheetID); err != nil {
		return nil, nil, err
	}
	if functional, err = s.functional.ListBySheet(ctx, routeSheetID); err != nil {
		return nil, nil, err
	}
	return lab, functional, nil
}

// -- Service status --

// UpdateServiceStatus marks one service pending or completed. Only clinic
// doctors and profpathologists may do so; a doctor is limited to services of
// their own specialization.
func (s *Service) UpdateServiceStatus(ctx context.Context, actor *identity.User, id uuid.UUID, serviceID, status string) (*RouteSheet, error) {
	if serviceID == "" || (status != ServicePending && status != ServiceCompleted) {
		return nil, ErrInvalidServiceInput
	}
	sheet, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	svc := sheet.Service(serviceID)
	if svc == nil {
		return nil, ErrServiceNotFound
	}
	if !actor.IsClinic() {
		return nil, ErrOnlyDoctor
	}
	switch actor.ClinicRoleValue() {
	case "", "manager", "receptionist":
		return nil, ErrOnlyDoctor
	case "doctor":
		d, err := s.doctors.ForClinicUser(ctx, actor.ID)
		if errors.Is(err, doctor.ErrDoctorNotFound) || (err == nil && d == nil) {
			return nil, ErrDoctorProfile
		}
		if err != nil {
			return nil, err
		}
		if want := svc.SpecializationOrName(); d.Specialization != want {
			return nil, apperr.Forbidden(fmt.Sprintf(
				"Вы можете отмечать только услуги по вашей специализации (%s). Данная услуга: %s", d.Specialization, want))
		}
	}
	svc.Status = status
	if err := s.sheets.UpdateServices(ctx, sheet); err != nil {
		return nil, err
	}
	s.logger.Info().Str("route_sheet_id", sheet.ID.String()).Str("service_id", serviceID).
		Str("status", status).Str("actor_id", actor.ID.String()).Msg("route sheet service updated")
	return sheet, nil
}

// -- QR codes --

// QRPayload is the JSON embedded in a route sheet QR code.
type QRPayload struct {
	RouteSheetID string `json:"route_sheet_id"`
	PatientID    string `json:"patient_id"`
	PatientName  string `json:"patient_name"`
	IIN          string `json:"iin"`
	VisitDate    string `json:"visit_date"`
	URL          string `json:"url"`
}

func (s *Service) Payload(sheet *RouteSheet) QRPayload {
	return QRPayload{
		RouteSheetID: sheet.ID.String(),
		PatientID:    sheet.PatientID.String(),
		PatientName:  sheet.PatientName,
		IIN:          sheet.IIN,
		VisitDate:    sheet.VisitDate.String(),
		URL:          fmt.Sprintf("%s/dashboard/clinic/route-sheet?id=%s", s.frontendURL, sheet.ID),
	}
}

func (s *Service) QRCode(ctx context.Context, actor *identity.User, id uuid.UUID) ([]byte, error) {
	sheet, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return qrcode.PNG(s.Payload(sheet))
}

// -- Laboratory and functional tests --

func (s *Service) tests(kind string) TestRepository {
	if kind == KindFunctional {
		return s.functional
	}
	return s.lab
}

// TestInput carries the writable test fields.
type TestInput struct {
	RouteSheetID *uuid.UUID             `json:"route_sheet_id"`
	PatientID    uuid.UUID              `json:"patient_id"`
	PatientName  string                 `json:"patient_name"`
	TestType     string                 `json:"test_type"`
	TestName     string                 `json:"test_name"`
	Status       string                 `json:"status"`
	Results      map[string]interface{} `json:"results"`
	Notes        string                 `json:"notes"`
	PerformedBy  string                 `json:"performed_by"`
}

func (s *Service) applyTest(ctx context.Context, t *Test, in TestInput) error {
	if strings.TrimSpace(in.TestType) == "" || strings.TrimSpace(in.TestName) == "" {
		return ErrTestNameRequired
	}
	status := in.Status
	if status == "" {
		status = TestPending
	}
	if !validTestStatuses[status] {
		return ErrInvalidTestStatus
	}
	if in.RouteSheetID != nil {
		if _, err := s.sheets.GetByID(ctx, *in.RouteSheetID); err != nil {
			if errors.Is(err, ErrRouteSheetNotFound) {
				return ErrUnknownRouteSheet
			}
			return err
		}
	}
	t.RouteSheetID = in.RouteSheetID
	t.PatientID = in.PatientID
	t.PatientName = strings.TrimSpace(in.PatientName)
	t.TestType = strings.TrimSpace(in.TestType)
	t.TestName = strings.TrimSpace(in.TestName)
	t.Results = in.Results
	t.Notes = in.Notes
	t.PerformedBy = in.PerformedBy
	s.setTestStatus(t, status)
	return nil
}

// setTestStatus stamps performed_at the first time a test completes.
func (s *Service) setTestStatus(t *Test, status string) {
	t.Status = status
	if status == TestCompleted && t.PerformedAt == nil {
		at := s.now().UTC()
		t.PerformedAt = &at
	}
}

func (s *Service) CreateTest(ctx context.Context, kind string, in TestInput) (*Test, error) {
	t := &Test{}
	if err := s.applyTest(ctx, t, in); err != nil {
		return nil, err
	}
	if err := s.tests(kind).Create(ctx, t); err != nil {
		if db.IsForeignKeyViolation(err) {
			return nil, ErrUnknownRouteSheet
		}
		return nil, err
	}
	return t, nil
}

func (s *Service) GetTest(ctx context.Context, kind string, id uuid.UUID) (*Test, error) {
	return s.tests(kind).GetByID(ctx, id)
}

func (s *Service) UpdateTest(ctx context.Context, kind string, id uuid.UUID, in TestInput) (*Test, error) {
	repo := s.tests(kind)
	t, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.applyTest(ctx, t, in); err != nil {
		return nil, err
	}
	if err := repo.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// UpdateTestStatus changes only the status, and optionally the results.
func (s *Service) UpdateTestStatus(ctx context.Context, kind string, id uuid.UUID, status string, results map[string]interface{}) (*Test, error) {
	if !validTestStatuses[status] {
		return nil, ErrInvalidTestStatus
	}
	repo := s.tests(kind)
	t, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if results != nil {
		t.Results = results
	}
	s.setTestStatus(t, status)
	if err := repo.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) DeleteTest(ctx context.Context, kind string, id uuid.UUID) error {
	repo := s.tests(kind)
	if _, err := repo.GetByID(ctx, id); err != nil {
		return err
	}
	return repo.Delete(ctx, id)
}

func (s *Service) ListTests(ctx context.Context, kind string, f TestFilter, limit, offset int) ([]*Test, int, error) {
	return s.tests(kind).List(ctx, f, limit, offset)
}
