package routesheet

import (
	_ "embed"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/medcrm/medcrm/internal/domain/doctor"
)

//go:embed rules.yaml
var rulesYAML []byte

const (
	// NoCabinet is shown when no doctor of a specialization is on file.
	NoCabinet = "Не указан"

	firstSlot    = 9 * time.Hour
	slotDuration = 15 * time.Minute
)

// TestSpec names a laboratory or functional test.
type TestSpec struct {
	Type string `yaml:"type"`
	Name string `yaml:"name"`
}

type PositionRule struct {
	Position    string     `yaml:"position"`
	Specialists []string   `yaml:"specialists"`
	Laboratory  []TestSpec `yaml:"laboratory"`
	Functional  []TestSpec `yaml:"functional"`
}

type FactorRule struct {
	Keyword     string     `yaml:"keyword"`
	Specialists []string   `yaml:"specialists"`
	Laboratory  []TestSpec `yaml:"laboratory"`
	Functional  []TestSpec `yaml:"functional"`
}

// Rules is the examination rule table.
type Rules struct {
	DefaultSpecialists []string       `yaml:"default_specialists"`
	FallbackSpecialist string         `yaml:"fallback_specialist"`
	BaseLaboratory     []TestSpec     `yaml:"base_laboratory"`
	Positions          []PositionRule `yaml:"positions"`
	Factors            []FactorRule   `yaml:"factors"`
}

// ParseRules decodes a YAML rule table.
func ParseRules(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse examination rules: %w", err)
	}
	if r.FallbackSpecialist == "" {
		return nil, fmt.Errorf("parse examination rules: fallback_specialist is required")
	}
	for i, f := range r.Factors {
		r.Factors[i].Keyword = strings.ToLower(f.Keyword)
	}
	return &r, nil
}

// DefaultRules returns the embedded rule table.
func DefaultRules() *Rules {
	r, err := ParseRules(rulesYAML)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Rules) position(name string) *PositionRule {
	for i := range r.Positions {
		if r.Positions[i].Position == name {
			return &r.Positions[i]
		}
	}
	return nil
}

// matchingFactors returns the factor rules triggered by any of factors, in
// table order.
func (r *Rules) matchingFactors(factors []string) []FactorRule {
	var out []FactorRule
	for _, rule := range r.Factors {
		for _, f := range factors {
			if strings.Contains(strings.ToLower(f), rule.Keyword) {
				out = append(out, rule)
				break
			}
		}
	}
	return out
}

// Specialists lists the specializations a worker must visit: the position's
// list followed by those added by each harmful factor, first occurrence kept.
func (r *Rules) Specialists(position string, factors []string) []string {
	specs := r.DefaultSpecialists
	if p := r.position(position); p != nil {
		specs = p.Specialists
	}
	all := append([]string{}, specs...)
	for _, f := range factors {
		f = strings.ToLower(f)
		for _, rule := range r.Factors {
			if strings.Contains(f, rule.Keyword) {
				all = append(all, rule.Specialists...)
			}
		}
	}
	seen := make(map[string]bool, len(all))
	out := all[:0]
	for _, s := range all {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// GenerateServices builds the route sheet services for a worker. pick
// returns the clinic's doctor for a specialization, or nil.
func (r *Rules) GenerateServices(position string, factors []string, pick func(spec string) *doctor.Doctor) []Visit {
	specs := r.Specialists(position, factors)
	if len(specs) == 0 {
		specs = []string{r.FallbackSpecialist}
	}
	services := make([]Visit, 0, len(specs))
	for i, spec := range specs {
		svc := Visit{
			ID:             fmt.Sprint(i),
			Name:           spec,
			Cabinet:        NoCabinet,
			Specialization: spec,
			Time:           slotTime(i),
			Status:         ServicePending,
		}
		if d := pick(spec); d != nil {
			svc.Name = d.Specialization
			svc.Cabinet = d.CabinetOr(NoCabinet)
			svc.DoctorID = d.ID.String()
		}
		services = append(services, svc)
	}
	return services
}

func slotTime(i int) string {
	t := time.Time{}.Add(firstSlot + time.Duration(i)*slotDuration)
	return t.Format("15:04")
}

// RequiredTests lists the laboratory and functional tests for a worker.
func (r *Rules) RequiredTests(position string, factors []string) (lab, functional []TestSpec) {
	lab = append(lab, r.BaseLaboratory...)
	if p := r.position(position); p != nil {
		lab = append(lab, p.Laboratory...)
		functional = append(functional, p.Functional...)
	}
	for _, rule := range r.matchingFactors(factors) {
		lab = append(lab, rule.Laboratory...)
		functional = append(functional, rule.Functional...)
	}
	return lab, functional
}
