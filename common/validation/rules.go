package validation

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/casemirror/dataflow/common/apperr"
	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"
)

const rulesModule = "migration-rules"

//go:embed rules.yaml
var defaultRules []byte

// DivisionMapping maps a legacy district/group designator to a court division
type DivisionMapping struct {
	District        string `yaml:"district"`
	GroupDesignator string `yaml:"groupDesignator"`
	CourtID         string `yaml:"courtId"`
	DivisionCode    string `yaml:"divisionCode"`
}

// Rules is the trustee migration rules file
type Rules struct {
	Version          string            `yaml:"version"`
	ActiveStatuses   []string          `yaml:"activeStatuses"`
	AppointmentRules map[string]string `yaml:"appointmentRules"`
	Divisions        []DivisionMapping `yaml:"divisions"`
}

// LoadRules reads the rules file at path, or the embedded default when
// path is empty
func LoadRules(path string) (*Rules, error) {
	data := defaultRules
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read rules file %s: %w", path, err)
		}
	}
	return ParseRules(data)
}

// ParseRules decodes and checks a rules document
func ParseRules(data []byte) (*Rules, error) {
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}

	if strings.TrimSpace(rules.Version) == "" {
		return nil, fmt.Errorf("rules version is required")
	}
	if len(rules.AppointmentRules) == 0 {
		return nil, fmt.Errorf("rules define no appointment rules")
	}
	for i, d := range rules.Divisions {
		if d.District == "" || d.DivisionCode == "" || d.CourtID == "" {
			return nil, fmt.Errorf("division %d: district, courtId and divisionCode are required", i)
		}
	}

	return &rules, nil
}

type divisionKey struct {
	district string
	group    string
}

// Validator applies the migration rules to legacy appointment records.
// Chapter rules are CEL expressions compiled once and cached.
type Validator struct {
	rules     *Rules
	env       *cel.Env
	chapters  map[string]string
	divisions map[divisionKey]DivisionMapping
	active    map[string]bool

	cache map[string]cel.Program
	mu    sync.RWMutex
}

// NewValidator compiles every chapter rule up front so a bad rules file
// fails at startup rather than mid-migration
func NewValidator(rules *Rules) (*Validator, error) {
	env, err := cel.NewEnv(
		cel.Variable("chapter", cel.StringType),
		cel.Variable("appointmentType", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	v := &Validator{
		rules:     rules,
		env:       env,
		chapters:  make(map[string]string, len(rules.AppointmentRules)),
		divisions: make(map[divisionKey]DivisionMapping, len(rules.Divisions)),
		active:    make(map[string]bool, len(rules.ActiveStatuses)),
		cache:     make(map[string]cel.Program),
	}

	for _, d := range rules.Divisions {
		v.divisions[divisionKey{normalize(d.District), normalize(d.GroupDesignator)}] = d
	}
	for _, s := range rules.ActiveStatuses {
		v.active[normalize(s)] = true
	}

	for chapter, expr := range rules.AppointmentRules {
		if _, err := v.program(expr); err != nil {
			return nil, fmt.Errorf("chapter %s rule: %w", chapter, err)
		}
		v.chapters[normalize(chapter)] = expr
	}

	return v, nil
}

// Version returns the rules file version
func (v *Validator) Version() string {
	return v.rules.Version
}

// ValidateAppointment checks that appointmentType is legal for chapter.
// A violation is a KindValidation error.
func (v *Validator) ValidateAppointment(chapter, appointmentType string) error {
	chapter = normalize(chapter)
	appointmentType = normalize(appointmentType)

	expr, ok := v.chapters[chapter]
	if !ok {
		return apperr.New(apperr.KindValidation, rulesModule,
			fmt.Sprintf("no appointment rule for chapter %q", chapter))
	}

	prg, err := v.program(expr)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, rulesModule, "rule compilation failed", err)
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"chapter":         chapter,
		"appointmentType": appointmentType,
	})
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, rulesModule, "rule evaluation failed", err)
	}

	allowed, ok := out.Value().(bool)
	if !ok {
		return apperr.New(apperr.KindInternal, rulesModule,
			fmt.Sprintf("rule for chapter %s did not return boolean, got %T", chapter, out.Value()))
	}
	if !allowed {
		return apperr.New(apperr.KindValidation, rulesModule,
			fmt.Sprintf("appointment type %q is not valid for chapter %s", appointmentType, chapter))
	}

	return nil
}

// MapDivision resolves a legacy district and group designator. An unmapped
// pair is a KindDataShape error.
func (v *Validator) MapDivision(district, groupDesignator string) (DivisionMapping, error) {
	d, ok := v.divisions[divisionKey{normalize(district), normalize(groupDesignator)}]
	if !ok {
		return DivisionMapping{}, apperr.New(apperr.KindDataShape, rulesModule,
			fmt.Sprintf("no division mapping for district %q group %q", district, groupDesignator))
	}
	return d, nil
}

// IsActiveStatus reports whether a legacy appointment status counts as active
func (v *Validator) IsActiveStatus(status string) bool {
	return v.active[normalize(status)]
}

func (v *Validator) program(expr string) (cel.Program, error) {
	v.mu.RLock()
	prg, exists := v.cache[expr]
	v.mu.RUnlock()
	if exists {
		return prg, nil
	}

	ast, issues := v.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("CEL expression must return bool, got %s", ast.OutputType())
	}

	prg, err := v.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	v.mu.Lock()
	v.cache[expr] = prg
	v.mu.Unlock()

	return prg, nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
