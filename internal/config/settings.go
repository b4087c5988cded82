package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	apperr "github.com/copyleftdev/optbench/internal/errors"
)

// Optimization methods understood by the driver.
const (
	MethodSLSQP = "slsqp"
	MethodWSF   = "wsf"
	MethodNSGA2 = "nsga2"
	MethodNSGA3 = "nsga3"
)

// Settings carries the solver options of one optimization job. It crosses the
// process boundary to the worker as JSON and can be read from YAML files.
type Settings struct {
	Method string `yaml:"method" json:"method" validate:"required,oneof=slsqp wsf nsga2 nsga3"`

	// SLSQP and weighted sum
	GridSize int     `yaml:"grid_size" json:"grid_size" validate:"min=1,max=64"`
	Tol      float64 `yaml:"tol" json:"tol" validate:"gt=0"`
	FTol     float64 `yaml:"ftol" json:"ftol" validate:"gte=0"`
	MaxIter  int     `yaml:"max_iter" json:"max_iter" validate:"min=1"`
	WMin     float64 `yaml:"w_min" json:"w_min" validate:"gte=0,lt=1"`
	WStep    float64 `yaml:"w_step" json:"w_step" validate:"gt=0,lte=1"`

	// Evolutionary
	Generations int     `yaml:"generations" json:"generations" validate:"min=1"`
	Population  int     `yaml:"population" json:"population" validate:"min=4"`
	Partitions  int     `yaml:"partitions" json:"partitions" validate:"min=1"`
	Crossover   float64 `yaml:"crossover" json:"crossover" validate:"gte=0,lte=1"`
	Mutation    float64 `yaml:"mutation" json:"mutation" validate:"gte=0,lte=1"`
	Seed        int64   `yaml:"seed" json:"seed"`

	// Formulation handling
	Normalize  bool   `yaml:"normalize" json:"normalize"`
	NoSimplify bool   `yaml:"no_simplify" json:"no_simplify"`
	Backend    string `yaml:"backend" json:"backend" validate:"omitempty,oneof=native evaluable"`
}

// NewSettings returns the default settings for a method.
func NewSettings(method string) Settings {
	return Settings{
		Method:      strings.ToLower(method),
		GridSize:    3,
		Tol:         1e-6,
		FTol:        1e-6,
		MaxIter:     100,
		WMin:        0.1,
		WStep:       0.1,
		Generations: 100,
		Population:  40,
		Partitions:  12,
		Crossover:   0.9,
		Mutation:    0.1,
		Seed:        1,
		Backend:     "native",
	}
}

var settingsValidate = validator.New()

// Validate checks the settings against their field constraints.
func (s Settings) Validate() error {
	const op = "Settings.Validate"

	if err := settingsValidate.Struct(s); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return apperr.Wrap(err, apperr.InvalidArgument, "settings").WithOperation(op)
		}
		parts := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
		}
		return apperr.New(apperr.InvalidArgument, strings.Join(parts, "; ")).WithOperation(op)
	}
	if s.Method == MethodWSF && s.WMin*2 > 1+1e-10 {
		return apperr.Errorf(apperr.InvalidArgument, "w_min %.10g leaves no room for two objectives", s.WMin).WithOperation(op)
	}
	return nil
}

// ParseSettings decodes YAML over the defaults of the method named in the
// document and validates the result.
func ParseSettings(data []byte) (Settings, error) {
	var head struct {
		Method string `yaml:"method"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return Settings{}, apperr.Wrap(err, apperr.ParseError, "settings yaml")
	}

	s := NewSettings(head.Method)
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, apperr.Wrap(err, apperr.ParseError, "settings yaml")
	}
	s.Method = strings.ToLower(s.Method)
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// LoadSettings reads and validates a YAML settings file.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, apperr.Wrapf(err, apperr.InvalidArgument, "read settings %s", path)
	}
	return ParseSettings(data)
}

// YAML renders the settings as a YAML document.
func (s Settings) YAML() ([]byte, error) {
	return yaml.Marshal(s)
}
