package server

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/copyleftdev/optbench/internal/doe"
	apperr "github.com/copyleftdev/optbench/internal/errors"
	"github.com/copyleftdev/optbench/internal/formulation"
	"github.com/copyleftdev/optbench/internal/jobs"
	"github.com/copyleftdev/optbench/internal/surrogate"
)

// StartJobRequest starts an optimization. Settings are merged over the
// defaults for the method.
type StartJobRequest struct {
	Method      string          `json:"method" validate:"required"`
	Formulation string          `json:"formulation" validate:"required"`
	Settings    json.RawMessage `json:"settings,omitempty"`
}

// JobHandleRequest names an existing job.
type JobHandleRequest struct {
	Handle string `json:"handle" validate:"required"`
}

// JobResponse is a job status with the rendered report once it succeeded.
type JobResponse struct {
	jobs.Status
	Report string `json:"report,omitempty"`
}

// VariableSpec is one DOE variable.
type VariableSpec struct {
	Name string  `json:"name" validate:"required"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// FunctionSpec is one DOE function column.
type FunctionSpec struct {
	Name string `json:"name" validate:"required"`
	Body string `json:"body" validate:"required"`
}

// DOERequest generates a design and evaluates its function columns.
type DOERequest struct {
	Design    string         `json:"design" validate:"required"`
	Variables []VariableSpec `json:"variables" validate:"required,min=1,dive"`
	Functions []FunctionSpec `json:"functions" validate:"dive"`
	Levels    int            `json:"levels" validate:"gte=0"`
	Points    int            `json:"points" validate:"gte=0"`
	Seed      int64          `json:"seed"`
	Array     string         `json:"array"`
}

// DOERow is one row in both normalized and real units.
type DOERow struct {
	Index     int       `json:"index"`
	Values    []float64 `json:"values"`
	Real      []float64 `json:"real"`
	Functions []float64 `json:"functions"`
}

// DOEResponse is the generated table and its .doe rendering.
type DOEResponse struct {
	Design   string   `json:"design"`
	Array    string   `json:"array,omitempty"`
	Seed     int64    `json:"seed,omitempty"`
	Rows     []DOERow `json:"rows"`
	Warnings []string `json:"warnings,omitempty"`
	DOE      string   `json:"doe"`
}

// FitRequest fits one function column of a .doe table.
type FitRequest struct {
	DOE      string  `json:"doe" validate:"required"`
	Function string  `json:"function" validate:"required"`
	Model    string  `json:"model" validate:"required"`
	Kernel   string  `json:"kernel"`
	Epsilon  float64 `json:"epsilon" validate:"gte=0"`
	Smooth   float64 `json:"smooth" validate:"gte=0"`
	// Name labels the emitted function; default S<function>.
	Name string `json:"name"`
}

// FitResponse is a fitted surrogate ready to paste into a formulation.
type FitResponse struct {
	Model        string               `json:"model"`
	Kernel       string               `json:"kernel,omitempty"`
	Expression   string               `json:"expression"`
	Function     string               `json:"function"`
	Coefficients []float64            `json:"coefficients"`
	Stats        surrogate.Statistics `json:"stats"`
}

func (s *Server) startJob(req StartJobRequest) (*JobResponse, error) {
	if s.runner == nil {
		return nil, apperr.New(apperr.WorkerFailure, "no job runner configured")
	}
	if err := s.check(req); err != nil {
		return nil, err
	}
	method := strings.ToLower(req.Method)
	settings := s.cfg.DefaultSettings(method)
	if len(req.Settings) > 0 {
		if err := json.Unmarshal(req.Settings, &settings); err != nil {
			return nil, apperr.Wrap(err, apperr.ParseError, "settings")
		}
	}
	handle, err := s.runner.Start(method, req.Formulation, settings)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Job started", map[string]interface{}{"handle": handle, "method": method})
	return s.jobStatus(JobHandleRequest{Handle: handle})
}

func (s *Server) jobStatus(req JobHandleRequest) (*JobResponse, error) {
	if s.runner == nil {
		return nil, apperr.New(apperr.WorkerFailure, "no job runner configured")
	}
	if err := s.check(req); err != nil {
		return nil, err
	}
	st, err := s.runner.Poll(req.Handle)
	if err != nil {
		return nil, err
	}
	resp := &JobResponse{Status: st}
	if st.Message != nil && st.Message.Record != nil {
		resp.Report = st.Message.Record.FormatReport()
	}
	return resp, nil
}

func (s *Server) cancelJob(req JobHandleRequest) (*JobResponse, error) {
	if s.runner == nil {
		return nil, apperr.New(apperr.WorkerFailure, "no job runner configured")
	}
	if err := s.check(req); err != nil {
		return nil, err
	}
	if err := s.runner.Cancel(req.Handle); err != nil {
		return nil, err
	}
	s.logger.Info("Job cancelled", map[string]interface{}{"handle": req.Handle})
	return s.jobStatus(req)
}

func (s *Server) generateDOE(req DOERequest) (*DOEResponse, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	design, err := doe.ParseDesign(req.Design)
	if err != nil {
		return nil, err
	}

	vars := make([]formulation.Variable, len(req.Variables))
	for i, v := range req.Variables {
		vars[i] = formulation.Variable{
			Name:      v.Name,
			Min:       v.Min,
			Max:       v.Max,
			Kind:      formulation.KindReal,
			Increment: formulation.DefaultIncrement,
		}
	}
	funcs := make([]doe.FunctionColumn, len(req.Functions))
	for i, f := range req.Functions {
		funcs[i] = doe.FunctionColumn{Name: f.Name, Body: f.Body}
	}
	tbl, err := doe.NewTable(vars, funcs, formulation.Options{Logger: s.zap})
	if err != nil {
		return nil, err
	}

	points, err := doe.Generate(doe.Params{
		Design:    design,
		Variables: len(vars),
		Levels:    req.Levels,
		Points:    req.Points,
		Seed:      req.Seed,
		Array:     req.Array,
	})
	if err != nil {
		return nil, err
	}
	if err := tbl.AddPoints(points); err != nil {
		return nil, err
	}

	resp := &DOEResponse{
		Design: string(design),
		Array:  points.ArrayName,
		DOE:    tbl.WriteDOE(),
	}
	if design == doe.LatinHypercube {
		resp.Seed = points.Params.Seed
	}
	for _, w := range tbl.Evaluate() {
		resp.Warnings = append(resp.Warnings, w.Error())
	}
	for _, r := range tbl.Rows() {
		resp.Rows = append(resp.Rows, DOERow{
			Index:     r.Index,
			Values:    r.Values,
			Real:      tbl.RealValues(r),
			Functions: r.Functions,
		})
	}
	s.zap.Debug("design generated",
		zap.String("design", resp.Design),
		zap.Int("rows", len(resp.Rows)),
		zap.Int("warnings", len(resp.Warnings)),
	)
	return resp, nil
}

func (s *Server) fitSurrogate(req FitRequest) (*FitResponse, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	kind, err := surrogate.ParseModelKind(req.Model)
	if err != nil {
		return nil, err
	}
	tbl, err := doe.ReadDOE(req.DOE, formulation.Options{Logger: s.zap})
	if err != nil {
		return nil, err
	}
	x, y, err := tbl.Data(req.Function)
	if err != nil {
		return nil, err
	}
	fit, err := surrogate.New(x, y, surrogate.Options{
		Kind:    kind,
		Kernel:  req.Kernel,
		Epsilon: req.Epsilon,
		Smooth:  req.Smooth,
		Names:   tbl.VariableNames(),
		Logger:  s.zap,
	})
	if err != nil {
		return nil, err
	}

	name := req.Name
	if name == "" {
		name = "S" + req.Function
	}
	resp := &FitResponse{
		Model:        string(fit.Kind),
		Expression:   fit.Expression(),
		Function:     fit.Function(name),
		Coefficients: fit.Coefficients,
		Stats:        fit.Stats,
	}
	if fit.Kernel != nil {
		resp.Kernel = fit.Kernel.Name()
	}
	return resp, nil
}
