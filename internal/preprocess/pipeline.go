package preprocess

import (
	"fmt"

	"github.com/tphakala/clipscan/internal/logger"
)

// Pipeline is an ordered, type checked chain of steps. A Pipeline is never
// mutated after construction; WithOverrides returns a modified copy, so one
// value may be shared by concurrent runs.
type Pipeline struct {
	name  string
	steps []Step
	index map[string]int
}

// NewPipeline validates steps and returns the pipeline. Every step must have
// a unique name and valid parameters, and in both training and inference mode
// each running step must accept the kind produced by the previous one, the
// first accepting a waveform. Violations are reported as *PipelineTypeError.
func NewPipeline(name string, steps ...Step) (*Pipeline, error) {
	p := &Pipeline{
		name:  name,
		steps: append([]Step(nil), steps...),
		index: make(map[string]int, len(steps)),
	}

	for i, s := range p.steps {
		switch {
		case s.Name == "":
			return nil, &PipelineTypeError{Position: i, Reason: "step has no name"}
		case s.Params == nil:
			return nil, &PipelineTypeError{Step: s.Name, Position: i, Reason: "step has no parameters"}
		}
		if _, dup := p.index[s.Name]; dup {
			return nil, &PipelineTypeError{Step: s.Name, Position: i, Reason: "duplicate step name"}
		}
		if err := s.Params.Validate(); err != nil {
			return nil, &PipelineTypeError{Step: s.Name, Position: i, Reason: fmt.Sprintf("invalid %s parameters: %v", s.Params.Type(), err)}
		}
		p.index[s.Name] = i
	}

	for _, mode := range []Mode{ModeTraining, ModeInference} {
		if err := p.checkChain(mode); err != nil {
			return nil, err
		}
	}

	GetLogger().Debug("pipeline built",
		logger.String("pipeline", name),
		logger.Int("steps", len(p.steps)),
		logger.String("output", p.Output(ModeInference).String()))
	return p, nil
}

func (p *Pipeline) checkChain(mode Mode) error {
	current := KindWaveform
	for i, s := range p.steps {
		if !s.runs(mode) {
			continue
		}
		if s.Params.Input() != current {
			return &PipelineTypeError{Step: s.Name, Position: i, Expected: s.Params.Input(), Got: current}
		}
		current = s.Params.Output()
	}
	return nil
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.name }

// Len returns the number of steps, including disabled ones.
func (p *Pipeline) Len() int { return len(p.steps) }

// Steps returns a copy of the steps in execution order.
func (p *Pipeline) Steps() []Step {
	return append([]Step(nil), p.steps...)
}

// Step looks up a step by name.
func (p *Pipeline) Step(name string) (Step, bool) {
	i, ok := p.index[name]
	if !ok {
		return Step{}, false
	}
	return p.steps[i], true
}

// Output returns the kind a run in mode produces.
func (p *Pipeline) Output(mode Mode) Kind {
	current := KindWaveform
	for _, s := range p.steps {
		if s.runs(mode) {
			current = s.Params.Output()
		}
	}
	return current
}

// Stochastic reports whether any step that runs in mode draws random numbers.
func (p *Pipeline) Stochastic(mode Mode) bool {
	for _, s := range p.steps {
		if s.runs(mode) && s.Params.Stochastic() {
			return true
		}
	}
	return false
}

// Override is a per-run change to one step. Nil pointers and a nil Params map
// keep the current value. Params keys are the step's YAML parameter names and
// are merged onto its current parameters; unknown keys are rejected.
type Override struct {
	Step              string
	Enabled           *bool
	BypassInInference *bool
	Params            map[string]any
}

// WithOverrides returns a new pipeline with overrides applied in order. The
// receiver is left untouched.
func (p *Pipeline) WithOverrides(overrides ...Override) (*Pipeline, error) {
	steps := p.Steps()
	for _, o := range overrides {
		i, ok := p.index[o.Step]
		if !ok {
			return nil, &PipelineTypeError{Step: o.Step, Position: -1, Reason: "override names an unknown step"}
		}
		if o.Enabled != nil {
			steps[i].Enabled = *o.Enabled
		}
		if o.BypassInInference != nil {
			steps[i].BypassInInference = *o.BypassInInference
		}
		if o.Params != nil {
			merged, err := mergeParams(steps[i].Params, o.Params)
			if err != nil {
				return nil, &PipelineTypeError{Step: o.Step, Position: i, Reason: err.Error()}
			}
			steps[i].Params = merged
		}
	}
	return NewPipeline(p.name, steps...)
}

// Run passes a waveform through every step that runs in opts.Mode. A failing
// step is reported as *StepError.
func (p *Pipeline) Run(in Sample, opts RunOptions) (Sample, error) {
	if in == nil {
		return nil, fmt.Errorf("pipeline %q: nil input sample", p.name)
	}
	if in.Kind() != KindWaveform {
		return nil, fmt.Errorf("pipeline %q: input is %s, want %s", p.name, in.Kind(), KindWaveform)
	}

	rc := &runContext{mode: opts.Mode, rng: opts.Rand, clipDuration: opts.ClipDuration}
	current := in
	for _, s := range p.steps {
		if !s.runs(opts.Mode) {
			continue
		}
		out, err := s.Params.apply(rc, current)
		if err != nil {
			return nil, &StepError{Step: s.Name, Type: s.Params.Type(), Err: err}
		}
		current = out
	}
	return current, nil
}
