package relay

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Step string

const (
	StepIntent  Step = "dialogflow"
	StepNLU     Step = "gemini_nlu"
	StepEmpathy Step = "gemini_empathy"
)

// FailureKind separates "upstream answered with a bad status" from
// everything else (network, credentials, undecodable body).
type FailureKind string

const (
	FailureStatus    FailureKind = "status"
	FailureTransport FailureKind = "transport"
)

type Action string

const (
	// ActionEmbed replaces the step value with {"error": Message}.
	ActionEmbed Action = "embed"
	// ActionPropagate aborts the request with a StepError.
	ActionPropagate Action = "propagate"
)

type Rule struct {
	OnStatus    Action `yaml:"on_status"`
	OnTransport Action `yaml:"on_transport"`
	Message     string `yaml:"message"`
}

func (r Rule) action(kind FailureKind) Action {
	if kind == FailureStatus {
		return r.OnStatus
	}
	return r.OnTransport
}

// Policy decides, per step and failure kind, whether a failure is embedded in
// the aggregated response or propagated to the caller.
type Policy map[Step]Rule

func DefaultPolicy() Policy {
	return Policy{
		StepIntent: {
			OnStatus:    ActionPropagate,
			OnTransport: ActionPropagate,
			Message:     "Failed to connect to Dialogflow",
		},
		StepNLU: {
			OnStatus:    ActionEmbed,
			OnTransport: ActionPropagate,
			Message:     "Failed to connect to Gemini NLU API",
		},
		StepEmpathy: {
			OnStatus:    ActionEmbed,
			OnTransport: ActionPropagate,
			Message:     "Failed to connect to Gemini Empathy API",
		},
	}
}

// LoadPolicy overlays the rules in a YAML file onto DefaultPolicy.
// An empty path yields the default table.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parsePolicy(p, b)
}

func parsePolicy(base Policy, b []byte) (Policy, error) {
	var overrides map[Step]Rule
	if err := yaml.Unmarshal(b, &overrides); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	for step, o := range overrides {
		r, ok := base[step]
		if !ok {
			return nil, fmt.Errorf("policy: unknown step %q", step)
		}
		if o.OnStatus != "" {
			r.OnStatus = o.OnStatus
		}
		if o.OnTransport != "" {
			r.OnTransport = o.OnTransport
		}
		if o.Message != "" {
			r.Message = o.Message
		}
		base[step] = r
	}
	if err := base.validate(); err != nil {
		return nil, err
	}
	return base, nil
}

func (p Policy) validate() error {
	var errs []error
	for step, r := range p {
		for _, a := range []Action{r.OnStatus, r.OnTransport} {
			if a != ActionEmbed && a != ActionPropagate {
				errs = append(errs, fmt.Errorf("policy %s: unknown action %q", step, a))
			}
		}
		if (r.OnStatus == ActionEmbed || r.OnTransport == ActionEmbed) && r.Message == "" {
			errs = append(errs, fmt.Errorf("policy %s: embed requires a message", step))
		}
	}
	return errors.Join(errs...)
}
