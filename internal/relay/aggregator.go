package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"mindful-chat-backend/internal/types"
)

// ValidationError is a problem with the caller's input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

var ErrNoMessage = &ValidationError{Message: "No message provided"}

// StepError is a step failure the policy chose to propagate.
type StepError struct {
	Step Step
	Kind FailureKind
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Step, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

type IntentDetector interface {
	FulfillmentText(ctx context.Context, text, sessionID, languageCode string) (string, error)
}

type NLUAnalyzer interface {
	Analyze(ctx context.Context, text string) (json.RawMessage, error)
}

type EmpathyResponder interface {
	Respond(ctx context.Context, nlu json.RawMessage) (json.RawMessage, error)
}

// Outcome is the result of one upstream call: a value or an error, never both.
type Outcome struct {
	Step  Step
	Value json.RawMessage
	Err   error
}

// Kind classifies a failed outcome. Errors exposing an HTTP status code are
// status failures; anything else is a transport failure.
func (o Outcome) Kind() FailureKind {
	var sc interface{ StatusCode() int }
	if errors.As(o.Err, &sc) {
		return FailureStatus
	}
	return FailureTransport
}

// The intent detector always sees the same session and language.
const (
	SessionID    = "12345"
	LanguageCode = "en"
)

type Options struct {
	Policy Policy
}

// Aggregator runs the intent, NLU and empathy calls in order and merges them.
type Aggregator struct {
	intent  IntentDetector
	nlu     NLUAnalyzer
	empathy EmpathyResponder
	opts    Options
}

func New(intent IntentDetector, nlu NLUAnalyzer, empathy EmpathyResponder, opts Options) *Aggregator {
	if opts.Policy == nil {
		opts.Policy = DefaultPolicy()
	}
	return &Aggregator{intent: intent, nlu: nlu, empathy: empathy, opts: opts}
}

// HandleChat validates the message and runs the three steps sequentially.
// The empathy step always receives the NLU step's resolved value, including
// an embedded error object.
func (a *Aggregator) HandleChat(ctx context.Context, req types.ChatRequest) (types.AggregatedResponse, error) {
	if req.Message == "" {
		return types.AggregatedResponse{}, ErrNoMessage
	}

	intent, err := a.resolve(a.detectIntent(ctx, req.Message))
	if err != nil {
		return types.AggregatedResponse{}, err
	}

	nlu, err := a.resolve(a.analyze(ctx, req.Message))
	if err != nil {
		return types.AggregatedResponse{}, err
	}

	empathy, err := a.resolve(a.respond(ctx, nlu))
	if err != nil {
		return types.AggregatedResponse{}, err
	}

	return types.AggregatedResponse{
		DialogflowResponse: intent,
		GeminiNLUResponse:  nlu,
		EmpathyResponse:    empathy,
	}, nil
}

func (a *Aggregator) detectIntent(ctx context.Context, text string) Outcome {
	out := Outcome{Step: StepIntent}
	fulfillment, err := a.intent.FulfillmentText(ctx, text, SessionID, LanguageCode)
	if err != nil {
		out.Err = err
		return out
	}
	out.Value, out.Err = json.Marshal(fulfillment)
	return out
}

func (a *Aggregator) analyze(ctx context.Context, text string) Outcome {
	v, err := a.nlu.Analyze(ctx, text)
	return Outcome{Step: StepNLU, Value: v, Err: err}
}

func (a *Aggregator) respond(ctx context.Context, nlu json.RawMessage) Outcome {
	v, err := a.empathy.Respond(ctx, nlu)
	return Outcome{Step: StepEmpathy, Value: v, Err: err}
}

// resolve applies the policy table to an outcome.
func (a *Aggregator) resolve(o Outcome) (json.RawMessage, error) {
	if o.Err == nil {
		return o.Value, nil
	}
	kind := o.Kind()
	rule := a.opts.Policy[o.Step]
	log.Printf("[relay] %s failed (%s): %v", o.Step, kind, o.Err)
	if rule.action(kind) != ActionEmbed {
		return nil, &StepError{Step: o.Step, Kind: kind, Err: o.Err}
	}
	b, err := json.Marshal(types.ErrorResponse{Error: rule.Message})
	if err != nil {
		return nil, err
	}
	return b, nil
}
