package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"mindful-chat-backend/internal/types"
)

type fakeIntent struct {
	text                string
	err                 error
	calls               int
	gotSession, gotLang string
	gotText             string
}

func (f *fakeIntent) FulfillmentText(_ context.Context, text, sessionID, languageCode string) (string, error) {
	f.calls++
	f.gotText, f.gotSession, f.gotLang = text, sessionID, languageCode
	return f.text, f.err
}

type fakeGemini struct {
	nlu, empathy       json.RawMessage
	nluErr, empathyErr error
	gotNLUText         string
	gotEmpathyInput    json.RawMessage
	order              []Step
}

func (f *fakeGemini) Analyze(_ context.Context, text string) (json.RawMessage, error) {
	f.order = append(f.order, StepNLU)
	f.gotNLUText = text
	return f.nlu, f.nluErr
}

func (f *fakeGemini) Respond(_ context.Context, nlu json.RawMessage) (json.RawMessage, error) {
	f.order = append(f.order, StepEmpathy)
	f.gotEmpathyInput = nlu
	return f.empathy, f.empathyErr
}

type statusErr int

func (s statusErr) Error() string   { return "bad status" }
func (s statusErr) StatusCode() int { return int(s) }

func encode(t *testing.T, v types.AggregatedResponse) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func TestHandleChatHappyPath(t *testing.T) {
	in := &fakeIntent{text: "T"}
	g := &fakeGemini{nlu: json.RawMessage(`{"sentiment":"neutral"}`), empathy: json.RawMessage(`{"reply":"I hear you"}`)}
	agg := New(in, g, g, Options{})

	got, err := agg.HandleChat(context.Background(), types.ChatRequest{Message: "I had a rough day"})
	if err != nil {
		t.Fatalf("HandleChat: %v", err)
	}
	want := `{"dialogflow_response":"T","gemini_nlu_response":{"sentiment":"neutral"},"empathy_response":{"reply":"I hear you"}}`
	if s := encode(t, got); s != want {
		t.Errorf("got  %s\nwant %s", s, want)
	}
	if in.gotSession != "12345" || in.gotLang != "en" {
		t.Errorf("intent called with session=%q lang=%q", in.gotSession, in.gotLang)
	}
	if in.gotText != "I had a rough day" || g.gotNLUText != "I had a rough day" {
		t.Errorf("message not forwarded verbatim: %q / %q", in.gotText, g.gotNLUText)
	}
	if string(g.gotEmpathyInput) != `{"sentiment":"neutral"}` {
		t.Errorf("empathy input = %s", g.gotEmpathyInput)
	}
	if len(g.order) != 2 || g.order[0] != StepNLU || g.order[1] != StepEmpathy {
		t.Errorf("call order = %v", g.order)
	}
}

func TestHandleChatFixedSession(t *testing.T) {
	for _, msg := range []string{"hello", "session 999 please", "   "} {
		in := &fakeIntent{text: "ok"}
		g := &fakeGemini{nlu: json.RawMessage(`{}`), empathy: json.RawMessage(`{}`)}
		if _, err := New(in, g, g, Options{}).HandleChat(context.Background(), types.ChatRequest{Message: msg}); err != nil {
			t.Fatalf("%q: %v", msg, err)
		}
		if in.gotSession != "12345" || in.gotLang != "en" {
			t.Errorf("%q: session=%q lang=%q", msg, in.gotSession, in.gotLang)
		}
	}
}

func TestHandleChatEmptyMessage(t *testing.T) {
	in := &fakeIntent{}
	g := &fakeGemini{}
	_, err := New(in, g, g, Options{}).HandleChat(context.Background(), types.ChatRequest{})
	if !errors.Is(err, ErrNoMessage) {
		t.Fatalf("expected ErrNoMessage, got %v", err)
	}
	if err.Error() != "No message provided" {
		t.Errorf("message = %q", err.Error())
	}
	if in.calls != 0 || len(g.order) != 0 {
		t.Error("no upstream call expected on validation failure")
	}
}

func TestNLUStatusFailureIsEmbeddedAndForwarded(t *testing.T) {
	in := &fakeIntent{text: "T"}
	g := &fakeGemini{nluErr: statusErr(503), empathy: json.RawMessage(`{"reply":"still here"}`)}
	got, err := New(in, g, g, Options{}).HandleChat(context.Background(), types.ChatRequest{Message: "hi"})
	if err != nil {
		t.Fatalf("HandleChat: %v", err)
	}
	wantNLU := `{"error":"Failed to connect to Gemini NLU API"}`
	if string(got.GeminiNLUResponse) != wantNLU {
		t.Errorf("nlu = %s", got.GeminiNLUResponse)
	}
	if string(g.gotEmpathyInput) != wantNLU {
		t.Errorf("empathy must receive the embedded error, got %s", g.gotEmpathyInput)
	}
	if string(got.EmpathyResponse) != `{"reply":"still here"}` {
		t.Errorf("empathy = %s", got.EmpathyResponse)
	}
}

func TestEmpathyStatusFailureIsEmbedded(t *testing.T) {
	in := &fakeIntent{text: "T"}
	g := &fakeGemini{nlu: json.RawMessage(`{"sentiment":"sad"}`), empathyErr: statusErr(500)}
	got, err := New(in, g, g, Options{}).HandleChat(context.Background(), types.ChatRequest{Message: "hi"})
	if err != nil {
		t.Fatalf("HandleChat: %v", err)
	}
	if string(got.EmpathyResponse) != `{"error":"Failed to connect to Gemini Empathy API"}` {
		t.Errorf("empathy = %s", got.EmpathyResponse)
	}
}

func TestPropagatedFailures(t *testing.T) {
	tests := []struct {
		name     string
		intent   *fakeIntent
		gemini   *fakeGemini
		wantStep Step
		wantKind FailureKind
	}{
		{
			name:     "intent transport",
			intent:   &fakeIntent{err: errors.New("dial tcp: refused")},
			gemini:   &fakeGemini{},
			wantStep: StepIntent,
			wantKind: FailureTransport,
		},
		{
			name:     "intent status",
			intent:   &fakeIntent{err: statusErr(403)},
			gemini:   &fakeGemini{},
			wantStep: StepIntent,
			wantKind: FailureStatus,
		},
		{
			name:     "nlu transport",
			intent:   &fakeIntent{text: "T"},
			gemini:   &fakeGemini{nluErr: errors.New("connection reset")},
			wantStep: StepNLU,
			wantKind: FailureTransport,
		},
		{
			name:     "empathy transport",
			intent:   &fakeIntent{text: "T"},
			gemini:   &fakeGemini{nlu: json.RawMessage(`{}`), empathyErr: errors.New("timeout")},
			wantStep: StepEmpathy,
			wantKind: FailureTransport,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.intent, tt.gemini, tt.gemini, Options{}).HandleChat(context.Background(), types.ChatRequest{Message: "hi"})
			var se *StepError
			if !errors.As(err, &se) {
				t.Fatalf("expected *StepError, got %v", err)
			}
			if se.Step != tt.wantStep || se.Kind != tt.wantKind {
				t.Errorf("got %s/%s, want %s/%s", se.Step, se.Kind, tt.wantStep, tt.wantKind)
			}
		})
	}
}

func TestIntentFailureStopsPipeline(t *testing.T) {
	in := &fakeIntent{err: errors.New("no credentials")}
	g := &fakeGemini{}
	if _, err := New(in, g, g, Options{}).HandleChat(context.Background(), types.ChatRequest{Message: "hi"}); err == nil {
		t.Fatal("expected error")
	}
	if len(g.order) != 0 {
		t.Errorf("gemini called after intent failure: %v", g.order)
	}
}

func TestHardenedPolicyEmbedsIntentFailure(t *testing.T) {
	p := DefaultPolicy()
	r := p[StepIntent]
	r.OnTransport = ActionEmbed
	p[StepIntent] = r

	in := &fakeIntent{err: errors.New("no credentials")}
	g := &fakeGemini{nlu: json.RawMessage(`{}`), empathy: json.RawMessage(`{}`)}
	got, err := New(in, g, g, Options{Policy: p}).HandleChat(context.Background(), types.ChatRequest{Message: "hi"})
	if err != nil {
		t.Fatalf("HandleChat: %v", err)
	}
	if string(got.DialogflowResponse) != `{"error":"Failed to connect to Dialogflow"}` {
		t.Errorf("dialogflow = %s", got.DialogflowResponse)
	}
}

func TestHandleChatIsDeterministic(t *testing.T) {
	run := func() string {
		in := &fakeIntent{text: "T"}
		g := &fakeGemini{nlu: json.RawMessage(`{"b":1,"a":[1,2]}`), empathy: json.RawMessage(`{"reply":"ok"}`)}
		got, err := New(in, g, g, Options{}).HandleChat(context.Background(), types.ChatRequest{Message: "same"})
		if err != nil {
			t.Fatalf("HandleChat: %v", err)
		}
		return encode(t, got)
	}
	first := run()
	for i := 0; i < 5; i++ {
		if got := run(); got != first {
			t.Fatalf("run %d differs:\n%s\n%s", i, got, first)
		}
	}
}
