package types

import "encoding/json"

type ChatRequest struct {
	Message string `json:"message"`
}

// AggregatedResponse is the /chat payload. Field order is the wire order.
// Each value is relayed as received: a JSON string for the fulfillment text,
// upstream objects for the Gemini calls, or an in-band ErrorResponse.
type AggregatedResponse struct {
	DialogflowResponse json.RawMessage `json:"dialogflow_response"`
	GeminiNLUResponse  json.RawMessage `json:"gemini_nlu_response"`
	EmpathyResponse    json.RawMessage `json:"empathy_response"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
