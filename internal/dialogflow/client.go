package dialogflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	dfapi "cloud.google.com/go/dialogflow/apiv2"
	"cloud.google.com/go/dialogflow/apiv2/dialogflowpb"
	"github.com/googleapis/gax-go/v2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Scope required by the sessions.detectIntent method.
const Scope = "https://www.googleapis.com/auth/dialogflow"

// StatusError is an RPC the Dialogflow service answered with a non-OK code.
// Network failures and cancellations are returned unwrapped.
type StatusError struct {
	Code    codes.Code
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("dialogflow detectIntent code=%s message=%s", e.Code, e.Message)
}

// StatusCode reports the gRPC code.
func (e *StatusError) StatusCode() int { return int(e.Code) }

// Client wraps the Dialogflow ES v2 sessions client.
type Client struct {
	sessions  *dfapi.SessionsClient
	projectID string
	timeout   time.Duration
	// set when the sessions client couldn't be built; returned on every call
	initErr error
}

// New builds a sessions client authorised with the service account in
// credentialsFile, or Application Default Credentials when the file can't be
// read. A client is always returned; setup failures surface on the first call.
// Extra options are applied last and win.
func New(ctx context.Context, projectID, credentialsFile string, timeout time.Duration, opts ...option.ClientOption) *Client {
	c := &Client{projectID: projectID, timeout: timeout}

	var all []option.ClientOption
	creds, err := loadCredentials(ctx, credentialsFile)
	if err != nil {
		log.Printf("warning: dialogflow credentials: %v", err)
		c.initErr = err
		return c
	}
	if creds != nil {
		all = append(all, option.WithCredentials(creds))
	}
	all = append(all, opts...)

	sessions, err := dfapi.NewSessionsClient(ctx, all...)
	if err != nil {
		log.Printf("warning: dialogflow sessions client: %v", err)
		c.initErr = fmt.Errorf("dialogflow sessions client: %w", err)
		return c
	}
	c.sessions = sessions
	return c
}

// loadCredentials returns nil, nil when the file is absent so the SDK falls
// back to its own credential discovery.
func loadCredentials(ctx context.Context, credentialsFile string) (*google.Credentials, error) {
	if credentialsFile == "" {
		return nil, nil
	}
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("[dialogflow] %s not found; using default credentials", credentialsFile)
			return nil, nil
		}
		return nil, err
	}
	creds, err := google.CredentialsFromJSON(ctx, b, Scope)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", credentialsFile, err)
	}
	return creds, nil
}

func (c *Client) Close() error {
	if c.sessions == nil {
		return nil
	}
	return c.sessions.Close()
}

// noRetry turns off the SDK's default retry on Unavailable; each message is
// sent to the agent at most once.
var noRetry = gax.WithRetry(func() gax.Retryer { return nil })

// SessionPath returns the resource name of a session in the default agent.
func SessionPath(projectID, sessionID string) string {
	return fmt.Sprintf("projects/%s/agent/sessions/%s", projectID, sessionID)
}

// DetectIntent sends text to the agent and returns the query result.
func (c *Client) DetectIntent(ctx context.Context, text, sessionID, languageCode string) (*dialogflowpb.QueryResult, error) {
	if c.initErr != nil {
		return nil, c.initErr
	}
	if c.projectID == "" {
		return nil, fmt.Errorf("dialogflow project id is not configured")
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := c.sessions.DetectIntent(ctx, &dialogflowpb.DetectIntentRequest{
		Session: SessionPath(c.projectID, sessionID),
		QueryInput: &dialogflowpb.QueryInput{
			Input: &dialogflowpb.QueryInput_Text{
				Text: &dialogflowpb.TextInput{Text: text, LanguageCode: languageCode},
			},
		},
	}, noRetry)
	if err != nil {
		return nil, classify(err)
	}
	return resp.GetQueryResult(), nil
}

// FulfillmentText runs DetectIntent and keeps only the fulfillment text.
func (c *Client) FulfillmentText(ctx context.Context, text, sessionID, languageCode string) (string, error) {
	qr, err := c.DetectIntent(ctx, text, sessionID, languageCode)
	if err != nil {
		return "", err
	}
	return qr.GetFulfillmentText(), nil
}

func classify(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("dialogflow detectIntent: %w", err)
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled, codes.Unknown:
		return fmt.Errorf("dialogflow detectIntent: %w", err)
	}
	return &StatusError{Code: st.Code(), Message: st.Message()}
}
