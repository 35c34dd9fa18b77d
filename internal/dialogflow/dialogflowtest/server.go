// Package dialogflowtest runs an in-process Dialogflow sessions service.
package dialogflowtest

import (
	"context"
	"net"
	"sync"
	"testing"

	"cloud.google.com/go/dialogflow/apiv2/dialogflowpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
)

type Server struct {
	dialogflowpb.UnimplementedSessionsServer

	addr string

	mu          sync.Mutex
	fulfillment string
	err         error
	requests    []*dialogflowpb.DetectIntentRequest
}

// New starts a server answering every DetectIntent with fulfillment.
// It stops when the test ends.
func New(t *testing.T, fulfillment string) *Server {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &Server{addr: lis.Addr().String(), fulfillment: fulfillment}
	gs := grpc.NewServer()
	dialogflowpb.RegisterSessionsServer(gs, s)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)
	return s
}

// ClientOptions point a sessions client at the server without auth.
func (s *Server) ClientOptions() []option.ClientOption {
	return []option.ClientOption{
		option.WithEndpoint(s.addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	}
}

// SetError makes subsequent calls fail with err (a grpc status error).
func (s *Server) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Requests returns copies of the requests received so far.
func (s *Server) Requests() []*dialogflowpb.DetectIntentRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*dialogflowpb.DetectIntentRequest, len(s.requests))
	for i, r := range s.requests {
		out[i] = proto.Clone(r).(*dialogflowpb.DetectIntentRequest)
	}
	return out
}

func (s *Server) DetectIntent(_ context.Context, req *dialogflowpb.DetectIntentRequest) (*dialogflowpb.DetectIntentResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, proto.Clone(req).(*dialogflowpb.DetectIntentRequest))
	if s.err != nil {
		return nil, s.err
	}
	return &dialogflowpb.DetectIntentResponse{
		ResponseId: "r-1",
		QueryResult: &dialogflowpb.QueryResult{
			QueryText:       req.GetQueryInput().GetText().GetText(),
			LanguageCode:    req.GetQueryInput().GetText().GetLanguageCode(),
			FulfillmentText: s.fulfillment,
		},
	}, nil
}
