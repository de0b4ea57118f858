package creditclient

import (
	"context"
	"net"
	"testing"
	"time"

	creditv1 "github.com/MarkoPoloResearchLab/auctioncredits/api/credit/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

type fakeCreditServer struct {
	creditv1.UnimplementedCreditServiceServer
	lastGrant *creditv1.GrantRequest
}

func (server *fakeCreditServer) Grant(_ context.Context, request *creditv1.GrantRequest) (*creditv1.GrantResponse, error) {
	server.lastGrant = request
	return &creditv1.GrantResponse{
		Batch:   &creditv1.Batch{Id: "batch-1", UserId: request.UserId, Amount: request.Amount, RemainingAmount: request.Amount},
		Balance: &creditv1.BalanceResponse{CurrentCredits: request.Amount},
	}, nil
}

func TestDialRoundTripsJSONMessages(t *testing.T) {
	listener := bufconn.Listen(1 << 20)
	grpcServer := grpc.NewServer()
	fake := &fakeCreditServer{}
	creditv1.RegisterCreditServiceServer(grpcServer, fake)
	go func() { _ = grpcServer.Serve(listener) }()
	defer grpcServer.Stop()

	client, err := Dial(context.Background(), Config{
		Address:     "passthrough:///bufnet",
		Insecure:    true,
		DialTimeout: 5 * time.Second,
		DialOptions: []grpc.DialOption{grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.Dial()
		})},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = client.Close() }()

	response, err := client.Grant(context.Background(), &creditv1.GrantRequest{UserId: "user-1", Amount: 12, Description: "Promo", ExpiresInDays: 30})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if response.Batch.Id != "batch-1" || response.Balance.CurrentCredits != 12 {
		t.Fatalf("unexpected response %+v", response)
	}
	if fake.lastGrant == nil || fake.lastGrant.Description != "Promo" || fake.lastGrant.ExpiresInDays != 30 {
		t.Fatalf("server received %+v", fake.lastGrant)
	}
}

func TestDialRequiresAddress(t *testing.T) {
	if _, err := Dial(context.Background(), Config{Address: " "}); err == nil {
		t.Fatalf("expected error for empty address")
	}
}
