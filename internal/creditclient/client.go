// Package creditclient dials the credit gRPC service for command-line tooling.
package creditclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	creditv1 "github.com/MarkoPoloResearchLab/auctioncredits/api/credit/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

const defaultDialTimeout = 5 * time.Second

// Config describes how to reach the credit service.
type Config struct {
	Address     string
	Insecure    bool
	DialTimeout time.Duration
	DialOptions []grpc.DialOption
}

// Client is a connected credit service client.
type Client struct {
	creditv1.CreditServiceClient
	conn *grpc.ClientConn
}

// Dial connects and blocks until the connection is ready or the dial timeout elapses.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	address := strings.TrimSpace(cfg.Address)
	if address == "" {
		return nil, errors.New("credit service address is required")
	}
	dialOptions := []grpc.DialOption{}
	if cfg.Insecure {
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	dialOptions = append(dialOptions, cfg.DialOptions...)
	conn, err := grpc.NewClient(address, dialOptions...)
	if err != nil {
		return nil, fmt.Errorf("connect credit service: %w", err)
	}
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn.Connect()
	if err := waitForClientReady(waitCtx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("connect credit service: %w", err)
	}
	return &Client{CreditServiceClient: creditv1.NewCreditServiceClient(conn), conn: conn}, nil
}

// Close releases the connection.
func (client *Client) Close() error {
	return client.conn.Close()
}

func waitForClientReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			return nil
		}
		if state == connectivity.Shutdown {
			return errors.New("grpc connection shutdown before ready")
		}
		if !conn.WaitForStateChange(ctx, state) {
			if err := ctx.Err(); err != nil {
				return err
			}
			return errors.New("grpc connection failed to reach ready state")
		}
	}
}
