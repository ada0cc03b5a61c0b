package federation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/signalsfoundry/federation-sim/model"
)

// Client publishes updates and detonations to one peer's federation service.
type Client struct {
	conn  *grpc.ClientConn
	owned bool
}

// Dial connects to target without transport security. Extra options are
// appended after the defaults.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, opts...)
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &Client{conn: conn, owned: true}, nil
}

// NewClient wraps an existing connection. Close leaves conn open.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Publish implements Publisher.
func (c *Client) Publish(ctx context.Context, update model.EntityUpdate) error {
	req, err := UpdateToStruct(update)
	if err != nil {
		return fmt.Errorf("encode update %q: %w", update.EntityID, err)
	}
	if err := c.conn.Invoke(ctx, publishMethod, req, new(emptypb.Empty)); err != nil {
		return fmt.Errorf("publish %q to %s: %w", update.EntityID, c.conn.Target(), err)
	}
	return nil
}

// SendDetonation asks the peer owning det.TargetID to assess damage.
func (c *Client) SendDetonation(ctx context.Context, det model.Detonation) error {
	req, err := DetonationToStruct(det)
	if err != nil {
		return fmt.Errorf("encode detonation on %q: %w", det.TargetID, err)
	}
	if err := c.conn.Invoke(ctx, detonateMethod, req, new(emptypb.Empty)); err != nil {
		return fmt.Errorf("detonate on %q at %s: %w", det.TargetID, c.conn.Target(), err)
	}
	return nil
}

// Close releases the connection if Dial created it.
func (c *Client) Close() error {
	if !c.owned || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
