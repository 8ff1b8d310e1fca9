package api

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client wraps a gRPC connection to the daemon.
type Client struct {
	conn grpc.ClientConnInterface
	ownc *grpc.ClientConn
}

// Dial connects to the daemon's Unix domain socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn, ownc: conn}, nil
}

// NewClient wraps an existing connection. Close does not close it.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Close closes the gRPC connection when the client owns it.
func (c *Client) Close() error {
	if c.ownc == nil {
		return nil
	}
	return c.ownc.Close()
}

func (c *Client) invoke(ctx context.Context, service, method string, req map[string]any) (map[string]any, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+service+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	return c.invoke(ctx, SessionServiceName, "GetStatus", nil)
}

func (c *Client) Connect(ctx context.Context) (map[string]any, error) {
	return c.invoke(ctx, SessionServiceName, "Connect", nil)
}

func (c *Client) Disconnect(ctx context.Context) (map[string]any, error) {
	return c.invoke(ctx, SessionServiceName, "Disconnect", nil)
}

func (c *Client) SetForeground(ctx context.Context, foreground bool) (map[string]any, error) {
	return c.invoke(ctx, SessionServiceName, "SetForeground", map[string]any{"foreground": foreground})
}

func (c *Client) CheckHealth(ctx context.Context) (map[string]any, error) {
	return c.invoke(ctx, SessionServiceName, "CheckHealth", nil)
}

func (c *Client) ListConversations(ctx context.Context, start, count int) (map[string]any, error) {
	return c.invoke(ctx, ConversationServiceName, "ListConversations", map[string]any{"start": start, "count": count})
}

func (c *Client) ListClients(ctx context.Context, userIDs []string) (map[string]any, error) {
	ids := make([]any, len(userIDs))
	for i, id := range userIDs {
		ids[i] = id
	}
	return c.invoke(ctx, ConversationServiceName, "ListClients", map[string]any{"user_ids": ids})
}

func (c *Client) ListMessages(ctx context.Context, conversationID string, limit int) (map[string]any, error) {
	req := map[string]any{"conversation_id": conversationID}
	if limit > 0 {
		req["limit"] = limit
	}
	return c.invoke(ctx, ConversationServiceName, "ListMessages", req)
}

func (c *Client) SendText(ctx context.Context, conversationID, text string) (map[string]any, error) {
	return c.invoke(ctx, ConversationServiceName, "SendText", map[string]any{
		"conversation_id": conversationID,
		"text":            text,
	})
}

// WatchEvents streams events whose kind starts with prefix to fn until the
// stream ends, ctx is cancelled, or fn returns an error.
func (c *Client) WatchEvents(ctx context.Context, prefix string, fn func(map[string]any) error) error {
	desc := &SessionServiceDesc.Streams[0]
	stream, err := c.conn.NewStream(ctx, desc, "/"+SessionServiceName+"/"+desc.StreamName)
	if err != nil {
		return err
	}
	in, err := structpb.NewStruct(map[string]any{"prefix": prefix})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		evt := new(structpb.Struct)
		if err := stream.RecvMsg(evt); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if err := fn(evt.AsMap()); err != nil {
			return err
		}
	}
}
