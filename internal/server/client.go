package server

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/replydraft/internal/jobmanager"
	"github.com/ChuLiYu/replydraft/pkg/types"
)

// Client calls JobService. Errors for unknown jobs match types.ErrNotFound
// and rejected payloads match types.ErrValidation.
type Client struct {
	conn   grpc.ClientConnInterface
	closer func() error
}

// Dial connects to addr without transport security.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return &Client{conn: conn, closer: conn.Close}, nil
}

// NewClient wraps an existing connection. Close is then a no-op.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Close releases a connection opened by Dial.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// Submit sends payload as a job of kind.
func (c *Client) Submit(ctx context.Context, kind types.JobKind, payload any) (types.JobID, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	value := new(structpb.Value)
	if err := protojson.Unmarshal(raw, value); err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	in := &structpb.Struct{Fields: map[string]*structpb.Value{
		"kind":    structpb.NewStringValue(string(kind)),
		"payload": value,
	}}

	var resp struct {
		JobID types.JobID `json:"job_id"`
	}
	if err := c.call(ctx, methodSubmit, in, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

// Status returns the job snapshot. It satisfies poller.Source.
func (c *Client) Status(ctx context.Context, id types.JobID) (types.Job, error) {
	var job types.Job
	err := c.call(ctx, methodGetStatus, idRequest(id), &job)
	return job, err
}

// Cancel cancels the job and returns its snapshot.
func (c *Client) Cancel(ctx context.Context, id types.JobID) (types.Job, error) {
	var job types.Job
	err := c.call(ctx, methodCancel, idRequest(id), &job)
	return job, err
}

// List returns the jobs matching filter.
func (c *Client) List(ctx context.Context, filter jobmanager.Filter) ([]types.Job, error) {
	in, err := structpb.NewStruct(map[string]any{
		"user_id": filter.UserID,
		"state":   string(filter.State),
		"kind":    string(filter.Kind),
	})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Jobs []types.Job `json:"jobs"`
	}
	if err := c.call(ctx, methodList, in, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

func (c *Client) call(ctx context.Context, method string, in *structpb.Struct, out any) error {
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, resp); err != nil {
		return fromStatus(err)
	}
	if err := decode(resp, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	return nil
}

func idRequest(id types.JobID) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"job_id": structpb.NewStringValue(string(id)),
	}}
}
