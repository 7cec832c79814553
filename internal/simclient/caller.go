// Package simclient connects an environment to a simulator running in
// another process. The same request and event encoding is carried over gRPC
// (as protobuf Struct messages) or over HTTP (as JSON), and Serve/Handler
// expose any sim.Controller on the server side.
package simclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kschmeckpeper/manipulathor/internal/httputil"
)

// RPC method names.
const (
	MethodReset = "Reset"
	MethodStep  = "Step"
	MethodStop  = "Stop"
)

// ServiceName is the gRPC service the simulator is registered under.
const ServiceName = "manipulathor.Simulator"

func fullMethod(method string) string { return "/" + ServiceName + "/" + method }

// Caller performs one request/response exchange with a remote simulator.
type Caller interface {
	Call(ctx context.Context, method string, req map[string]any) (map[string]any, error)
}

// GRPCCaller calls the simulator service over a gRPC connection.
type GRPCCaller struct {
	conn grpc.ClientConnInterface
}

// NewGRPCCaller wraps an established connection.
func NewGRPCCaller(conn grpc.ClientConnInterface) *GRPCCaller {
	return &GRPCCaller{conn: conn}
}

func (c *GRPCCaller) Call(ctx context.Context, method string, req map[string]any) (map[string]any, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return out.AsMap(), nil
}

// HTTPCaller POSTs JSON to <base>/<method>.
type HTTPCaller struct {
	client httputil.HTTPClient
	base   string
}

// NewHTTPCaller returns a caller for the simulator at base, e.g.
// "http://localhost:8200/sim".
func NewHTTPCaller(client httputil.HTTPClient, base string) *HTTPCaller {
	return &HTTPCaller{client: client, base: strings.TrimRight(base, "/")}
}

func (c *HTTPCaller) Call(ctx context.Context, method string, req map[string]any) (map[string]any, error) {
	status, raw, err := httputil.PostJSON(ctx, c.client, c.base+"/"+method, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if status != http.StatusOK {
		if msg := httputil.ErrorMessage(raw); msg != "" {
			return nil, fmt.Errorf("%s: simulator returned %d: %s", method, status, msg)
		}
		return nil, fmt.Errorf("%s: simulator returned %d", method, status)
	}
	out := map[string]any{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", method, err)
	}
	return out, nil
}
