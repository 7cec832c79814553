package simclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kschmeckpeper/manipulathor/internal/httputil"
	"github.com/kschmeckpeper/manipulathor/internal/monitoring"
	"github.com/kschmeckpeper/manipulathor/internal/sim"
)

// simulatorServer is the handler type of the hand-declared service.
type simulatorServer interface {
	handle(ctx context.Context, method string, req map[string]any) (map[string]any, error)
}

// server serialises requests onto one controller.
type server struct {
	mu   sync.Mutex
	ctrl sim.Controller
}

func (s *server) handle(ctx context.Context, method string, req map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		ev  *sim.Event
		err error
	)
	switch method {
	case MethodReset:
		scene, _ := req["scene"].(string)
		ev, err = s.ctrl.Reset(ctx, scene)
	case MethodStep:
		ev, err = s.ctrl.Step(ctx, sim.FromDict(req))
	case MethodStop:
		return map[string]any{}, s.ctrl.Stop()
	default:
		return nil, fmt.Errorf("unknown method %q", method)
	}
	if err != nil {
		return nil, err
	}
	w, err := encodeEvent(ev)
	if err != nil {
		return nil, err
	}
	return toMap(w)
}

func unaryHandler(method string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		h := func(ctx context.Context, req any) (any, error) {
			out, err := srv.(simulatorServer).handle(ctx, method, req.(*structpb.Struct).AsMap())
			if err != nil {
				return nil, err
			}
			return structpb.NewStruct(out)
		}
		if interceptor == nil {
			return h(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		return interceptor(ctx, in, info, h)
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*simulatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodReset, Handler: unaryHandler(MethodReset)},
		{MethodName: MethodStep, Handler: unaryHandler(MethodStep)},
		{MethodName: MethodStop, Handler: unaryHandler(MethodStop)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "manipulathor/simulator",
}

// Serve registers ctrl as the simulator service on s.
func Serve(s grpc.ServiceRegistrar, ctrl sim.Controller) {
	s.RegisterService(&serviceDesc, &server{ctrl: ctrl})
}

// Handler exposes ctrl over HTTP: POST <prefix>/<method> with a JSON body.
func Handler(ctrl sim.Controller) http.Handler {
	srv := &server{ctrl: ctrl}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		req := map[string]any{}
		if err := httputil.ReadJSON(r, 1<<20, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		out, err := srv.handle(r.Context(), method, req)
		if err != nil {
			monitoring.Logf("simulator %s: %v", method, err)
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, out)
	})
}
