package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/kschmeckpeper/manipulathor/internal/httputil"
	"github.com/kschmeckpeper/manipulathor/internal/monitoring"
	"github.com/kschmeckpeper/manipulathor/internal/sim"
	"github.com/kschmeckpeper/manipulathor/internal/sim/kinematic"
	"github.com/kschmeckpeper/manipulathor/internal/simclient"
)

// simFactory returns a controller factory for the chosen backend and a
// cleanup func releasing any shared connection.
func simFactory(kind, addr, url string) (sim.Factory, func(), error) {
	switch kind {
	case "kinematic":
		return func(context.Context) (sim.Controller, error) {
			return kinematic.New(kinematic.DefaultOptions(), kinematic.DefaultScene()), nil
		}, func() {}, nil

	case "grpc":
		if addr == "" {
			return nil, nil, fmt.Errorf("-sim grpc needs -addr")
		}
		conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, nil, fmt.Errorf("dial simulator %s: %w", addr, err)
		}
		return func(context.Context) (sim.Controller, error) {
				return simclient.NewController(simclient.NewGRPCCaller(conn)), nil
			}, func() {
				if err := conn.Close(); err != nil {
					monitoring.Logf("closing simulator connection: %v", err)
				}
			}, nil

	case "http":
		if url == "" {
			return nil, nil, fmt.Errorf("-sim http needs -url")
		}
		client := httputil.NewStandardClient(&http.Client{Timeout: 2 * time.Minute})
		return func(context.Context) (sim.Controller, error) {
			return simclient.NewController(simclient.NewHTTPCaller(client, url)), nil
		}, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown simulator %q (want kinematic, grpc or http)", kind)
}

// serveKinematic exposes an in-process kinematic simulator on addr over
// transport ("grpc" or "http") until ctx is cancelled. Over HTTP the
// methods live under /sim/.
func serveKinematic(ctx context.Context, transport, addr string) error {
	ctrl := kinematic.New(kinematic.DefaultOptions(), kinematic.DefaultScene())
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	switch transport {
	case "grpc":
		srv := grpc.NewServer()
		simclient.Serve(srv, ctrl)
		go func() {
			<-ctx.Done()
			srv.GracefulStop()
		}()
		monitoring.Logf("serving kinematic simulator over gRPC on %s", lis.Addr())
		return srv.Serve(lis)

	case "http":
		mux := http.NewServeMux()
		mux.Handle("/sim/", http.StripPrefix("/sim", simclient.Handler(ctrl)))
		srv := &http.Server{Handler: mux}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				monitoring.Logf("simulator HTTP shutdown: %v", err)
			}
		}()
		monitoring.Logf("serving kinematic simulator over HTTP on %s/sim/", lis.Addr())
		if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
	lis.Close()
	return fmt.Errorf("unknown transport %q (want grpc or http)", transport)
}
