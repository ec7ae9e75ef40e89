package server

import (
	"net/http"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/pyrite/vm"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("pyrite.server")

// RuntimeServer exposes a running VM over the Connect protocol. All
// procedures exchange JSON bodies; requests are serialized onto the VM
// worker goroutine.
type RuntimeServer struct {
	worker *VMWorker
	mux    *http.ServeMux
}

// New creates a RuntimeServer wrapping the given VM.
func New(v *vm.VirtualMachine) *RuntimeServer {
	worker := NewVMWorker(v)
	s := &RuntimeServer{
		worker: worker,
		mux:    http.NewServeMux(),
	}

	svc := NewEvalService(worker)
	codec := connect.WithCodec(jsonCodec{})

	s.mux.Handle(EvalProcedure, connect.NewUnaryHandler(EvalProcedure, svc.Eval, codec))
	s.mux.Handle(InspectProcedure, connect.NewUnaryHandler(InspectProcedure, svc.Inspect, codec))
	s.mux.Handle(ProfileProcedure, connect.NewUnaryHandler(ProfileProcedure, svc.Profile, codec))

	return s
}

// Handler returns the HTTP handler serving all runtime procedures.
func (s *RuntimeServer) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *RuntimeServer) ListenAndServe(addr string) error {
	log.Infof("runtime service listening on %s", addr)
	log.Infof("  Eval:    http://%s%s", addr, EvalProcedure)
	log.Infof("  Inspect: http://%s%s", addr, InspectProcedure)
	log.Infof("  Profile: http://%s%s", addr, ProfileProcedure)
	return http.ListenAndServe(addr, s.mux)
}

// Stop shuts down the VM worker.
func (s *RuntimeServer) Stop() {
	s.worker.Stop()
}
