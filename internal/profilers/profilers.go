// Package profilers installs the profiling flags of the league binaries: an HTTP pprof endpoint
// (-pprof_port), a CPU profile (-cpu_profile) and a heap profile written on exit (-mem_profile).
package profilers

import (
	"context"
	"flag"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	runtimepprof "runtime/pprof"
	"strconv"
	"time"
)

var (
	flagPprofPort  = flag.Int("pprof_port", -1, "If >= 0, serves /debug/pprof on localhost at the given port (0 picks a free port).")
	flagCPUProfile = flag.String("cpu_profile", "", "Write a CPU profile to `file`.")
	flagMemProfile = flag.String("mem_profile", "", "Write a heap profile to `file` on exit.")

	cpuProfileFile *os.File
	pprofServer    *http.Server
)

// Setup starts the profilers configured by the flags. Follow it with a deferred call to OnQuit.
//
// The pprof server is stopped when ctx is done or on OnQuit, whatever comes first.
func Setup(ctx context.Context) error {
	if *flagPprofPort >= 0 {
		addr, err := startPprofServer(ctx, *flagPprofPort)
		if err != nil {
			return err
		}
		klog.Infof("pprof available at http://%s/debug/pprof", addr)
	}
	if *flagCPUProfile != "" {
		f, err := os.Create(*flagCPUProfile)
		if err != nil {
			return errors.Wrapf(err, "creating CPU profile %q", *flagCPUProfile)
		}
		if err = runtimepprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return errors.Wrapf(err, "starting CPU profile")
		}
		cpuProfileFile = f
	}
	return nil
}

// startPprofServer serves the pprof handlers on their own mux, so they are not exposed by other
// servers using http.DefaultServeMux. It returns the address it is listening to.
func startPprofServer(ctx context.Context, port int) (string, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort("localhost", strconv.Itoa(port)))
	if err != nil {
		return "", errors.Wrapf(err, "listening for pprof on port %d", port)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	pprofServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	server := pprofServer
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			klog.Errorf("pprof server failed: %+v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	return listener.Addr().String(), nil
}

// OnQuit stops the CPU profile, writes the heap profile and stops the pprof server. Errors are
// logged.
func OnQuit() {
	if cpuProfileFile != nil {
		runtimepprof.StopCPUProfile()
		if err := cpuProfileFile.Close(); err != nil {
			klog.Errorf("closing CPU profile: %v", err)
		}
		cpuProfileFile = nil
	}
	if *flagMemProfile != "" {
		if err := writeHeapProfile(*flagMemProfile); err != nil {
			klog.Errorf("%+v", err)
		}
	}
	if pprofServer != nil {
		_ = pprofServer.Close()
		pprofServer = nil
	}
}

func writeHeapProfile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating heap profile %q", path)
	}
	defer func() { _ = f.Close() }()
	// Up-to-date statistics.
	runtime.GC()
	return errors.Wrapf(runtimepprof.WriteHeapProfile(f), "writing heap profile %q", path)
}
