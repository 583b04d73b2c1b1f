// Package profilers sets up profiling of the trainer: an HTTP pprof server (-prof) and a CPU
// profile file (-cpu_profile).
//
// If linked, it will install the profiler flags.
package profilers

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	runtimePprof "runtime/pprof"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagProfiler   = flag.Int("prof", -1, "If set, serves the pprof profiler at the given port on localhost.")
	flagCPUProfile = flag.String("cpu_profile", "", "Write cpu profile to `file`.")
	flagKeepAlive  = flag.Bool("prof_keep_alive", false, "If set with -prof, keeps the program alive at the end, "+
		"until interrupted, so the profiler can still be accessed.")
)

// Profilers started by Setup.
type Profilers struct {
	ctx        context.Context
	addr       string
	server     *http.Server
	cpuProfile *os.File
}

// Setup starts the HTTP (flag -prof) and CPU profilers (flag -cpu_profile), if they were configured.
// You should follow with a deferred call to Profilers.OnQuit.
func Setup(ctx context.Context) (*Profilers, error) {
	p := &Profilers{ctx: ctx}
	if *flagProfiler >= 0 {
		p.startHTTPProfiler(*flagProfiler)
	}
	if *flagCPUProfile != "" {
		if err := p.startCPUProfile(*flagCPUProfile); err != nil {
			p.OnQuit()
			return nil, err
		}
	}
	return p, nil
}

// Addr of the HTTP profiler, or "" if it is not running.
func (p *Profilers) Addr() string { return p.addr }

func (p *Profilers) startCPUProfile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "could not create CPU profile %s", path)
	}
	if err = runtimePprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "could not start CPU profile in %s", path)
	}
	p.cpuProfile = f
	return nil
}

func (p *Profilers) startHTTPProfiler(port int) {
	p.addr = fmt.Sprintf("localhost:%d", port)
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	p.server = &http.Server{Addr: p.addr, Handler: mux}
	klog.Infof("Starting profiler on http://%s/debug/pprof", p.addr)
	klog.Infof("- You can access it with: $ go tool pprof http://%s/debug/pprof/heap", p.addr)
	go func() {
		if err := p.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			klog.Errorf("Profiler on %s failed: %v", p.addr, err)
		}
	}()
}

// OnQuit should be called before the exit of the main() function, typically this is set up as a
// deferred call just after Setup.
//
// With -prof_keep_alive it blocks until the context given to Setup is done.
func (p *Profilers) OnQuit() {
	if p == nil {
		return
	}
	if p.cpuProfile != nil {
		runtimePprof.StopCPUProfile()
		if err := p.cpuProfile.Close(); err != nil {
			klog.Errorf("Failed to close CPU profile: %v", err)
		}
		p.cpuProfile = nil
	}
	if p.server == nil {
		return
	}
	if *flagKeepAlive && p.ctx.Err() == nil {
		// Garbage collect, to see if there is anything leaking.
		for range 10 {
			runtime.GC()
		}
		klog.Infof("Program finished: kept alive with profiler opened at http://%s/debug/pprof", p.addr)
		klog.Infof("Interrupt (Ctrl+C) to exit")
		<-p.ctx.Done()
	}
	_ = p.server.Close()
	p.server = nil
}
