// Package probe spawns the xray engine for a batch of candidates, waits for
// it to start listening, drives latency/site-reachability checks through it
// over SOCKS5, and tears it down — always cleaning up the temp config file,
// whatever exit path is taken.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"

	"proxy-fleet-evaluator/internal/descriptor"
	"proxy-fleet-evaluator/internal/engineconfig"
)

// Settings carries the probe-relevant subset of the running configuration.
type Settings struct {
	XrayPath        string
	XrayAssetsPath  string
	BasePort        int
	TestTimeout     time.Duration
	LatencyTestURL  string
}

// Runner drives xray-backed probes.
type Runner struct {
	settings Settings
	log      *logrus.Logger
}

// New returns a Runner.
func New(settings Settings, log *logrus.Logger) *Runner {
	return &Runner{settings: settings, log: log}
}

// Result pairs a descriptor with its measured latency. DelayMS is math.Inf(1)
// on any failure: missing binary, start failure, timeout, non-2xx.
type Result struct {
	Descriptor *descriptor.ServerDescriptor
	DelayMS    float64
}

// RunBatch measures the latency of every descriptor in batch concurrently,
// through a single xray process covering the whole batch.
func (r *Runner) RunBatch(ctx context.Context, batch []*descriptor.ServerDescriptor) []Result {
	if len(batch) == 0 {
		return nil
	}

	sess, ok := r.start(ctx, batch)
	if !ok {
		return infiniteResults(batch)
	}
	defer sess.shutdown()

	results := make([]Result, len(batch))
	var wg sync.WaitGroup
	for i, d := range batch {
		wg.Add(1)
		go func(i int, d *descriptor.ServerDescriptor) {
			defer wg.Done()
			results[i] = Result{Descriptor: d, DelayMS: r.latency(sess.port(i))}
		}(i, d)
	}
	wg.Wait()
	return results
}

// CheckSite tests every descriptor in batch against targetURL through a
// single xray process, returning only the descriptors that succeeded.
func (r *Runner) CheckSite(ctx context.Context, batch []*descriptor.ServerDescriptor, targetURL string) []*descriptor.ServerDescriptor {
	if len(batch) == 0 {
		return nil
	}

	sess, ok := r.start(ctx, batch)
	if !ok {
		return nil
	}
	defer sess.shutdown()

	ok2 := make([]bool, len(batch))
	var wg sync.WaitGroup
	for i := range batch {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok2[i] = r.checkURL(sess.port(i), targetURL)
		}(i)
	}
	wg.Wait()

	var out []*descriptor.ServerDescriptor
	for i, succeeded := range ok2 {
		if succeeded {
			out = append(out, batch[i])
		}
	}
	return out
}

func infiniteResults(batch []*descriptor.ServerDescriptor) []Result {
	out := make([]Result, len(batch))
	for i, d := range batch {
		out[i] = Result{Descriptor: d, DelayMS: math.Inf(1)}
	}
	return out
}

// session wraps one running xray process and its temp config file.
type session struct {
	cmd        *exec.Cmd
	configPath string
	basePort   int
	log        *logrus.Logger
}

func (s *session) port(i int) int { return s.basePort + i }

// start writes the batch config, launches xray and waits up to 3s for its
// first inbound to accept connections. Returns ok=false (config already
// cleaned up) if the binary is missing, fails to start, or never becomes
// ready.
func (r *Runner) start(ctx context.Context, batch []*descriptor.ServerDescriptor) (*session, bool) {
	cfg := engineconfig.Build(batch, r.settings.BasePort)
	raw, err := json.Marshal(cfg)
	if err != nil {
		r.log.WithError(err).Error("marshal engine config")
		return nil, false
	}

	configPath := tempConfigPath()
	if err := os.WriteFile(configPath, raw, 0o600); err != nil {
		r.log.WithError(err).Error("write engine config")
		return nil, false
	}

	cmd := exec.CommandContext(ctx, r.settings.XrayPath, "-c", configPath)
	cmd.Env = os.Environ()
	if info, err := os.Stat(r.settings.XrayAssetsPath); err == nil && info.IsDir() {
		cmd.Env = append(cmd.Env, "XRAY_LOCATION_ASSET="+r.settings.XrayAssetsPath)
	}

	var stdout, stderr []byte
	stdoutPipe, _ := cmd.StdoutPipe()
	stderrPipe, _ := cmd.StderrPipe()

	if err := cmd.Start(); err != nil {
		r.log.WithError(err).Warn("xray failed to start; reporting +inf for the batch")
		os.Remove(configPath)
		return nil, false
	}

	go func() { stdout, _ = readAll(stdoutPipe) }()
	go func() { stderr, _ = readAll(stderrPipe) }()

	ready := waitForPort(r.settings.BasePort, 3*time.Second)
	if !ready || processExited(cmd) {
		r.log.WithFields(logrus.Fields{"stdout": string(stdout), "stderr": string(stderr)}).
			Warn("xray exited before becoming ready")
		terminateAndWait(cmd)
		os.Remove(configPath)
		return nil, false
	}

	return &session{cmd: cmd, configPath: configPath, basePort: r.settings.BasePort, log: r.log}, true
}

func (s *session) shutdown() {
	terminateAndWait(s.cmd)
	if err := os.Remove(s.configPath); err != nil && !os.IsNotExist(err) {
		s.log.WithError(err).Warn("failed to remove temp engine config")
	}
}

func terminateAndWait(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
		return
	case <-time.After(2 * time.Second):
		_ = cmd.Process.Kill()
		<-done
	}
}

func processExited(cmd *exec.Cmd) bool {
	return cmd.ProcessState != nil
}

func waitForPort(port int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

func (r *Runner) latency(port int) float64 {
	client, err := socksClient(port, r.settings.TestTimeout)
	if err != nil {
		return math.Inf(1)
	}

	start := time.Now()
	resp, err := client.R().Head(r.settings.LatencyTestURL)
	if err != nil || resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return math.Inf(1)
	}
	return float64(time.Since(start).Milliseconds())
}

func (r *Runner) checkURL(port int, targetURL string) bool {
	client, err := socksClient(port, r.settings.TestTimeout)
	if err != nil {
		return false
	}
	resp, err := client.R().Head(targetURL)
	if err != nil {
		return false
	}
	return resp.StatusCode() < 400
}

func socksClient(port int, timeout time.Duration) (*resty.Client, error) {
	dialer, err := proxy.SOCKS5("tcp", fmt.Sprintf("127.0.0.1:%d", port), nil, proxy.Direct)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		},
	}

	return resty.New().
		SetTransport(transport).
		SetTimeout(timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10)), nil
}

func tempConfigPath() string {
	return fmt.Sprintf("%s/xray-%s.json", os.TempDir(), uuid.New().String())
}

func readAll(r interface{ Read([]byte) (int, error) }) ([]byte, error) {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			return buf, nil
		}
	}
}
