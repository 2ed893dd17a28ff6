package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"tankd/internal/motor"
	"tankd/internal/pwm"
)

const testHold = 40 * time.Millisecond

type harness struct {
	sim    *pwm.Sim
	ctl    *motor.Controller
	status *Status
	logs   *LogBuffer
	ts     *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	sim := pwm.NewSim()
	ctl, err := motor.New(sim, motor.Config{ChannelA: 0, ChannelB: 1, Hold: testHold})
	if err != nil {
		t.Fatalf("motor.New: %v", err)
	}
	h := &harness{sim: sim, ctl: ctl, status: NewStatus(), logs: NewLogBuffer(100)}
	h.ts = httptest.NewServer(Handler(ctl, h.status, h.logs))
	t.Cleanup(h.ts.Close)
	return h
}

func (h *harness) post(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Post(h.ts.URL+path, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, strings.TrimSpace(string(b))
}

func pairs(ws []pwm.Write) [][2]int {
	out := make([][2]int, 0, len(ws))
	for _, w := range ws {
		out = append(out, [2]int{w.Channel, int(w.Value)})
	}
	return out
}

func samePairs(a, b [][2]int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCommandEndpoints(t *testing.T) {
	full := pwm.MaxDuty
	cases := []struct {
		path   string
		body   string
		writes [][2]int
		holds  bool
	}{
		{"/fwd", `{"Move forward":true}`, [][2]int{{0, full}, {1, full}, {0, 0}, {1, 0}}, true},
		{"/bwd", `{"Move backward":true}`, [][2]int{{0, full}, {1, full}, {0, 0}, {1, 0}}, true},
		{"/right", `{"Turn right":true}`, [][2]int{{0, full}, {1, 0}, {0, 0}, {1, 0}}, true},
		{"/left", `{"Turn left":true}`, [][2]int{{0, 0}, {1, full}, {0, 0}, {1, 0}}, true},
		{"/stop", `{"command":"STOP"}`, [][2]int{{0, 0}, {1, 0}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			h := newHarness(t)

			start := time.Now()
			resp, body := h.post(t, tc.path)
			elapsed := time.Since(start)

			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status code=%d body=%s", resp.StatusCode, body)
			}
			if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
				t.Fatalf("content-type=%q", ct)
			}
			if body != tc.body {
				t.Fatalf("body=%s want %s", body, tc.body)
			}
			// The trailing stop is on the wire before the client hears back.
			if got := pairs(h.sim.Writes()); !samePairs(got, tc.writes) {
				t.Fatalf("writes=%v want %v", got, tc.writes)
			}
			if tc.holds && elapsed < testHold {
				t.Fatalf("responded after %v want >= %v", elapsed, testHold)
			}
		})
	}
}

func TestForwardHoldsBetweenDriveAndStop(t *testing.T) {
	h := newHarness(t)
	if resp, body := h.post(t, "/fwd"); resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d body=%s", resp.StatusCode, body)
	}
	ws := h.sim.Writes()
	if len(ws) != 4 {
		t.Fatalf("writes=%d want 4", len(ws))
	}
	if gap := ws[2].At.Sub(ws[1].At); gap < testHold {
		t.Fatalf("drive-to-stop gap=%v want >= %v", gap, testHold)
	}
}

func TestStopTwice(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 2; i++ {
		resp, body := h.post(t, "/stop")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("stop #%d status=%d body=%s", i+1, resp.StatusCode, body)
		}
		if h.sim.Duty(0) != 0 || h.sim.Duty(1) != 0 {
			t.Fatalf("stop #%d duty=(%d,%d)", i+1, h.sim.Duty(0), h.sim.Duty(1))
		}
	}
	if n := len(h.sim.Writes()); n != 4 {
		t.Fatalf("writes=%d want 4", n)
	}
}

func TestRouterDefaults(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.ts.URL + "/fwd")
	if err != nil {
		t.Fatalf("GET /fwd: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET /fwd status=%d want 405", resp.StatusCode)
	}

	resp, _ = h.post(t, "/spin")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("POST /spin status=%d want 404", resp.StatusCode)
	}
	if n := len(h.sim.Writes()); n != 0 {
		t.Fatalf("writes=%d want 0", n)
	}
}

func TestHardwareFault(t *testing.T) {
	h := newHarness(t)
	h.sim.SetFault(func(ch int, v uint16) error {
		if v != 0 {
			return errors.New("remote i/o error")
		}
		return nil
	})

	resp, body := h.post(t, "/right")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status code=%d want 500", resp.StatusCode)
	}
	var er ErrResponse
	if err := json.Unmarshal([]byte(body), &er); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	if er.StatusText != "hardware fault" || !strings.Contains(er.ErrorText, "remote i/o error") {
		t.Fatalf("err body=%+v", er)
	}
	// Best-effort stop after the failed drive write.
	if got := pairs(h.sim.Writes()); !samePairs(got, [][2]int{{0, 0}, {1, 0}}) {
		t.Fatalf("writes=%v", got)
	}

	snap := h.status.Snapshot(time.Now().UTC())
	if snap.FailuresTotal != 1 || snap.LastError == "" {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestAPIStatus(t *testing.T) {
	h := newHarness(t)
	h.status.SetStatic(StaticInfo{Listen: "0.0.0.0:5000", Backend: "sim", FrequencyHz: 40, ChannelA: 0, ChannelB: 1, Hold: "2s"})
	h.post(t, "/left")
	h.post(t, "/stop")
	h.post(t, "/stop")

	resp, err := http.Get(h.ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}

	var snap StatusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if snap.Service != "tankd" {
		t.Fatalf("service=%q", snap.Service)
	}
	if snap.Static.FrequencyHz != 40 || snap.Static.Backend != "sim" {
		t.Fatalf("config=%+v", snap.Static)
	}
	if snap.Totals["left"] != 1 || snap.Totals["stop"] != 2 || snap.Totals["forward"] != 0 {
		t.Fatalf("totals=%v", snap.Totals)
	}
	if snap.LastCommand != "stop" || snap.Active != "" {
		t.Fatalf("last=%q active=%q", snap.LastCommand, snap.Active)
	}
	if snap.Build.GoVersion == "" {
		t.Fatalf("missing go version")
	}
}

func TestAPILogs(t *testing.T) {
	h := newHarness(t)
	_, _ = h.logs.Write([]byte("motor: one\nmotor: two\nmotor: three\n"))

	resp, err := http.Get(h.ts.URL + "/api/logs?tail=2")
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	defer resp.Body.Close()
	var out LogsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if len(out.Lines) != 2 || out.Lines[1] != "motor: three" {
		t.Fatalf("lines=%v", out.Lines)
	}

	resp2, err := http.Get(h.ts.URL + "/api/logs?tail=0")
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("tail=0 status=%d want 400", resp2.StatusCode)
	}
}

func TestNewServer_WriteTimeoutCoversHold(t *testing.T) {
	srv := NewServer(context.Background(), ":0", http.NotFoundHandler(), 30*time.Second)
	if srv.WriteTimeout < 35*time.Second {
		t.Fatalf("write timeout=%v", srv.WriteTimeout)
	}
	srv = NewServer(context.Background(), ":0", http.NotFoundHandler(), 2*time.Second)
	if srv.WriteTimeout != 10*time.Second {
		t.Fatalf("write timeout=%v want 10s", srv.WriteTimeout)
	}
}

func TestQueuedCommandsOutlastWriteTimeout(t *testing.T) {
	sim := pwm.NewSim()
	ctl, err := motor.New(sim, motor.Config{ChannelA: 0, ChannelB: 1, Hold: testHold})
	if err != nil {
		t.Fatalf("motor.New: %v", err)
	}
	ts := httptest.NewUnstartedServer(Handler(ctl, NewStatus(), nil))
	// Shorter than the queue wait of the later requests below.
	ts.Config.WriteTimeout = testHold + testHold/2
	ts.Start()
	t.Cleanup(ts.Close)

	const n = 4
	var wg sync.WaitGroup
	codes := make([]int, n)
	bodies := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := http.Post(ts.URL+"/fwd", "application/json", nil)
			if err != nil {
				errs[i] = err
				return
			}
			defer resp.Body.Close()
			b, _ := io.ReadAll(resp.Body)
			codes[i] = resp.StatusCode
			bodies[i] = strings.TrimSpace(string(b))
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d: %v", i, errs[i])
		}
		if codes[i] != http.StatusOK || bodies[i] != `{"Move forward":true}` {
			t.Fatalf("request %d: status=%d body=%s", i, codes[i], bodies[i])
		}
	}
	if got := len(sim.Writes()); got != 4*n {
		t.Fatalf("writes=%d want %d", got, 4*n)
	}
}

func TestShutdownDuringHold_Interrupted(t *testing.T) {
	sim := pwm.NewSim()
	ctl, err := motor.New(sim, motor.Config{ChannelA: 0, ChannelB: 1, Hold: 10 * time.Second})
	if err != nil {
		t.Fatalf("motor.New: %v", err)
	}
	status := NewStatus()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ts := httptest.NewUnstartedServer(Handler(ctl, status, nil))
	ts.Config.BaseContext = func(net.Listener) context.Context { return ctx }
	ts.Start()
	t.Cleanup(ts.Close)

	type result struct {
		code int
		body string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := http.Post(ts.URL+"/left", "application/json", nil)
		if err != nil {
			done <- result{err: err}
			return
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		done <- result{code: resp.StatusCode, body: strings.TrimSpace(string(b))}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(sim.Writes()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("left never reached its hold")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	var res result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("request did not finish after cancel")
	}
	if res.err != nil {
		t.Fatalf("POST /left: %v", res.err)
	}
	if res.code != http.StatusServiceUnavailable {
		t.Fatalf("status code=%d want 503 body=%s", res.code, res.body)
	}
	var er ErrResponse
	if err := json.Unmarshal([]byte(res.body), &er); err != nil {
		t.Fatalf("decode %s: %v", res.body, err)
	}
	if er.StatusText != "interrupted" {
		t.Fatalf("err body=%+v", er)
	}
	want := [][2]int{{0, 0}, {1, pwm.MaxDuty}, {0, 0}, {1, 0}}
	if got := pairs(sim.Writes()); !samePairs(got, want) {
		t.Fatalf("writes=%v want %v", got, want)
	}
	if snap := status.Snapshot(time.Now().UTC()); snap.FailuresTotal != 1 {
		t.Fatalf("failures=%d want 1", snap.FailuresTotal)
	}
}
