package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ollama/estimator/checkpoint"
	"github.com/ollama/estimator/ml"
	"github.com/ollama/estimator/summary"
)

var loopback = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6006}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Host = "localhost"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func TestEmptyWorkDir(t *testing.T) {
	h := New(t.TempDir(), loopback).GenerateRoutes()

	cases := []struct {
		target string
		status int
		body   string
	}{
		{"/", http.StatusOK, "Estimator board is running"},
		{"/api/runs", http.StatusOK, `{"runs":[]}`},
		{"/api/runs/train/tags", http.StatusOK, `{"tags":[]}`},
		{"/api/scalars?run=train", http.StatusOK, `{"scalars":[]}`},
		{"/api/scalars", http.StatusBadRequest, `{"error":"run is required"}`},
		{"/api/checkpoints", http.StatusOK, `{"checkpoints":[]}`},
	}

	for _, tt := range cases {
		t.Run(tt.target, func(t *testing.T) {
			w := get(t, h, tt.target)
			if w.Code != tt.status {
				t.Fatalf("status: erwartet %d, bekommen %d", tt.status, w.Code)
			}
			if w.Body.String() != tt.body {
				t.Errorf("body: erwartet %s, bekommen %s", tt.body, w.Body.String())
			}
		})
	}
}

func TestSummaries(t *testing.T) {
	dir := t.TempDir()
	w, err := summary.NewWriter(dir, "train")
	require.NoError(t, err)
	for step := range int64(3) {
		require.NoError(t, w.Add("loss", step, float64(3-step)))
		require.NoError(t, w.Add("global_step/sec", step, 100))
	}
	require.NoError(t, w.Close())

	h := New(dir, loopback).GenerateRoutes()

	runs := decode[struct{ Runs []summary.Run }](t, get(t, h, "/api/runs"))
	require.Len(t, runs.Runs, 1)
	require.Equal(t, "train", runs.Runs[0].Name)
	require.Equal(t, 6, runs.Runs[0].Scalars)

	tags := decode[struct{ Tags []string }](t, get(t, h, "/api/runs/train/tags"))
	require.Equal(t, []string{"global_step/sec", "loss"}, tags.Tags)

	scalars := decode[struct{ Scalars []summary.Scalar }](t, get(t, h, "/api/scalars?run=train&tag=loss"))
	require.Len(t, scalars.Scalars, 3)
	for i, s := range scalars.Scalars {
		if s.Step != int64(i) || s.Value != float64(3-i) {
			t.Errorf("scalar %d: erwartet (%d, %d), bekommen (%d, %v)", i, i, 3-i, s.Step, s.Value)
		}
	}
}

func TestCheckpoints(t *testing.T) {
	dir := t.TempDir()

	g := ml.NewGraph()
	g.CreateGlobalStep()
	st := ml.NewState()
	saver := &checkpoint.Saver{Dir: dir}
	for _, step := range []int64{5, 10} {
		st.Set(ml.GlobalStepName, ml.Scalar(step))
		_, err := saver.Save(g, st)
		require.NoError(t, err)
	}

	resp := decode[CheckpointsResponse](t, get(t, New(dir, loopback).GenerateRoutes(), "/api/checkpoints"))
	require.Equal(t, checkpoint.Path(dir, "", 10), resp.Latest)
	require.Len(t, resp.Checkpoints, 2)
	for i, want := range []int64{5, 10} {
		if resp.Checkpoints[i].Step != want || resp.Checkpoints[i].Size == 0 {
			t.Errorf("checkpoint %d: erwartet Schritt %d, bekommen %+v", i, want, resp.Checkpoints[i])
		}
	}
}

func TestAllowedHosts(t *testing.T) {
	cases := []struct {
		addr   net.Addr
		host   string
		status int
	}{
		{loopback, "localhost", http.StatusOK},
		{loopback, "127.0.0.1:6006", http.StatusOK},
		{loopback, "board.internal", http.StatusOK},
		{loopback, "example.com", http.StatusForbidden},
		{loopback, "example.com.:6006", http.StatusForbidden},
		{loopback, "8.8.8.8", http.StatusForbidden},
		{loopback, "192.168.1.20:6006", http.StatusOK},
		{loopback, "Printer.LOCAL", http.StatusOK},
		{&net.TCPAddr{IP: net.IPv6loopback, Port: 6006}, "[::1]:6006", http.StatusOK},
		{&net.TCPAddr{IP: net.IPv6loopback, Port: 6006}, "example.com", http.StatusForbidden},
		{&net.TCPAddr{IP: net.IPv4(0, 0, 0, 0), Port: 6006}, "example.com", http.StatusOK},
		{nil, "example.com", http.StatusOK},
	}

	for _, tt := range cases {
		listen := "none"
		if tt.addr != nil {
			listen = tt.addr.String()
		}
		t.Run(listen+"/"+tt.host, func(t *testing.T) {
			h := New(t.TempDir(), tt.addr).GenerateRoutes()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Host = tt.host
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Errorf("status: erwartet %d, bekommen %d", tt.status, w.Code)
			}
		})
	}
}

func TestLocalHostname(t *testing.T) {
	cases := map[string]bool{
		"":               true,
		"localhost":      true,
		"LOCALHOST.":     true,
		"app.localhost":  true,
		"nas.local":      true,
		"board.internal": true,
		"local":          false,
		"internal.com":   false,
		"example.com":    false,
	}
	for host, want := range cases {
		if got := localHostname(host); got != want {
			t.Errorf("localHostname(%q): erwartet %v, bekommen %v", host, want, got)
		}
	}

	name, err := os.Hostname()
	require.NoError(t, err)
	if !localHostname(strings.ToUpper(name)) {
		t.Errorf("localHostname(%q): erwartet true fuer den eigenen Rechnernamen", name)
	}
}

func TestServeStopsWithContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, ln, t.TempDir()) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve wurde nicht beendet")
	}
}
