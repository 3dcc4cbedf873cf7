package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mxschmitt/pg-datasource/internal/config"
	"github.com/mxschmitt/pg-datasource/internal/datasource"
	"github.com/mxschmitt/pg-datasource/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*httptest.Server, *service.Service) {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	require.NoError(t, l.Close())

	cfg := &config.Config{
		ProbeCron:   "off",
		TZ:          "UTC",
		StateDir:    t.TempDir(),
		ServicePort: 8080,
	}
	ds := &datasource.DataSource{
		URL:       "jdbc:postgresql://127.0.0.1:" + port + "/mydb?connectTimeout=1&socketTimeout=1&sslmode=disable",
		Username:  "alice",
		Password:  "s3cr3t",
		Converted: true,
	}

	svc, err := service.New(context.Background(), cfg, ds, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	server := httptest.NewServer(New(cfg, svc, zap.NewNop()).Handler())
	t.Cleanup(server.Close)
	return server, svc
}

func getJSON(t *testing.T, url string, wantStatus int) map[string]interface{} {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, wantStatus, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t)
	body := getJSON(t, server.URL+"/healthz", http.StatusOK)
	assert.Equal(t, "healthy", body["status"])
}

func TestReady_DatabaseDown(t *testing.T) {
	server, _ := newTestServer(t)
	body := getJSON(t, server.URL+"/readyz", http.StatusServiceUnavailable)
	assert.Equal(t, "unavailable", body["status"])
}

func TestStatus(t *testing.T) {
	server, _ := newTestServer(t)
	body := getJSON(t, server.URL+"/status", http.StatusOK)

	assert.Equal(t, "no_probes_yet", body["status"])
	assert.Equal(t, false, body["currently_running"])

	ds := body["data_source"].(map[string]interface{})
	assert.Equal(t, "alice", ds["username"])
	assert.Equal(t, true, ds["password_set"])
	assert.Equal(t, true, ds["converted"])
	assert.NotContains(t, ds["url"], "s3cr3t")

	db := body["database"].(map[string]interface{})
	assert.Equal(t, "mydb", db["name"])
	assert.Equal(t, float64(1000), db["socket_timeout_ms"])
}

func TestProbe(t *testing.T) {
	server, svc := newTestServer(t)

	resp, err := http.Get(server.URL + "/probe")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(server.URL+"/probe", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		last, err := svc.GetLastProbe()
		if err != nil || last == nil {
			return false
		}
		running, err := svc.GetRunning()
		return err == nil && !running
	}, 10*time.Second, 50*time.Millisecond)

	body := getJSON(t, server.URL+"/status", http.StatusOK)
	probe := body["last_probe"].(map[string]interface{})
	assert.Equal(t, "failed", probe["status"])
}

func TestRoot(t *testing.T) {
	server, _ := newTestServer(t)
	body := getJSON(t, server.URL+"/", http.StatusOK)
	assert.Contains(t, body, "endpoints")

	getJSON(t, server.URL+"/nope", http.StatusNotFound)
}
