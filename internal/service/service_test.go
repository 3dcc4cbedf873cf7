package service

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/mxschmitt/pg-datasource/internal/config"
	"github.com/mxschmitt/pg-datasource/internal/datasource"
	"github.com/mxschmitt/pg-datasource/internal/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// closedPort returns a local port nothing listens on.
func closedPort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	require.NoError(t, l.Close())
	return port
}

func newTestService(t *testing.T, cron string) *Service {
	t.Helper()
	cfg := &config.Config{
		ProbeCron: cron,
		TZ:        "UTC",
		StateDir:  t.TempDir(),
	}
	ds := &datasource.DataSource{
		URL:      "jdbc:postgresql://127.0.0.1:" + closedPort(t) + "/mydb?connectTimeout=1&socketTimeout=1&sslmode=disable",
		Username: "alice",
		Password: "s3cr3t",
	}

	svc, err := New(context.Background(), cfg, ds, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	return svc
}

func TestRunProbe_RecordsFailure(t *testing.T) {
	svc := newTestService(t, "off")

	last, err := svc.GetLastProbe()
	require.NoError(t, err)
	assert.Nil(t, last)

	result, err := svc.RunProbe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "failed", result.Status)
	assert.Equal(t, "mydb", result.Database)
	assert.NotEmpty(t, result.Error)
	assert.NotContains(t, result.Error, "s3cr3t")

	last, err = svc.GetLastProbe()
	require.NoError(t, err)
	assert.Equal(t, result, last)

	running, err := svc.GetRunning()
	require.NoError(t, err)
	assert.False(t, running)
}

func TestRunProbe_RejectsOverlap(t *testing.T) {
	svc := newTestService(t, "off")

	svc.probeMu.Lock()
	_, err := svc.RunProbe(context.Background())
	svc.probeMu.Unlock()
	assert.ErrorIs(t, err, ErrProbeRunning)
}

func TestNew_Scheduler(t *testing.T) {
	svc := newTestService(t, "0 */5 * * * *")
	require.NotNil(t, svc.cron)
	assert.Len(t, svc.cron.Entries(), 1)

	assert.Nil(t, newTestService(t, "").cron)
}

func TestNew_InvalidCron(t *testing.T) {
	cfg := &config.Config{ProbeCron: "every minute", TZ: "UTC", StateDir: t.TempDir()}
	ds := &datasource.DataSource{URL: "jdbc:postgresql://127.0.0.1:5432/mydb"}

	_, err := New(context.Background(), cfg, ds, zap.NewNop())
	assert.Error(t, err)
}

func TestNew_UnusableDataSource(t *testing.T) {
	cfg := &config.Config{ProbeCron: "off", TZ: "UTC", StateDir: t.TempDir()}
	ds := &datasource.DataSource{URL: "dbhost:5432/mydb"}

	_, err := New(context.Background(), cfg, ds, zap.NewNop())
	assert.Error(t, err)
}

func TestRunProbe_HistoryAndRetention(t *testing.T) {
	svc := newTestService(t, "off")
	svc.config.ProbeRetentionDays = 7

	history := filepath.Join(svc.baseDir, metadata.HistoryDir)
	stale := filepath.Join(history, "2000-01-01")
	require.NoError(t, os.MkdirAll(stale, 0755))

	result, err := svc.RunProbe(context.Background())
	require.NoError(t, err)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "stale history day should be pruned")

	matches, err := filepath.Glob(filepath.Join(history, "*", result.ProbeID+".json"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}
