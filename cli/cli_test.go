// ABOUTME: End-to-end tests for the CLI commands against a fake upstream API
// ABOUTME: Each test gets its own database file and isolated XDG directories
package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/adrg/xdg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/gestor/db"
	"github.com/harperreed/gestor/models"
)

func fakeUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		// Listings have a single page; detail lookups carry no page.
		paged := strings.HasSuffix(r.URL.Path, "/ListAll/") || r.URL.Path == "/deliveries/11111111000111/"
		if paged && r.URL.Query().Get("Pagina") != "1" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		switch {
		case r.URL.Path == "/companies/ListAll/":
			_, _ = w.Write([]byte(`[{"ID": 1, "Razao": "Alfa Contabil", "CNPJ": "11.111.111/0001-11"}]`))
		case r.URL.Path == "/processes/ListAll/" && r.URL.Query().Get("ProcStatus") == "A":
			_, _ = w.Write([]byte(`{"items": [{"ProcID": 100, "EmpID": 1, "ProcNome": "Folha", "ProcStatus": "Em andamento"}]}`))
		case r.URL.Path == "/deliveries/ListAll/", r.URL.Path == "/deliveries/11111111000111/":
			_, _ = w.Write([]byte(`[{"EntID": 900, "ProcID": 100, "Obrigacao": "DCTF"}]`))
		case r.URL.Path == "/processes/100/":
			_, _ = w.Write([]byte(`{"ProcID": 100, "EmpID": 1, "ProcNome": "Folha", "ProcStatus": "Concluído"}`))
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	t.Cleanup(server.Close)
	return server
}

type env struct {
	dbPath string
}

func setupEnv(t *testing.T, baseURL string) env {
	t.Helper()
	origConfig, origData := xdg.ConfigHome, xdg.DataHome
	tmp := t.TempDir()
	xdg.ConfigHome = filepath.Join(tmp, "config")
	xdg.DataHome = filepath.Join(tmp, "data")
	t.Cleanup(func() {
		xdg.ConfigHome = origConfig
		xdg.DataHome = origData
	})

	t.Setenv("ACESSORIAS_TOKEN", "test-token")
	t.Setenv("ACESSORIAS_BASE_URL", baseURL)
	t.Setenv("ACESSORIAS_RATE_BUDGET", "0")
	for _, key := range []string{"ACESSORIAS_READ_TIMEOUT", "GESTOR_DB_PATH", "GESTOR_SYNC_INTERVAL", "GESTOR_LOG_LEVEL", "GESTOR_LOG_FORMAT", "GESTOR_HTTP_ADDR"} {
		t.Setenv(key, "")
	}
	return env{dbPath: filepath.Join(tmp, "gestor.db")}
}

func (e env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCommand("test")
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--db-path", e.dbPath, "--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (e env) store(t *testing.T) *db.Store {
	t.Helper()
	conn, err := db.OpenDatabase(e.dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return db.NewStore(conn)
}

func TestSyncCommand(t *testing.T) {
	e := setupEnv(t, fakeUpstream(t).URL)

	out, err := e.run(t, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "Running incremental sync")
	assert.Contains(t, out, "✓ companies: 1 fetched, 1 upserted")
	assert.Contains(t, out, "✓ processes: 1 fetched, 1 upserted")
	assert.Contains(t, out, "✓ deliveries [history]: 1 fetched, 1 upserted")
	assert.Contains(t, out, "✓ Sync ok")

	ctx := context.Background()
	store := e.store(t)
	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.ResourceCompanies])
	assert.Equal(t, 1, counts[models.ResourceProcesses])
	assert.Equal(t, 1, counts[models.ResourceDeliveries])

	out, err = e.run(t, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ deliveries [bulk]: 1 fetched, 1 upserted")

	out, err = e.run(t, "sync", "--full")
	require.NoError(t, err)
	assert.Contains(t, out, "Running full sync")
	assert.Contains(t, out, "✓ deliveries [history]")

	counts, err = store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.ResourceProcesses], "reruns do not duplicate rows")
	assert.Equal(t, 1, counts[models.ResourceDeliveries])
}

func TestSyncProcessCommand(t *testing.T) {
	e := setupEnv(t, fakeUpstream(t).URL)

	_, err := e.run(t, "sync", "process", "100")
	require.Error(t, err, "the owning company is not mirrored yet")

	_, err = e.run(t, "sync")
	require.NoError(t, err)

	out, err := e.run(t, "sync", "process", "100")
	require.NoError(t, err)
	assert.Contains(t, out, `✓ Process 100 "Folha": DONE`)
}

func TestSyncRequiresToken(t *testing.T) {
	e := setupEnv(t, fakeUpstream(t).URL)
	t.Setenv("ACESSORIAS_TOKEN", "")

	_, err := e.run(t, "sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ACESSORIAS_TOKEN")
}

func TestSyncReportsUpstreamFailure(t *testing.T) {
	e := setupEnv(t, fakeUpstream(t).URL)
	t.Setenv("ACESSORIAS_TOKEN", "wrong-token")

	out, err := e.run(t, "sync")
	require.Error(t, err)
	assert.Contains(t, out, "✗ companies")
	assert.Contains(t, out, "✗ Sync failed")
}

func TestStatusAndResetCommands(t *testing.T) {
	e := setupEnv(t, fakeUpstream(t).URL)

	out, err := e.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Not synced yet")
	assert.Contains(t, out, "No runs yet")

	_, err = e.run(t, "sync")
	require.NoError(t, err)

	out, err = e.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Idle")
	assert.Contains(t, out, "synced through")
	assert.Contains(t, out, "incremental")
	assert.Equal(t, 1, strings.Count(out, "✓ ok"))

	out, err = e.run(t, "reset", "processes")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Reset processes cursor")

	cursor, err := e.store(t).SyncCursor(context.Background(), models.ResourceProcesses)
	require.NoError(t, err)
	if cursor != nil {
		assert.Nil(t, cursor.Watermark)
	}

	_, err = e.run(t, "reset", "contacts")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown resource")
}

func TestInvalidConfigurationFailsEarly(t *testing.T) {
	e := setupEnv(t, "not a url")

	_, err := e.run(t, "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestFormatTimeSince(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{30 * time.Second, "just now"},
		{time.Minute, "1 minute ago"},
		{45 * time.Minute, "45 minutes ago"},
		{time.Hour, "1 hour ago"},
		{5 * time.Hour, "5 hours ago"},
		{24 * time.Hour, "1 day ago"},
		{72 * time.Hour, "3 days ago"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatTimeSince(now.Add(-tt.ago), now))
	}
}

func TestConfigInitAndShow(t *testing.T) {
	e := setupEnv(t, fakeUpstream(t).URL)
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := e.run(t, "--config", path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Wrote "+path)

	_, err = e.run(t, "--config", path, "config", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	out, err = e.run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "********")
	assert.NotContains(t, out, "test-token")
}
