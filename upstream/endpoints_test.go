// ABOUTME: Tests for the typed endpoint wrappers
// ABOUTME: Asserts paths and query parameters sent for each listing
package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	path  string
	query url.Values
}

func captureServer(t *testing.T, body string) (*Client, *[]capturedRequest) {
	t.Helper()
	var captured []capturedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = append(captured, capturedRequest{path: r.URL.Path, query: r.URL.Query()})
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	c, _ := newTestClient(t, server.URL, 1)
	return c, &captured
}

func TestListCompaniesQuery(t *testing.T) {
	c, captured := captureServer(t, `[{"ID": 1}]`)

	records, err := c.ListCompanies(context.Background(), 3)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	require.Len(t, *captured, 1)
	req := (*captured)[0]
	assert.Equal(t, "/companies/ListAll/", req.path)
	assert.Equal(t, "3", req.query.Get("Pagina"))
	assert.Equal(t, "100", req.query.Get("Registros"))
	assert.True(t, req.query.Has("obligations"))
}

func TestListProcessesQuery(t *testing.T) {
	c, captured := captureServer(t, `[]`)
	since := time.Date(2024, 5, 10, 14, 30, 5, 0, time.UTC)

	_, err := c.ListProcesses(context.Background(), "A", since, 1)
	require.NoError(t, err)
	_, err = c.ListProcesses(context.Background(), "", time.Time{}, 2)
	require.NoError(t, err)

	require.Len(t, *captured, 2)
	first := (*captured)[0]
	assert.Equal(t, "/processes/ListAll/", first.path)
	assert.Equal(t, "A", first.query.Get("ProcStatus"))
	assert.Equal(t, "2024-05-10 14:30:05", first.query.Get("DtLastDH"))

	second := (*captured)[1]
	assert.False(t, second.query.Has("ProcStatus"))
	assert.False(t, second.query.Has("DtLastDH"))
	assert.Equal(t, "2", second.query.Get("Pagina"))
}

func TestListDeliveriesWindow(t *testing.T) {
	c, captured := captureServer(t, `[]`)
	w := Window{
		From: time.Date(2024, 5, 9, 8, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC),
	}

	_, err := c.ListDeliveries(context.Background(), w, 1)
	require.NoError(t, err)
	_, err = c.ListCompanyDeliveries(context.Background(), "12345678000199", w, 1)
	require.NoError(t, err)

	require.Len(t, *captured, 2)
	bulk := (*captured)[0]
	assert.Equal(t, "/deliveries/ListAll/", bulk.path)
	assert.Equal(t, "2024-05-09", bulk.query.Get("DtInitial"))
	assert.Equal(t, "2024-05-10", bulk.query.Get("DtFinal"))
	assert.Equal(t, "2024-05-09 08:00:00", bulk.query.Get("DtLastDH"))

	perCompany := (*captured)[1]
	assert.Equal(t, "/deliveries/12345678000199/", perCompany.path)
	assert.Equal(t, "2024-05-09", perCompany.query.Get("DtInitial"))
	assert.False(t, perCompany.query.Has("DtLastDH"))
}

func TestListCompanyDeliveriesRequiresIdentifier(t *testing.T) {
	c, captured := captureServer(t, `[]`)
	_, err := c.ListCompanyDeliveries(context.Background(), "  ", Window{}, 1)
	assert.Error(t, err)
	assert.Empty(t, *captured)
}

func TestGetProcess(t *testing.T) {
	c, captured := captureServer(t, `{"ProcID": 42, "ProcNome": "Abertura"}`)

	record, err := c.GetProcess(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "Abertura", record["ProcNome"])
	assert.Equal(t, "/processes/42/", (*captured)[0].path)
}

func TestGetProcessEmptyIsNotFound(t *testing.T) {
	c, _ := captureServer(t, `[]`)

	_, err := c.GetProcess(context.Background(), "99")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}
