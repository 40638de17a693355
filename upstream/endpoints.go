// ABOUTME: Typed wrappers for the upstream listing and detail endpoints
// ABOUTME: Encodes the API's page, status and date-window query conventions
package upstream

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/harperreed/gestor/resolve"
)

const (
	listAll = "ListAll"

	timestampLayout = "2006-01-02 15:04:05"
	dateLayout      = "2006-01-02"
)

// Window is an inclusive date range used by delivery listings.
type Window struct {
	From time.Time
	To   time.Time
}

func (c *Client) pageQuery(page int) url.Values {
	q := url.Values{}
	q.Set("Pagina", strconv.Itoa(page))
	q.Set("Registros", strconv.Itoa(c.pageSize))
	return q
}

// ListCompanies fetches one page of the company listing.
func (c *Client) ListCompanies(ctx context.Context, page int) ([]resolve.Record, error) {
	q := c.pageQuery(page)
	q.Set("obligations", "")
	return c.GetRecords(ctx, "companies/"+listAll+"/", q)
}

// ListProcesses fetches one page of processes with the given status code
// changed since the given time. An empty status lists every status and a
// zero since disables the change filter.
func (c *Client) ListProcesses(ctx context.Context, status string, since time.Time, page int) ([]resolve.Record, error) {
	q := c.pageQuery(page)
	if status != "" {
		q.Set("ProcStatus", status)
	}
	if !since.IsZero() {
		q.Set("DtLastDH", since.UTC().Format(timestampLayout))
	}
	return c.GetRecords(ctx, "processes/"+listAll+"/", q)
}

// GetProcess fetches a single process by its external id.
func (c *Client) GetProcess(ctx context.Context, id string) (resolve.Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("process id is required")
	}
	records, err := c.GetRecords(ctx, "processes/"+url.PathEscape(id)+"/", nil)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, &PermanentError{StatusCode: 404, URL: "processes/" + id, Body: "empty response"}
	}
	return records[0], nil
}

// ListDeliveries fetches one page of the bulk delivery listing for every
// company, restricted to records changed within w.
func (c *Client) ListDeliveries(ctx context.Context, w Window, page int) ([]resolve.Record, error) {
	q := c.pageQuery(page)
	setWindow(q, w)
	if !w.From.IsZero() {
		q.Set("DtLastDH", w.From.UTC().Format(timestampLayout))
	}
	q.Set("config", "")
	return c.GetRecords(ctx, "deliveries/"+listAll+"/", q)
}

// ListCompanyDeliveries fetches one page of deliveries for one company,
// identified by its document number or external id.
func (c *Client) ListCompanyDeliveries(ctx context.Context, company string, w Window, page int) ([]resolve.Record, error) {
	company = strings.TrimSpace(company)
	if company == "" {
		return nil, fmt.Errorf("company identifier is required")
	}
	q := c.pageQuery(page)
	setWindow(q, w)
	return c.GetRecords(ctx, "deliveries/"+url.PathEscape(company)+"/", q)
}

func setWindow(q url.Values, w Window) {
	if !w.From.IsZero() {
		q.Set("DtInitial", w.From.UTC().Format(dateLayout))
	}
	if !w.To.IsZero() {
		q.Set("DtFinal", w.To.UTC().Format(dateLayout))
	}
}
