package pipeline

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/trobanga/pacsbatch/internal/dimse"
	"github.com/trobanga/pacsbatch/internal/lib"
	"github.com/trobanga/pacsbatch/internal/metrics"
	"github.com/trobanga/pacsbatch/internal/models"
	"github.com/trobanga/pacsbatch/internal/services"
)

// StatusColumn is the trailing result column of retrieve rows
const StatusColumn = "Status"

// Outcome is the terminal classification of one exchange
type Outcome struct {
	Success bool
	// Status is the terminal status, nil when the peer never sent one
	Status *dimse.Status
	// Rows is the number of result rows written
	Rows int
}

// Classifier runs one exchange per request and turns the replies into a ledger
// outcome and result rows. Handle is safe for concurrent use with distinct sessions.
type Classifier struct {
	ledger        *services.Ledger
	resultsPath   string
	destinationAE string
	metrics       *metrics.Metrics
	logger        *lib.Logger

	mu      sync.Mutex
	results *services.Table
}

// NewClassifier creates a classifier journaling into ledger and writing result rows to resultsPath.
// destinationAE is the move destination of retrieve requests.
func NewClassifier(ledger *services.Ledger, resultsPath, destinationAE string, m *metrics.Metrics, logger *lib.Logger) *Classifier {
	return &Classifier{
		ledger:        ledger,
		resultsPath:   resultsPath,
		destinationAE: destinationAE,
		metrics:       m,
		logger:        logger,
	}
}

// Handle performs r on session and records its outcome.
// An exchange interrupted by ctx is not recorded and returns ctx.Err().
// Any other returned error is fatal to the batch.
func (c *Classifier) Handle(ctx context.Context, session dimse.Session, r models.Request) (Outcome, error) {
	start := time.Now()
	defer func() {
		c.metrics.ObserveExchange(string(r.Kind), time.Since(start))
	}()

	var (
		out Outcome
		err error
	)
	switch r.Kind {
	case models.KindVerify:
		out, err = c.verify(ctx, session)
	case models.KindQuery:
		out, err = c.query(ctx, session, r)
	case models.KindRetrieve:
		out, err = c.retrieve(ctx, session, r)
	default:
		return Outcome{}, lib.ErrConfig("request.kind", "unknown kind "+string(r.Kind))
	}
	if err != nil {
		return out, err
	}

	if err := c.ledger.RecordOutcome(r, out.Success); err != nil {
		return out, err
	}
	c.metrics.RequestDone(string(r.Kind), out.Success)
	lib.LogOutcome(c.logger, string(r.Kind), out.Success, out.Status.String())
	return out, nil
}

func (c *Classifier) verify(ctx context.Context, session dimse.Session) (Outcome, error) {
	status, err := session.Verify(ctx)
	if err != nil {
		return c.exchangeError(ctx, models.KindVerify, err)
	}
	return Outcome{Success: status.IsSuccess(), Status: status}, nil
}

func (c *Classifier) query(ctx context.Context, session dimse.Session, r models.Request) (Outcome, error) {
	identifier, paths, err := buildIdentifier(r)
	if err != nil {
		return Outcome{}, err
	}

	replies, err := session.Query(ctx, identifier, r.Model)
	if err != nil {
		return c.exchangeError(ctx, r.Kind, err)
	}

	header := resultKeywords(paths)
	var out Outcome
	for {
		rsp, ok, err := next(ctx, replies)
		if err != nil {
			return out, err
		}
		if !ok || rsp.Status == nil {
			c.logger.Debug("Query ended without a final status", "request", services.KeyOf(r))
			return Outcome{Rows: out.Rows}, nil
		}
		if rsp.Status.IsPending() {
			if rsp.Identifier == nil {
				continue
			}
			if err := c.writeRow(header, resultRow(header, paths, rsp.Identifier)); err != nil {
				return out, err
			}
			out.Rows++
			continue
		}
		out.Status = rsp.Status
		out.Success = rsp.Status.IsSuccess()
		return out, nil
	}
}

func (c *Classifier) retrieve(ctx context.Context, session dimse.Session, r models.Request) (Outcome, error) {
	identifier, paths, err := buildIdentifier(r)
	if err != nil {
		return Outcome{}, err
	}

	replies, err := session.Retrieve(ctx, identifier, c.destinationAE, r.Model)
	if err != nil {
		return c.exchangeError(ctx, r.Kind, err)
	}

	for {
		rsp, ok, err := next(ctx, replies)
		if err != nil {
			return Outcome{}, err
		}
		if !ok || rsp.Status == nil {
			c.logger.Debug("Retrieve ended without a final status", "request", services.KeyOf(r))
			return Outcome{}, nil
		}
		if rsp.Status.IsPending() {
			continue
		}

		header := append(resultKeywords(paths), StatusColumn)
		row := append(resultRow(header[:len(header)-1], paths, identifier), rsp.Status.String())
		if err := c.writeRow(header, row); err != nil {
			return Outcome{}, err
		}
		return Outcome{Success: rsp.Status.IsSuccess(), Status: rsp.Status, Rows: 1}, nil
	}
}

// exchangeError classifies a failed exchange. Cancellation is passed through unrecorded;
// anything else is a failure without a result row.
func (c *Classifier) exchangeError(ctx context.Context, kind models.Kind, err error) (Outcome, error) {
	if ctx.Err() != nil {
		return Outcome{}, ctx.Err()
	}
	c.logger.Debug("Exchange failed", "kind", kind, "error", err)
	return Outcome{}, nil
}

// next receives one reply, giving up when ctx is done. A reply that has
// already arrived is taken even if ctx is done.
func next(ctx context.Context, replies <-chan dimse.Response) (dimse.Response, bool, error) {
	select {
	case rsp, ok := <-replies:
		return rsp, ok, nil
	default:
	}

	select {
	case <-ctx.Done():
		return dimse.Response{}, false, ctx.Err()
	case rsp, ok := <-replies:
		return rsp, ok, nil
	}
}

func (c *Classifier) writeRow(header, row []string) error {
	c.mu.Lock()
	if c.results == nil {
		table, err := services.OpenTable(c.resultsPath, header)
		if err != nil {
			c.mu.Unlock()
			return lib.WrapError(lib.CategoryState, "failed to open result table", err)
		}
		c.results = table
	}
	table := c.results
	c.mu.Unlock()

	if !slices.Equal(table.Header(), header) {
		row = project(table.Header(), header, row)
	}
	if err := table.Append(row); err != nil {
		return lib.WrapError(lib.CategoryState, "failed to write result row", err)
	}
	c.metrics.ResultRow()
	return nil
}

func buildIdentifier(r models.Request) (*dimse.Dataset, map[string]dimse.ElementPath, error) {
	paths := make(map[string]dimse.ElementPath, len(r.Elements))
	for _, e := range r.Elements {
		p, err := dimse.ParsePath(e)
		if err != nil {
			return nil, nil, lib.ErrUnresolvablePath(e, err)
		}
		paths[p.Keyword()] = p
	}
	identifier, err := r.Identifier()
	if err != nil {
		return nil, nil, lib.ErrUnresolvablePath(strings.Join(r.Elements, " "), err)
	}
	return identifier, paths, nil
}

// resultKeywords returns the sorted keywords of the requested attributes
func resultKeywords(paths map[string]dimse.ElementPath) []string {
	keywords := make([]string, 0, len(paths))
	for k := range paths {
		keywords = append(keywords, k)
	}
	slices.Sort(keywords)
	return keywords
}

func resultRow(header []string, paths map[string]dimse.ElementPath, ds *dimse.Dataset) []string {
	row := make([]string, len(header))
	for i, keyword := range header {
		if p, ok := paths[keyword]; ok {
			row[i], _ = p.Resolve(ds)
		}
	}
	return row
}

// project reorders row from the from columns onto the to columns, leaving unknown columns empty
func project(to, from, row []string) []string {
	out := make([]string, len(to))
	for i, col := range to {
		if j := slices.Index(from, col); j >= 0 {
			out[i] = row[j]
		}
	}
	return out
}
