package recurring_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-recurring/internal/numbering"
	"github.com/odyssey-erp/odyssey-recurring/internal/recurring"
	"github.com/odyssey-erp/odyssey-recurring/internal/testing/pgtest"
)

const pgCompany = int64(7)

func newPGService(t *testing.T, pool *pgxpool.Pool) *recurring.Service {
	t.Helper()
	now := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	return recurring.NewService(recurring.NewRepository(pool, numbering.NewAuthority()),
		recurring.WithClock(func() time.Time { return now }),
		recurring.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func pgTemplate(t *testing.T, svc *recurring.Service, name string) recurring.Template {
	t.Helper()
	tpl, err := svc.CreateTemplate(context.Background(), pgCompany, recurring.CreateTemplateRequest{
		Name:         name,
		CustomerName: "Acme Corp",
		Frequency:    "monthly",
		StartDate:    "2024-01-31",
		Lines: []recurring.LineInput{
			{Name: "Retainer", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(100), TaxRate: decimal.NewFromInt(10)},
		},
	})
	require.NoError(t, err)
	return tpl
}

type pgCounts struct {
	invoices     int
	lines        int
	nextSequence int64
}

func countRows(t *testing.T, pool *pgxpool.Pool) pgCounts {
	t.Helper()
	ctx := context.Background()
	var c pgCounts
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM invoices WHERE company_id = $1`, pgCompany).Scan(&c.invoices))
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM invoice_lines`).Scan(&c.lines))
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COALESCE((SELECT next_sequence FROM invoice_numbering WHERE company_id = $1), 1)`, pgCompany,
	).Scan(&c.nextSequence))
	return c
}

func TestPostgresFirstReservationStartsAtOne(t *testing.T) {
	pool := pgtest.Open(t)
	svc := newPGService(t, pool)
	tpl := pgTemplate(t, svc, "First")

	res, err := svc.GenerateNow(context.Background(), pgCompany, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "INV-00001", res.InvoiceNumber)

	res, err = svc.GenerateNow(context.Background(), pgCompany, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "INV-00002", res.InvoiceNumber)

	state, err := svc.Numbering(context.Background(), pgCompany)
	require.NoError(t, err)
	assert.Equal(t, int64(3), state.NextSequence)

	stored, err := svc.GetTemplate(context.Background(), pgCompany, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.GeneratedCount)
	assert.Equal(t, time.Date(2024, 3, 29, 0, 0, 0, 0, time.UTC), stored.NextRunDate.UTC())
	require.NotNil(t, stored.LastGeneratedAt)
}

func TestPostgresConcurrentGenerationsAreContiguous(t *testing.T) {
	pool := pgtest.Open(t)
	svc := newPGService(t, pool)
	_, err := svc.ConfigureNumbering(context.Background(), pgCompany, recurring.NumberingRequest{
		Prefix:       "INV-",
		NextSequence: lo.ToPtr(int64(100)),
	})
	require.NoError(t, err)

	const n = 6
	templates := make([]recurring.Template, n)
	for i := range templates {
		templates[i] = pgTemplate(t, svc, fmt.Sprintf("Template %d", i))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []string
		errs    []error
	)
	for _, tpl := range templates {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			res, err := svc.GenerateNow(context.Background(), pgCompany, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			numbers = append(numbers, res.InvoiceNumber)
		}(tpl.ID)
	}
	wg.Wait()
	require.Empty(t, errs)

	sort.Strings(numbers)
	want := make([]string, n)
	for i := range want {
		want[i] = numbering.Format("INV-", int64(100+i), numbering.DefaultWidth)
	}
	assert.Equal(t, want, numbers)
	assert.Equal(t, int64(100+n), countRows(t, pool).nextSequence)
}

func TestPostgresConcurrentGenerationsOnOneTemplate(t *testing.T) {
	pool := pgtest.Open(t)
	svc := newPGService(t, pool)
	tpl := pgTemplate(t, svc, "Shared")

	const n = 4
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.GenerateNow(context.Background(), pgCompany, tpl.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := svc.GetTemplate(context.Background(), pgCompany, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, n, stored.GeneratedCount)
	// Jan 31 -> Feb 29 -> Mar 29 -> Apr 29 -> May 29: each generation advanced once.
	assert.Equal(t, time.Date(2024, 5, 29, 0, 0, 0, 0, time.UTC), stored.NextRunDate.UTC())
}

func TestPostgresFailedGenerationRollsBack(t *testing.T) {
	pool := pgtest.Open(t)
	svc := newPGService(t, pool)
	tpl := pgTemplate(t, svc, "Collides")
	ctx := context.Background()

	// An invoice already holding the next number makes the header insert fail after the
	// reservation has advanced the counter inside the transaction.
	_, err := pool.Exec(ctx, `
		INSERT INTO invoices (company_id, number, customer_name, issue_date, due_date)
		VALUES ($1, 'INV-00001', 'Manual', '2024-01-01', '2024-01-31')`, pgCompany)
	require.NoError(t, err)

	before := countRows(t, pool)
	beforeTpl, err := svc.GetTemplate(ctx, pgCompany, tpl.ID)
	require.NoError(t, err)

	_, err = svc.GenerateNow(ctx, pgCompany, tpl.ID)
	require.ErrorIs(t, err, recurring.ErrPersistence)

	assert.Equal(t, before, countRows(t, pool))
	afterTpl, err := svc.GetTemplate(ctx, pgCompany, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, beforeTpl.NextRunDate, afterTpl.NextRunDate)
	assert.Equal(t, beforeTpl.Status, afterTpl.Status)
	assert.Nil(t, afterTpl.LastGeneratedAt)
	assert.Zero(t, afterTpl.GeneratedCount)
}
