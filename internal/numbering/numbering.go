// Package numbering issues per-company invoice numbers.
//
// Each company owns one row in invoice_numbering holding a prefix and the next sequence
// value. Reserve advances that row with a single upsert, so the row lock taken by the
// statement is held until the surrounding transaction ends: concurrent reservations for
// the same company queue behind it and every caller observes a distinct sequence, and a
// rolled-back transaction gives its number back.
package numbering

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

const (
	// DefaultPrefix is used when a company reserves its first number.
	DefaultPrefix = "INV-"
	// DefaultWidth is the zero-padding width of the sequence part.
	DefaultWidth = 5

	maxPrefixLen = 20
)

var (
	// ErrInvalidConfig is returned when a prefix or sequence change is rejected.
	ErrInvalidConfig = errors.New("numbering: invalid configuration")
)

// Querier is satisfied by pgx.Tx, *pgxpool.Pool and pgx.Conn.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Reservation is one issued number.
type Reservation struct {
	Number   string
	Sequence int64
}

// State is the persisted numbering configuration of a company.
type State struct {
	CompanyID    int64  `json:"company_id"`
	Prefix       string `json:"prefix"`
	NextSequence int64  `json:"next_sequence"`
	Preview      string `json:"preview"`
}

// Authority reserves and formats invoice numbers.
type Authority struct {
	defaultPrefix string
	width         int
}

// Option customises an Authority.
type Option func(*Authority)

// WithDefaultPrefix sets the prefix used for companies without a numbering row.
func WithDefaultPrefix(prefix string) Option {
	return func(a *Authority) {
		if prefix != "" {
			a.defaultPrefix = prefix
		}
	}
}

// WithWidth sets the zero-padding width.
func WithWidth(width int) Option {
	return func(a *Authority) {
		if width > 0 {
			a.width = width
		}
	}
}

// NewAuthority builds an Authority.
func NewAuthority(opts ...Option) *Authority {
	a := &Authority{defaultPrefix: DefaultPrefix, width: DefaultWidth}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

const reserveSQL = `
	INSERT INTO invoice_numbering (company_id, prefix, next_sequence, created_at, updated_at)
	VALUES ($1, $2, 2, NOW(), NOW())
	ON CONFLICT (company_id) DO UPDATE
	SET next_sequence = invoice_numbering.next_sequence + 1,
		updated_at = NOW()
	RETURNING prefix, next_sequence - 1`

// Reserve issues the next number for companyID. q must be the transaction that will also
// write the invoice consuming the number; Reserve never commits on its own.
func (a *Authority) Reserve(ctx context.Context, q Querier, companyID int64) (Reservation, error) {
	if companyID <= 0 {
		return Reservation{}, fmt.Errorf("%w: company id required", ErrInvalidConfig)
	}
	var (
		prefix string
		seq    int64
	)
	if err := q.QueryRow(ctx, reserveSQL, companyID, a.defaultPrefix).Scan(&prefix, &seq); err != nil {
		return Reservation{}, fmt.Errorf("numbering: reserve: %w", err)
	}
	return Reservation{Number: Format(prefix, seq, a.width), Sequence: seq}, nil
}

// Peek returns the company's numbering state without advancing it.
func (a *Authority) Peek(ctx context.Context, q Querier, companyID int64) (State, error) {
	state := State{CompanyID: companyID, Prefix: a.defaultPrefix, NextSequence: 1}
	err := q.QueryRow(ctx,
		`SELECT prefix, next_sequence FROM invoice_numbering WHERE company_id = $1`,
		companyID,
	).Scan(&state.Prefix, &state.NextSequence)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return State{}, fmt.Errorf("numbering: peek: %w", err)
	}
	state.Preview = Format(state.Prefix, state.NextSequence, a.width)
	return state, nil
}

// Configure changes the prefix and optionally moves the sequence forward. The sequence
// can never move backwards: numbers already issued must stay below every future one.
func (a *Authority) Configure(ctx context.Context, q Querier, companyID int64, prefix string, nextSequence *int64) (State, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || len(prefix) > maxPrefixLen {
		return State{}, fmt.Errorf("%w: prefix must be 1-%d characters", ErrInvalidConfig, maxPrefixLen)
	}
	current, err := a.lockState(ctx, q, companyID)
	if err != nil {
		return State{}, err
	}
	next := current
	if nextSequence != nil {
		if *nextSequence < current {
			return State{}, fmt.Errorf("%w: next sequence %d is below current %d", ErrInvalidConfig, *nextSequence, current)
		}
		next = *nextSequence
	}

	state := State{CompanyID: companyID}
	err = q.QueryRow(ctx, `
		INSERT INTO invoice_numbering (company_id, prefix, next_sequence, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (company_id) DO UPDATE
		SET prefix = EXCLUDED.prefix,
			next_sequence = GREATEST(invoice_numbering.next_sequence, EXCLUDED.next_sequence),
			updated_at = NOW()
		RETURNING prefix, next_sequence`,
		companyID, prefix, next,
	).Scan(&state.Prefix, &state.NextSequence)
	if err != nil {
		return State{}, fmt.Errorf("numbering: configure: %w", err)
	}
	state.Preview = Format(state.Prefix, state.NextSequence, a.width)
	return state, nil
}

func (a *Authority) lockState(ctx context.Context, q Querier, companyID int64) (int64, error) {
	var next int64
	err := q.QueryRow(ctx,
		`SELECT next_sequence FROM invoice_numbering WHERE company_id = $1 FOR UPDATE`,
		companyID,
	).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("numbering: lock: %w", err)
	}
	return next, nil
}

// Format renders prefix followed by seq zero-padded to width digits. Sequences wider
// than width are printed in full rather than truncated.
func Format(prefix string, seq int64, width int) string {
	if width <= 0 {
		width = DefaultWidth
	}
	return fmt.Sprintf("%s%0*d", prefix, width, seq)
}
