package recurring

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-recurring/internal/invoice"
	"github.com/odyssey-erp/odyssey-recurring/internal/numbering"
)

// memoryRepo is an in-memory Repository. Transactions run one at a time against a copy
// of the state that replaces the original only when fn succeeds.
type memoryRepo struct {
	mu    *sync.Mutex
	state *memState
	inTx  bool
	fail  map[string]error
}

type memState struct {
	templates      map[int64]Template
	invoices       map[int64]invoice.Invoice
	counters       map[int64]numbering.State
	nextTemplateID int64
	nextInvoiceID  int64
	nextLineID     int64
	tick           time.Time
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		mu: &sync.Mutex{},
		state: &memState{
			templates: make(map[int64]Template),
			invoices:  make(map[int64]invoice.Invoice),
			counters:  make(map[int64]numbering.State),
			tick:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		fail: make(map[string]error),
	}
}

func (s *memState) clone() *memState {
	c := *s
	c.templates = make(map[int64]Template, len(s.templates))
	for id, t := range s.templates {
		t.Lines = append([]TemplateLine(nil), t.Lines...)
		c.templates[id] = t
	}
	c.invoices = make(map[int64]invoice.Invoice, len(s.invoices))
	for id, inv := range s.invoices {
		inv.Lines = append([]invoice.Line(nil), inv.Lines...)
		c.invoices[id] = inv
	}
	c.counters = make(map[int64]numbering.State, len(s.counters))
	for id, st := range s.counters {
		c.counters[id] = st
	}
	return &c
}

// failOn makes op return err until cleared.
func (m *memoryRepo) failOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, op)
		return
	}
	m.fail[op] = err
}

func (m *memoryRepo) injected(op string) error {
	if err, ok := m.fail[op]; ok {
		return err
	}
	return nil
}

func (m *memoryRepo) with(fn func(s *memState) error) error {
	if m.inTx {
		return fn(m.state)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.state)
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if m.inTx {
		return fn(ctx, m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.state.clone()
	tx := &memoryRepo{mu: m.mu, state: snapshot, inTx: true, fail: m.fail}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := m.injected("Commit"); err != nil {
		return err
	}
	m.state = snapshot
	return nil
}

func (s *memState) now() time.Time {
	s.tick = s.tick.Add(time.Second)
	return s.tick
}

func (s *memState) generatedCount(id int64) int {
	n := 0
	for _, inv := range s.invoices {
		if inv.RecurringTemplateID != nil && *inv.RecurringTemplateID == id {
			n++
		}
	}
	return n
}

func (m *memoryRepo) CreateTemplate(_ context.Context, t *Template) error {
	return m.with(func(s *memState) error {
		if err := m.injected("CreateTemplate"); err != nil {
			return err
		}
		s.nextTemplateID++
		t.ID = s.nextTemplateID
		t.CreatedAt = s.now()
		t.UpdatedAt = t.CreatedAt
		for i := range t.Lines {
			s.nextLineID++
			t.Lines[i].ID = s.nextLineID
			t.Lines[i].TemplateID = t.ID
			t.Lines[i].LineOrder = i + 1
		}
		stored := *t
		stored.Lines = append([]TemplateLine(nil), t.Lines...)
		s.templates[t.ID] = stored
		return nil
	})
}

func (m *memoryRepo) UpdateTemplate(_ context.Context, t *Template, replaceLines bool) error {
	return m.with(func(s *memState) error {
		current, ok := s.templates[t.ID]
		if !ok || current.CompanyID != t.CompanyID {
			return fmt.Errorf("%w: template %d", ErrNotFound, t.ID)
		}
		t.UpdatedAt = s.now()
		if replaceLines {
			for i := range t.Lines {
				s.nextLineID++
				t.Lines[i].ID = s.nextLineID
				t.Lines[i].TemplateID = t.ID
				t.Lines[i].LineOrder = i + 1
			}
		}
		stored := *t
		stored.Status = current.Status
		stored.LastGeneratedAt = current.LastGeneratedAt
		stored.Lines = append([]TemplateLine(nil), t.Lines...)
		if !replaceLines {
			stored.Lines = current.Lines
		}
		s.templates[t.ID] = stored
		return nil
	})
}

func (m *memoryRepo) get(s *memState, companyID, id int64) (Template, error) {
	t, ok := s.templates[id]
	if !ok || t.CompanyID != companyID {
		return Template{}, fmt.Errorf("%w: template %d", ErrNotFound, id)
	}
	t.Lines = append([]TemplateLine(nil), t.Lines...)
	t.GeneratedCount = s.generatedCount(id)
	return t, nil
}

func (m *memoryRepo) GetTemplate(_ context.Context, companyID, id int64) (Template, error) {
	var out Template
	err := m.with(func(s *memState) error {
		var err error
		out, err = m.get(s, companyID, id)
		return err
	})
	return out, err
}

func (m *memoryRepo) LockTemplate(ctx context.Context, companyID, id int64) (Template, error) {
	if err := m.injected("LockTemplate"); err != nil {
		return Template{}, err
	}
	return m.GetTemplate(ctx, companyID, id)
}

func (m *memoryRepo) ListTemplates(_ context.Context, filter ListFilter) ([]Template, int, error) {
	var (
		out   []Template
		total int
	)
	err := m.with(func(s *memState) error {
		var all []Template
		for _, t := range s.templates {
			if t.CompanyID != filter.CompanyID {
				continue
			}
			if filter.Status != nil && t.Status != *filter.Status {
				continue
			}
			t.GeneratedCount = s.generatedCount(t.ID)
			all = append(all, t)
		}
		sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
		total = len(all)
		if filter.Offset < len(all) {
			all = all[filter.Offset:]
			if len(all) > filter.Limit {
				all = all[:filter.Limit]
			}
			out = all
		}
		return nil
	})
	return out, total, err
}

func (m *memoryRepo) DeleteTemplate(_ context.Context, companyID, id int64) error {
	return m.with(func(s *memState) error {
		t, ok := s.templates[id]
		if !ok || t.CompanyID != companyID {
			return fmt.Errorf("%w: template %d", ErrNotFound, id)
		}
		if s.generatedCount(id) > 0 {
			return errors.New("foreign key violation")
		}
		delete(s.templates, id)
		return nil
	})
}

func (m *memoryRepo) UpdateSchedule(_ context.Context, companyID, id int64, status Status, nextRun time.Time) error {
	return m.with(func(s *memState) error {
		t, ok := s.templates[id]
		if !ok || t.CompanyID != companyID {
			return fmt.Errorf("%w: template %d", ErrNotFound, id)
		}
		t.Status = status
		t.NextRunDate = nextRun
		t.UpdatedAt = s.now()
		s.templates[id] = t
		return nil
	})
}

func (m *memoryRepo) RecordGeneration(_ context.Context, companyID, id int64, status Status, nextRun, generatedAt time.Time) error {
	return m.with(func(s *memState) error {
		if err := m.injected("RecordGeneration"); err != nil {
			return err
		}
		t, ok := s.templates[id]
		if !ok || t.CompanyID != companyID {
			return fmt.Errorf("%w: template %d", ErrNotFound, id)
		}
		t.Status = status
		t.NextRunDate = nextRun
		at := generatedAt
		t.LastGeneratedAt = &at
		t.UpdatedAt = s.now()
		s.templates[id] = t
		return nil
	})
}

func (m *memoryRepo) ListDue(_ context.Context, asOf time.Time, limit int) ([]DueTemplate, error) {
	var out []DueTemplate
	err := m.with(func(s *memState) error {
		for _, t := range s.templates {
			if t.Status == StatusActive && !t.NextRunDate.After(asOf) {
				out = append(out, DueTemplate{ID: t.ID, CompanyID: t.CompanyID, NextRunDate: t.NextRunDate})
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextRunDate.Equal(out[j].NextRunDate) {
			return out[i].NextRunDate.Before(out[j].NextRunDate)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (m *memoryRepo) ReserveNumber(_ context.Context, companyID int64) (numbering.Reservation, error) {
	var res numbering.Reservation
	err := m.with(func(s *memState) error {
		if err := m.injected("ReserveNumber"); err != nil {
			return err
		}
		st, ok := s.counters[companyID]
		if !ok {
			st = numbering.State{CompanyID: companyID, Prefix: numbering.DefaultPrefix, NextSequence: 1}
		}
		res = numbering.Reservation{
			Number:   numbering.Format(st.Prefix, st.NextSequence, numbering.DefaultWidth),
			Sequence: st.NextSequence,
		}
		st.NextSequence++
		s.counters[companyID] = st
		return nil
	})
	return res, err
}

func (m *memoryRepo) NumberingState(_ context.Context, companyID int64) (numbering.State, error) {
	var out numbering.State
	err := m.with(func(s *memState) error {
		st, ok := s.counters[companyID]
		if !ok {
			st = numbering.State{CompanyID: companyID, Prefix: numbering.DefaultPrefix, NextSequence: 1}
		}
		st.Preview = numbering.Format(st.Prefix, st.NextSequence, numbering.DefaultWidth)
		out = st
		return nil
	})
	return out, err
}

func (m *memoryRepo) ConfigureNumbering(_ context.Context, companyID int64, prefix string, next *int64) (numbering.State, error) {
	var out numbering.State
	err := m.with(func(s *memState) error {
		st, ok := s.counters[companyID]
		if !ok {
			st = numbering.State{CompanyID: companyID, NextSequence: 1}
		}
		if next != nil {
			if *next < st.NextSequence {
				return fmt.Errorf("%w: next sequence %d is below current %d", ErrValidation, *next, st.NextSequence)
			}
			st.NextSequence = *next
		}
		st.Prefix = prefix
		s.counters[companyID] = st
		st.Preview = numbering.Format(st.Prefix, st.NextSequence, numbering.DefaultWidth)
		out = st
		return nil
	})
	return out, err
}

func (m *memoryRepo) InsertInvoice(_ context.Context, inv *invoice.Invoice) error {
	return m.with(func(s *memState) error {
		if err := m.injected("InsertInvoice"); err != nil {
			return err
		}
		for _, existing := range s.invoices {
			if existing.CompanyID == inv.CompanyID && existing.Number == inv.Number {
				return fmt.Errorf("duplicate invoice number %s", inv.Number)
			}
		}
		s.nextInvoiceID++
		inv.ID = s.nextInvoiceID
		inv.CreatedAt = s.now()
		inv.UpdatedAt = inv.CreatedAt
		stored := *inv
		stored.Lines = nil
		s.invoices[inv.ID] = stored
		return nil
	})
}

func (m *memoryRepo) InsertInvoiceLines(_ context.Context, invoiceID int64, lines []invoice.Line) error {
	return m.with(func(s *memState) error {
		if err := m.injected("InsertInvoiceLines"); err != nil {
			return err
		}
		inv, ok := s.invoices[invoiceID]
		if !ok {
			return fmt.Errorf("invoice %d missing", invoiceID)
		}
		for i := range lines {
			s.nextLineID++
			lines[i].ID = s.nextLineID
			lines[i].InvoiceID = invoiceID
		}
		inv.Lines = append(inv.Lines, lines...)
		s.invoices[invoiceID] = inv
		return nil
	})
}

func (m *memoryRepo) GetInvoice(_ context.Context, companyID, id int64) (invoice.Invoice, error) {
	var out invoice.Invoice
	err := m.with(func(s *memState) error {
		inv, ok := s.invoices[id]
		if !ok || inv.CompanyID != companyID {
			return fmt.Errorf("%w: source invoice %d", ErrNotFound, id)
		}
		inv.Lines = append([]invoice.Line(nil), inv.Lines...)
		out = inv
		return nil
	})
	return out, err
}

func (m *memoryRepo) MarkInvoiceSource(_ context.Context, companyID, invoiceID, templateID int64) error {
	return m.with(func(s *memState) error {
		if err := m.injected("MarkInvoiceSource"); err != nil {
			return err
		}
		inv, ok := s.invoices[invoiceID]
		if !ok || inv.CompanyID != companyID {
			return fmt.Errorf("%w: source invoice %d", ErrNotFound, invoiceID)
		}
		inv.SpawnedTemplateID = &templateID
		s.invoices[invoiceID] = inv
		return nil
	})
}

func (m *memoryRepo) ListInvoices(_ context.Context, companyID, templateID int64, limit, offset int) ([]invoice.Summary, error) {
	var all []invoice.Invoice
	err := m.with(func(s *memState) error {
		for _, inv := range s.invoices {
			if inv.CompanyID == companyID && inv.RecurringTemplateID != nil && *inv.RecurringTemplateID == templateID {
				all = append(all, inv)
			}
		}
		return nil
	})
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	var out []invoice.Summary
	for i := offset; i < len(all) && len(out) < limit; i++ {
		out = append(out, all[i].Summarize())
	}
	return out, err
}

func (m *memoryRepo) CountInvoices(_ context.Context, companyID, templateID int64) (int, error) {
	var n int
	err := m.with(func(s *memState) error {
		for _, inv := range s.invoices {
			if inv.CompanyID == companyID && inv.RecurringTemplateID != nil && *inv.RecurringTemplateID == templateID {
				n++
			}
		}
		return nil
	})
	return n, err
}

// seedInvoice stores a standalone invoice, as created outside the recurring engine.
func (m *memoryRepo) seedInvoice(inv invoice.Invoice) invoice.Invoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	s.nextInvoiceID++
	inv.ID = s.nextInvoiceID
	inv.CreatedAt = s.now()
	for i := range inv.Lines {
		s.nextLineID++
		inv.Lines[i].ID = s.nextLineID
		inv.Lines[i].InvoiceID = inv.ID
	}
	s.invoices[inv.ID] = inv
	return inv
}

// setCounter positions a company's numbering counter.
func (m *memoryRepo) setCounter(companyID, next int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.counters[companyID] = numbering.State{CompanyID: companyID, Prefix: numbering.DefaultPrefix, NextSequence: next}
}

// mutateTemplate edits a stored template directly, bypassing the service.
func (m *memoryRepo) mutateTemplate(id int64, fn func(*Template)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.state.templates[id]
	fn(&t)
	m.state.templates[id] = t
}

func (m *memoryRepo) invoiceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.invoices)
}

func (m *memoryRepo) snapshot() *memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}
