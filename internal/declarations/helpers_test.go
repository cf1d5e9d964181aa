package declarations

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/contadesk/contadesk/internal/activity"
	"github.com/contadesk/contadesk/internal/identity"
)

// buildWorkbook writes header and rows into the first sheet of a new workbook.
func buildWorkbook(t *testing.T, header []string, rows ...[]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := f.GetSheetName(0)
	if header != nil {
		require.NoError(t, f.SetSheetRow(sheet, "A1", &header))
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func upload(name string, content []byte) Upload {
	return Upload{
		Name: name,
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(content)), nil },
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "expected %s, got %s %v", want, got.String(), msgAndArgs)
}

func asRole(role identity.Role) context.Context {
	return identity.ContextWithPrincipal(context.Background(), &identity.Principal{UserID: "u-1", Role: role})
}

// emitidosEnero has five invoices summing Total=100000, base=86200, IVA=13800.
func emitidosEnero(t *testing.T) []byte {
	t.Helper()
	header := []string{"UUID", "Total", "Base de IVA traslado", "Importe IVA traslado"}
	rows := make([][]any, 0, 5)
	for i := 0; i < 5; i++ {
		rows = append(rows, []any{"F-" + string(rune('A'+i)), 20000, 17240, 2760})
	}
	return buildWorkbook(t, header, rows...)
}

func ivaTrasladadoEnero(t *testing.T) []byte {
	t.Helper()
	return buildWorkbook(t, []string{"Concepto", "Base IVA 16%", "IVA total"},
		[]any{"Ventas", 93750, 15000},
	)
}

type memoryRepo struct {
	mu        sync.Mutex
	records   map[PeriodKey]MonthlyDeclaration
	nextID    int64
	upserts   int
	upsertErr error
}

func newMemoryRepo(existing ...MonthlyDeclaration) *memoryRepo {
	r := &memoryRepo{records: make(map[PeriodKey]MonthlyDeclaration)}
	for _, d := range existing {
		r.nextID++
		d.ID = r.nextID
		r.records[d.Key()] = d
	}
	return r
}

func (r *memoryRepo) Get(ctx context.Context, key PeriodKey) (MonthlyDeclaration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.records[key]
	if !ok {
		return MonthlyDeclaration{}, ErrNotFound
	}
	return d, nil
}

func (r *memoryRepo) WithPeriodLock(ctx context.Context, key PeriodKey, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{repo: r, pending: make(map[PeriodKey]MonthlyDeclaration)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for k, d := range tx.pending {
		r.records[k] = d
	}
	return nil
}

type memoryTx struct {
	repo    *memoryRepo
	pending map[PeriodKey]MonthlyDeclaration
}

func (t *memoryTx) Find(ctx context.Context, key PeriodKey) (MonthlyDeclaration, bool, error) {
	d, ok := t.repo.records[key]
	return d, ok, nil
}

func (t *memoryTx) Upsert(ctx context.Context, d MonthlyDeclaration) (MonthlyDeclaration, bool, error) {
	if t.repo.upsertErr != nil {
		return MonthlyDeclaration{}, false, t.repo.upsertErr
	}
	t.repo.upserts++
	existing, found := t.repo.records[d.Key()]
	if found {
		d.ID = existing.ID
		d.TaxPayment = existing.TaxPayment
		d.DeclarationPDF = existing.DeclarationPDF
		d.Notes = existing.Notes
	} else {
		t.repo.nextID++
		d.ID = t.repo.nextID
	}
	t.pending[d.Key()] = d
	return d, !found, nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []activity.Event
	err    error
}

func (f *fakeRecorder) Record(ctx context.Context, event activity.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

type fakeDirectory struct{}

func (fakeDirectory) ClientName(ctx context.Context, id string) (string, error) {
	if id == "c-1" {
		return "Servicios Delta SA de CV", nil
	}
	return "", errors.New("unknown client")
}

func (fakeDirectory) UserName(ctx context.Context, id string) (string, error) {
	return "Laura Méndez", nil
}

type fakeMetrics struct {
	mu       sync.Mutex
	outcomes []string
	missing  map[string]int
	lost     int
}

func (m *fakeMetrics) ImportFinished(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *fakeMetrics) FileParsed(category string, rows int, missingTotal, missingSubtotal, missingIVA int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.missing == nil {
		m.missing = make(map[string]int)
	}
	m.missing[category] += missingTotal + missingSubtotal + missingIVA
}

func (m *fakeMetrics) ActivityFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lost++
}
