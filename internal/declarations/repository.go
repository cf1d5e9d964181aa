package declarations

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/contadesk/contadesk/internal/platform/db"
)

const selectDeclaration = `SELECT id, client_id, year, month,
	invoiced_amount, expenses_amount, iva_emitidos, iva_recibidos,
	num_facturas_emitidas, num_facturas_recibidas, gross_profit, iva_balance,
	tax_payment, COALESCE(declaration_pdf, ''), COALESCE(notes, ''), created_at, updated_at
FROM monthly_declarations
WHERE client_id = $1 AND year = $2 AND month = $3`

// Import writes only the fields owned by the import engine so that manual
// fields survive the upsert.
const upsertDeclaration = `INSERT INTO monthly_declarations (
	client_id, year, month,
	invoiced_amount, expenses_amount, iva_emitidos, iva_recibidos,
	num_facturas_emitidas, num_facturas_recibidas, gross_profit, iva_balance,
	created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
ON CONFLICT (client_id, year, month) DO UPDATE SET
	invoiced_amount = EXCLUDED.invoiced_amount,
	expenses_amount = EXCLUDED.expenses_amount,
	iva_emitidos = EXCLUDED.iva_emitidos,
	iva_recibidos = EXCLUDED.iva_recibidos,
	num_facturas_emitidas = EXCLUDED.num_facturas_emitidas,
	num_facturas_recibidas = EXCLUDED.num_facturas_recibidas,
	gross_profit = EXCLUDED.gross_profit,
	iva_balance = EXCLUDED.iva_balance,
	updated_at = NOW()
RETURNING id, tax_payment, COALESCE(declaration_pdf, ''), COALESCE(notes, ''), created_at, updated_at, (xmax = 0)`

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository returns a Postgres backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) Get(ctx context.Context, key PeriodKey) (MonthlyDeclaration, error) {
	d, found, err := findDeclaration(ctx, r.pool, key)
	if err != nil {
		return MonthlyDeclaration{}, err
	}
	if !found {
		return MonthlyDeclaration{}, ErrNotFound
	}
	return d, nil
}

func (r *pgRepository) WithPeriodLock(ctx context.Context, key PeriodKey, fn func(context.Context, TxRepository) error) error {
	// Read committed so the row read after the lock reflects the previous
	// holder's commit.
	opts := pgx.TxOptions{IsoLevel: pgx.ReadCommitted}
	return db.WithTx(ctx, r.pool, opts, func(tx pgx.Tx) error {
		// The advisory lock also covers periods that have no row yet.
		if err := db.AdvisoryXactLock(ctx, tx, "monthly_declarations:"+key.String()); err != nil {
			return err
		}
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (t *txRepository) Find(ctx context.Context, key PeriodKey) (MonthlyDeclaration, bool, error) {
	return findDeclaration(ctx, t.tx, key)
}

func (t *txRepository) Upsert(ctx context.Context, d MonthlyDeclaration) (MonthlyDeclaration, bool, error) {
	var inserted bool
	err := t.tx.QueryRow(ctx, upsertDeclaration,
		d.ClientID, d.Year, d.Month,
		d.InvoicedAmount, d.ExpensesAmount, d.IVAEmitidos, d.IVARecibidos,
		d.NumFacturasEmitidas, d.NumFacturasRecibidas, d.GrossProfit, d.IVABalance,
	).Scan(&d.ID, &d.TaxPayment, &d.DeclarationPDF, &d.Notes, &d.CreatedAt, &d.UpdatedAt, &inserted)
	if err != nil {
		return MonthlyDeclaration{}, false, err
	}
	return d, inserted, nil
}

func findDeclaration(ctx context.Context, q querier, key PeriodKey) (MonthlyDeclaration, bool, error) {
	var d MonthlyDeclaration
	err := q.QueryRow(ctx, selectDeclaration, key.ClientID, key.Year, key.Month).Scan(
		&d.ID, &d.ClientID, &d.Year, &d.Month,
		&d.InvoicedAmount, &d.ExpensesAmount, &d.IVAEmitidos, &d.IVARecibidos,
		&d.NumFacturasEmitidas, &d.NumFacturasRecibidas, &d.GrossProfit, &d.IVABalance,
		&d.TaxPayment, &d.DeclarationPDF, &d.Notes, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MonthlyDeclaration{}, false, nil
		}
		return MonthlyDeclaration{}, false, err
	}
	return d, true, nil
}
