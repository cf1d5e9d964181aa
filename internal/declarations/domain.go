package declarations

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/contadesk/contadesk/internal/platform/httpx"
)

// Category identifies the kind of export a spreadsheet holds.
type Category string

const (
	CategoryEmitidos       Category = "emitidos"
	CategoryRecibidos      Category = "recibidos"
	CategoryIVATrasladado  Category = "iva_trasladado"
	CategoryIVAAcreditable Category = "iva_acreditable"
	// CategoryUnclassified marks a file name with no known keyword. It is
	// folded into recibidos when batches are aggregated.
	CategoryUnclassified Category = "unclassified"
)

// Effective returns the category used for aggregation.
func (c Category) Effective() Category {
	if c == CategoryUnclassified {
		return CategoryRecibidos
	}
	return c
}

// IsIVA reports whether the category is a VAT summary export.
func (c Category) IsIVA() bool {
	return c == CategoryIVATrasladado || c == CategoryIVAAcreditable
}

// PeriodKey identifies one monthly declaration.
type PeriodKey struct {
	ClientID string
	Year     int
	Month    int
}

func (k PeriodKey) String() string {
	return fmt.Sprintf("%s:%04d-%02d", k.ClientID, k.Year, k.Month)
}

// MonthlyDeclaration is the persisted record for a client period. TaxPayment,
// DeclarationPDF and Notes are maintained manually and never written by imports.
type MonthlyDeclaration struct {
	ID                   int64
	ClientID             string
	Year                 int
	Month                int
	InvoicedAmount       decimal.Decimal
	ExpensesAmount       decimal.Decimal
	IVAEmitidos          decimal.Decimal
	IVARecibidos         decimal.Decimal
	NumFacturasEmitidas  int
	NumFacturasRecibidas int
	GrossProfit          decimal.Decimal
	IVABalance           decimal.Decimal
	TaxPayment           decimal.Decimal
	DeclarationPDF       string
	Notes                string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Key returns the period key of the declaration.
func (d MonthlyDeclaration) Key() PeriodKey {
	return PeriodKey{ClientID: d.ClientID, Year: d.Year, Month: d.Month}
}

// Row is one spreadsheet data row keyed by header text.
type Row map[string]string

// MissingFields counts rows where no candidate column yielded a value.
type MissingFields struct {
	Total    int `json:"total"`
	Subtotal int `json:"subtotal"`
	IVA      int `json:"iva"`
}

// ParsedFileResult is the per-file aggregate of one uploaded workbook.
type ParsedFileResult struct {
	FileName string
	Category Category
	Total    decimal.Decimal
	Subtotal decimal.Decimal
	IVA      decimal.Decimal
	Rows     int
	Missing  MissingFields
}

// BatchAggregate sums per-file results of an upload by category.
type BatchAggregate struct {
	TotalEmitidos  decimal.Decimal
	TotalRecibidos decimal.Decimal
	IVAEmitidos    decimal.Decimal
	IVARecibidos   decimal.Decimal
	IVATrasladado  decimal.Decimal
	IVAAcreditable decimal.Decimal
	NumEmitidas    int
	NumRecibidas   int
	HasEmitidos    bool
	HasRecibidos   bool
	HasIVAFiles    bool
}

// Upload is one attachment of an import request.
type Upload struct {
	Name string                        `validate:"required"`
	Open func() (io.ReadCloser, error) `validate:"required"`
}

// ImportRequest carries the fields of an upload batch.
type ImportRequest struct {
	ClientID       string   `validate:"required"`
	Year           int      `validate:"required,gte=2000,lte=2100"`
	Month          int      `validate:"required,min=1,max=12"`
	UserID         string   `validate:"required"`
	Files          []Upload `validate:"required,min=1,dive"`
	IdempotencyKey string
}

// Key returns the targeted period.
func (r ImportRequest) Key() PeriodKey {
	return PeriodKey{ClientID: r.ClientID, Year: r.Year, Month: r.Month}
}

// FieldDecision records which rule produced a merged field.
type FieldDecision struct {
	Field  string `json:"field"`
	Source string `json:"source"`
}

// DiscardedFigure is a computed value that lost to a higher precedence rule.
type DiscardedFigure struct {
	Field  string          `json:"field"`
	Source string          `json:"source"`
	Value  decimal.Decimal `json:"value"`
}

// MergeOutcome is the result of reconciling a batch with an existing record.
type MergeOutcome struct {
	Declaration MonthlyDeclaration
	Decisions   []FieldDecision
	Discarded   []DiscardedFigure
}

// ImportResult summarises a completed import.
type ImportResult struct {
	ImportID    uuid.UUID
	Declaration MonthlyDeclaration
	Aggregate   BatchAggregate
	Files       []ParsedFileResult
	Decisions   []FieldDecision
	Discarded   []DiscardedFigure
	Created     bool
	Audited     bool
}

var (
	// ErrInvalidRequest indicates missing or malformed request fields.
	ErrInvalidRequest = fmt.Errorf("declarations: %w", httpx.ErrValidation)
	// ErrUnauthenticated indicates no principal is attached to the request.
	ErrUnauthenticated = fmt.Errorf("declarations: %w", httpx.ErrUnauthorized)
	// ErrForbidden indicates the principal's role may not import declarations.
	ErrForbidden = fmt.Errorf("declarations: role not permitted: %w", httpx.ErrForbidden)
	// ErrNotFound indicates no declaration exists for the period.
	ErrNotFound = fmt.Errorf("declarations: declaration %w", httpx.ErrNotFound)
	// ErrDuplicateImport indicates the idempotency key was already used.
	ErrDuplicateImport = fmt.Errorf("declarations: import already processed: %w", httpx.ErrDuplicate)
	// ErrUnreadableWorkbook is wrapped by every ParseError.
	ErrUnreadableWorkbook = fmt.Errorf("declarations: unreadable workbook: %w", httpx.ErrUnprocessable)
)

// ParseError reports a workbook that could not be read.
type ParseError struct {
	File string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("declarations: parse %q: %v", e.File, e.Err)
}

func (e *ParseError) Unwrap() []error {
	return []error{ErrUnreadableWorkbook, e.Err}
}

// IsParseError reports whether err contains a ParseError and returns it.
func IsParseError(err error) (*ParseError, bool) {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
