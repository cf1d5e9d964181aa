package declarations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/contadesk/contadesk/internal/platform/httpx"
)

// Importer is the service surface used by the HTTP handler.
type Importer interface {
	Import(ctx context.Context, req ImportRequest) (ImportResult, error)
	Get(ctx context.Context, key PeriodKey) (MonthlyDeclaration, error)
}

// Handler exposes declaration import endpoints.
type Handler struct {
	logger    *slog.Logger
	service   Importer
	maxUpload int64
}

// NewHandler constructs the HTTP handler. maxUpload bounds the multipart body
// in bytes.
func NewHandler(logger *slog.Logger, service Importer, maxUpload int64) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxUpload <= 0 {
		maxUpload = 32 << 20
	}
	return &Handler{logger: logger, service: service, maxUpload: maxUpload}
}

// MountRoutes attaches declaration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/import", h.handleImport)
	r.Get("/{clientID}/{year}/{month}", h.handleGet)
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.Problem(w, http.StatusRequestEntityTooLarge, "Payload Too Large",
				fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid multipart body")
		return
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	req := ImportRequest{
		ClientID:       strings.TrimSpace(r.FormValue("clientId")),
		Year:           atoi(r.FormValue("year")),
		Month:          atoi(r.FormValue("month")),
		UserID:         strings.TrimSpace(r.FormValue("userId")),
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	}
	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["files"] {
			req.Files = append(req.Files, uploadFromHeader(fh))
		}
	}

	res, err := h.service.Import(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newImportResponse(res))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	key := PeriodKey{
		ClientID: chi.URLParam(r, "clientID"),
		Year:     atoi(chi.URLParam(r, "year")),
		Month:    atoi(chi.URLParam(r, "month")),
	}
	if key.ClientID == "" || key.Year == 0 || key.Month < 1 || key.Month > 12 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid period")
		return
	}
	decl, err := h.service.Get(r.Context(), key)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newDeclarationResponse(decl))
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	if pe, ok := IsParseError(err); ok {
		h.logger.Warn("declaration import rejected", slog.String("file", pe.File), slog.Any("error", pe.Err))
	} else if !isClientError(err) {
		h.logger.Error("declaration import", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func isClientError(err error) bool {
	return errors.Is(err, httpx.ErrValidation) ||
		errors.Is(err, httpx.ErrUnauthorized) ||
		errors.Is(err, httpx.ErrForbidden) ||
		errors.Is(err, httpx.ErrNotFound) ||
		errors.Is(err, httpx.ErrDuplicate)
}

func uploadFromHeader(fh *multipart.FileHeader) Upload {
	return Upload{
		Name: fh.Filename,
		Open: func() (io.ReadCloser, error) { return fh.Open() },
	}
}

func atoi(raw string) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return v
}

type importResponse struct {
	ImportID       string          `json:"importId"`
	TotalEmitidos  float64         `json:"totalEmitidos"`
	TotalRecibidos float64         `json:"totalRecibidos"`
	IVAEmitidos    float64         `json:"ivaEmitidos"`
	IVARecibidos   float64         `json:"ivaRecibidos"`
	IVATrasladado  float64         `json:"ivaTrasladado"`
	IVAAcreditable float64         `json:"ivaAcreditable"`
	NumEmitidas    int             `json:"numEmitidas"`
	NumRecibidas   int             `json:"numRecibidas"`
	GrossProfit    float64         `json:"grossProfit"`
	IVABalance     float64         `json:"ivaBalance"`
	Created        bool            `json:"created"`
	Audited        bool            `json:"audited"`
	Files          []fileResponse  `json:"files"`
	Decisions      []FieldDecision `json:"decisions"`
	Discarded      []discardedResp `json:"discarded,omitempty"`
}

type fileResponse struct {
	Name     string        `json:"name"`
	Category Category      `json:"category"`
	Total    float64       `json:"total"`
	Subtotal float64       `json:"subtotal"`
	IVA      float64       `json:"iva"`
	Rows     int           `json:"rows"`
	Missing  MissingFields `json:"fieldsNotFound"`
}

type discardedResp struct {
	Field  string  `json:"field"`
	Source string  `json:"source"`
	Value  float64 `json:"value"`
}

type declarationResponse struct {
	ClientID             string  `json:"clientId"`
	Year                 int     `json:"year"`
	Month                int     `json:"month"`
	InvoicedAmount       float64 `json:"invoicedAmount"`
	ExpensesAmount       float64 `json:"expensesAmount"`
	IVAEmitidos          float64 `json:"ivaEmitidos"`
	IVARecibidos         float64 `json:"ivaRecibidos"`
	NumFacturasEmitidas  int     `json:"numFacturasEmitidas"`
	NumFacturasRecibidas int     `json:"numFacturasRecibidas"`
	GrossProfit          float64 `json:"grossProfit"`
	IVABalance           float64 `json:"ivaBalance"`
	TaxPayment           float64 `json:"taxPayment"`
	DeclarationPDF       string  `json:"declarationPdf,omitempty"`
	Notes                string  `json:"notes,omitempty"`
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func newImportResponse(res ImportResult) importResponse {
	agg := res.Aggregate
	out := importResponse{
		ImportID:       res.ImportID.String(),
		TotalEmitidos:  money(agg.TotalEmitidos),
		TotalRecibidos: money(agg.TotalRecibidos),
		IVAEmitidos:    money(agg.IVAEmitidos),
		IVARecibidos:   money(agg.IVARecibidos),
		IVATrasladado:  money(agg.IVATrasladado),
		IVAAcreditable: money(agg.IVAAcreditable),
		NumEmitidas:    agg.NumEmitidas,
		NumRecibidas:   agg.NumRecibidas,
		GrossProfit:    money(res.Declaration.GrossProfit),
		IVABalance:     money(res.Declaration.IVABalance),
		Created:        res.Created,
		Audited:        res.Audited,
		Decisions:      res.Decisions,
	}
	out.Files = make([]fileResponse, 0, len(res.Files))
	for _, f := range res.Files {
		out.Files = append(out.Files, fileResponse{
			Name:     f.FileName,
			Category: f.Category,
			Total:    money(f.Total),
			Subtotal: money(f.Subtotal),
			IVA:      money(f.IVA),
			Rows:     f.Rows,
			Missing:  f.Missing,
		})
	}
	for _, d := range res.Discarded {
		out.Discarded = append(out.Discarded, discardedResp{Field: d.Field, Source: d.Source, Value: money(d.Value)})
	}
	return out
}

func newDeclarationResponse(d MonthlyDeclaration) declarationResponse {
	return declarationResponse{
		ClientID:             d.ClientID,
		Year:                 d.Year,
		Month:                d.Month,
		InvoicedAmount:       money(d.InvoicedAmount),
		ExpensesAmount:       money(d.ExpensesAmount),
		IVAEmitidos:          money(d.IVAEmitidos),
		IVARecibidos:         money(d.IVARecibidos),
		NumFacturasEmitidas:  d.NumFacturasEmitidas,
		NumFacturasRecibidas: d.NumFacturasRecibidas,
		GrossProfit:          money(d.GrossProfit),
		IVABalance:           money(d.IVABalance),
		TaxPayment:           money(d.TaxPayment),
		DeclarationPDF:       d.DeclarationPDF,
		Notes:                d.Notes,
	}
}
