package declarations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/contadesk/contadesk/internal/identity"
	"github.com/contadesk/contadesk/internal/platform/httpx"
)

type multipartFile struct {
	name    string
	content []byte
}

func newImportRequest(t *testing.T, fields map[string]string, files ...multipartFile) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		part, err := mw.CreateFormFile("files", f.name)
		require.NoError(t, err)
		_, err = part.Write(f.content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/declarations/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func newDeclarationsRouter(h *Handler, principal *identity.Principal) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if principal != nil {
				req = req.WithContext(identity.ContextWithPrincipal(req.Context(), principal))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/declarations", h.MountRoutes)
	return r
}

var januaryFields = map[string]string{"clientId": "c-1", "year": "2024", "month": "1", "userId": "u-1"}

func TestHandlerImport(t *testing.T) {
	fx := newServiceFixture()
	h := NewHandler(newTestLogger(), fx.svc, 1<<20)
	router := newDeclarationsRouter(h, &identity.Principal{UserID: "u-1", Role: identity.RoleContador})

	req := newImportRequest(t, januaryFields,
		multipartFile{name: "emitidos_enero.xlsx", content: emitidosEnero(t)},
		multipartFile{name: "iva_trasladado_enero.xlsx", content: ivaTrasladadoEnero(t)},
	)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body importResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.ImportID)
	require.Equal(t, 86200.0, body.TotalEmitidos)
	require.Equal(t, 13800.0, body.IVAEmitidos)
	require.Equal(t, 15000.0, body.IVATrasladado)
	require.Equal(t, 5, body.NumEmitidas)
	require.Equal(t, 86200.0, body.GrossProfit)
	require.Equal(t, 15000.0, body.IVABalance)
	require.True(t, body.Created)
	require.Len(t, body.Files, 2)
	require.Equal(t, "iva_trasladado_enero.xlsx", body.Files[1].Name)
	require.Equal(t, MissingFields{Total: 1}, body.Files[1].Missing)
	require.Len(t, body.Discarded, 1)
}

func TestHandlerImportErrors(t *testing.T) {
	cases := []struct {
		name      string
		principal *identity.Principal
		fields    map[string]string
		files     []multipartFile
		status    int
		detail    string
	}{
		{
			name:   "anonymous",
			fields: januaryFields,
			files:  []multipartFile{{name: "emitidos.xlsx", content: []byte("x")}},
			status: http.StatusUnauthorized,
		},
		{
			name:      "wrong role",
			principal: &identity.Principal{UserID: "u-9", Role: identity.RoleAbogado},
			fields:    januaryFields,
			files:     []multipartFile{{name: "emitidos.xlsx", content: []byte("x")}},
			status:    http.StatusForbidden,
		},
		{
			name:      "no files",
			principal: &identity.Principal{UserID: "u-1", Role: identity.RoleAdmin},
			fields:    januaryFields,
			status:    http.StatusBadRequest,
			detail:    "at least one file is required",
		},
		{
			name:      "corrupt workbook",
			principal: &identity.Principal{UserID: "u-1", Role: identity.RoleAdmin},
			fields:    januaryFields,
			files:     []multipartFile{{name: "recibidos_danado.xlsx", content: []byte("not a zip")}},
			status:    http.StatusUnprocessableEntity,
			detail:    "recibidos_danado.xlsx",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newServiceFixture()
			router := newDeclarationsRouter(NewHandler(newTestLogger(), fx.svc, 1<<20), tc.principal)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, newImportRequest(t, tc.fields, tc.files...))

			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
			var problem httpx.ProblemDetail
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
			require.Equal(t, tc.status, problem.Status)
			require.Contains(t, problem.Detail, tc.detail)
		})
	}
}

func TestHandlerImportOversizedBody(t *testing.T) {
	stub := &stubImporter{}
	router := newDeclarationsRouter(NewHandler(newTestLogger(), stub, 512), nil)
	req := newImportRequest(t, januaryFields, multipartFile{name: "emitidos_enero.xlsx", content: emitidosEnero(t)})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), "upload exceeds 512 bytes")
	require.Empty(t, stub.gotReq.Files)
}

func TestHandlerImportOpenFailureIsServerError(t *testing.T) {
	fx := newServiceFixture()
	openErr := errors.New("multipart: temp file gone")
	_, err := fx.svc.Import(asRole(identity.RoleAdmin), januaryRequest(Upload{
		Name: "emitidos.xlsx",
		Open: func() (io.ReadCloser, error) { return nil, openErr },
	}))
	require.Error(t, err)

	router := newDeclarationsRouter(NewHandler(newTestLogger(), &stubImporter{importErr: err}, 1<<20), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newImportRequest(t, januaryFields))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

type stubImporter struct {
	importErr error
	decl      MonthlyDeclaration
	getErr    error
	gotKey    PeriodKey
	gotReq    ImportRequest
}

func (s *stubImporter) Import(ctx context.Context, req ImportRequest) (ImportResult, error) {
	s.gotReq = req
	return ImportResult{}, s.importErr
}

func (s *stubImporter) Get(ctx context.Context, key PeriodKey) (MonthlyDeclaration, error) {
	s.gotKey = key
	return s.decl, s.getErr
}

func TestHandlerImportPassesIdempotencyKey(t *testing.T) {
	stub := &stubImporter{importErr: ErrDuplicateImport}
	router := newDeclarationsRouter(NewHandler(newTestLogger(), stub, 1<<20), nil)
	req := newImportRequest(t, januaryFields, multipartFile{name: "emitidos.xlsx", content: []byte("x")})
	req.Header.Set("Idempotency-Key", " key-42 ")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "key-42", stub.gotReq.IdempotencyKey)
	require.Equal(t, 2024, stub.gotReq.Year)
	require.Len(t, stub.gotReq.Files, 1)
	require.Equal(t, "emitidos.xlsx", stub.gotReq.Files[0].Name)
}

func TestHandlerImportUnexpectedError(t *testing.T) {
	stub := &stubImporter{importErr: errors.New("declarations: persist: pool closed")}
	router := newDeclarationsRouter(NewHandler(newTestLogger(), stub, 1<<20), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newImportRequest(t, januaryFields))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "pool closed")
}

func TestHandlerGet(t *testing.T) {
	stub := &stubImporter{decl: MonthlyDeclaration{
		ClientID:       "c-1",
		Year:           2024,
		Month:          3,
		InvoicedAmount: dec("1500.5"),
		IVABalance:     dec("-12.25"),
		Notes:          "revisado",
	}}
	router := newDeclarationsRouter(NewHandler(newTestLogger(), stub, 0), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/declarations/c-1/2024/3", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, PeriodKey{ClientID: "c-1", Year: 2024, Month: 3}, stub.gotKey)
	var body declarationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1500.5, body.InvoicedAmount)
	require.Equal(t, -12.25, body.IVABalance)
	require.Equal(t, "revisado", body.Notes)
}

func TestHandlerGetErrors(t *testing.T) {
	stub := &stubImporter{getErr: ErrNotFound}
	router := newDeclarationsRouter(NewHandler(newTestLogger(), stub, 0), nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/declarations/c-1/2024/7", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/declarations/c-1/2024/13", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
