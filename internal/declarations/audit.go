package declarations

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/contadesk/contadesk/internal/activity"
)

// ActionImported is the activity action written after an import.
const ActionImported = "imported"

// recordActivity appends the import event. A failure is logged and counted
// but never turns a persisted import into an error.
func (s *Service) recordActivity(ctx context.Context, req ImportRequest, res ImportResult) bool {
	if s.activity == nil {
		return false
	}
	ctx = context.WithoutCancel(ctx)
	event := s.buildEvent(ctx, req, res)
	if err := s.activity.Record(ctx, event); err != nil {
		s.metrics.ActivityFailed()
		s.logger.Error("record import activity",
			slog.String("import_id", res.ImportID.String()),
			slog.String("period", req.Key().String()),
			slog.Any("error", err))
		return false
	}
	return true
}

func (s *Service) buildEvent(ctx context.Context, req ImportRequest, res ImportResult) activity.Event {
	userName := s.lookupName(ctx, req.UserID, s.userName)
	clientName := s.lookupName(ctx, req.ClientID, s.clientName)

	fileNames := make([]string, 0, len(res.Files))
	for _, f := range res.Files {
		fileNames = append(fileNames, f.FileName)
	}
	decl := res.Declaration
	return activity.Event{
		UserID:      req.UserID,
		UserName:    userName,
		ClientID:    req.ClientID,
		ClientName:  clientName,
		Module:      ImportModule,
		Action:      ActionImported,
		Description: fmt.Sprintf("Importación de declaración de %s %d para %s (%d archivos)", MonthName(req.Month), req.Year, clientName, len(res.Files)),
		Metadata: map[string]any{
			"import_id":              res.ImportID.String(),
			"files":                  fileNames,
			"invoiced_amount":        decl.InvoicedAmount.StringFixed(2),
			"expenses_amount":        decl.ExpensesAmount.StringFixed(2),
			"iva_emitidos":           decl.IVAEmitidos.StringFixed(2),
			"iva_recibidos":          decl.IVARecibidos.StringFixed(2),
			"num_facturas_emitidas":  decl.NumFacturasEmitidas,
			"num_facturas_recibidas": decl.NumFacturasRecibidas,
			"gross_profit":           decl.GrossProfit.StringFixed(2),
			"iva_balance":            decl.IVABalance.StringFixed(2),
		},
		OccurredAt: s.now(),
	}
}

func (s *Service) userName(ctx context.Context, id string) (string, error) {
	return s.directory.UserName(ctx, id)
}

func (s *Service) clientName(ctx context.Context, id string) (string, error) {
	return s.directory.ClientName(ctx, id)
}

// lookupName falls back to the identifier when the directory cannot resolve it.
func (s *Service) lookupName(ctx context.Context, id string, lookup func(context.Context, string) (string, error)) string {
	if s.directory == nil {
		return id
	}
	name, err := lookup(ctx, id)
	if err != nil || name == "" {
		if err != nil {
			s.logger.Warn("directory lookup", slog.String("id", id), slog.Any("error", err))
		}
		return id
	}
	return name
}
