package declarations

import "github.com/shopspring/decimal"

// columnSet lists candidate header names per figure, highest priority first.
type columnSet struct {
	Total    []string
	Subtotal []string
	IVA      []string
}

var invoiceColumns = columnSet{
	Total:    []string{"Total"},
	Subtotal: []string{"Base de IVA traslado", "Neto", "Subtotal"},
	IVA:      []string{"Importe IVA traslado", "Traslado IVA"},
}

var candidateColumns = map[Category]columnSet{
	CategoryIVATrasladado: {
		Total:    []string{"Total"},
		Subtotal: []string{"Base IVA 16%"},
		IVA:      []string{"IVA total", "IVA 16%"},
	},
	CategoryIVAAcreditable: {
		Total:    []string{"Total"},
		Subtotal: []string{"Base IVA 16%", "Base IVA 8%"},
		IVA:      []string{"IVA acreditable total", "IVA 16%"},
	},
	CategoryEmitidos:     invoiceColumns,
	CategoryRecibidos:    invoiceColumns,
	CategoryUnclassified: invoiceColumns,
}

func columnsFor(c Category) columnSet {
	if cols, ok := candidateColumns[c]; ok {
		return cols
	}
	return invoiceColumns
}

// RowFigures holds the values extracted from a single row.
type RowFigures struct {
	Total    decimal.Decimal
	Subtotal decimal.Decimal
	IVA      decimal.Decimal
}

// resolveColumn returns the first candidate holding a non-zero number.
func resolveColumn(row Row, candidates []string) (decimal.Decimal, bool) {
	for _, name := range candidates {
		raw, ok := row[name]
		if !ok {
			continue
		}
		v, ok := parseAmount(raw)
		if !ok || v.IsZero() {
			continue
		}
		return v, true
	}
	return decimal.Zero, false
}

// ExtractRow pulls the figures of one row and reports which were not found.
func ExtractRow(category Category, row Row) (RowFigures, MissingFields) {
	cols := columnsFor(category)
	var (
		out     RowFigures
		missing MissingFields
		found   bool
	)
	if out.Total, found = resolveColumn(row, cols.Total); !found {
		missing.Total++
	}
	if out.Subtotal, found = resolveColumn(row, cols.Subtotal); !found {
		missing.Subtotal++
	}
	if out.IVA, found = resolveColumn(row, cols.IVA); !found {
		missing.IVA++
	}
	return out, missing
}

// ExtractFile sums the figures of every row of a file.
func ExtractFile(filename string, category Category, rows []Row) ParsedFileResult {
	res := ParsedFileResult{
		FileName: filename,
		Category: category,
		Rows:     len(rows),
	}
	total, subtotal, iva := decimal.Zero, decimal.Zero, decimal.Zero
	for _, row := range rows {
		fig, miss := ExtractRow(category, row)
		total = total.Add(fig.Total)
		subtotal = subtotal.Add(fig.Subtotal)
		iva = iva.Add(fig.IVA)
		res.Missing.Total += miss.Total
		res.Missing.Subtotal += miss.Subtotal
		res.Missing.IVA += miss.IVA
	}
	res.Total = round2(total)
	res.Subtotal = round2(subtotal)
	res.IVA = round2(iva)
	return res
}
