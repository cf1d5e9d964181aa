package declarations

import "github.com/shopspring/decimal"

// Aggregate folds per-file results of one upload into category sums.
func Aggregate(files []ParsedFileResult) BatchAggregate {
	var agg BatchAggregate
	for _, f := range files {
		switch f.Category.Effective() {
		case CategoryEmitidos:
			agg.TotalEmitidos = agg.TotalEmitidos.Add(f.Subtotal)
			agg.IVAEmitidos = agg.IVAEmitidos.Add(f.IVA)
			agg.NumEmitidas += f.Rows
		case CategoryRecibidos:
			agg.TotalRecibidos = agg.TotalRecibidos.Add(f.Subtotal)
			agg.IVARecibidos = agg.IVARecibidos.Add(f.IVA)
			agg.NumRecibidas += f.Rows
		case CategoryIVATrasladado:
			agg.IVATrasladado = agg.IVATrasladado.Add(f.IVA)
			agg.HasIVAFiles = true
		case CategoryIVAAcreditable:
			agg.IVAAcreditable = agg.IVAAcreditable.Add(f.IVA)
			agg.HasIVAFiles = true
		}
	}
	agg.HasEmitidos = agg.NumEmitidas > 0
	agg.HasRecibidos = agg.NumRecibidas > 0
	return agg
}

// mergeRule yields a value when its condition holds for the batch.
type mergeRule[T any] struct {
	source string
	when   func(BatchAggregate) bool
	value  func(BatchAggregate) T
}

// mergeField lists the rules for one field in precedence order. When no rule
// applies the existing value is kept.
type mergeField[T any] struct {
	name   string
	target func(*MonthlyDeclaration) *T
	rules  []mergeRule[T]
}

func hasEmitidos(a BatchAggregate) bool  { return a.HasEmitidos }
func hasRecibidos(a BatchAggregate) bool { return a.HasRecibidos }
func hasIVAFiles(a BatchAggregate) bool  { return a.HasIVAFiles }

const sourceKept = "existing"

var amountTable = []mergeField[decimal.Decimal]{
	{
		name:   "invoiced_amount",
		target: func(d *MonthlyDeclaration) *decimal.Decimal { return &d.InvoicedAmount },
		rules: []mergeRule[decimal.Decimal]{
			{source: "emitidos", when: hasEmitidos, value: func(a BatchAggregate) decimal.Decimal { return a.TotalEmitidos }},
		},
	},
	{
		name:   "expenses_amount",
		target: func(d *MonthlyDeclaration) *decimal.Decimal { return &d.ExpensesAmount },
		rules: []mergeRule[decimal.Decimal]{
			{source: "recibidos", when: hasRecibidos, value: func(a BatchAggregate) decimal.Decimal { return a.TotalRecibidos }},
		},
	},
	{
		name:   "iva_emitidos",
		target: func(d *MonthlyDeclaration) *decimal.Decimal { return &d.IVAEmitidos },
		rules: []mergeRule[decimal.Decimal]{
			{source: "iva_trasladado", when: hasIVAFiles, value: func(a BatchAggregate) decimal.Decimal { return a.IVATrasladado }},
			{source: "emitidos", when: hasEmitidos, value: func(a BatchAggregate) decimal.Decimal { return a.IVAEmitidos }},
		},
	},
	{
		name:   "iva_recibidos",
		target: func(d *MonthlyDeclaration) *decimal.Decimal { return &d.IVARecibidos },
		rules: []mergeRule[decimal.Decimal]{
			{source: "iva_acreditable", when: hasIVAFiles, value: func(a BatchAggregate) decimal.Decimal { return a.IVAAcreditable }},
			{source: "recibidos", when: hasRecibidos, value: func(a BatchAggregate) decimal.Decimal { return a.IVARecibidos }},
		},
	},
}

var countTable = []mergeField[int]{
	{
		name:   "num_facturas_emitidas",
		target: func(d *MonthlyDeclaration) *int { return &d.NumFacturasEmitidas },
		rules: []mergeRule[int]{
			{source: "emitidos", when: hasEmitidos, value: func(a BatchAggregate) int { return a.NumEmitidas }},
		},
	},
	{
		name:   "num_facturas_recibidas",
		target: func(d *MonthlyDeclaration) *int { return &d.NumFacturasRecibidas },
		rules: []mergeRule[int]{
			{source: "recibidos", when: hasRecibidos, value: func(a BatchAggregate) int { return a.NumRecibidas }},
		},
	},
}

// applyTable writes the first applicable rule per field and returns the
// decisions together with any shadowed rule whose condition also held.
func applyTable[T any](table []mergeField[T], agg BatchAggregate, rec *MonthlyDeclaration, shadowed func(field, source string, v T)) []FieldDecision {
	decisions := make([]FieldDecision, 0, len(table))
	for _, f := range table {
		source := sourceKept
		for _, rule := range f.rules {
			if !rule.when(agg) {
				continue
			}
			if source != sourceKept {
				shadowed(f.name, rule.source, rule.value(agg))
				continue
			}
			*f.target(rec) = rule.value(agg)
			source = rule.source
		}
		decisions = append(decisions, FieldDecision{Field: f.name, Source: source})
	}
	return decisions
}

// Merge reconciles a batch with the existing record of the period. Fields of
// categories absent from the batch keep their existing values. Derived
// figures are recomputed.
func Merge(existing MonthlyDeclaration, agg BatchAggregate) MergeOutcome {
	out := MergeOutcome{Declaration: existing}
	rec := &out.Declaration
	out.Decisions = applyTable(amountTable, agg, rec, func(field, source string, v decimal.Decimal) {
		if !v.IsZero() {
			out.Discarded = append(out.Discarded, DiscardedFigure{Field: field, Source: source, Value: v})
		}
	})
	out.Decisions = append(out.Decisions, applyTable(countTable, agg, rec, func(string, string, int) {})...)
	Derive(rec)
	return out
}

// Derive recomputes gross profit and VAT balance from the record's figures.
func Derive(rec *MonthlyDeclaration) {
	rec.GrossProfit = round2(rec.InvoicedAmount.Sub(rec.ExpensesAmount))
	rec.IVABalance = round2(rec.IVAEmitidos.Sub(rec.IVARecibidos))
}
