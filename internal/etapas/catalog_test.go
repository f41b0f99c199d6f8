package etapas

import "testing"

// Unknown, empty and oddly-cased matters all resolve to the civil list.
func Test_TemplatesForMatter_FallbackToCivil(t *testing.T) {
	civil := TemplatesForMatter("civil")
	if len(civil) != 9 {
		t.Fatalf("civil should have 9 templates, got %d", len(civil))
	}

	for _, materia := range []string{"", "tributario", "  ", "CIVIL", "Civil "} {
		got := TemplatesForMatter(materia)
		if len(got) != len(civil) {
			t.Fatalf("materia %q: want %d templates, got %d", materia, len(civil), len(got))
		}
		for i := range got {
			if got[i].Nombre != civil[i].Nombre {
				t.Fatalf("materia %q: template %d is %q, want %q", materia, i, got[i].Nombre, civil[i].Nombre)
			}
		}
	}
}

// Fee shares come from the per-matter distribution, position by position.
func Test_TemplatesForMatter_SharesAttached(t *testing.T) {
	civil := TemplatesForMatter("Civil")
	wantShares := []float64{0.15, 0.10, 0.10, 0.10, 0.15, 0.20, 0.10, 0.05, 0.05}
	for i, tpl := range civil {
		if tpl.PorcentajeHonorario != wantShares[i] {
			t.Fatalf("civil stage %d share = %v, want %v", i+1, tpl.PorcentajeHonorario, wantShares[i])
		}
	}
}

// A matter with templates but no own distribution borrows the civil one.
func Test_TemplatesForMatter_DistributionFallback(t *testing.T) {
	comercial := TemplatesForMatter("comercial")
	civilShares := feeShares["civil"]
	for i, tpl := range comercial {
		if tpl.PorcentajeHonorario != civilShares[i] {
			t.Fatalf("comercial stage %d share = %v, want civil share %v", i+1, tpl.PorcentajeHonorario, civilShares[i])
		}
	}
}

// Positions beyond the distribution length get share 0.
func Test_TemplatesForMatter_OutOfRangeShareIsZero(t *testing.T) {
	familia := TemplatesForMatter("familia")
	if len(familia) != 6 {
		t.Fatalf("familia should have 6 templates, got %d", len(familia))
	}
	last := familia[len(familia)-1]
	if last.PorcentajeHonorario != 0 {
		t.Fatalf("familia last stage share = %v, want 0 (no distribution entry)", last.PorcentajeHonorario)
	}
}

// The catalog hands out copies; callers cannot corrupt the tables.
func Test_TemplatesForMatter_ReturnsCopy(t *testing.T) {
	a := TemplatesForMatter("laboral")
	a[0].Nombre = "mutated"
	b := TemplatesForMatter("laboral")
	if b[0].Nombre == "mutated" {
		t.Fatal("catalog returned shared backing array")
	}
}

// Every declared matter has a non-empty list with 1-based-contiguous content.
func Test_Materias_AllNonEmpty(t *testing.T) {
	for _, m := range Materias() {
		tpls := TemplatesForMatter(m)
		if len(tpls) == 0 {
			t.Fatalf("materia %q has an empty template list", m)
		}
		for i, tpl := range tpls {
			if tpl.Nombre == "" {
				t.Fatalf("materia %q template %d has no name", m, i)
			}
			if tpl.DiasEstimados < 0 {
				t.Fatalf("materia %q template %d has negative days", m, i)
			}
		}
	}
}
