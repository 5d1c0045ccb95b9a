package order

import (
	"testing"
)

func TestParseEightFields(t *testing.T) {
	parts := []string{" Ana Ruiz | Calle Mayor 1 | 28001 | 600111222 | 911222333 | Lavadora | Bosch | No centrifuga "}
	out := Parse(parts, TextSubject("5512 Aviso"))
	if out.NotParseable() {
		t.Fatalf("expected parseable outcome")
	}
	want := Record{
		Nombre:    "Ana Ruiz",
		Direccion: "Calle Mayor 1",
		CP:        "28001",
		Telefono1: "600111222",
		Telefono2: "911222333",
		Aparato:   "Lavadora",
		Marca:     "Bosch",
		Averia:    "No centrifuga",
		Status:    StatusNew,
	}
	got := out.Record
	got.Nro = nil
	if got != want {
		t.Fatalf("record mismatch:\n got %+v\nwant %+v", got, want)
	}
	if out.Record.Nro == nil || *out.Record.Nro != 5512 {
		t.Fatalf("expected nro 5512, got %v", out.Record.Nro)
	}
}

func TestParseSevenFieldsInsertsPhoneGap(t *testing.T) {
	out := Parse([]string{"A|B|C|D|E|F|G"}, TextSubject("1 x"))
	if out.NotParseable() {
		t.Fatalf("expected parseable outcome")
	}
	r := out.Record
	if r.Telefono1 != "D" || r.Telefono2 != "" {
		t.Fatalf("phones: got %q/%q", r.Telefono1, r.Telefono2)
	}
	if r.Aparato != "E" || r.Marca != "F" || r.Averia != "G" {
		t.Fatalf("shifted fields: got %q %q %q", r.Aparato, r.Marca, r.Averia)
	}
}

func TestParseShortInputPadsEmpty(t *testing.T) {
	out := Parse([]string{"Solo nombre|Direccion"}, NoSubject)
	if out.NotParseable() {
		t.Fatalf("expected parseable outcome")
	}
	r := out.Record
	if r.Nombre != "Solo nombre" || r.Direccion != "Direccion" {
		t.Fatalf("unexpected head fields: %+v", r)
	}
	if r.CP != "" || r.Telefono1 != "" || r.Averia != "" {
		t.Fatalf("expected empty tail fields: %+v", r)
	}
}

func TestParseExtraFieldsStayInAveria(t *testing.T) {
	out := Parse([]string{"a|b|c|d|e|f|g|ruido | chirrido"}, NoSubject)
	if got := out.Record.Averia; got != "ruido | chirrido" {
		t.Fatalf("averia: got %q", got)
	}
}

func TestParseSkipsPartsWithoutDelimiter(t *testing.T) {
	parts := []string{
		"<html><body>Nuevo aviso</body></html>",
		"Juan|Calle 2|08001|600|601|Horno|Teka|No calienta",
	}
	out := Parse(parts, TextSubject("77"))
	if out.NotParseable() {
		t.Fatalf("expected parseable outcome")
	}
	if out.Record.Nombre != "Juan" {
		t.Fatalf("expected second part to be used, got nombre %q", out.Record.Nombre)
	}
}

func TestParseNoDelimiterIsNotParseable(t *testing.T) {
	out := Parse([]string{"hola", "sin pedido"}, TextSubject("1234 Urgent order"))
	if !out.NotParseable() {
		t.Fatalf("expected NotParseable, got %+v", out.Record)
	}
	if out := Parse(nil, NoSubject); !out.NotParseable() {
		t.Fatalf("expected NotParseable for no parts")
	}
}

func TestParseNameKeepsLastLine(t *testing.T) {
	out := Parse([]string{"Boilerplate header\r\nJuan Perez|d|c|t1|t2|a|m|f"}, NoSubject)
	if got := out.Record.Nombre; got != "Juan Perez" {
		t.Fatalf("nombre: got %q", got)
	}
	out = Parse([]string{"Cabecera\nMaria\r\n|d|c|t1|t2|a|m|f"}, NoSubject)
	if got := out.Record.Nombre; got != "Maria" {
		t.Fatalf("nombre with trailing break: got %q", got)
	}
}

func TestParsePhoneFolding(t *testing.T) {
	tests := []struct {
		name   string
		block  string
		wantT1 string
		wantT2 string
	}{
		{"overrides-secondary", "n|d|c|555-1111,555-2222|999|a|m|f", "555-1111", "555-2222"},
		{"fills-gap", "n|d|c|555-1111, 555-2222|a|m|f", "555-1111", "555-2222"},
		{"trailing-comma-keeps-secondary", "n|d|c|555-1111,|999|a|m|f", "555-1111", "999"},
		{"only-first-comma", "n|d|c|1,2,3|999|a|m|f", "1", "2,3"},
		{"no-comma", "n|d|c|555|999|a|m|f", "555", "999"},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			r := Parse([]string{tc.block}, NoSubject).Record
			if r.Telefono1 != tc.wantT1 || r.Telefono2 != tc.wantT2 {
				t.Fatalf("got %q/%q want %q/%q", r.Telefono1, r.Telefono2, tc.wantT1, tc.wantT2)
			}
		})
	}
}

func TestParseEmptyFieldsPreserved(t *testing.T) {
	r := Parse([]string{"n|  |c|t|t2|   |m|f"}, NoSubject).Record
	if r.Direccion != "" || r.Aparato != "" {
		t.Fatalf("expected empty trimmed fields, got %q %q", r.Direccion, r.Aparato)
	}
}

func TestOrderNumber(t *testing.T) {
	n := func(v int64) *int64 { return &v }
	tests := []struct {
		name    string
		subject Subject
		want    *int64
	}{
		{"leading-number", TextSubject("1234 Urgent order"), n(1234)},
		{"no-number", TextSubject("Urgent order"), nil},
		{"empty", TextSubject(""), nil},
		{"leading-space", TextSubject("  42\tAviso"), n(42)},
		{"digits-then-suffix", TextSubject("1234-B reparación"), n(1234)},
		{"negative", TextSubject("-7 x"), n(-7)},
		{"sign-only", TextSubject("- x"), nil},
		{"overflow", TextSubject("99999999999999999999 x"), nil},
		{"numeric", NumericSubject(881), n(881)},
		{"no-subject-sentinel", NoSubject, nil},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			got := OrderNumber(tc.subject)
			switch {
			case tc.want == nil && got != nil:
				t.Fatalf("expected nil, got %d", *got)
			case tc.want != nil && got == nil:
				t.Fatalf("expected %d, got nil", *tc.want)
			case tc.want != nil && *got != *tc.want:
				t.Fatalf("expected %d, got %d", *tc.want, *got)
			}
		})
	}
}

func TestParseMalformedSubjectStillSucceeds(t *testing.T) {
	out := Parse([]string{"n|d|c|t|t2|a|m|f"}, TextSubject("Urgent order"))
	if out.NotParseable() {
		t.Fatalf("expected parseable outcome")
	}
	if out.Record.Nro != nil {
		t.Fatalf("expected nil nro, got %d", *out.Record.Nro)
	}
	if out.Record.Nombre != "n" {
		t.Fatalf("other fields should still parse, got %+v", out.Record)
	}
}

func TestSubjectString(t *testing.T) {
	if got := NumericSubject(12).String(); got != "12" {
		t.Fatalf("got %q", got)
	}
	if got := TextSubject("hola").String(); got != "hola" {
		t.Fatalf("got %q", got)
	}
}
