package collect

import (
	"strings"
	"testing"
	"time"
)

func TestParseRegistryTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2026-08-28T14:30:00", time.Date(2026, 8, 28, 14, 30, 0, 0, time.UTC), true},
		{"2026-08-28T14:30:00Z", time.Date(2026, 8, 28, 14, 30, 0, 0, time.UTC), true},
		{"2026-08-28", time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC), true},
		{"", time.Time{}, false},
		{"28/08/2026", time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := parseRegistryTime(tt.in)
		if ok != tt.ok {
			t.Errorf("parseRegistryTime(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && !got.Equal(tt.want) {
			t.Errorf("parseRegistryTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPageURLDateEncodings(t *testing.T) {
	c := NewRegistryClient(nil, RegistryAPI{BaseURL: "https://pncp.gov.br/api/consulta/", PageSize: 50, MaxPages: 5})
	start := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)

	iso := c.pageURL("RN", "6", start, end, 1, "2006-01-02")
	if !strings.Contains(iso, "dataInicial=2026-08-25") || !strings.Contains(iso, "dataFinal=2026-08-28") {
		t.Errorf("ISO encoding wrong: %s", iso)
	}
	if !strings.HasPrefix(iso, "https://pncp.gov.br/api/consulta/v1/contratacoes/publicacao?") {
		t.Errorf("trailing slash not trimmed from base URL: %s", iso)
	}

	compact := c.pageURL("RN", "6", start, end, 1, "20060102")
	if !strings.Contains(compact, "dataInicial=20260825") || !strings.Contains(compact, "dataFinal=20260828") {
		t.Errorf("compact encoding wrong: %s", compact)
	}
	for _, want := range []string{"uf=RN", "codigoModalidadeContratacao=6", "pagina=1", "tamanhoPagina=50"} {
		if !strings.Contains(compact, want) {
			t.Errorf("missing query param %q in %s", want, compact)
		}
	}
}
