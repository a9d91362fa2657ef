package collect

import (
	"testing"
	"time"

	"github.com/marcelo/licita-radar/internal/filter"
	"github.com/marcelo/licita-radar/internal/models"
)

func TestIsOpenNotice(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"AVISO DE LICITAÇÃO - Pregão Eletrônico nº 12/2026", true},
		{"Aviso de Dispensa de Licitação nº 3/2026", true},
		{"CHAMADA PÚBLICA Nº 001/2026", true},
		{"EXTRATO DE CONTRATO Nº 044/2026", false},
		{"PORTARIA Nº 120 - nomeia servidor", false},
	}
	for _, tt := range tests {
		if got := IsOpenNotice(filter.Normalize(tt.text)); got != tt.want {
			t.Errorf("IsOpenNotice(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestIsAwarded(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Vencedora: Empresa XYZ LTDA, CNPJ 00.000.000/0001-00", true},
		{"HOMOLOGO E ADJUDICO o presente certame", true},
		{"Termo de Homologação do Pregão 12/2026", true},
		{"Abertura das propostas em 10/09/2026", false},
	}
	for _, tt := range tests {
		if got := IsAwarded(filter.Normalize(tt.text)); got != tt.want {
			t.Errorf("IsAwarded(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestDetectModality(t *testing.T) {
	tests := []struct {
		text string
		want models.Modality
	}{
		{"PREGÃO ELETRÔNICO Nº 12/2026", models.ModalityOpenTender},
		{"TOMADA DE PREÇOS Nº 2/2026", models.ModalityOpenTender},
		{"DISPENSA DE LICITAÇÃO Nº 30/2026", models.ModalityDirectAward},
		{"DISPENSA EMERGENCIAL - calamidade pública", models.ModalityEmergencyAward},
		{"contratação em caráter emergencial", models.ModalityEmergencyAward},
		{"AVISO DE CREDENCIAMENTO", models.ModalityOther},
	}
	for _, tt := range tests {
		if got := DetectModality(filter.Normalize(tt.text)); got != tt.want {
			t.Errorf("DetectModality(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestExtractPublishDate(t *testing.T) {
	fallback := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	got := ExtractPublishDate("Natal/RN, 12 de março de 2026. João Silva, Pregoeiro.", fallback)
	want := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("ExtractPublishDate = %v, want %v", got, want)
	}

	if got := ExtractPublishDate("sem data por extenso aqui", fallback); !got.Equal(fallback) {
		t.Errorf("missing date must return the fallback, got %v", got)
	}
}

func TestExtractOrganization(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"PREFEITURA MUNICIPAL DE CAICÓ, através da Comissão de Licitação, torna público", "PREFEITURA MUNICIPAL DE CAICÓ"},
		{"A CÂMARA MUNICIPAL DE ACARI, no uso de suas atribuições", "CÂMARA MUNICIPAL DE ACARI"},
		{"texto sem nenhuma entidade reconhecível", ""},
	}
	for _, tt := range tests {
		if got := ExtractOrganization(tt.text); got != tt.want {
			t.Errorf("ExtractOrganization(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestExtractItems(t *testing.T) {
	text := `OBJETO: aquisição de insumos laboratoriais.
ITEM 1 - Tubo de coleta a vácuo EDTA 4ml - 500 UN
ITEM 2 - Reagente para hemograma automatizado - 20 KIT
Assinado em 10/08/2026.`

	items := ExtractItems(text)
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d: %+v", len(items), items)
	}
	if items[0].SequenceNumber != 1 || items[0].Quantity != 500 || items[0].Unit != "UN" {
		t.Errorf("item 1 parsed wrong: %+v", items[0])
	}
	if items[1].SequenceNumber != 2 || items[1].Quantity != 20 || items[1].Unit != "KIT" {
		t.Errorf("item 2 parsed wrong: %+v", items[1])
	}

	if got := ExtractItems("nenhum item enumerado neste aviso"); got != nil {
		t.Errorf("expected nil for text without items, got %v", got)
	}
}

func TestHTMLToText(t *testing.T) {
	got := HTMLToText(`<p>Aviso de <b>Licitação</b></p><script>alert(1)</script>`)
	if got != "Aviso de Licitação" {
		t.Errorf("HTMLToText = %q", got)
	}
}
