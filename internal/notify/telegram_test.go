package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/marcelo/licita-radar/internal/models"
)

func TestFormatAlert(t *testing.T) {
	deadline := time.Date(2026, 9, 10, 9, 0, 0, 0, time.UTC)
	alert := models.Alert{
		Organization:     "Prefeitura Municipal de Caicó",
		RegionCode:       "RN",
		Modality:         models.ModalityOpenTender,
		MatchedProducts:  []string{"Analisador Hematológico", "Reagente de Bioquímica"},
		ProposalDeadline: &deadline,
		Link:             "https://pncp.gov.br/app/editais/1",
	}

	msg := FormatAlert(alert)
	for _, want := range []string{
		"Licitação aberta",
		"Prefeitura Municipal de Caicó (RN)",
		"Analisador Hematológico, Reagente de Bioquímica",
		"10/09/2026 09:00",
		"https://pncp.gov.br/app/editais/1",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestFormatAlertMinimal(t *testing.T) {
	msg := FormatAlert(models.Alert{
		Organization: "Câmara Municipal de Acari",
		RegionCode:   "RN",
		Modality:     models.Modality("unknown-kind"),
	})
	if !strings.Contains(msg, "Aviso de contratação") {
		t.Errorf("unknown modality should fall back to the generic label:\n%s", msg)
	}
	if strings.Contains(msg, "Prazo") || strings.Contains(msg, "🔗") {
		t.Errorf("optional lines must be omitted when empty:\n%s", msg)
	}
}
