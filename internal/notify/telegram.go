package notify

import (
	"fmt"
	"log"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/marcelo/licita-radar/internal/models"
)

// Sender delivers one alert message to a list of chat IDs. Delivery is
// best-effort per contact; it reports true when at least one contact got
// the message, which is what gates the dedupe-cache write.
type Sender interface {
	Send(contacts []int64, message string) bool
}

// TelegramSender sends alerts through the Telegram bot API.
type TelegramSender struct {
	api *tgbotapi.BotAPI
}

func NewTelegramSender(token string) (*TelegramSender, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	log.Printf("[Notify] telegram bot authorized as @%s", api.Self.UserName)
	return &TelegramSender{api: api}, nil
}

func (s *TelegramSender) Send(contacts []int64, message string) bool {
	delivered := false
	for _, chatID := range contacts {
		msg := tgbotapi.NewMessage(chatID, message)
		msg.DisableWebPagePreview = true
		if _, err := s.api.Send(msg); err != nil {
			log.Printf("[Notify] telegram send to %d failed: %v", chatID, err)
			continue
		}
		delivered = true
	}
	return delivered
}

var modalityLabels = map[models.Modality]string{
	models.ModalityOpenTender:     "Licitação aberta",
	models.ModalityDirectAward:    "Dispensa de licitação",
	models.ModalityEmergencyAward: "Dispensa emergencial",
	models.ModalityOther:          "Aviso de contratação",
}

// FormatAlert renders one alert as the Telegram message body.
func FormatAlert(alert models.Alert) string {
	label, ok := modalityLabels[alert.Modality]
	if !ok {
		label = modalityLabels[models.ModalityOther]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🔔 %s\n\n", label)
	fmt.Fprintf(&b, "🏛 %s (%s)\n", alert.Organization, alert.RegionCode)
	if len(alert.MatchedProducts) > 0 {
		fmt.Fprintf(&b, "🎯 Produtos compatíveis: %s\n", strings.Join(alert.MatchedProducts, ", "))
	}
	if alert.ProposalDeadline != nil {
		fmt.Fprintf(&b, "⏰ Prazo para propostas: %s\n", alert.ProposalDeadline.Format("02/01/2006 15:04"))
	}
	if alert.Link != "" {
		fmt.Fprintf(&b, "\n🔗 %s", alert.Link)
	}
	return b.String()
}
