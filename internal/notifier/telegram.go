package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/maltedev/shop-monitor/internal/config"
	"github.com/maltedev/shop-monitor/internal/models"
)

// TelegramNotifier sends product-change messages to the subscribed chats
// over the bot HTTP API.
type TelegramNotifier struct {
	cfg    config.TelegramConfig
	client *http.Client
	logger *slog.Logger
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
	ErrorCode   int    `json:"error_code,omitempty"`
}

func NewTelegram(cfg config.TelegramConfig, logger *slog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "telegram"),
	}
}

// NotifyProductChanged reports a changed product, including whether the
// site still shows it available and whether it landed in the cart.
func (t *TelegramNotifier) NotifyProductChanged(ctx context.Context, p *models.Product) {
	if !t.cfg.Enabled {
		return
	}

	text := messageText(p)
	for _, chatID := range t.cfg.ChatIDs {
		if err := t.send(ctx, chatID, text); err != nil {
			t.logger.Warn("telegram notification failed", "chat_id", chatID, "error", err)
		}
	}
}

func messageText(p *models.Product) string {
	status := "unavailable"
	if p.IsAvailable {
		status = fmt.Sprintf("available at %.2f %s", p.Price, p.Currency)
	}
	cart := ""
	if p.IsInCart {
		cart = " (in cart)"
	}
	return fmt.Sprintf("%s is %s%s\n%s / %s\n%s", p.Name, status, cart, p.Store, p.Department, p.URL)
}

func (t *TelegramNotifier) send(ctx context.Context, chatID, text string) error {
	body, err := json.Marshal(telegramMessage{ChatID: chatID, Text: text})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var tr telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return err
	}
	if !tr.OK {
		return fmt.Errorf("telegram api error %d: %s", tr.ErrorCode, tr.Description)
	}
	return nil
}
