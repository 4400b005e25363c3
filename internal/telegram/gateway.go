package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Gateway sends best-effort notifications to users. Callers log failures and
// move on; a broken notification must never change the business flow.
type Gateway struct {
	api *tgbotapi.BotAPI
}

func NewGateway(api *tgbotapi.BotAPI) *Gateway {
	return &Gateway{api: api}
}

func (g *Gateway) SendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := g.api.Send(msg); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

// SendPhotoURL delivers an image by URL; Telegram fetches it server-side so
// the bytes never pass through this process.
func (g *Gateway) SendPhotoURL(chatID int64, url, caption string) error {
	cfg := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(url))
	cfg.Caption = caption
	if _, err := g.api.Send(cfg); err != nil {
		return fmt.Errorf("send photo: %w", err)
	}
	return nil
}

// SendTyping shows the upload_photo chat action, the "working on it" hint
// users see while a generation is in flight.
func (g *Gateway) SendTyping(chatID int64) error {
	action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatUploadPhoto)
	if _, err := g.api.Request(action); err != nil {
		return fmt.Errorf("send chat action: %w", err)
	}
	return nil
}
