// Package notify sends best-effort Telegram alerts on lifecycle events:
// fatal startup failures and a loss cooldown engaging. Unsafe position
// closes and the end of a loss cooldown send no alert. The engine never
// blocks on a notification; everything here is fire-and-forget.
package notify

import (
	"log"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram is a best-effort outbound alert sink. A nil *Telegram is safe
// to call Notify on; it is a no-op, meaning "notifications disabled".
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// New constructs a Telegram notifier. If token is empty or the bot fails
// to authenticate, it returns nil with a logged warning rather than an
// error — notifications are an ambient concern THE CORE does not depend
// on to function.
func New(token string, chatID int64) *Telegram {
	if token == "" {
		log.Println("notify: TELEGRAM_BOT_TOKEN not set, Telegram alerts disabled")
		return nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		log.Printf("notify: failed to init Telegram bot: %v", err)
		return nil
	}
	log.Printf("notify: authorized on Telegram account %s", bot.Self.UserName)
	return &Telegram{bot: bot, chatID: chatID}
}

// StartChatIDListener polls updates until it observes an inbound message,
// capturing the chat id for future Notify calls when TELEGRAM_CHAT_ID
// wasn't preconfigured.
func (t *Telegram) StartChatIDListener() {
	if t == nil || t.bot == nil || t.chatID != 0 {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.bot.GetUpdatesChan(u)
	for update := range updates {
		if update.Message == nil {
			continue
		}
		t.chatID = update.Message.Chat.ID
		log.Printf("notify: Telegram chat id captured: %d", t.chatID)
		t.Notify("connected: now monitoring the trading engine")
		return
	}
}

// Notify sends msg asynchronously, never blocking the caller on a
// Telegram round trip.
func (t *Telegram) Notify(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	go func() {
		cfg := tgbotapi.NewMessage(t.chatID, msg)
		if _, err := t.bot.Send(cfg); err != nil {
			log.Printf("notify: Telegram send failed: %v", err)
		}
	}()
}

// ChatID returns the configured or auto-discovered chat id, formatted for
// logging.
func (t *Telegram) ChatID() string {
	if t == nil {
		return ""
	}
	return strconv.FormatInt(t.chatID, 10)
}
