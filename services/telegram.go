package services

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"greentech/config"
	"greentech/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// MessageSender is the part of tgbotapi.BotAPI the notifier uses.
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier forwards stored alerts to a Telegram chat.
type TelegramNotifier struct {
	bot    MessageSender
	chatID int64
	logger *zap.Logger
}

func NewTelegramNotifier(cfg *config.Config, logger *zap.Logger) (*TelegramNotifier, error) {
	chatID, err := strconv.ParseInt(cfg.TelegramChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("error parsing chat ID: %w", err)
	}

	var bot *tgbotapi.BotAPI
	maxRetries := 3
	for attempt := 1; attempt <= maxRetries; attempt++ {
		bot, err = tgbotapi.NewBotAPI(cfg.TelegramBotToken)
		if err == nil {
			break
		}
		logger.Warn("Telegram connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))
		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Telegram after %d attempts: %w", maxRetries, err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))
	return NewTelegramNotifierWithSender(bot, chatID, logger), nil
}

func NewTelegramNotifierWithSender(bot MessageSender, chatID int64, logger *zap.Logger) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, chatID: chatID, logger: logger}
}

// NotifyAlert implements AlertSink.
func (t *TelegramNotifier) NotifyAlert(_ context.Context, alert models.AlertRecord) error {
	if err := t.send(formatAlertMessage(alert)); err != nil {
		return fmt.Errorf("error sending telegram alert: %w", err)
	}

	t.logger.Info("Sent alert to Telegram",
		zap.String("id", alert.ID),
		zap.String("severity", string(alert.Severity)))
	return nil
}

// SendStartupMessage announces that the pipeline is running.
func (t *TelegramNotifier) SendStartupMessage(brokerURL string) error {
	message := "🟢 <b>Greenhouse Monitoring Started</b>\n\n" +
		fmt.Sprintf("📡 Broker: <code>%s</code>\n", html.EscapeString(brokerURL)) +
		"🤖 Telegram notifications active\n" +
		"👀 Watching soil, temperature and humidity..."
	return t.send(message)
}

func (t *TelegramNotifier) send(text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	_, err := t.bot.Send(msg)
	return err
}

func formatAlertMessage(alert models.AlertRecord) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s <b>%s</b>\n\n", severityEmoji(alert.Severity), html.EscapeString(alert.Title)))
	if alert.Description != "" {
		sb.WriteString(html.EscapeString(alert.Description))
		sb.WriteString("\n\n")
	}
	sb.WriteString(fmt.Sprintf("%s <b>Category:</b> %s\n", categoryEmoji(alert.Category), alert.Category))
	sb.WriteString(fmt.Sprintf("⚠️ <b>Severity:</b> %s\n", strings.ToUpper(string(alert.Severity))))
	sb.WriteString(fmt.Sprintf("🕐 <b>Time:</b> %s", alert.CreatedAt.Format("2006-01-02 15:04:05")))

	return sb.String()
}

func severityEmoji(s models.Severity) string {
	switch s {
	case models.SeverityCritical:
		return "🚨"
	case models.SeverityHigh:
		return "🔴"
	case models.SeverityMedium:
		return "🟠"
	default:
		return "🟡"
	}
}

func categoryEmoji(c models.Category) string {
	switch c {
	case models.CategoryIrrigation:
		return "💧"
	case models.CategoryClimate:
		return "🌡️"
	case models.CategorySystem:
		return "📡"
	case models.CategorySensor:
		return "🌱"
	default:
		return "🔧"
	}
}
