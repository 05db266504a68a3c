// Package bot is the Telegram front end for the admin chat: product setup, daily flows, sales, batch
// listings, the daily report and sales-history uploads.
package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/zenithfresh/thawplan/internal/allocation"
	"github.com/zenithfresh/thawplan/internal/domain/batches"
	"github.com/zenithfresh/thawplan/internal/domain/products"
	"github.com/zenithfresh/thawplan/internal/domain/sales"
	"github.com/zenithfresh/thawplan/internal/flow"
	"github.com/zenithfresh/thawplan/internal/replenishment"
)

var errUpdatesClosed = errors.New("telegram updates channel closed")

type Service interface {
	ConfigureProduct(ctx context.Context, sku string, shelfLifeDays int, maxCapacity float64) (*products.Product, error)
	ListProducts(ctx context.Context) ([]products.Product, error)
	RunDailyFlow(ctx context.Context, sku string, date time.Time) (*flow.Report, error)
	RunAll(ctx context.Context, date time.Time) ([]replenishment.Outcome, error)
	RecordSale(ctx context.Context, sku string, date time.Time, requested float64) (allocation.Result, error)
	GetBatches(ctx context.Context, sku string) (batches.Summary, error)
	ImportSales(ctx context.Context, rows []sales.Record) (replenishment.ImportResult, error)
	DailyReport(ctx context.Context, date time.Time) (*replenishment.DailyReport, error)
}

type Bot struct {
	api       *tgbotapi.BotAPI
	log       *slog.Logger
	svc       Service
	adminChat int64
	loc       *time.Location
	now       func() time.Time
}

func New(api *tgbotapi.BotAPI, log *slog.Logger, svc Service, adminChatID int64, loc *time.Location) *Bot {
	if log == nil {
		log = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Bot{api: api, log: log, svc: svc, adminChat: adminChatID, loc: loc, now: time.Now}
}

func (b *Bot) Run(ctx context.Context, timeoutSec int) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeoutSec
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()
	return b.consume(ctx, updates)
}

func (b *Bot) consume(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd, ok := <-updates:
			if !ok {
				return errUpdatesClosed
			}
			if upd.Message != nil {
				b.onMessage(ctx, upd.Message)
			}
		}
	}
}

func (b *Bot) onMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if !b.isAdmin(msg) {
		b.send(tgbotapi.NewMessage(chatID, "This bot is restricted to the operations chat."))
		return
	}

	switch {
	case msg.Document != nil:
		b.onDocument(ctx, chatID, msg.Document)
	case msg.IsCommand():
		r := b.execute(ctx, msg.Command(), msg.CommandArguments())
		if r.doc != nil {
			b.send(tgbotapi.NewDocument(chatID, *r.doc))
			return
		}
		m := tgbotapi.NewMessage(chatID, r.text)
		if msg.Command() == "start" {
			m.ReplyMarkup = adminReplyKeyboard()
		}
		b.send(m)
	default:
		b.send(tgbotapi.NewMessage(chatID, helpText))
	}
}

func (b *Bot) isAdmin(msg *tgbotapi.Message) bool {
	if b.adminChat == 0 {
		return false
	}
	return msg.Chat.ID == b.adminChat || (msg.From != nil && msg.From.ID == b.adminChat)
}

func (b *Bot) onDocument(ctx context.Context, chatID int64, doc *tgbotapi.Document) {
	data, err := b.downloadTelegramFile(doc.FileID)
	if err != nil {
		b.log.Error("download upload failed", "file", doc.FileName, "err", err)
		b.send(tgbotapi.NewMessage(chatID, "Could not download the file."))
		return
	}
	b.send(tgbotapi.NewMessage(chatID, b.importFile(ctx, doc.FileName, data)))
}

func (b *Bot) send(msg tgbotapi.Chattable) {
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send failed", "err", err)
	}
}

// downloadTelegramFile fetches an uploaded file through the Bot API file URL.
func (b *Bot) downloadTelegramFile(fileID string) ([]byte, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("get file url: %w", err)
	}

	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram returned status %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}

func adminReplyKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.ReplyKeyboardMarkup{
		ResizeKeyboard: true,
		Keyboard: [][]tgbotapi.KeyboardButton{
			{tgbotapi.NewKeyboardButton("/flow all"), tgbotapi.NewKeyboardButton("/report")},
			{tgbotapi.NewKeyboardButton("/products"), tgbotapi.NewKeyboardButton("/help")},
		},
	}
}
