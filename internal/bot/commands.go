package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/zenithfresh/thawplan/internal/allocation"
	"github.com/zenithfresh/thawplan/internal/domain/batches"
	"github.com/zenithfresh/thawplan/internal/domain/days"
	"github.com/zenithfresh/thawplan/internal/domain/products"
	"github.com/zenithfresh/thawplan/internal/flow"
	"github.com/zenithfresh/thawplan/internal/replenishment"
	"github.com/zenithfresh/thawplan/internal/sheets"
)

const helpText = `Commands:
/product SKU SHELF_LIFE_DAYS MAX_KG - create or update a product
/products - list products
/flow SKU [YYYY-MM-DD] - run the daily flow (use "all" for every product)
/sale SKU KG [YYYY-MM-DD] - record a sale
/batches SKU - list batches
/report [YYYY-MM-DD] - daily report as xlsx
Send an .xlsx or .csv file with columns date, sku, kg to import sales history.`

type reply struct {
	text string
	doc  *tgbotapi.FileBytes
}

func text(format string, args ...any) reply { return reply{text: fmt.Sprintf(format, args...)} }

func (b *Bot) execute(ctx context.Context, cmd, args string) reply {
	fields := strings.Fields(args)
	switch cmd {
	case "start", "help":
		return reply{text: helpText}
	case "product":
		return b.cmdProduct(ctx, fields)
	case "products":
		return b.cmdProducts(ctx)
	case "flow":
		return b.cmdFlow(ctx, fields)
	case "sale":
		return b.cmdSale(ctx, fields)
	case "batches":
		return b.cmdBatches(ctx, fields)
	case "report":
		return b.cmdReport(ctx, fields)
	default:
		return text("Unknown command /%s.\n\n%s", cmd, helpText)
	}
}

func (b *Bot) cmdProduct(ctx context.Context, f []string) reply {
	if len(f) != 3 {
		return text("Usage: /product SKU SHELF_LIFE_DAYS MAX_KG")
	}
	shelf, err := strconv.Atoi(f[1])
	if err != nil {
		return text("Shelf life must be a whole number of days.")
	}
	capacity, err := parseKg(f[2])
	if err != nil {
		return text("Max capacity must be a number of kg.")
	}
	p, err := b.svc.ConfigureProduct(ctx, f[0], shelf, capacity)
	if err != nil {
		return b.failure(err)
	}
	return text("✅ %s: shelf life %d days, up to %.2f kg per day.", p.SKU, p.ShelfLifeDays, p.MaxCapacity)
}

func (b *Bot) cmdProducts(ctx context.Context) reply {
	list, err := b.svc.ListProducts(ctx)
	if err != nil {
		return b.failure(err)
	}
	if len(list) == 0 {
		return text("No products yet. Use /product to add one.")
	}
	var sb strings.Builder
	for _, p := range list {
		fmt.Fprintf(&sb, "• %s: %d days, %.2f kg/day\n", p.SKU, p.ShelfLifeDays, p.MaxCapacity)
	}
	return reply{text: sb.String()}
}

func (b *Bot) cmdFlow(ctx context.Context, f []string) reply {
	if len(f) < 1 || len(f) > 2 {
		return text("Usage: /flow SKU|all [YYYY-MM-DD]")
	}
	date, err := b.date(f[1:])
	if err != nil {
		return b.failure(err)
	}

	if strings.EqualFold(f[0], "all") {
		outcomes, err := b.svc.RunAll(ctx, date)
		if err != nil {
			return b.failure(err)
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "Daily flow %s\n", days.Format(date))
		for _, o := range outcomes {
			if o.Err != nil {
				fmt.Fprintf(&sb, "❌ %s: %s\n", o.SKU, b.failure(o.Err).text)
				continue
			}
			fmt.Fprintf(&sb, "✅ %s: withdraw %.2f kg\n", o.SKU, o.Report.WithdrawalQty())
		}
		return reply{text: sb.String()}
	}

	rep, err := b.svc.RunDailyFlow(ctx, f[0], date)
	if err != nil {
		return b.failure(err)
	}
	return reply{text: formatReport(rep)}
}

func (b *Bot) cmdSale(ctx context.Context, f []string) reply {
	if len(f) < 2 || len(f) > 3 {
		return text("Usage: /sale SKU KG [YYYY-MM-DD]")
	}
	qty, err := parseKg(f[1])
	if err != nil {
		return text("Quantity must be a number of kg.")
	}
	date, err := b.date(f[2:])
	if err != nil {
		return b.failure(err)
	}
	res, err := b.svc.RecordSale(ctx, f[0], date, qty)
	if err != nil {
		return b.failure(err)
	}
	if res.Fulfilled <= batches.Epsilon {
		return text("No stock of %s available on %s.", f[0], days.Format(date))
	}
	if res.Shortfall > batches.Epsilon {
		return text("⚠️ Sold %.2f of %.2f kg, %.2f kg short.", res.Fulfilled, res.Requested, res.Shortfall)
	}
	return text("✅ Sold %.2f kg from %d batch(es).", res.Fulfilled, len(res.Draws))
}

func (b *Bot) cmdBatches(ctx context.Context, f []string) reply {
	if len(f) != 1 {
		return text("Usage: /batches SKU")
	}
	sum, err := b.svc.GetBatches(ctx, f[0])
	if err != nil {
		return b.failure(err)
	}
	if sum.Count == 0 {
		return text("No batches for %s.", sum.SKU)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %d batches, %.2f kg sellable, %.2f of %.2f kg left\n",
		sum.SKU, sum.Count, sum.TotalAvailable, sum.TotalCurrent, sum.TotalInitial)
	for _, bt := range sum.Batches {
		fmt.Fprintf(&sb, "#%d %s age %d: %.2f/%.2f kg, sellable %s\n",
			bt.ID, bt.Status, bt.Age, bt.QtyRemaining, bt.QtyWithdrawn, days.Format(bt.SellableOn))
	}
	return reply{text: sb.String()}
}

func (b *Bot) cmdReport(ctx context.Context, f []string) reply {
	date, err := b.date(f)
	if err != nil {
		return b.failure(err)
	}
	rep, err := b.svc.DailyReport(ctx, date)
	if err != nil {
		return b.failure(err)
	}
	buf, err := sheets.DailyReport(rep)
	if err != nil {
		return b.failure(err)
	}
	name := fmt.Sprintf("report_%s.xlsx", days.Format(date))
	return reply{doc: &tgbotapi.FileBytes{Name: name, Bytes: buf.Bytes()}}
}

func (b *Bot) importFile(ctx context.Context, name string, data []byte) string {
	rows, err := sheets.ReadSales(name, data)
	if err != nil {
		return fmt.Sprintf("Could not read %s: %v", name, err)
	}
	res, err := b.svc.ImportSales(ctx, rows)
	if err != nil {
		return b.failure(err).text
	}
	msg := fmt.Sprintf("Imported %d sales rows.", res.Imported)
	if n := len(res.Rejected); n > 0 {
		msg += fmt.Sprintf(" Skipped %d, first: row %d (%v).", n, res.Rejected[0].Row, res.Rejected[0].Err)
	}
	return msg
}

func formatReport(rep *flow.Report) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Daily flow %s %s\n", rep.SKU, days.Format(rep.Date))
	fmt.Fprintf(&sb, "Withdraw today: %.2f kg (%s)\n", rep.WithdrawalQty(), rep.Withdrawal.Bound)
	fmt.Fprintf(&sb, "Available now: %.2f kg\n", rep.Available)
	fmt.Fprintf(&sb, "Thawing for tomorrow: %.2f kg\n", rep.ThawingTomorrow)
	fmt.Fprintf(&sb, "Oldest batch: %d days\n", rep.MaxAge)
	if len(rep.Expired) > 0 {
		fmt.Fprintf(&sb, "Expired: %d batches, %.2f kg\n", len(rep.Expired), rep.ExpiredQty)
	}
	fmt.Fprintf(&sb, "Forecast: %.2f kg ±%.2f (%s)", rep.Forecast.Demand, rep.Forecast.Volatility, rep.Forecast.Method)
	return sb.String()
}

// failure turns an error into a message; unexpected errors are logged and hidden.
func (b *Bot) failure(err error) reply {
	var se *flow.StepError
	switch {
	case errors.Is(err, replenishment.ErrAlreadyRan):
		return text("The daily flow already ran for that day.")
	case errors.Is(err, replenishment.ErrUnknownProduct):
		return text("Unknown product. Add it with /product first.")
	case errors.Is(err, products.ErrInvalidSKU),
		errors.Is(err, products.ErrInvalidShelfLife),
		errors.Is(err, products.ErrInvalidCapacity),
		errors.Is(err, allocation.ErrInvalidQuantity),
		errors.Is(err, days.ErrInvalidDate):
		return text("Invalid input: %v", err)
	case errors.As(err, &se):
		b.log.Error("daily flow failed", "sku", se.SKU, "step", se.Step, "err", se.Err)
		return text("Daily flow failed at step %s.", se.Step)
	default:
		b.log.Error("bot command failed", "err", err)
		return text("Something went wrong, try again later.")
	}
}

func (b *Bot) date(f []string) (time.Time, error) {
	if len(f) == 0 {
		return days.Today(b.now(), b.loc), nil
	}
	return days.Parse(f[0])
}

func parseKg(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
}
