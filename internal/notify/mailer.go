// Package notify delivers customer-facing notifications for committed
// purchases.  It is a pure downstream consumer: it reads records
// handed to it and never mutates booking state.
package notify

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"
	"gopkg.in/gomail.v2"

	"github.com/butaca/booking/internal/model"
)

// Mailer sends purchase confirmations over SMTP.  A nil Mailer is
// valid and drops messages, so deployments without SMTP credentials
// keep working.
type Mailer struct {
	dialer *gomail.Dialer
	from   string
	log    zerolog.Logger
}

// NewMailerFromEnv builds a Mailer from SMTP_HOST, SMTP_PORT,
// SMTP_USERNAME, SMTP_PASSWORD and SMTP_FROM.  Returns nil when
// SMTP_HOST is unset.
func NewMailerFromEnv(log zerolog.Logger) *Mailer {
	host := os.Getenv("SMTP_HOST")
	if host == "" {
		return nil
	}
	port := 587
	if p, err := strconv.Atoi(os.Getenv("SMTP_PORT")); err == nil && p > 0 {
		port = p
	}
	user := os.Getenv("SMTP_USERNAME")
	from := os.Getenv("SMTP_FROM")
	if from == "" {
		from = user
	}
	return &Mailer{
		dialer: gomail.NewDialer(host, port, user, os.Getenv("SMTP_PASSWORD")),
		from:   from,
		log:    log,
	}
}

// SendOrderConfirmation emails the redemption QR for a committed
// candy order.  The QR encodes the redemption code; the counter scans
// it and calls the redeem endpoint.
func (m *Mailer) SendOrderConfirmation(email string, o *model.Order) error {
	if m == nil {
		return nil
	}
	png, err := qrcode.Encode(o.RedeemCode, qrcode.Medium, 256)
	if err != nil {
		return fmt.Errorf("notify: encode qr: %w", err)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", email)
	msg.SetHeader("Subject", fmt.Sprintf("Tu pedido del candy shop (%s)", o.RedeemCode))
	msg.SetBody("text/html", orderBody(o))
	msg.Embed("qr.png", gomail.SetCopyFunc(func(w io.Writer) error {
		_, err := w.Write(png)
		return err
	}))

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("notify: send order mail: %w", err)
	}
	m.log.Info().Str("order_id", o.ID).Str("to", email).Msg("order confirmation sent")
	return nil
}

// SendTicketConfirmation emails a seat reservation summary.
func (m *Mailer) SendTicketConfirmation(email string, t *model.Ticket) error {
	if m == nil {
		return nil
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", email)
	msg.SetHeader("Subject", "Tus entradas están confirmadas")
	msg.SetBody("text/html", ticketBody(t))

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("notify: send ticket mail: %w", err)
	}
	m.log.Info().Str("ticket_id", t.ID).Str("to", email).Msg("ticket confirmation sent")
	return nil
}

func orderBody(o *model.Order) string {
	items := ""
	for _, it := range o.Items {
		items += fmt.Sprintf("<li>%d x %s (%s) — $%.2f</li>", it.Quantity, it.Name, it.Size, float64(it.SubtotalCents)/100)
	}
	return fmt.Sprintf(`<h2>¡Gracias por tu compra!</h2>
<ul>%s</ul>
<p>Total: $%.2f</p>
<p>Presentá este código en el mostrador: <b>%s</b></p>
<img src="cid:qr.png" alt="QR"/>`,
		items, float64(o.TotalCents)/100, o.RedeemCode)
}

func ticketBody(t *model.Ticket) string {
	return fmt.Sprintf(`<h2>¡Tus entradas están confirmadas!</h2>
<p>Asientos: <b>%v</b></p>
<p>Total: $%.2f</p>
<p>Referencia: %s</p>`,
		t.Seats, float64(t.TotalCents)/100, t.ID)
}
