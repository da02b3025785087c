package channel

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AddressBook resolves a professional's email address.
type AddressBook interface {
	EmailFor(ctx context.Context, professionalID uuid.UUID) (string, error)
}

// AddressBookFunc adapts a function to AddressBook.
type AddressBookFunc func(ctx context.Context, professionalID uuid.UUID) (string, error)

func (f AddressBookFunc) EmailFor(ctx context.Context, professionalID uuid.UUID) (string, error) {
	return f(ctx, professionalID)
}

type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// EmailChannel sends alerts over SMTP, upgrading with STARTTLS when the
// server offers it.
type EmailChannel struct {
	cfg   EmailConfig
	book  AddressBook
	clock func() time.Time
}

func NewEmailChannel(cfg EmailConfig, book AddressBook) *EmailChannel {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &EmailChannel{cfg: cfg, book: book, clock: time.Now}
}

func (c *EmailChannel) Name() string { return Email }

func (c *EmailChannel) Send(ctx context.Context, msg Message) error {
	to, err := c.book.EmailFor(ctx, msg.RecipientID)
	if err != nil {
		return fmt.Errorf("lookup address: %w", err)
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return fmt.Errorf("professional %s has no email address", msg.RecipientID)
	}
	return c.deliver(ctx, to, c.compose(to, msg))
}

func (c *EmailChannel) compose(to string, msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", c.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subjectLine(msg))
	fmt.Fprintf(&b, "Date: %s\r\n", c.clock().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")

	lines := []string{
		msg.Body,
		"",
		fmt.Sprintf("Alert: %s", msg.AlertID),
		fmt.Sprintf("Patient: %s", msg.PatientID),
		fmt.Sprintf("Triggered At: %s", msg.TriggeredAt.UTC().Format(time.RFC3339)),
	}
	if msg.Recommendation != "" {
		lines = append(lines, fmt.Sprintf("Recommendation: %s", msg.Recommendation))
	}
	b.WriteString(strings.Join(lines, "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

func (c *EmailChannel) deliver(ctx context.Context, to string, message []byte) error {
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Mail(c.cfg.From); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(message); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func (c *EmailChannel) connect(ctx context.Context) (*smtp.Client, error) {
	address := net.JoinHostPort(c.cfg.Host, fmt.Sprint(c.cfg.Port))
	dialer := &net.Dialer{Timeout: c.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	_ = conn.SetDeadline(time.Now().Add(c.cfg.Timeout))

	client, err := smtp.NewClient(conn, c.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: c.cfg.Host}); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	if c.cfg.Username != "" {
		if err := client.Auth(smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	return client, nil
}
