package delivery

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
)

// SMTPTransport implements Transport over STARTTLS SMTP with plain
// auth. Auth rejections and malformed destinations are permanent;
// everything else is left transient for the pipeline to retry.
type SMTPTransport struct {
	Host       string
	Port       int
	Sender     string
	SenderName string
	Password   string
}

func NewSMTPTransport(host string, port int, sender, senderName, password string) *SMTPTransport {
	return &SMTPTransport{Host: host, Port: port, Sender: sender, SenderName: senderName, Password: password}
}

func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	if _, err := mail.ParseAddress(msg.To); err != nil {
		return Permanent(fmt.Errorf("malformed destination %q: %w", msg.To, err))
	}
	if t.Sender == "" || t.Password == "" {
		return Permanent(fmt.Errorf("sender credentials are not configured"))
	}

	// ctx only gates the dial; net/smtp has no context support beyond
	// the connection it is handed.
	addr := net.JoinHostPort(t.Host, fmt.Sprint(t.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	c, err := smtp.NewClient(conn, t.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: t.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	auth := smtp.PlainAuth("", t.Sender, t.Password, t.Host)
	if err := c.Auth(auth); err != nil {
		return Permanent(fmt.Errorf("smtp auth: %w", err))
	}

	if err := c.Mail(t.Sender); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write([]byte(t.format(msg))); err != nil {
		w.Close()
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close body: %w", err)
	}
	return c.Quit()
}

func (t *SMTPTransport) format(msg Message) string {
	from := t.Sender
	if t.SenderName != "" {
		from = fmt.Sprintf("%s <%s>", t.SenderName, t.Sender)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", from)
	fmt.Fprintf(&sb, "To: %s\r\n", msg.To)
	fmt.Fprintf(&sb, "Subject: %s\r\n", msg.Subject)
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(msg.Body)
	return sb.String()
}
