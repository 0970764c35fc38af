package notify

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/smtp"
	"strings"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier sends through an authenticated SMTP relay using STARTTLS
// when the server offers it.
type SMTPNotifier struct {
	host     string
	port     int
	user     string
	pass     string
	from     string
	sendMail sendMailFunc
}

func NewSMTP(host string, port int, user, pass, from string) *SMTPNotifier {
	if port == 0 {
		port = 587
	}
	if from == "" {
		from = user
	}
	return &SMTPNotifier{
		host:     host,
		port:     port,
		user:     user,
		pass:     pass,
		from:     from,
		sendMail: smtp.SendMail,
	}
}

func (n *SMTPNotifier) Name() string { return "smtp" }

// Send ignores ctx cancellation once the SMTP exchange has started;
// net/smtp has no context support.
func (n *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var body bytes.Buffer
	body.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&body, "From: %s\r\n", n.from)
	fmt.Fprintf(&body, "To: %s\r\n", msg.To)
	fmt.Fprintf(&body, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	body.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	body.WriteString("\r\n")
	body.WriteString(msg.HTML)

	addr := fmt.Sprintf("%s:%d", n.host, n.port)
	auth := smtp.PlainAuth("", n.user, n.pass, n.host)
	if err := n.sendMail(addr, auth, envelopeAddress(n.from), []string{msg.To}, body.Bytes()); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// envelopeAddress strips a display name: "AURLINK <a@b.c>" → "a@b.c".
func envelopeAddress(from string) string {
	start := strings.IndexByte(from, '<')
	end := strings.LastIndexByte(from, '>')
	if start >= 0 && end > start {
		return from[start+1 : end]
	}
	return from
}
