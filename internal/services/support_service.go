package services

import (
	"fmt"
	"net/smtp"
	"strings"
)

// SupportService emails support requests to the team inbox over SMTP.
type SupportService struct {
	host     string
	port     string
	username string
	password string
	from     string
	to       string
}

var _ Mailer = (*SupportService)(nil)

func NewSupportService(host, port, username, password, from, to string) *SupportService {
	return &SupportService{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		to:       to,
	}
}

func (s *SupportService) SendSupportRequest(name, email, subject, message string) error {
	body := BuildSupportEmail(s.from, s.to, name, email, subject, message)
	auth := smtp.PlainAuth("", s.username, s.password, s.host)
	addr := s.host + ":" + s.port
	if err := smtp.SendMail(addr, auth, s.from, []string{s.to}, []byte(body)); err != nil {
		return fmt.Errorf("failed to send support email: %w", err)
	}
	return nil
}

// BuildSupportEmail renders the raw RFC 5322 message for a support request.
// The requester's address goes into Reply-To so the team can answer directly.
func BuildSupportEmail(from, to, name, email, subject, message string) string {
	var sb strings.Builder
	sb.WriteString("From: StudyPal Support <" + from + ">\r\n")
	sb.WriteString("To: " + to + "\r\n")
	sb.WriteString("Reply-To: " + name + " <" + email + ">\r\n")
	sb.WriteString("Subject: [StudyPal] " + subject + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	sb.WriteString("\r\n")
	sb.WriteString("Support request from " + name + " (" + email + ")\r\n\r\n")
	sb.WriteString(message + "\r\n")
	return sb.String()
}
