package lib

import (
	"log"
	"os"
	"strconv"

	"github.com/wneessen/go-mail"
)

type SendMailInput struct {
	From     string
	FromName string
	To       string
	Subject  string
	Body     string
	Html     string
}

func GetSMTPClient() (*mail.Client, error) {
	host := os.Getenv("SMTP_HOST")
	portEnv := os.Getenv("SMTP_PORT")
	port, err := strconv.Atoi(portEnv)
	if err != nil {
		port = 587
	}
	user := os.Getenv("SMTP_USERNAME")
	pass := os.Getenv("SMTP_PASSWORD")
	c, err := mail.NewClient(host, mail.WithPort(port), mail.WithSMTPAuth(mail.SMTPAuthPlain), mail.WithUsername(user), mail.WithPassword(pass))
	if err != nil {
		log.Printf("Could not initialize smtp client: %s\n", err.Error())
		return nil, err
	}
	return c, nil
}

func SendMail(input *SendMailInput) error {
	c, err := GetSMTPClient()
	if err != nil {
		return err
	}
	m := mail.NewMsg()
	if err := m.FromFormat(input.FromName, input.From); err != nil {
		return err
	}
	if err := m.To(input.To); err != nil {
		return err
	}
	m.Subject(input.Subject)
	if input.Html != "" {
		m.SetBodyString(mail.TypeTextHTML, input.Html)
	} else {
		m.SetBodyString(mail.TypeTextPlain, input.Body)
	}
	if err := c.DialAndSend(m); err != nil {
		log.Printf("Error sending mail to %s: %s\n", input.To, err.Error())
		return err
	}
	return nil
}
