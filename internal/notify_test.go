package internal

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type capturedMail struct {
	from string
	to   []string
	raw  string
}

func captureNotifier(out *[]capturedMail, fail error) *SMTPNotifier {
	return &SMTPNotifier{
		from: "promo@example.com",
		sender: gomail.SendFunc(func(from string, to []string, msg io.WriterTo) error {
			if fail != nil {
				return fail
			}
			var buf bytes.Buffer
			if _, err := msg.WriteTo(&buf); err != nil {
				return err
			}
			*out = append(*out, capturedMail{from: from, to: to, raw: buf.String()})
			return nil
		}),
	}
}

func TestSMTPNotifierApproved(t *testing.T) {
	var sent []capturedMail
	n := captureNotifier(&sent, nil)

	err := n.ApplicationStatusChanged(context.Background(), Application{
		ID: "a1", Name: "Grace", Email: "grace@example.com",
		Amount: 10013, PaymentMethod: "mpesa", Status: AppApproved,
	})
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, "promo@example.com", sent[0].from)
	assert.Equal(t, []string{"grace@example.com"}, sent[0].to)
	assert.Contains(t, sent[0].raw, "Subject: Your application was approved")
	assert.Contains(t, sent[0].raw, "10,013")
}

func TestSMTPNotifierPaid(t *testing.T) {
	var sent []capturedMail
	n := captureNotifier(&sent, nil)

	err := n.ApplicationStatusChanged(context.Background(), Application{
		ID: "a1", Name: "Grace", Email: "grace@example.com",
		Amount: 10013, PaymentMethod: "mpesa", Status: AppPaid,
	})
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].raw, "Subject: Your award has been paid")
}

func TestSMTPNotifierErrors(t *testing.T) {
	var sent []capturedMail
	n := captureNotifier(&sent, errors.New("relay down"))

	err := n.ApplicationStatusChanged(context.Background(), Application{Email: "x@example.com", Status: AppPaid})
	assert.ErrorContains(t, err, "relay down")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.ApplicationStatusChanged(ctx, Application{}), context.Canceled)
	assert.Empty(t, sent)
}

func TestNewNotifierSelection(t *testing.T) {
	assert.IsType(t, LogNotifier{}, NewNotifier(&Config{}))
	assert.IsType(t, &SMTPNotifier{}, NewNotifier(&Config{SMTPHost: "smtp.example.com", SMTPPort: 465}))
	assert.NoError(t, LogNotifier{}.ApplicationStatusChanged(context.Background(), Application{ID: "a"}))
}
