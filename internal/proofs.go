package internal

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gopkg.in/telebot.v3"
)

// ProofSender delivers a payment screenshot to the operators' chat.
type ProofSender interface {
	SendProof(ctx context.Context, photo io.Reader, caption string) (*telebot.Message, error)
}

type TelegramProofSender struct {
	bot  *telebot.Bot
	chat telebot.ChatID
}

// NewTelegramProofSender builds a send-only bot: no getMe round trip and no poller.
// apiURL may be empty to use the public Bot API.
func NewTelegramProofSender(token, apiURL string, chatID int64, timeout time.Duration) (*TelegramProofSender, error) {
	bot, err := telebot.NewBot(telebot.Settings{
		Token:   token,
		URL:     apiURL,
		Client:  &http.Client{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &TelegramProofSender{bot: bot, chat: telebot.ChatID(chatID)}, nil
}

func (s *TelegramProofSender) SendProof(ctx context.Context, photo io.Reader, caption string) (*telebot.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.bot.Send(s.chat, &telebot.Photo{File: telebot.FromReader(photo), Caption: caption})
}

// telegramError returns the Bot API description when there is one.
func telegramError(err error) string {
	var tgErr *telebot.Error
	if errors.As(err, &tgErr) && tgErr.Description != "" {
		return tgErr.Description
	}
	return err.Error()
}

func proofCaption(affiliateID string) string {
	if affiliateID == "" {
		return "New payment proof"
	}
	return "New payment proof from affiliate " + affiliateID
}

// POST /api/sendProof (multipart: file, optional affiliate_id)
func SendProof(sender ProofSender, affiliates *AffiliateStore, maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)

		fh, err := c.FormFile("file")
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				c.JSON(413, gin.H{"ok": false, "error": "File too large"})
				return
			}
			c.JSON(200, gin.H{"ok": false, "error": "No file provided"})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(200, gin.H{"ok": false, "error": "Server error"})
			return
		}
		defer f.Close()

		affiliateID := c.PostForm("affiliate_id")
		msg, err := sender.SendProof(c.Request.Context(), f, proofCaption(affiliateID))
		if err != nil {
			log.Printf("sendProof: %v", err)
			c.JSON(200, gin.H{"ok": false, "error": telegramError(err)})
			return
		}

		if affiliateID != "" && affiliates != nil {
			fileID := ""
			if msg.Photo != nil {
				fileID = msg.Photo.FileID
			}
			if _, err := affiliates.AttachProof(c.Request.Context(), affiliateID, fileID, msg.ID); err != nil {
				log.Printf("sendProof: attach to %s: %v", affiliateID, err)
				c.JSON(200, gin.H{"ok": false, "error": "proof delivered but not attached: " + err.Error(), "result": msg})
				return
			}
		}

		c.JSON(200, gin.H{"ok": true, "result": msg})
	}
}
