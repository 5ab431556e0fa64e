// Package telegram implements transport.Sender on top of telebot.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"guildwatch/internal/transport"
	logx "guildwatch/pkg/logx"
)

type Config struct {
	Token string
	// APIURL overrides the Bot API endpoint (self-hosted bot API server, tests).
	APIURL  string
	Timeout time.Duration
}

// Sender is a send-only Telegram client. It never polls for updates.
type Sender struct {
	bot *tele.Bot
	log logx.Logger
}

var _ transport.Sender = (*Sender)(nil)

func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Client:  &http.Client{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{bot: b, log: log}, nil
}

func (s *Sender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}

	chunks := transport.SplitText(text, transport.TextLimit)
	if len(chunks) > 1 {
		s.log.Debug("message split", logx.Int64("chat_id", to.ChatID), logx.Int("chunks", len(chunks)))
	}

	var first transport.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := s.bot.Send(chat, chunk, sendOptions(opt, to.ThreadID))
		if err != nil {
			return first, Classify(err)
		}
		if i == 0 {
			first = transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// EditText replaces the text of ref. Overflow beyond one message is sent as
// follow-up messages in the same thread.
func (s *Sender) EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	chunks := transport.SplitText(text, transport.TextLimit)

	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	if _, err := s.bot.Edit(m, chunks[0], sendOptions(opt, 0)); err != nil {
		if err = Classify(err); err != nil {
			return err
		}
	}

	chat := &tele.Chat{ID: ref.ChatID}
	for _, chunk := range chunks[1:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.bot.Send(chat, chunk, sendOptions(opt, ref.ThreadID)); err != nil {
			return Classify(err)
		}
	}
	return nil
}

// Alerts binds the sender to an operator chat; the result satisfies
// logx.AlertSender.
func (s *Sender) Alerts(to transport.ChatTarget) *AlertSink {
	return &AlertSink{s: s, to: to}
}

type AlertSink struct {
	s  *Sender
	to transport.ChatTarget
}

func (a *AlertSink) SendAlert(ctx context.Context, text string) error {
	_, err := a.s.SendText(ctx, a.to, text, &transport.SendOptions{DisablePreview: true})
	return err
}

func sendOptions(opt *transport.SendOptions, threadID int) *tele.SendOptions {
	return &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              threadID,
	}
}

var unknownErr = regexp.MustCompile(`^telegram: (.*) \((\d+)\)$`)

// Classify maps Bot API failures onto the transport sentinels. The returned
// error wraps both the sentinel and the original error. "message is not
// modified" is not a failure and yields nil.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	code, desc := 0, err.Error()

	// flood errors format as "telegram: ... (429)" and land in the second branch
	var te *tele.Error
	if errors.As(err, &te) {
		code, desc = te.Code, te.Description
	} else if m := unknownErr.FindStringSubmatch(desc); m != nil {
		desc = m[1]
		code, _ = strconv.Atoi(m[2])
	}

	d := strings.ToLower(desc)
	switch {
	case strings.Contains(d, "message is not modified"):
		return nil
	case code == http.StatusForbidden,
		strings.Contains(d, "not enough rights"),
		strings.Contains(d, "have no rights"),
		strings.Contains(d, "bot was kicked"),
		strings.Contains(d, "bot was blocked"):
		return errors.Join(transport.ErrForbidden, err)
	case strings.Contains(d, "chat not found"),
		strings.Contains(d, "message to edit not found"),
		strings.Contains(d, "message thread not found"),
		strings.Contains(d, "user not found"):
		return errors.Join(transport.ErrNotFound, err)
	case code == http.StatusTooManyRequests:
		return errors.Join(transport.ErrRateLimited, err)
	}
	return err
}
