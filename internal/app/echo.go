package app

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	kit "logram/internal/transport"
	telegram "logram/internal/transport/telegram/adapter"
	logx "logram/pkg/logx"
)

// RunEchoID polls the bot and answers every message with the id of the chat
// it arrived in, printing the same id to out. It returns when ctx is done.
func RunEchoID(ctx context.Context, token, proxy string, out io.Writer, log logx.Logger) error {
	if log.IsZero() {
		log = logx.Nop()
	}
	ad, err := telegram.New(telegram.Config{Token: token, Proxy: proxy}, log.With(logx.Comp("telegram")))
	if err != nil {
		return err
	}

	updates := make(chan kit.Message, 16)
	if err := ad.Start(ctx, updates); err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = ad.Stop(sctx)
	}()

	fmt.Fprintln(out, "Waiting for messages. Send anything to the bot or post in a channel it administers.")
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-updates:
			fmt.Fprintln(out, EchoLine(m))
			reply := "Chat ID: `" + strconv.FormatInt(m.ChatID, 10) + "`"
			if _, err := ad.SendText(ctx, kit.ChatTarget{ChatID: m.ChatID}, reply, &kit.SendOptions{ParseMode: kit.ParseModeMarkdown}); err != nil {
				log.Warn("echo reply failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
			}
		}
	}
}

// EchoLine describes the chat a message came from.
func EchoLine(m kit.Message) string {
	switch m.Kind {
	case kit.ChatPrivate:
		return fmt.Sprintf("The ID of chat with @%s: %d", m.Title, m.ChatID)
	case kit.ChatGroup:
		return fmt.Sprintf("The chat ID of group %q: %d", m.Title, m.ChatID)
	case kit.ChatChannel:
		return fmt.Sprintf("The chat ID of channel %q: %d", m.Title, m.ChatID)
	default:
		return fmt.Sprintf("I'm not entirely sure, but try this: %d", m.ChatID)
	}
}
