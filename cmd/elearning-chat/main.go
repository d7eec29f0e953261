package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/logan496/elearning-chat/client"
	"github.com/logan496/elearning-chat/internal/config"
	"github.com/logan496/elearning-chat/internal/models"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).With().Timestamp().Logger()

	if err := os.MkdirAll(filepath.Dir(cfg.CachePath), 0o700); err != nil {
		logger.Fatal().Err(err).Msg("failed to create cache directory")
	}

	chat, err := client.New(client.Config{
		ServerURL:   cfg.ServerURL,
		Token:       cfg.Token,
		Self:        models.User{ID: cfg.SelfID, Username: cfg.SelfName},
		CachePath:   cfg.CachePath,
		SendTimeout: cfg.SendTimeout,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create chat client")
	}

	chat.SetMessageHandler(func(key models.ConversationKey, msg models.Message, live bool) {
		if live {
			printMessage(msg)
		}
	})
	chat.SetHistoryHandler(func(key models.ConversationKey, msgs []models.Message) {
		for _, msg := range msgs {
			printMessage(msg)
		}
	})
	chat.SetSendFailedHandler(func(key models.ConversationKey, tempID string) {
		fmt.Printf("!! a message to %s was not confirmed, send it again\n", key)
	})
	chat.SetStateHandler(func(state client.ConnState) {
		fmt.Printf("-- connection %s\n", state)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := chat.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start chat client")
	}
	defer chat.Close()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
		chat.Close()
		os.Exit(0)
	}()

	if err := chat.Open(ctx, models.GeneralKey); err != nil {
		logger.Fatal().Err(err).Msg("failed to open the general room")
	}

	fmt.Println("commands: /list, /open <key>, /dm <user-id> <text>, /quit; anything else goes to the open conversation")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			sendToActive(chat, line)
			continue
		}
		if done := runCommand(ctx, chat, line); done {
			return
		}
	}
}

func runCommand(ctx context.Context, chat *client.Chat, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		return true

	case "/list":
		for _, conv := range chat.Conversations() {
			marker := " "
			if active, ok := chat.Active(); ok && active == conv.Key {
				marker = "*"
			}
			fmt.Printf("%s %-12s %-20s unread=%d  %s\n",
				marker, conv.Key, conv.DisplayName, conv.UnreadCount, conv.PreviewText)
		}

	case "/open":
		if len(fields) < 2 {
			fmt.Println("usage: /open <key>")
			return false
		}
		if err := chat.Open(ctx, models.ConversationKey(fields[1])); err != nil {
			fmt.Printf("cannot open %s: %v\n", fields[1], err)
		}

	case "/dm":
		if len(fields) < 3 {
			fmt.Println("usage: /dm <user-id> <text>")
			return false
		}
		userID, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			fmt.Println("user id must be numeric")
			return false
		}
		recipient := models.User{ID: userID, Username: "user-" + fields[1]}
		content := strings.TrimSpace(strings.Join(fields[2:], " "))
		if content == "" {
			return false
		}
		if err := chat.StartDirect(ctx, recipient); err != nil {
			fmt.Printf("cannot start chat with %d: %v\n", userID, err)
			return false
		}
		chat.SendDirect(recipient, content)

	default:
		fmt.Println("unknown command")
	}
	return false
}

func sendToActive(chat *client.Chat, content string) {
	active, ok := chat.Active()
	if !ok {
		fmt.Println("no conversation open, use /open or /dm")
		return
	}
	if active.IsGeneral() {
		chat.SendGeneral(content)
		return
	}
	userID, ok := active.UserID()
	if !ok {
		return
	}
	recipient := models.User{ID: userID}
	for _, conv := range chat.Conversations() {
		if conv.Key == active {
			recipient.Username = conv.DisplayName
			break
		}
	}
	chat.SendDirect(recipient, content)
}

func printMessage(msg models.Message) {
	state := ""
	switch msg.State {
	case models.StatePending:
		state = " (sending)"
	case models.StateFailed:
		state = " (failed)"
	}
	fmt.Printf("[%s] %s: %s%s\n",
		msg.SentAt.Local().Format("15:04"), msg.Sender.Username, msg.Content, state)
}
