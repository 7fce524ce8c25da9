// pulse-tail follows one conversation from the terminal: it loads recent
// history, then prints every pushed event as a JSON line. With --thread
// it also polls a thread and prints the replies whenever they change.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/vedran77/pulse/internal/client"
	"github.com/vedran77/pulse/internal/config"
	"github.com/vedran77/pulse/internal/domain"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var serverURL, token, channel, conversation, thread, send string
	var limit int

	flagSet := pflag.NewFlagSet("pulse-tail", pflag.ContinueOnError)
	flagSet.StringVar(&serverURL, "server", "http://localhost:8080", "base URL of the pulse server")
	flagSet.StringVar(&token, "token", os.Getenv("PULSE_TOKEN"), "identity token (default $PULSE_TOKEN)")
	flagSet.StringVar(&channel, "channel", "", "channel id to follow")
	flagSet.StringVar(&conversation, "conversation", "", "direct or group conversation id to follow")
	flagSet.StringVar(&thread, "thread", "", "thread root id to poll")
	flagSet.StringVar(&send, "send", "", "send this message before following")
	flagSet.IntVar(&limit, "limit", 20, "history messages to print on start")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	ref, err := topicFlag(channel, conversation)
	if err != nil {
		return err
	}
	if token == "" {
		return fmt.Errorf("--token or PULSE_TOKEN is required")
	}
	userID, err := tokenSubject(token)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wsURL := "ws" + strings.TrimPrefix(strings.TrimRight(serverURL, "/"), "http") + "/ws"
	stream, err := client.Dial(ctx, wsURL, token, logger)
	if err != nil {
		return fmt.Errorf("connecting event stream: %w", err)
	}
	defer stream.Close()

	out := json.NewEncoder(os.Stdout)
	session := client.NewSession(client.NewHTTPClient(serverURL, token, nil), stream, userID, client.SessionOptions{
		PollInterval: cfg.ThreadPollInterval,
		PageSize:     limit,
		Logger:       logger,
	})
	defer session.Close(context.Background())

	r, err := session.Open(ctx, ref)
	if err != nil {
		return fmt.Errorf("opening %s: %w", ref, err)
	}
	for _, m := range r.View().Messages() {
		out.Encode(m)
	}

	if send != "" {
		if _, err := r.Send(ctx, client.Draft{Content: send}); err != nil {
			return fmt.Errorf("sending: %w", err)
		}
	}

	if thread != "" {
		rootID, err := uuid.Parse(thread)
		if err != nil {
			return fmt.Errorf("invalid --thread: %w", err)
		}
		session.OpenThread(ctx, rootID, func(replies []domain.Message) {
			out.Encode(map[string]any{"thread": rootID, "replies": replies})
		})
	}

	events := stream.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-session.Mentions():
			out.Encode(map[string]any{"mention": m})
		case evt, ok := <-events:
			if !ok {
				return stream.Err()
			}
			session.Dispatch(&evt)
			out.Encode(evt)
		}
	}
}

func topicFlag(channel, conversation string) (domain.ConversationRef, error) {
	switch {
	case channel != "" && conversation != "":
		return domain.ConversationRef{}, fmt.Errorf("use either --channel or --conversation")
	case channel != "":
		id, err := uuid.Parse(channel)
		return domain.ChannelRef(id), err
	case conversation != "":
		id, err := uuid.Parse(conversation)
		return domain.DirectRef(id), err
	default:
		return domain.ConversationRef{}, fmt.Errorf("--channel or --conversation is required")
	}
}

// tokenSubject reads the user id out of the token. The server verifies
// the token; the client only needs to know who it is.
func tokenSubject(token string) (uuid.UUID, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return uuid.Nil, fmt.Errorf("reading token: %w", err)
	}
	return uuid.Parse(claims.Subject)
}
