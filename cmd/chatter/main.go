package main

import (
	"bufio"
	"chatter/domain"
	"chatter/errors"
	"chatter/infrastructure/rest"
	"chatter/infrastructure/websocket"
	"chatter/internal"
	"chatter/runtime"
	"chatter/ui"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
)

const usage = `Commands:
  /rooms          list your rooms
  /join <ref>     open a room by number, id or name
  /new <name> [usernames...]  create a room with other participants
  /retry [id]     resend a failed message (the last one by default)
  /connect        reconnect after a failure
  /quit           leave
Any other line is sent to the active room.`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.ClientConfig
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Credentials
	client := rest.NewClient(log, config.ServerURL, config.Token, config.FetchTimeout)
	if config.Token == "" {
		if config.Username == "" || config.Password == "" {
			return fmt.Errorf("config error: CHATTER_TOKEN or CHATTER_USERNAME and CHATTER_PASSWORD must be set")
		}
		token, err := client.Login(ctx, config.Username, config.Password)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		config.Token = token
		client = client.WithToken(token)
	}
	wsURL, err := internal.WebsocketURL(config.ServerURL)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	// 3. Session
	alerter := ui.NewAlerter(os.Stderr)
	session := runtime.NewSession(log, runtime.Config{
		HistoryLimit:      config.HistoryLimit,
		MaxContentLength:  config.MaxContentLength,
		ConnectTimeout:    config.ConnectTimeout,
		FetchTimeout:      config.FetchTimeout,
		SendTimeout:       config.SendTimeout,
		ReconnectMinDelay: config.ReconnectMinDelay,
		ReconnectMaxDelay: config.ReconnectMaxDelay,
	},
		client, client,
		websocket.NewDialer(log, wsURL, config.Token, config.WriteTimeout),
		alerter,
	)
	defer session.Close()

	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("session failed to start: %w", err)
	}
	me, err := session.Participant(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Signed in as %s\n%s\n", me.DisplayName(), usage)
	if err := printRooms(ctx, session); err != nil {
		return err
	}

	renderer := ui.NewRenderer(os.Stdout, me.ID)
	unsubscribe, err := session.Subscribe(renderer.Render)
	if err != nil {
		return err
	}
	defer unsubscribe()

	// 4. Input loop
	lines := readLines(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handle(ctx, session, client, line)
			if err != nil {
				alerter.Show(domain.AlertError, err.Error())
			}
			if quit {
				return nil
			}
		}
	}
}

func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

func handle(ctx context.Context, session *runtime.Session, client *rest.Client, line string) (bool, error) {
	cmd, ok := ui.ParseCommand(line)
	if !ok {
		if _, err := session.Send(ctx, line); err != nil && !errors.Is(err, errors.ErrSendFailure) {
			return false, err
		}
		return false, nil
	}

	switch cmd.Name {
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Println(usage)
	case "rooms":
		if _, err := session.RefreshRooms(ctx); err != nil {
			return false, err
		}
		return false, printRooms(ctx, session)
	case "join":
		rooms, err := session.Rooms(ctx)
		if err != nil {
			return false, err
		}
		room, ok := ui.PickRoom(rooms, cmd.Arg)
		if !ok {
			return false, fmt.Errorf("no room matches %q", cmd.Arg)
		}
		return false, session.JoinRoom(ctx, room)
	case "new":
		fields := strings.Fields(cmd.Arg)
		if len(fields) == 0 {
			return false, fmt.Errorf("usage: /new <name> [usernames...]")
		}
		room, err := client.CreateRoom(ctx, fields[0], fields[1:]...)
		if err != nil {
			return false, err
		}
		fmt.Printf("Created %s\n", room.Name)
		if _, err := session.RefreshRooms(ctx); err != nil {
			return false, err
		}
		return false, printRooms(ctx, session)
	case "retry":
		id := domain.MessageID(cmd.Arg)
		if id == "" {
			view, err := session.View(ctx)
			if err != nil {
				return false, err
			}
			failed, _, ok := lo.FindLastIndexOf(view.Messages, func(m domain.Message) bool {
				return m.State == domain.Failed
			})
			if !ok {
				return false, fmt.Errorf("nothing to retry")
			}
			id = failed.ID
		}
		if _, err := session.Retry(ctx, id); err != nil && !errors.Is(err, errors.ErrSendFailure) {
			return false, err
		}
	case "connect":
		return false, session.Reconnect(ctx)
	default:
		return false, fmt.Errorf("unknown command /%s, try /help", cmd.Name)
	}
	return false, nil
}

func printRooms(ctx context.Context, session *runtime.Session) error {
	rooms, err := session.Rooms(ctx)
	if err != nil {
		return err
	}
	view, err := session.View(ctx)
	if err != nil {
		return err
	}
	if len(rooms) == 0 {
		fmt.Println("You are not a member of any room yet.")
		return nil
	}
	ui.RenderRooms(os.Stdout, rooms, view.Room)
	return nil
}
