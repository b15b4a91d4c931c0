// Command tmclient drives the sync core from a terminal against a running backend.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tennismatch/app"
	"tennismatch/chat"
	"tennismatch/config"
	"tennismatch/deck"
	"tennismatch/logger"
	"tennismatch/models"
)

func main() {
	var (
		logLevel string
		loginAs  int64
		likeAll  bool
	)
	flag.StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flag.Int64Var(&loginAs, "login", 0, "Sign in as this user id through the dev login endpoint")
	flag.BoolVar(&likeAll, "like", false, "Swipe right on every card (default: alternate)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	log := logger.New(&logger.Config{Level: logLevel, Format: "console", Output: "stderr"})
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if loginAs > 0 {
		token, err := devLogin(ctx, cfg.Client.APIURL, loginAs)
		if err != nil {
			log.Fatal("Dev login failed", zap.Error(err))
		}
		cfg.Client.AccessToken = token
	}
	if cfg.Client.AccessToken == "" {
		fmt.Fprintln(os.Stderr, "no access token: set TM_CLIENT_ACCESS_TOKEN or pass -login")
		os.Exit(1)
	}

	ctx, expire := context.WithCancel(ctx)
	defer expire()

	session, err := app.New(cfg, app.Options{
		Logger: log,
		OnUnauthenticated: func() {
			fmt.Fprintln(os.Stderr, "session expired, sign in again")
			expire()
		},
	})
	if err != nil {
		log.Fatal("Failed to create session", zap.Error(err))
	}
	defer func() { _ = session.Logout(context.Background()) }()
	if err := session.Start(ctx); err != nil {
		log.Fatal("Failed to start session", zap.Error(err))
	}

	switch args[0] {
	case "whoami":
		fmt.Println(session.MeID())
	case "conversations":
		err = listConversations(ctx, session)
	case "swipe":
		n := 10
		if len(args) > 1 {
			n, err = strconv.Atoi(args[1])
			if err != nil {
				log.Fatal("swipe count must be a number", zap.String("arg", args[1]))
			}
		}
		err = swipe(ctx, session, n, likeAll)
	case "send":
		if len(args) < 3 {
			printUsage()
			os.Exit(1)
		}
		err = send(ctx, session, args[1], strings.Join(args[2:], " "))
	case "listen":
		if len(args) < 2 {
			printUsage()
			os.Exit(1)
		}
		err = listen(ctx, session, args[1])
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatal("Command failed", zap.String("command", args[0]), zap.Error(err))
	}
}

func listConversations(ctx context.Context, s *app.Session) error {
	list, err := s.Client().FetchMyConversations(ctx)
	if err != nil {
		return err
	}
	for _, c := range list {
		fmt.Printf("%d\t%s\t%s\tunread=%d\n", c.ID, c.Partner.Name, c.Status, c.UnreadCount)
	}
	return nil
}

func swipe(ctx context.Context, s *app.Session, n int, likeAll bool) error {
	m, err := s.Deck(nil)
	if err != nil {
		return err
	}
	if err := m.Init(ctx); err != nil {
		return err
	}

	for i := 0; i < n; {
		if err := ctx.Err(); err != nil {
			return nil
		}
		top := m.Top()
		if top == nil {
			if m.Snapshot().Loading {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			fmt.Println("no more players nearby")
			break
		}
		dir := deck.Left
		if likeAll || i%2 == 0 {
			dir = deck.Right
		}
		card := *top
		if !m.Decide(dir) {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		fmt.Printf("%-5s %s, %d, %s\n", dir, card.Name, card.Age, card.SkillLevel)
		i++
		if match := m.Match(); match != nil {
			printMatch(match)
			m.ClearMatch()
		}
	}

	// decisions are submitted in the background
	time.Sleep(500 * time.Millisecond)
	if match := m.Match(); match != nil {
		printMatch(match)
	}
	return nil
}

func printMatch(m *models.MatchSummary) {
	name := "someone"
	if m.Name != nil {
		name = *m.Name
	}
	fmt.Printf("It's a match with %s! conversation %d\n", name, m.ConversationID)
}

func send(ctx context.Context, s *app.Session, idArg, text string) error {
	id, err := strconv.ParseInt(idArg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid conversation id %q", idArg)
	}
	c, err := s.OpenConversation(ctx, id, nil)
	if err != nil {
		return err
	}
	defer s.CloseConversation(id)

	waitConnected(ctx, s.Transport(), 2*time.Second)
	if _, err := c.Send(ctx, text); err != nil {
		return err
	}
	// give the realtime echo a moment to confirm the message
	time.Sleep(300 * time.Millisecond)
	printWindow(c.Meta().Name, c.View())
	return nil
}

func listen(ctx context.Context, s *app.Session, idArg string) error {
	id, err := strconv.ParseInt(idArg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid conversation id %q", idArg)
	}
	var (
		mu   sync.Mutex
		seen int
	)
	c, err := s.OpenConversation(ctx, id, func(w chat.Window) {
		mu.Lock()
		defer mu.Unlock()
		for _, m := range w.Messages[min(seen, len(w.Messages)):] {
			if !m.Pending() {
				fmt.Printf("[%s] %s: %s\n", m.SentAt.Local().Format("15:04"), m.From, m.Text)
			}
		}
		seen = len(w.Messages)
	})
	if err != nil {
		return err
	}
	defer s.CloseConversation(id)
	fmt.Printf("listening to %s, ctrl-c to stop\n", c.Meta().Name)
	<-ctx.Done()
	return nil
}

func printWindow(name string, w chat.Window) {
	fmt.Printf("-- %s --\n", name)
	for _, m := range w.Messages {
		status := ""
		if m.Pending() {
			status = " (sending)"
		}
		fmt.Printf("[%s] %s: %s%s\n", m.SentAt.Local().Format("15:04"), m.From, m.Text, status)
	}
}

func waitConnected(ctx context.Context, t *chat.Transport, limit time.Duration) {
	deadline := time.Now().Add(limit)
	for !t.IsConnected() && time.Now().Before(deadline) && ctx.Err() == nil {
		time.Sleep(50 * time.Millisecond)
	}
}

func devLogin(ctx context.Context, apiURL string, userID int64) (string, error) {
	body, _ := json.Marshal(map[string]int64{"userId": userID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(apiURL, "/")+"/auth/dev-login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("dev login returned %d", resp.StatusCode)
	}
	var out struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

func printUsage() {
	fmt.Println("Usage: tmclient [flags] <command> [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  whoami                 Print the signed-in user id")
	fmt.Println("  conversations          List conversations with unread counts")
	fmt.Println("  swipe [n]              Swipe through n cards (default 10)")
	fmt.Println("  send <id> <text>       Send a message and print the conversation")
	fmt.Println("  listen <id>            Print messages as they arrive")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}
