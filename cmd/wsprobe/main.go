// wsprobe connects to the realtime gateway, sends a test task, measures
// round-trip latency and optionally stays connected printing inbound tasks.
// Usage: go run ./cmd/wsprobe -config configs/jarvisd.yaml -pings 5
//
// The token comes from the session section of the config; -token overrides it.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jarvis-app/realtime/internal/config"
	"github.com/jarvis-app/realtime/internal/connection"
	"github.com/jarvis-app/realtime/internal/session"
)

func main() {
	configPath := flag.String("config", "configs/jarvisd.yaml", "path to config file")
	url := flag.String("url", "", "gateway URL (overrides config)")
	token := flag.String("token", os.Getenv("JARVIS_TOKEN"), "access token (overrides the session provider)")
	pings := flag.Int("pings", 3, "number of latency probes")
	wait := flag.Duration("wait", 2*time.Second, "how long to wait for a response to the test task")
	listen := flag.Bool("listen", false, "keep running and print inbound tasks")
	verbose := flag.Bool("verbose", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.LoadWithDefaults(*configPath)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Debug("no config file, using defaults", "config", *configPath)
		cfg, err = config.Defaults(), nil
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *url != "" {
		cfg.Realtime.URL = *url
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *token == "" {
		var provider session.Provider = session.NewStaticProvider(cfg.Session.Token, cfg.Session.UserID)
		if cfg.Session.Provider == "supabase" {
			provider = session.NewSupabaseProvider(cfg.Session.SupabaseURL, cfg.Session.AnonKey,
				session.Credentials{
					Email:        cfg.Session.Email,
					Password:     cfg.Session.Password,
					RefreshToken: cfg.Session.RefreshToken,
				},
				session.WithLogger(logger),
				session.WithTimeout(cfg.Session.Timeout),
			)
		}
		sess, err := provider.Session(ctx)
		if err != nil {
			logger.Error("no token: set -token, JARVIS_TOKEN or the session config", "error", err)
			os.Exit(1)
		}
		*token = sess.AccessToken
	}

	mgr := connection.NewManager(cfg.Realtime.ManagerConfig(), logger)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		mgr.Shutdown(shutdownCtx)
	}()

	fmt.Printf("Connecting to %s\n", cfg.Realtime.URL)
	connectCtx, connectCancel := context.WithTimeout(ctx, cfg.Realtime.ConnectTimeout+cfg.Realtime.AuthTimeout)
	err = mgr.Connect(connectCtx, *token)
	connectCancel()
	printState(mgr.State())
	if err != nil {
		fmt.Printf("FAIL  connect: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK    connected and authenticated")

	// Test 1: task round trip
	responses := make(chan connection.InboundMessage, 1)
	unsub := mgr.RegisterMessageHandler(connection.TypeResponse, func(msg connection.InboundMessage) {
		select {
		case responses <- msg:
		default:
		}
	})

	id, err := mgr.SendTask(map[string]any{
		"action":    "test_message",
		"source":    cfg.Realtime.ClientName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"payload": map[string]any{
			"test":    true,
			"message": "Hello from wsprobe",
		},
	})
	if err != nil {
		fmt.Printf("FAIL  send task: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("OK    task sent id=%s, waiting %s for a response\n", id, *wait)

	select {
	case msg := <-responses:
		fmt.Printf("OK    response id=%s payload=%s\n", msg.ID, msg.Payload)
	case <-time.After(*wait):
		fmt.Println("WARN  no response (the gateway may not echo test tasks)")
	case <-ctx.Done():
		return
	}
	unsub()

	// Test 2: latency
	var samples []time.Duration
	for i := 0; i < *pings; i++ {
		pingCtx, pingCancel := context.WithTimeout(ctx, cfg.Realtime.PongTimeout)
		rtt, err := mgr.Ping(pingCtx)
		pingCancel()
		if err != nil {
			fmt.Printf("FAIL  ping %d: %v\n", i+1, err)
			continue
		}
		samples = append(samples, rtt)
		fmt.Printf("      ping %d: %s\n", i+1, rtt.Round(time.Microsecond))
		time.Sleep(500 * time.Millisecond)
	}
	if s, ok := summarize(samples); ok {
		fmt.Printf("%-5s latency avg=%s min=%s max=%s\n", s.rating(), s.Avg.Round(time.Microsecond),
			s.Min.Round(time.Microsecond), s.Max.Round(time.Microsecond))
	}

	printState(mgr.State())

	if !*listen {
		return
	}

	mgr.RegisterMessageHandler(connection.TypeTask, func(msg connection.InboundMessage) {
		sent := "-"
		if msg.Timestamp > 0 {
			sent = time.UnixMilli(msg.Timestamp).Format(time.RFC3339Nano)
		}
		fmt.Printf("[TASK] id=%s sent=%s payload=%s\n", msg.ID, sent, msg.Payload)
	})
	mgr.OnConnectionStateChange(func(st connection.ConnectionState) {
		if !st.Connected {
			fmt.Printf("[STATE] disconnected, reconnect #%d in %s\n", st.ReconnectAttempts, st.ReconnectDelay)
		}
	})

	fmt.Println("Listening for tasks - press Ctrl+C to stop")
	<-ctx.Done()
}

func printState(st connection.ConnectionState) {
	data, _ := json.MarshalIndent(st, "", "  ")
	fmt.Printf("State: %s\n", data)
}

type latencySummary struct {
	Avg, Min, Max time.Duration
}

func summarize(samples []time.Duration) (latencySummary, bool) {
	if len(samples) == 0 {
		return latencySummary{}, false
	}
	s := latencySummary{Min: samples[0], Max: samples[0]}
	var total time.Duration
	for _, d := range samples {
		total += d
		s.Min = min(s.Min, d)
		s.Max = max(s.Max, d)
	}
	s.Avg = total / time.Duration(len(samples))
	return s, true
}

// rating grades the average the way the web client's debug panel does.
func (s latencySummary) rating() string {
	switch {
	case s.Avg < 100*time.Millisecond:
		return "OK"
	case s.Avg < 200*time.Millisecond:
		return "WARN"
	default:
		return "SLOW"
	}
}
