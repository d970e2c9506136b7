package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/bassamadnan/mailpilot/agent"
	"github.com/bassamadnan/mailpilot/calendar"
	"github.com/bassamadnan/mailpilot/classifier"
	"github.com/bassamadnan/mailpilot/config"
	"github.com/bassamadnan/mailpilot/gmail"
	"github.com/bassamadnan/mailpilot/logger"
	"github.com/bassamadnan/mailpilot/server"
	"github.com/bassamadnan/mailpilot/store"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.Init(settings.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("application starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := run(ctx, settings, log); err != nil {
		log.Fatal("startup failed", zap.Error(err))
	}
	log.Info("application stopped")
}

func run(ctx context.Context, settings *config.Settings, log *zap.Logger) error {
	st, err := store.Open(ctx, settings.StoreURI, log)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("closing store", zap.Error(err))
		}
	}()

	httpClient, err := authorize(ctx, settings, log)
	if err != nil {
		return fmt.Errorf("authorizing Google account: %w", err)
	}

	mailClient, err := gmail.NewClient(ctx, log, option.WithHTTPClient(httpClient))
	if err != nil {
		return err
	}
	account, err := mailClient.Profile(ctx)
	if err != nil {
		return fmt.Errorf("reading Gmail profile: %w", err)
	}
	log.Info("authenticated", zap.String("account", account))

	calClient, err := calendar.NewClient(ctx, log, option.WithHTTPClient(httpClient))
	if err != nil {
		return err
	}

	filters, err := config.NewFilterManager(settings.FiltersFile)
	if err != nil {
		return fmt.Errorf("loading filters: %w", err)
	}

	cls := classifier.New(
		classifier.NewHTTPCompleter(settings.AIEndpoint, settings.AIAPIKey, settings.AITimeout, log),
		classifier.Options{
			Model:     settings.AIModel,
			MaxTokens: settings.AIMaxTokens,
			TimeZone:  settings.CalendarTimeZone,
			Signature: settings.ReplySignature,
		},
		log,
	)

	a := agent.New(agent.Deps{
		Fetcher:    gmail.NewFetcher(mailClient, settings.GmailQuery, log),
		Classifier: cls,
		Dispatcher: agent.NewDispatcher(mailClient, calClient, account, settings.CalendarTimeZone, log),
		Processed:  st,
		Activity:   st,
		Filter:     filters,
	}, agent.Options{
		BatchSize:    settings.BatchSize,
		PollInterval: settings.PollInterval,
		MessageDelay: settings.MessageDelay,
		ErrorBackoff: settings.ErrorBackoff,
	}, log)

	serverDone := make(chan struct{})
	if settings.StatusAddr != "" {
		srv := server.New(st, func() string { return a.State().String() }, log)
		go func() {
			defer close(serverDone)
			if err := srv.Run(ctx, settings.StatusAddr); err != nil {
				log.Error("status server stopped", zap.Error(err))
			}
		}()
	} else {
		close(serverDone)
	}

	err = a.Run(ctx)
	<-serverDone
	return err
}

func authorize(ctx context.Context, settings *config.Settings, log *zap.Logger) (*http.Client, error) {
	cfg, err := gmail.OAuthConfig(
		settings.GoogleClientID,
		settings.GoogleClientSecret,
		settings.GoogleRedirectURI,
		settings.GoogleCredentialsFile,
	)
	if err != nil {
		return nil, err
	}

	var tokens gmail.TokenStore
	switch settings.TokenStore {
	case "keyring":
		ring, err := gmail.NewKeyringTokenStore(
			filepath.Join(filepath.Dir(settings.TokenFile), ".mailpilot-keyring"),
			settings.KeyringPassphrase,
		)
		if err != nil {
			return nil, err
		}
		tokens = ring
	default:
		tokens = gmail.FileTokenStore{Path: settings.TokenFile}
	}

	prompter := &gmail.TerminalPrompter{In: os.Stdin, Out: os.Stdout}
	return gmail.Authorize(ctx, cfg, tokens, prompter, settings.ConfirmAccount, gmail.ProfileCheck(log), log)
}
