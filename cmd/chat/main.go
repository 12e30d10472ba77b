package main

import (
	"log"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"nutriwise/cmd/chat/clients/chatclient"
	"nutriwise/cmd/chat/httpclient"
	"nutriwise/cmd/chat/identity"
	"nutriwise/cmd/chat/services"
	"nutriwise/cmd/chat/store"
	"nutriwise/cmd/chat/tui"
	"nutriwise/cmd/internal/logger"
	"nutriwise/config"
)

func main() {
	config.InitApp()
	cfg := config.GetConfig()
	logger.Init(cfg.Logging.Level)

	resolver := identity.NewResolver(cfg.Auth.CredentialsFile)
	resolver.Start()

	httpClient := httpclient.New(httpclient.Config{
		Timeout:     time.Duration(cfg.API.TimeoutSeconds) * time.Second,
		Credentials: resolver,
	})
	client := chatclient.New(httpClient, cfg.API.BaseURL)

	sessions := store.NewSessionStore()
	messages := store.NewMessageStore()
	svc := services.NewChatService(client, resolver, sessions, messages)

	p := tea.NewProgram(tui.New(svc, sessions, messages, resolver), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatal(err)
	}
}
