package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"pin-affiliate-bot/internal/adapters/pinterest"
	"pin-affiliate-bot/internal/infra/config"
)

func main() {
	var (
		envFile string
		write   bool
	)
	flag.StringVar(&envFile, "env", ".env", "Path to the env file to update")
	flag.BoolVar(&write, "write", false, "Write the refreshed token back to the env file")
	flag.Parse()

	cfg := config.Load()
	if cfg.Pinterest.AppID == "" || cfg.Pinterest.AppSecret == "" || cfg.Pinterest.RefreshToken == "" {
		log.Fatal().Msg("token-refresh: PINTEREST_APP_ID, PINTEREST_APP_SECRET and PINTEREST_REFRESH_TOKEN are required")
	}

	client, err := pinterest.New(cfg.Pinterest.BaseURL, cfg.Pinterest.AccessToken,
		pinterest.WithTimeout(cfg.Pinterest.Timeout),
		pinterest.WithRefreshCredentials(cfg.Pinterest.AppID, cfg.Pinterest.AppSecret, cfg.Pinterest.RefreshToken),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("token-refresh: failed to build pinterest client")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	token, err := client.Refresh(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("token-refresh: refresh failed")
	}

	if !write {
		fmt.Printf("New access token: %s\n", token)
		fmt.Println("Run with -write to store it in the env file")
		return
	}

	env, err := godotenv.Read(envFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", envFile).Msg("token-refresh: failed to read env file")
	}
	env["PINTEREST_ACCESS_TOKEN"] = token
	if err := godotenv.Write(env, envFile); err != nil {
		log.Fatal().Err(err).Str("file", envFile).Msg("token-refresh: failed to write env file")
	}
	fmt.Printf("Stored refreshed token in %s\n", envFile)
}
