// Command curator prepares and submits vault intents.
//
//	curator prepare -config protocol.yaml -portfolio portfolio.yaml
//	curator submit  -config protocol.yaml -portfolio portfolio.yaml [-nats nats://...]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"Orion/internal/ingestion"
	"Orion/internal/observability"
	"Orion/internal/protocol"

	"github.com/nats-io/nats.go/jetstream"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	fs := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
	configPath := fs.String("config", envOrDefault("ORION_PROTOCOL_CONFIG", "config/protocol.yaml"), "protocol config file")
	portfolioPath := fs.String("portfolio", "portfolio.yaml", "portfolio file")
	natsURL := fs.String("nats", envOrDefault("ORION_NATS_URL", "nats://localhost:4222"), "NATS server URL")
	_ = fs.Parse(os.Args[2:])

	cfg, err := protocol.Load(*configPath)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	portfolio, err := loadPortfolio(*portfolioPath)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	msg, err := prepareIntent(cfg, portfolio, time.Now())
	if err != nil {
		log.Fatalf("FATAL: invalid intent: %v", err)
	}
	body, err := msg.encode()
	if err != nil {
		log.Fatalf("FATAL: encode intent: %v", err)
	}

	switch os.Args[1] {
	case "prepare":
		fmt.Println(string(body))

	case "submit":
		logger := observability.NewLogger("curator")
		nc, js, err := ingestion.ConnectNATS(*natsURL, logger)
		if err != nil {
			log.Fatalf("FATAL: %v", err)
		}
		defer nc.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		ack, err := js.Publish(ctx, ingestion.IntentSubject(msg.Vault), body, jetstream.WithMsgID(msg.CommandID))
		if err != nil {
			log.Fatalf("FATAL: publish intent: %v", err)
		}
		logger.Info().
			Str("vault", msg.Vault).
			Int64("nonce", msg.Nonce).
			Str("command_id", msg.CommandID).
			Uint64("stream_seq", ack.Sequence).
			Msg("intent submitted")

	default:
		usage()
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: curator <prepare|submit> -config protocol.yaml -portfolio portfolio.yaml [-nats url]")
	os.Exit(1)
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
