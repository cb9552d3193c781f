// Command seed generates a random conversation and either writes it as a
// scenario file or replays it into the configured database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"parley/internal/bootstrap"
	"parley/internal/cache"
	"parley/internal/config"
	"parley/internal/repository"
	"parley/internal/seed"
	"parley/internal/service"
	"parley/internal/transformer"

	"github.com/brianvoe/gofakeit/v6"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	account := flag.String("account", "", "Account address (random when empty)")
	peers := flag.Int("peers", 5, "Number of 1:1 contacts")
	messages := flag.Int("messages", 200, "Number of live stanzas")
	archived := flag.Int("archived", 50, "Size of the initial archive page")
	room := flag.Bool("room", true, "Add a bookmarked group chat")
	seedValue := flag.Int64("seed", 1, "Random seed")
	out := flag.String("out", "", "Write the scenario to this file instead of the database")
	flag.Parse()

	sc := seed.Generate(gofakeit.New(*seedValue), seed.Options{
		Account:         *account,
		Peers:           *peers,
		Messages:        *messages,
		ArchiveMessages: *archived,
		Room:            *room,
	})

	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return fmt.Errorf("create scenario file: %w", err)
		}
		if err := sc.Encode(f); err != nil {
			_ = f.Close()
			return err
		}
		log.Printf("scenario for %s written to %s", sc.Account, *out)
		return f.Close()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	rt, err := bootstrap.InitRuntime(cfg, bootstrap.Options{ServiceName: "parley-seed"})
	if err != nil {
		return err
	}
	ctx := context.Background()
	defer func() { _ = rt.Close(ctx) }()

	store := repository.NewStore(rt.DB)
	chats := service.NewChatService(store.Accounts(), store.Chats(), store.Messages(), 0)
	var notifier transformer.ChangeNotifier
	if rt.Redis != nil {
		notifier = cache.NewFeed(rt.Redis)
	}
	report, err := seed.Run(ctx, service.NewMessageService(store, nil, notifier), chats, sc)
	if err != nil {
		return err
	}
	log.Printf("seeded %s: %d stanzas, %d archive results", sc.Account, report.Stanzas, report.Results)
	return nil
}
