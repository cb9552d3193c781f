// Command replay feeds a recorded scenario through the transformer into the
// configured store and prints the resulting chat overview as JSON.
package main

import (
	"context"
	"encoding/json"
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
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	file := flag.String("file", "", "Scenario YAML file")
	messagesOf := flag.Uint("messages", 0, "Also print the messages of this chat id")
	flag.Parse()
	if *file == "" {
		return fmt.Errorf("usage: replay -file scenario.yml [-messages chat-id]")
	}

	sc, err := seed.LoadFile(*file)
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	rt, err := bootstrap.InitRuntime(cfg, bootstrap.Options{ServiceName: "parley-replay"})
	if err != nil {
		return err
	}
	ctx := context.Background()
	defer func() { _ = rt.Close(ctx) }()

	store := repository.NewStore(rt.DB)
	var notifier transformer.ChangeNotifier
	if rt.Redis != nil {
		notifier = cache.NewFeed(rt.Redis)
	}
	messages := service.NewMessageService(store, nil, notifier)
	chats := service.NewChatService(store.Accounts(), store.Chats(), store.Messages(), 0)

	report, err := seed.Run(ctx, messages, chats, sc)
	if err != nil {
		return err
	}
	log.Printf("replayed %d stanzas and %d archive results (%d receipts due)", report.Stanzas, report.Results, report.Receipts)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	overview, err := chats.Overview(ctx, sc.Account)
	if err != nil {
		return err
	}
	if err := enc.Encode(overview); err != nil {
		return err
	}
	if *messagesOf > 0 {
		list, err := chats.Messages(ctx, uint(*messagesOf))
		if err != nil {
			return err
		}
		return enc.Encode(list)
	}
	return nil
}
