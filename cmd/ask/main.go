package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/liao/guide-bot/internal/ai"
	"github.com/liao/guide-bot/internal/app"
	"github.com/liao/guide-bot/internal/config"
	"github.com/liao/guide-bot/internal/rag"
	"github.com/liao/guide-bot/internal/store"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "config file path")
	interactive := flag.Bool("i", false, "interactive chat loop")
	nearest := flag.Bool("nearest", false, "print the single closest recommendation without calling the chat model")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config failed", "error", err)
		os.Exit(1)
	}
	app.SetupLogger(cfg.Log)

	ctx := context.Background()
	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("init failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	query := strings.TrimSpace(strings.Join(flag.Args(), " "))

	switch {
	case *nearest:
		if query == "" {
			fmt.Fprintln(os.Stderr, "Usage: ask -nearest <query>")
			os.Exit(1)
		}
		err = printNearest(ctx, a, query)
	case *interactive:
		err = chatLoop(ctx, a)
	default:
		if query == "" {
			fmt.Fprintln(os.Stderr, "Usage: ask [-i] [-nearest] <query>")
			os.Exit(1)
		}
		err = askOnce(ctx, a, query)
	}
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			fmt.Fprintln(os.Stderr, "Could not connect to the database.")
		}
		slog.Error("ask failed", "error", err)
		os.Exit(1)
	}
}

// askOnce 打印中间结果：扩展查询、候选及相似度、回答、来源
func askOnce(ctx context.Context, a *app.App, query string) error {
	ans, err := a.Pipeline.Answer(ctx, "", query)
	if err != nil {
		return err
	}

	fmt.Println("Expanded queries:")
	for _, q := range ans.Expanded {
		fmt.Printf("  - %s\n", q)
	}

	fmt.Printf("\nUnique candidates (%d):\n", len(ans.Candidates))
	for _, c := range ans.Candidates {
		fmt.Printf("  - %s (similarity %.4f)\n", c.Name, c.Similarity)
	}

	fmt.Printf("\nAnswer:\n%s\n", ans.Response)
	printSources(ans.Sources)
	return nil
}

func chatLoop(ctx context.Context, a *app.App) error {
	sessionID := "cli:" + uuid.NewString()
	fmt.Println("Ask me for recommendations. Type 'exit' or 'quit' to leave.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\nYou: ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			break
		}

		ans, err := a.Pipeline.Answer(ctx, sessionID, line)
		if err != nil {
			return err
		}
		fmt.Printf("\nGuide: %s\n", ans.Response)
		printSources(ans.Sources)
	}
	fmt.Println("Goodbye!")
	return scanner.Err()
}

func printNearest(ctx context.Context, a *app.App, query string) error {
	vec, err := a.AI.Embed(ctx, query, ai.TaskQuery)
	if err != nil {
		return err
	}
	candidates, err := a.Store.Nearest(ctx, vec, 1)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		fmt.Println("No recommendations found.")
		return nil
	}
	c := candidates[0]
	fmt.Printf("Closest match for %q:\n", query)
	fmt.Printf("  Name: %s\n  Neighborhood: %s\n  Summary: %s\n  Source: %s\n  Similarity: %.4f\n",
		c.Name, c.Neighborhood, c.Summary, c.SourceURL, c.Similarity)
	return nil
}

func printSources(sources []rag.Source) {
	if len(sources) == 0 {
		return
	}
	fmt.Println("\nSources:")
	for _, s := range sources {
		fmt.Printf("  - %s: %s\n", s.Name, s.URL)
	}
}
