package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/liao/guide-bot/internal/ai"
	"github.com/liao/guide-bot/internal/app"
	"github.com/liao/guide-bot/internal/config"
	"github.com/liao/guide-bot/internal/parser"
	"github.com/liao/guide-bot/internal/store"
)

const checkpointEvery = 20

type report struct {
	total    int
	skipped  int
	inserted int
	existing int
	noVector int
	failed   int
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "config file path")
	inputFile := flag.String("input", "", "extracted recommendations (.jsonl)")
	restart := flag.Bool("restart", false, "ignore the checkpoint and import from the first line")
	flag.Parse()

	if *inputFile == "" {
		fmt.Fprintf(os.Stderr, "Usage: data-importer -input <file.jsonl> [-config <path>] [-restart]\n")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config failed", "error", err)
		os.Exit(1)
	}
	app.SetupLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := parser.ParseJSONLFile(*inputFile, cfg.Guide.DefaultLocale)
	if err != nil {
		slog.Error("parse input failed", "error", err)
		os.Exit(1)
	}
	slog.Info("parsed input", "records", len(res.Entries), "skipped", res.Skipped)

	aiClient, err := ai.NewClient(ctx, cfg.Gemini)
	if err != nil {
		slog.Error("create AI client failed", "error", err)
		os.Exit(1)
	}
	s, err := store.Open(ctx, cfg)
	if err != nil {
		slog.Error("open store failed", "error", err)
		os.Exit(1)
	}
	defer s.Close()

	progressFile := *inputFile + ".progress"
	if *restart {
		os.Remove(progressFile)
	}

	rep, err := importEntries(ctx, aiClient, s, res.Entries, progressFile)
	rep.skipped = res.Skipped
	printReport(rep)
	if err != nil {
		slog.Error("import stopped", "error", err)
		os.Exit(1)
	}
}

func importEntries(ctx context.Context, embedder *ai.Client, s store.Store, entries []parser.Entry, progressFile string) (report, error) {
	rep := report{total: len(entries)}

	// 断点续传：读取进度文件，跳过已完成的
	startFrom := readProgress(progressFile)
	if startFrom > 0 {
		slog.Info("resuming from checkpoint", "start", startFrom)
	}

	for i, e := range entries {
		if i < startFrom {
			continue
		}
		if err := ctx.Err(); err != nil {
			writeProgress(progressFile, i)
			return rep, err
		}

		rec := e.Record
		vec, err := embedder.Embed(ctx, e.EmbeddingText(), ai.TaskDocument)
		if err != nil {
			// 没有向量的记录仍然写入，检索时被忽略，重新导入时补齐向量
			slog.Warn("embed record failed", "line", e.Line, "url", rec.SourceURL, "error", err)
			rep.noVector++
		} else {
			rec.Embedding = vec
		}

		inserted, err := s.Upsert(ctx, rec)
		switch {
		case errors.Is(err, store.ErrUnavailable):
			writeProgress(progressFile, i)
			return rep, err
		case err != nil:
			slog.Warn("upsert record failed", "line", e.Line, "url", rec.SourceURL, "error", err)
			rep.failed++
		case inserted:
			rep.inserted++
		default:
			rep.existing++
		}

		if (i+1)%checkpointEvery == 0 {
			slog.Info("importing", "progress", fmt.Sprintf("%d/%d", i+1, len(entries)))
			writeProgress(progressFile, i+1)
		}
	}

	// 完成后删除进度文件
	os.Remove(progressFile)
	return rep, nil
}

func readProgress(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeProgress(path string, n int) {
	if err := os.WriteFile(path, []byte(strconv.Itoa(n)), 0644); err != nil {
		slog.Warn("write checkpoint failed", "error", err)
	}
}

func printReport(r report) {
	fmt.Println("Import report")
	fmt.Printf("  records:         %d\n", r.total)
	fmt.Printf("  skipped lines:   %d\n", r.skipped)
	fmt.Printf("  inserted:        %d\n", r.inserted)
	fmt.Printf("  already present: %d\n", r.existing)
	fmt.Printf("  without vector:  %d\n", r.noVector)
	fmt.Printf("  failed:          %d\n", r.failed)
}
