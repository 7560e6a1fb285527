package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"portraitstudio/internal/batch"
	"portraitstudio/internal/bootstrap"
	"portraitstudio/internal/domain"
	"portraitstudio/internal/infra"
)

func main() {
	var (
		inFlag    string
		styleFlag string
		delayFlag time.Duration
	)

	flag.StringVar(&inFlag, "in", "", "path of the photo to stylize")
	flag.StringVar(&styleFlag, "style", "all", "comma separated styles, or all")
	flag.DurationVar(&delayFlag, "delay", -1, "pause between styles (defaults to GENERATION_DELAY)")
	flag.Parse()

	_ = godotenv.Load()

	path := strings.TrimSpace(inFlag)
	if path == "" {
		exitWithError(errors.New("-in is required"))
	}
	styles, err := parseStyles(styleFlag)
	if err != nil {
		exitWithError(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		exitWithError(fmt.Errorf("read input: %w", err))
	}

	cfg, err := infra.LoadConfig()
	if err != nil {
		exitWithError(err)
	}
	if delayFlag >= 0 {
		cfg.GenerationDelay = delayFlag
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		exitWithError(err)
	}
	defer svc.Close()

	session, err := svc.Orchestrator.Generate(ctx, batch.Request{
		Image:  domain.ImageBuffer{Data: data, MIMEType: detectMIME(path, data), Filename: filepath.Base(path)},
		Styles: styles,
		OnProgress: func(p batch.Progress) {
			fmt.Fprintf(os.Stderr, "[%d/%d] %s\n", p.Index, p.Total, domain.DisplayName(p.Style))
		},
	})
	if err != nil {
		exitWithError(err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(session); err != nil {
		exitWithError(err)
	}
}

func parseStyles(raw string) ([]domain.StyleVariant, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "all") {
		return append([]domain.StyleVariant(nil), domain.DefaultStyles...), nil
	}
	var out []domain.StyleVariant
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		style, ok := domain.ParseStyle(part)
		if !ok {
			return nil, fmt.Errorf("unknown style %q", strings.TrimSpace(part))
		}
		out = append(out, style)
	}
	if len(out) == 0 {
		return nil, errors.New("no styles given")
	}
	return out, nil
}

func detectMIME(path string, data []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

func exitWithError(err error) {
	fmt.Fprintf(os.Stderr, "stylize: %v\n", err)
	os.Exit(1)
}
