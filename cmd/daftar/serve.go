package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"daftar/internal/extractor"
	"daftar/internal/server"
	"daftar/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Starts the JSON API: chat with memory extraction, governed memory
store/retrieve, legacy aggregation views, and runtime settings. Without
an API key the server runs with extraction and chat generation disabled.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()

	apiKey := a.cfg.LLM.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}

	var ex extractor.FactExtractor
	var resp server.Responder
	if apiKey != "" {
		genEx, err := extractor.NewGenAIExtractor(ctx, apiKey, a.cfg.LLM.Model)
		if err != nil {
			return err
		}
		ex = genEx
		genResp, err := server.NewGenAIResponder(ctx, apiKey, a.cfg.LLM.Model)
		if err != nil {
			return err
		}
		resp = genResp
	} else {
		a.log.Warn("no API key configured, chat generation and extraction disabled")
	}

	sessions := session.NewManager(a.store, a.cfg.Memory.MaxChatHistory, a.log)
	registry, err := buildRegistry(a)
	if err != nil {
		return err
	}
	srv := server.New(a.cfg, a.store, a.memory, a.settings, sessions, ex, resp, registry, a.log)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		a.log.Error("server exited with error", zap.Error(err))
		return err
	}
	return nil
}
