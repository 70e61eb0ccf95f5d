package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path"
	"strconv"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/aibridge-io/aibridge/internal/adapter"
	"github.com/aibridge-io/aibridge/internal/api"
	"github.com/aibridge-io/aibridge/internal/config"
	"github.com/aibridge-io/aibridge/internal/pool"
	"github.com/aibridge-io/aibridge/internal/prompt"
)

type LogFormatter struct {
}

func (m *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	newLog := fmt.Sprintf("[%s] [%s] [%s:%d] %s\n", timestamp, entry.Level, path.Base(entry.Caller.File), entry.Caller.Line, entry.Message)

	b.WriteString(newLog)
	return b.Bytes(), nil
}

func init() {
	log.SetOutput(os.Stdout)
	log.SetReportCaller(true)
	log.SetFormatter(&LogFormatter{})
	log.SetLevel(log.InfoLevel)
}

func main() {
	var (
		configPath      = flag.String("config", "config.json", "configuration file path")
		host            = flag.String("host", "", "listen host")
		port            = flag.String("port", "", "listen port")
		apiKey          = flag.String("api-key", "", "required inbound API key")
		modelProvider   = flag.String("model-provider", "", "default backend provider")
		openaiAPIKey    = flag.String("openai-api-key", "", "OpenAI upstream API key")
		openaiBaseURL   = flag.String("openai-base-url", "", "OpenAI upstream base URL")
		claudeAPIKey    = flag.String("claude-api-key", "", "Claude upstream API key")
		claudeBaseURL   = flag.String("claude-base-url", "", "Claude upstream base URL")
		kiroCredsFile   = flag.String("kiro-oauth-creds-file", "", "Kiro OAuth credentials file")
		kiroCredsBase64 = flag.String("kiro-oauth-creds-base64", "", "Kiro OAuth credentials, base64 JSON")
		geminiCredsFile = flag.String("gemini-oauth-creds-file", "", "Gemini OAuth credentials file")
		projectID       = flag.String("project-id", "", "Google Cloud project ID")
		qwenCredsFile   = flag.String("qwen-oauth-creds-file", "", "Qwen OAuth credentials file")
		logPrompts      = flag.String("log-prompts", "", "prompt log mode: none, console or file")
	)
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	applyFlagOverrides(cfg, map[string]*string{
		"host":                    host,
		"port":                    port,
		"api-key":                 apiKey,
		"model-provider":          modelProvider,
		"openai-api-key":          openaiAPIKey,
		"openai-base-url":         openaiBaseURL,
		"claude-api-key":          claudeAPIKey,
		"claude-base-url":         claudeBaseURL,
		"kiro-oauth-creds-file":   kiroCredsFile,
		"kiro-oauth-creds-base64": kiroCredsBase64,
		"gemini-oauth-creds-file": geminiCredsFile,
		"project-id":              projectID,
		"qwen-oauth-creds-file":   qwenCredsFile,
		"log-prompts":             logPrompts,
	})

	pools, err := buildPools(cfg)
	if err != nil {
		log.Fatalf("failed to load provider pools: %v", err)
	}

	injector := prompt.NewInjector(cfg.SystemPromptFilePath, cfg.SystemPromptMode)
	plog := prompt.NewLogger(cfg.PromptLogMode, cfg.PromptLogBaseName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err = injector.Watch(ctx); err != nil {
		log.Warnf("system prompt watcher unavailable: %v", err)
	}

	gateway := api.NewGateway(cfg, pools, injector, plog)
	server := api.NewServer(cfg, gateway)

	// Construct the default adapter eagerly so credential problems fail
	// the boot rather than the first request. Pool-backed defaults build
	// per request and refresh their own tokens pre-flight.
	defaultAdapter, err := gateway.Preload(cfg.ModelProvider)
	if err != nil {
		log.Fatalf("failed to initialize provider %s: %v", cfg.ModelProvider, err)
	}

	if cfg.CronRefreshToken && defaultAdapter != nil {
		scheduler := startRefreshJob(ctx, cfg, defaultAdapter)
		defer scheduler.Stop()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigCh:
		log.Infof("received %s, shutting down", sig)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err = server.Stop(shutdownCtx); err != nil {
			log.Errorf("shutdown error: %v", err)
		}
	}
}

// applyFlagOverrides copies explicitly-set CLI flags over the file config.
// flag.Visit reports only flags given on the command line, so an explicit
// empty value still wins over the file.
func applyFlagOverrides(cfg *config.Config, flags map[string]*string) {
	flag.Visit(func(f *flag.Flag) {
		v, ok := flags[f.Name]
		if !ok {
			return
		}
		switch f.Name {
		case "host":
			cfg.Host = *v
		case "port":
			p, err := strconv.Atoi(*v)
			if err != nil {
				log.Fatalf("invalid --port value %q", *v)
			}
			cfg.Port = p
		case "api-key":
			cfg.RequiredAPIKey = *v
		case "model-provider":
			cfg.ModelProvider = *v
		case "openai-api-key":
			cfg.OpenAIAPIKey = *v
		case "openai-base-url":
			cfg.OpenAIBaseURL = *v
		case "claude-api-key":
			cfg.ClaudeAPIKey = *v
		case "claude-base-url":
			cfg.ClaudeBaseURL = *v
		case "kiro-oauth-creds-file":
			cfg.KiroOAuthCredsFilePath = *v
		case "kiro-oauth-creds-base64":
			cfg.KiroOAuthCredsBase64 = *v
		case "gemini-oauth-creds-file":
			cfg.GeminiOAuthCredsFilePath = *v
		case "project-id":
			cfg.ProjectID = *v
		case "qwen-oauth-creds-file":
			cfg.QwenOAuthCredsFilePath = *v
		case "log-prompts":
			cfg.PromptLogMode = *v
		}
	})
}

func buildPools(cfg *config.Config) (*pool.Manager, error) {
	if cfg.ProviderPoolsFilePath != "" {
		return pool.LoadFile(cfg.ProviderPoolsFilePath)
	}
	if len(cfg.ProviderPools) > 0 {
		return pool.New(cfg.ProviderPools, ""), nil
	}
	return nil, nil
}

// startRefreshJob schedules a pre-emptive token refresh every
// cron_near_minutes. The store-level freshness check makes the job a no-op
// while the token is not close to expiry.
func startRefreshJob(ctx context.Context, cfg *config.Config, ad adapter.Adapter) *cron.Cron {
	scheduler := cron.New()
	spec := fmt.Sprintf("@every %dm", cfg.CronNearMinutes)
	_, err := scheduler.AddFunc(spec, func() {
		refreshCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if err := ad.RefreshToken(refreshCtx, false); err != nil {
			log.Warnf("scheduled token refresh failed: %v", err)
		}
	})
	if err != nil {
		log.Warnf("failed to schedule token refresh: %v", err)
		return scheduler
	}
	scheduler.Start()
	log.Infof("token refresh scheduled every %d minute(s)", cfg.CronNearMinutes)
	return scheduler
}
