// Command agentcore is a thin composition root and REPL driver over the
// runtime library: it wires a provider registry, a session store, a tool
// set, an Agent, and a Supervisor together, then relays stdin lines as user
// prompts and prints the Event stream to stdout. Argument parsing is
// intentionally minimal (spec §1 "out of scope: a specific CLI/TUI
// surface"); this binary exists to prove the wiring, not to be the product.
package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/corvidrun/agentcore/internal/agent"
	"github.com/corvidrun/agentcore/internal/agentmsg"
	"github.com/corvidrun/agentcore/internal/config"
	"github.com/corvidrun/agentcore/internal/eventstream"
	"github.com/corvidrun/agentcore/internal/metrics"
	"github.com/corvidrun/agentcore/internal/provider"
	"github.com/corvidrun/agentcore/internal/session"
	"github.com/corvidrun/agentcore/internal/shell"
	"github.com/corvidrun/agentcore/internal/supervisor"
	"github.com/corvidrun/agentcore/internal/tokencount"
	"github.com/corvidrun/agentcore/internal/tool"
)

// preciseTokens is a display-only counter (spec's Open Question on
// estimator precision: never consulted by compaction/overflow decisions,
// only logged here for operators who want per-model-accurate numbers).
var preciseTokens = tokencount.NewPreciseCounter()

func main() {
	if err := setupFileLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to setup logging: %v\n", err)
	}

	flagSession := flag.String("s", "", "resume a session by ID")
	flagContinue := flag.Bool("c", false, "continue the most recent session")
	flagDialect := flag.String("dialect", "", "dialect to call (anthropic, openai-responses, codex, google, bedrock, zen)")
	flagModel := flag.String("model", "", "model id to call")
	flagMetrics := flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address")
	flag.Parse()

	configPath := filepath.Join(".", "agentcore.toml")
	if dataDir, err := config.DataDir(); err == nil {
		if p := filepath.Join(dataDir, "agentcore.toml"); fileExists(p) {
			configPath = p
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		fmt.Printf("Error loading credentials: %v\n", err)
		os.Exit(1)
	}

	registry := buildRegistry(cfg, creds)

	dialect := *flagDialect
	if dialect == "" {
		dialect = cfg.DefaultDialect
	}
	if dialect == "" {
		dialect = "anthropic"
	}
	modelID := *flagModel
	if modelID == "" {
		modelID = cfg.DefaultModel
	}
	model, ok := lookupModel(dialect, modelID)
	if !ok {
		fmt.Printf("Error: no catalog entry for dialect=%q model=%q\n", dialect, modelID)
		os.Exit(1)
	}

	dataDir, err := config.EnsureDataDir()
	if err != nil {
		fmt.Printf("Error: cannot create data dir: %v\n", err)
		os.Exit(1)
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}

	sessionPath, resuming := resolveSessionPath(dataDir, *flagSession, *flagContinue)
	var store *session.Store
	if resuming {
		store, err = session.Open(sessionPath)
	} else {
		store, err = session.New(sessionPath, cwd, "")
	}
	if err != nil {
		fmt.Printf("Error opening session: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	var reg *metrics.Registry
	if *flagMetrics != "" {
		reg = metrics.New()
		go serveMetrics(*flagMetrics, reg)
	}

	sh := shell.New(cwd, shell.DefaultBlockFuncs())
	tools := tool.NewSet(tool.NewShellTool(sh))

	ag := agent.New(agent.Config{
		Registry:     registry,
		Store:        store,
		Tools:        tools,
		SystemPrompt: func() string { return defaultSystemPrompt },
		Model:        model,
		Options: agentmsg.SimpleStreamOptions{
			StreamOptions: agentmsg.StreamOptions{MaxTokens: model.MaxTokens},
			Reasoning:     agentmsg.ReasoningMedium,
		},
		Metrics: reg,
	})

	settings := supervisor.DefaultSettings()
	applySupervisorOverrides(&settings, cfg.Supervisor)
	sv := supervisor.New(ag, store, registry, model, settings, reg)
	sv.Subscribe(makeEventPrinter(model.ID))

	fmt.Printf("session %s (%s/%s) — type a message, Ctrl-D to exit\n", store.Header().ID, dialect, model.ID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runREPL(ctx, sv)
}

const defaultSystemPrompt = "You are a helpful assistant."

func runREPL(ctx context.Context, sv *supervisor.Supervisor) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		msg := agentmsg.NewUserMessage(line, time.Now().UnixMilli())
		if err := sv.Prompt(ctx, msg); err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		sv.WaitForIdle()
	}
}

func printEvent(e agent.Event) {
	switch e.Type {
	case agent.EventMessageUpdate:
		if e.AssistantEvent.Type == eventstream.AssistantTextDelta {
			fmt.Print(e.AssistantEvent.Delta)
		}
	case agent.EventMessageEnd:
		fmt.Println()
	case agent.EventToolExecutionStart:
		fmt.Printf("[tool] %s(%s)\n", e.ToolName, string(e.ToolArgs))
	case agent.EventToolExecutionEnd:
		if e.ToolError != nil {
			fmt.Printf("[tool error] %v\n", e.ToolError)
		}
	case agent.EventAutoRetryStart:
		log.Info().Int("attempt", e.Attempt).Int("max", e.MaxRetries).Int64("delay_ms", e.DelayMs).Msg("retrying")
	case agent.EventAutoCompactionStart:
		log.Info().Str("reason", e.Reason).Msg("compacting session")
	case agent.EventAutoCompactionEnd:
		log.Info().Int("tokens_before", e.TokensBefore).Int("tokens_after", e.TokensAfter).Str("outcome", e.Outcome).Msg("compaction done")
	case agent.EventAgentEnd:
		if e.StopReason == "error" && e.Err != nil {
			fmt.Printf("[error] %v\n", e.Err)
		}
	}
}

// makeEventPrinter returns a subscriber that prints each event via
// printEvent and, at the end of each assistant message, logs that message's
// preciseTokens count for modelID.
func makeEventPrinter(modelID string) func(agent.Event) {
	return func(e agent.Event) {
		printEvent(e)
		if e.Type == agent.EventMessageEnd && e.Message.Role == agentmsg.RoleAssistant {
			log.Info().Str("model", modelID).Int("precise_tokens", preciseTokens.CountMessage(modelID, e.Message)).Msg("assistant message tokens")
		}
	}
}

func buildRegistry(cfg *config.Config, creds *config.Credentials) *provider.Registry {
	store := config.NewCredentialStore(creds)
	registry := provider.NewRegistry(store)

	registry.RegisterFactory(provider.AnthropicFactory{})
	registry.RegisterFactory(provider.OpenAIResponsesFactory{})
	registry.RegisterFactory(provider.CodexFactory{})
	registry.RegisterFactory(provider.GoogleFactory{})
	registry.RegisterFactory(provider.BedrockFactory{})
	registry.RegisterFactory(provider.NewZenFactory("zen", ""))

	for name, epCfg := range cfg.Endpoints {
		registry.RegisterFactory(provider.NewOpenAIChatCompatFactory(name, epCfg.Endpoint))
	}

	return registry
}

func applySupervisorOverrides(s *supervisor.Settings, o config.SupervisorConfig) {
	if o.Enabled != nil {
		s.Enabled = *o.Enabled
	}
	if o.ReserveTokens > 0 {
		s.ReserveTokens = o.ReserveTokens
	}
	if o.KeepRecentTokens > 0 {
		s.KeepRecentTokens = o.KeepRecentTokens
	}
	if o.MaxRetries > 0 {
		s.MaxRetries = o.MaxRetries
	}
	if o.BaseDelayMs > 0 {
		s.BaseDelayMs = o.BaseDelayMs
	}
	if o.MaxDelayMs > 0 {
		s.MaxDelayMs = o.MaxDelayMs
	}
}

// resolveSessionPath picks the jsonl file to use and reports whether it
// already exists and should be opened rather than created.
func resolveSessionPath(dataDir, flagSession string, flagContinue bool) (path string, resuming bool) {
	sessionsDir := filepath.Join(dataDir, "sessions")
	if err := os.MkdirAll(sessionsDir, 0750); err != nil {
		fmt.Printf("Warning: failed to create sessions dir: %v\n", err)
	}

	switch {
	case flagSession != "":
		return filepath.Join(sessionsDir, flagSession+".jsonl"), true
	case flagContinue:
		if id := latestSessionID(sessionsDir); id != "" {
			return filepath.Join(sessionsDir, id+".jsonl"), true
		}
		fallthrough
	default:
		return filepath.Join(sessionsDir, newSessionID()+".jsonl"), false
	}
}

func latestSessionID(sessionsDir string) string {
	entries, err := os.ReadDir(sessionsDir)
	if err != nil {
		return ""
	}
	var best string
	var bestMod time.Time
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best = strings.TrimSuffix(e.Name(), ".jsonl")
			bestMod = info.ModTime()
		}
	}
	return best
}

func newSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func serveMetrics(addr string, reg *metrics.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Str("addr", addr).Msg("metrics server exited")
	}
}

func setupFileLogging() error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	dataDir, err := config.DataDir()
	if err != nil {
		return err
	}

	logDir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logDir, 0750); err != nil {
		return err
	}

	logFile := filepath.Join(logDir, "agentcore.log")
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	log.Logger = log.Output(file)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	return nil
}
