package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/user/adaptivechat/internal/agent"
	"github.com/user/adaptivechat/internal/chat"
	"github.com/user/adaptivechat/internal/classifier"
	"github.com/user/adaptivechat/internal/config"
	ctxengine "github.com/user/adaptivechat/internal/context"
	"github.com/user/adaptivechat/internal/dispatch"
	"github.com/user/adaptivechat/internal/fastanswer"
	"github.com/user/adaptivechat/internal/messages"
	"github.com/user/adaptivechat/internal/session"
	"github.com/user/adaptivechat/internal/state"
	"github.com/user/adaptivechat/pkg/transport"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "adaptivechat",
	Short:         "Chat client that routes each message to a fast answer or the agent",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultPath(), "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	// .env is optional
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// runtime is the wiring shared by every conversation in one process.
type runtime struct {
	transport  *transport.Client
	classifier *classifier.Client
	fast       *fastanswer.Client
	agent      *agent.Client
	sessions   *session.Manager
	messages   *messages.HTTPSource
	window     *ctxengine.Window
	dispatch   dispatch.Config
}

func newRuntime(cfg *config.Config) (*runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var token transport.TokenSource
	if cfg.API.Token != "" {
		token = transport.StaticToken(cfg.API.Token)
	}
	tc := transport.New(&transport.Config{
		BaseURL:          cfg.API.BaseURL,
		Token:            token,
		FirstByteTimeout: cfg.FirstByteTimeout(),
	})

	window, err := ctxengine.NewWindow(cfg.Classifier.MaxContextEntries, cfg.Classifier.MaxContextTokens, cfg.Classifier.TokenizerModel)
	if err != nil {
		return nil, fmt.Errorf("create context window: %w", err)
	}
	instructions, err := ctxengine.ParseInstructions(cfg.Classifier.SystemInstructions)
	if err != nil {
		return nil, err
	}
	threshold := cfg.Classifier.ConfidenceThreshold

	return &runtime{
		transport:  tc,
		classifier: classifier.New(tc, window),
		fast:       fastanswer.New(tc, window),
		agent:      agent.New(tc),
		sessions:   session.NewManager(state.NewStreamStore(), cfg.StreamTTL()),
		messages:   messages.NewHTTPSource(tc),
		window:     window,
		dispatch: dispatch.Config{
			ConfidenceThreshold: &threshold,
			Model:               cfg.Classifier.Model,
			Instructions:        instructions,
		},
	}, nil
}

func (rt *runtime) newSession() *chat.Session {
	return chat.New(chat.Deps{
		Classifier: rt.classifier,
		FastAnswer: rt.fast,
		Agent:      rt.agent,
		Sessions:   rt.sessions,
		Messages:   rt.messages,
		Window:     rt.window,
		Config:     rt.dispatch,
	})
}
