package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/autoreply/internal/config"
	"github.com/nextlevelbuilder/autoreply/internal/providers"
)

type providerInfo struct {
	label     string
	modelHint string
}

// providerPriority is the auto-detection order for API keys found in the
// environment. First match wins.
var providerPriority = []string{"openai", "anthropic", "openrouter", "groq", "deepseek", "gemini", "mistral"}

var providerMap = map[string]providerInfo{
	"openai":     {"OpenAI", "gpt-4o-mini"},
	"anthropic":  {"Anthropic", "claude-3-5-haiku-latest"},
	"openrouter": {"OpenRouter", "openai/gpt-4o-mini"},
	"groq":       {"Groq", "llama-3.3-70b-versatile"},
	"deepseek":   {"DeepSeek", "deepseek-chat"},
	"gemini":     {"Gemini", "gemini-2.0-flash"},
	"mistral":    {"Mistral", "mistral-small-latest"},
}

func providerEnvKey(name string) string {
	return "AUTOREPLY_" + strings.ToUpper(name) + "_API_KEY"
}

func onboardCmd() *cobra.Command {
	var auto bool
	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Interactive setup wizard",
		Run: func(cmd *cobra.Command, args []string) {
			if auto {
				if !runAutoOnboard(resolveConfigPath()) {
					os.Exit(1)
				}
				return
			}
			runOnboard()
		},
	}
	cmd.Flags().BoolVar(&auto, "non-interactive", false, "configure from AUTOREPLY_* environment variables only")
	return cmd
}

// onboardAnswers collects the wizard input. Secrets never reach config.json;
// they are written to .env.local next to it.
type onboardAnswers struct {
	mode         string
	fallback     string
	provider     string
	apiKey       string
	channels     []string
	bridgeURL    string
	telegramTok  string
	delaySeconds string
	confirmed    bool
}

func runOnboard() {
	cfgPath := resolveConfigPath()
	a := onboardAnswers{
		mode:         "hybrid",
		provider:     "openai",
		fallback:     "Thanks for your message! We'll get back to you shortly.",
		delaySeconds: "0",
	}

	providerOpts := make([]huh.Option[string], 0, len(providerPriority))
	for _, name := range providerPriority {
		providerOpts = append(providerOpts, huh.NewOption(providerMap[name].label, name))
	}
	noAI := func() bool { return a.mode == "keyword" }

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("How should messages be answered?").
				Options(
					huh.NewOption("Keywords first, AI otherwise (hybrid)", "hybrid"),
					huh.NewOption("Keyword rules only", "keyword"),
					huh.NewOption("AI only", "ai"),
				).
				Value(&a.mode),
			huh.NewInput().
				Title("Fallback message").
				Description("Sent when AI is unavailable or fails.").
				Value(&a.fallback),
			huh.NewInput().
				Title("Response delay (seconds)").
				Value(&a.delaySeconds).
				Validate(validateDelay),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("AI provider").
				Options(providerOpts...).
				Value(&a.provider),
			huh.NewInput().
				Title("API key").
				EchoMode(huh.EchoModePassword).
				Value(&a.apiKey),
		).WithHideFunc(noAI),
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Channels").
				Options(huh.NewOptions("whatsapp", "telegram")...).
				Value(&a.channels),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("WhatsApp bridge URL").
				Placeholder("ws://localhost:3001").
				Value(&a.bridgeURL).
				Validate(validateBridgeURL),
		).WithHideFunc(func() bool { return !slices.Contains(a.channels, "whatsapp") }),
		huh.NewGroup(
			huh.NewInput().
				Title("Telegram bot token").
				EchoMode(huh.EchoModePassword).
				Value(&a.telegramTok).
				Validate(requireNonEmpty("bot token")),
		).WithHideFunc(func() bool { return !slices.Contains(a.channels, "telegram") }),
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Write %s?", cfgPath)).
				Affirmative("Save").
				Negative("Cancel").
				Value(&a.confirmed),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Setup cancelled.")
			return
		}
		fmt.Fprintf(os.Stderr, "onboard: %v\n", err)
		os.Exit(1)
	}
	if !a.confirmed {
		fmt.Println("Setup cancelled.")
		return
	}

	cfg, secrets := a.apply(config.Default())

	if cfg.AutoReply.ReplyMode != "keyword" && a.apiKey != "" {
		fmt.Printf("Verifying %s API key...", a.provider)
		if err := verifyProvider(a.provider, a.apiKey, cfg.AutoReply.AI.Model); err != nil {
			fmt.Printf(" WARNING: %v\n", err)
		} else {
			fmt.Println(" OK")
		}
	}

	if err := writeOnboardFiles(cfgPath, cfg, secrets); err != nil {
		fmt.Fprintf(os.Stderr, "onboard: %v\n", err)
		os.Exit(1)
	}
}

// apply turns the answers into a config and the env-only secrets.
func (a onboardAnswers) apply(cfg *config.Config) (*config.Config, map[string]string) {
	secrets := map[string]string{}

	cfg.AutoReply.ReplyMode = a.mode
	cfg.AutoReply.FallbackMessage = strings.TrimSpace(a.fallback)
	if d, err := parseDelay(a.delaySeconds); err == nil {
		cfg.AutoReply.ResponseDelaySeconds = d
	}

	if a.mode != "keyword" {
		cfg.AutoReply.AI.Provider = a.provider
		cfg.AutoReply.AI.Model = providerMap[a.provider].modelHint
		if a.apiKey != "" {
			secrets[providerEnvKey(a.provider)] = a.apiKey
		}
	}

	if slices.Contains(a.channels, "whatsapp") {
		cfg.Channels.WhatsApp.Enabled = true
		cfg.Channels.WhatsApp.BridgeURL = strings.TrimSpace(a.bridgeURL)
	}
	if slices.Contains(a.channels, "telegram") {
		cfg.Channels.Telegram.Enabled = true
		secrets["AUTOREPLY_TELEGRAM_TOKEN"] = strings.TrimSpace(a.telegramTok)
	}
	return cfg, secrets
}

func writeOnboardFiles(cfgPath string, cfg *config.Config, secrets map[string]string) error {
	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Printf("Config written to %s\n", cfgPath)

	if len(secrets) == 0 {
		return nil
	}
	envPath := filepath.Join(filepath.Dir(cfgPath), ".env.local")
	if err := writeEnvFile(envPath, secrets); err != nil {
		return fmt.Errorf("write secrets: %w", err)
	}
	fmt.Printf("Secrets written to %s\n\n", envPath)
	fmt.Printf("  source %s && ./autoreply\n", envPath)
	return nil
}

// writeEnvFile writes KEY='value' export lines, sorted, mode 0600.
func writeEnvFile(path string, vars map[string]string) error {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var sb strings.Builder
	for _, k := range keys {
		v := strings.ReplaceAll(vars[k], "'", `'\''`)
		fmt.Fprintf(&sb, "export %s='%s'\n", k, v)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(sb.String()), 0600)
}

// canAutoOnboard returns true if any AUTOREPLY_* credential is set,
// indicating the user wants non-interactive configuration (e.g. Docker).
func canAutoOnboard() bool {
	for _, name := range providerPriority {
		if os.Getenv(providerEnvKey(name)) != "" {
			return true
		}
	}
	return os.Getenv("AUTOREPLY_TELEGRAM_TOKEN") != "" || os.Getenv("AUTOREPLY_WHATSAPP_BRIDGE_URL") != ""
}

// runAutoOnboard writes a config derived from the environment. Credentials
// stay in the environment. Returns false on fatal error.
func runAutoOnboard(cfgPath string) bool {
	fmt.Println("Auto-onboard: environment variables detected, running non-interactive setup...")

	cfg := config.Default()
	provider, key := detectProvider()
	if v := os.Getenv("AUTOREPLY_AI_PROVIDER"); v != "" {
		provider, key = v, os.Getenv(providerEnvKey(v))
	}

	if provider == "" || key == "" {
		cfg.AutoReply.ReplyMode = "keyword"
		fmt.Println("  AI:       disabled (no provider API key), keyword replies only")
	} else {
		cfg.AutoReply.AI.Provider = provider
		if pi, ok := providerMap[provider]; ok {
			cfg.AutoReply.AI.Model = pi.modelHint
		}
		if v := os.Getenv("AUTOREPLY_AI_MODEL"); v != "" {
			cfg.AutoReply.AI.Model = v
		}
		fmt.Printf("  Provider: %s (model: %s)\n", provider, cfg.AutoReply.AI.Model)

		if err := verifyProvider(provider, key, cfg.AutoReply.AI.Model); err != nil {
			var verr *providerVerifyError
			if errors.As(err, &verr) && verr.fatal {
				fmt.Printf("  Provider verification FAILED: %v\n", err)
				return false
			}
			fmt.Printf("  Provider verification warning: %v\n", err)
		}
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		fmt.Printf("Auto-onboard: save config: %v\n", err)
		return false
	}
	fmt.Printf("  Config:   %s\n", cfgPath)
	return true
}

// detectProvider finds the first provider with an API key in the environment.
func detectProvider() (string, string) {
	for _, name := range providerPriority {
		if key := os.Getenv(providerEnvKey(name)); key != "" {
			return name, key
		}
	}
	return "", ""
}

// providerVerifyError holds the result of a provider connectivity probe.
type providerVerifyError struct {
	fatal   bool // bad credentials
	message string
}

func (e *providerVerifyError) Error() string { return e.message }

// verifyProvider sends a one-token chat request. 401/403 is fatal; anything
// else is reported as a warning.
func verifyProvider(name, apiKey, model string) error {
	prov, err := providers.New(name, apiKey, "", model)
	if err != nil {
		return &providerVerifyError{fatal: true, message: err.Error()}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_, err = prov.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: "hi"}},
		Model:    model,
		Options:  map[string]any{providers.OptMaxTokens: 1},
	})
	if err == nil {
		return nil
	}
	var httpErr *providers.HTTPError
	if errors.As(err, &httpErr) && (httpErr.Status == 401 || httpErr.Status == 403) {
		return &providerVerifyError{fatal: true, message: fmt.Sprintf("%s returned %d, invalid API key", name, httpErr.Status)}
	}
	return &providerVerifyError{message: fmt.Sprintf("%s: %v", name, err)}
}

func parseDelay(s string) (float64, error) {
	d, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, errors.New("not a number")
	}
	if d < 0 {
		return 0, errors.New("must not be negative")
	}
	return d, nil
}

func validateDelay(s string) error {
	_, err := parseDelay(s)
	return err
}

func validateBridgeURL(s string) error {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return errors.New("expected ws:// or wss:// URL")
	}
	return nil
}

func requireNonEmpty(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", what)
		}
		return nil
	}
}
