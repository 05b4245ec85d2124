package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/autoreply/internal/config"
	"github.com/nextlevelbuilder/autoreply/internal/keyword"
	"github.com/nextlevelbuilder/autoreply/internal/stats"
)

func TestWriteTableAlignsWideRunes(t *testing.T) {
	var buf bytes.Buffer
	writeTable(&buf, []string{"K", "V"}, [][]string{{"a", "你好"}, {"bbb", "x"}})

	want := "K    V\n---  ----\na    你好\nbbb  x\n"
	if buf.String() != want {
		t.Fatalf("unexpected table:\n%q\nwant:\n%q", buf.String(), want)
	}
}

func TestPrintCounters(t *testing.T) {
	var buf bytes.Buffer
	printCounters(&buf, stats.Counters{TotalReplies: 4, KeywordMatches: 3, FallbackReplies: 1})
	out := buf.String()
	for _, want := range []string{"keyword   3        75.0%", "ai        0        0.0%", "total     4        100.0%"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestExplainMatch(t *testing.T) {
	idx := keyword.Build([]keyword.Rule{
		{Keywords: []string{"price"}, Response: "See our price list", Enabled: true},
	})

	var buf bytes.Buffer
	if !explainMatch(&buf, idx, "What is the PRICE?") {
		t.Fatalf("expected a match, got:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "keyword:  price (contains)") {
		t.Fatalf("unexpected output:\n%s", buf.String())
	}

	buf.Reset()
	if explainMatch(&buf, idx, "good morning") {
		t.Fatal("expected no match")
	}
	if !strings.Contains(buf.String(), "1 enabled rules") {
		t.Fatalf("unexpected output:\n%s", buf.String())
	}
}

func TestPrintRulesEmpty(t *testing.T) {
	var buf bytes.Buffer
	printRules(&buf, nil)
	if !strings.Contains(buf.String(), "No keyword rules") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}

func TestOnboardApplyKeepsSecretsOutOfConfig(t *testing.T) {
	a := onboardAnswers{
		mode:         "hybrid",
		provider:     "groq",
		apiKey:       "gsk-secret",
		fallback:     " Back soon ",
		channels:     []string{"telegram", "whatsapp"},
		bridgeURL:    "ws://localhost:3001",
		telegramTok:  "123:abc",
		delaySeconds: "1.5",
	}
	cfg, secrets := a.apply(config.Default())

	if cfg.AutoReply.AI.Provider != "groq" || cfg.AutoReply.AI.Model != "llama-3.3-70b-versatile" {
		t.Fatalf("unexpected ai config: %+v", cfg.AutoReply.AI)
	}
	if cfg.AutoReply.FallbackMessage != "Back soon" || cfg.AutoReply.ResponseDelaySeconds != 1.5 {
		t.Fatalf("unexpected auto_reply config: %+v", cfg.AutoReply)
	}
	if !cfg.Channels.Telegram.Enabled || cfg.Channels.Telegram.Token != "" {
		t.Fatalf("telegram token must stay out of config: %+v", cfg.Channels.Telegram)
	}
	if !cfg.Channels.WhatsApp.Enabled || cfg.Channels.WhatsApp.BridgeURL != "ws://localhost:3001" {
		t.Fatalf("unexpected whatsapp config: %+v", cfg.Channels.WhatsApp)
	}
	if cfg.Providers.Groq.APIKey != "" {
		t.Fatal("api key must stay out of config")
	}
	if secrets["AUTOREPLY_GROQ_API_KEY"] != "gsk-secret" || secrets["AUTOREPLY_TELEGRAM_TOKEN"] != "123:abc" {
		t.Fatalf("unexpected secrets: %v", secrets)
	}
}

func TestOnboardApplyKeywordModeSkipsProvider(t *testing.T) {
	a := onboardAnswers{mode: "keyword", provider: "openai", apiKey: "sk-x", delaySeconds: "0"}
	_, secrets := a.apply(config.Default())
	if len(secrets) != 0 {
		t.Fatalf("keyword mode needs no secrets, got %v", secrets)
	}
}

func TestWriteEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env.local")
	err := writeEnvFile(path, map[string]string{
		"B_KEY": "it's",
		"A_KEY": "plain",
	})
	if err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	want := "export A_KEY='plain'\nexport B_KEY='it'\\''s'\n"
	if string(data) != want {
		t.Fatalf("got %q, want %q", data, want)
	}
	if st, _ := os.Stat(path); st.Mode().Perm() != 0600 {
		t.Fatalf("env file mode = %v, want 0600", st.Mode().Perm())
	}
}

func TestMigrateURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"postgres://u:p@db:5432/x?sslmode=disable", "pgx5://u:p@db:5432/x?sslmode=disable"},
		{"postgresql://db/x", "pgx5://db/x"},
		{"pgx5://db/x", "pgx5://db/x"},
	}
	for _, tt := range tests {
		if got := migrateURL(tt.in); got != tt.want {
			t.Errorf("migrateURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidators(t *testing.T) {
	if validateDelay("2.5") != nil || validateDelay("-1") == nil || validateDelay("soon") == nil {
		t.Fatal("validateDelay misbehaves")
	}
	if validateBridgeURL("ws://localhost:3001") != nil || validateBridgeURL("http://x") == nil || validateBridgeURL("ws://") == nil {
		t.Fatal("validateBridgeURL misbehaves")
	}
	if requireNonEmpty("token")("  ") == nil {
		t.Fatal("blank token must be rejected")
	}
}
