package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/autoreply/internal/config"
	"github.com/nextlevelbuilder/autoreply/internal/keyword"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect keyword reply rules",
	}
	cmd.AddCommand(rulesListCmd())
	cmd.AddCommand(rulesTestCmd())
	return cmd
}

func loadRules() ([]keyword.Rule, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	return cfg.Rules(), nil
}

func rulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List keyword rules in priority order",
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := loadRules()
			if err != nil {
				return err
			}
			printRules(os.Stdout, rules)
			return nil
		},
	}
}

func printRules(w io.Writer, rules []keyword.Rule) {
	if len(rules) == 0 {
		fmt.Fprintln(w, "No keyword rules configured.")
		return
	}
	rows := make([][]string, 0, len(rules))
	for i, r := range rules {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			strconv.FormatBool(r.Enabled),
			strings.Join(r.Keywords, ", "),
			r.Response,
		})
	}
	writeTable(w, []string{"#", "ENABLED", "KEYWORDS", "RESPONSE"}, rows)
}

func rulesTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <text>",
		Short: "Show which rule would answer a message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := loadRules()
			if err != nil {
				return err
			}
			if !explainMatch(os.Stdout, keyword.Build(rules), strings.Join(args, " ")) {
				os.Exit(2)
			}
			return nil
		},
	}
}

// explainMatch prints the lookup result for text and reports whether a rule matched.
func explainMatch(w io.Writer, idx *keyword.Index, text string) bool {
	m, ok := idx.Lookup(keyword.Normalize(text))
	if !ok {
		fmt.Fprintf(w, "no rule matches %q (%d enabled rules)\n", text, idx.Len())
		return false
	}
	how := "contains"
	if m.Fuzzy {
		how = "fuzzy"
	}
	fmt.Fprintf(w, "keyword:  %s (%s)\n", m.Keyword, how)
	fmt.Fprintf(w, "response: %s\n", m.Rule.Response)
	return true
}
