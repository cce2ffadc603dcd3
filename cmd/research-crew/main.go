package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mikeboe/research-crew/pkg/config"
	"github.com/mikeboe/research-crew/pkg/research"
	"github.com/mikeboe/research-crew/pkg/research/tools"
	"github.com/mikeboe/research-crew/pkg/runner"
)

var (
	outputFile string
	noSave     bool
	quiet      bool
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	dimStyle   = lipgloss.NewStyle().Faint(true)
	ruleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

const timeLayout = "2006-01-02 15:04:05"

func nowStamp() string {
	return time.Now().Format(timeLayout)
}

func rule(ch string) string {
	return ruleStyle.Render(strings.Repeat(ch, 50))
}

func main() {
	// It's okay if .env doesn't exist, as long as env vars are set
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("Setup error: "+err.Error()))
		os.Exit(1)
	}

	rootCmd := &cobra.Command{
		Use:   "research-crew [topic...]",
		Short: "Research a topic on the web and write an article about it",
		Long: `research-crew runs a two-agent pipeline: a Senior Researcher gathers the latest
trends on a topic with web search, then a Writer turns the findings into a markdown article.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrew(cmd, args, cfg)
		},
	}
	rootCmd.Flags().StringVarP(&outputFile, "output", "o", "", "save the article to this file without prompting")
	rootCmd.Flags().BoolVar(&noSave, "no-save", false, "do not save the article to a file")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "only log warnings and errors")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "keys",
		Short: "Check that the required API keys are set",
		Run: func(cmd *cobra.Command, args []string) {
			keys := config.NewKeyState(cfg.EnvKeys()).Effective()
			printKeyCheck(cmd.OutOrStdout(), keys)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := cfg.SlogLevel()
	if quiet && level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func printKeyCheck(out io.Writer, keys config.APIKeys) bool {
	var missing *config.MissingCredentialsError
	if err := keys.Validate(); errors.As(err, &missing) {
		fmt.Fprintln(out, warnStyle.Render("Missing API Keys:"))
		for _, k := range missing.Missing {
			fmt.Fprintf(out, "   - %s\n", k)
		}
		fmt.Fprintln(out, dimStyle.Render("Please set these in your .env file or the web UI sidebar"))
		return false
	}
	fmt.Fprintln(out, okStyle.Render("All required API keys are present"))
	return true
}

func runCrew(cmd *cobra.Command, args []string, cfg *config.Config) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render("AI Research & Writing Crew - Standalone Mode"))
	fmt.Fprintln(out, rule("="))

	p := newPrompter(cmd.InOrStdin(), out)
	topic, err := resolveTopic(args, p, config.DefaultTopic)
	if err != nil {
		return err
	}

	file := outputFile
	switch {
	case noSave:
		file = ""
	case file == "":
		if file, err = resolveOutputFile(p, cfg.OutputFile); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	r := runner.New(research.NewADKEngine(logger), cfg.Model, logger)
	r.SearchOptions = []tools.Option{
		tools.WithBaseURL(cfg.SerperURL),
		tools.WithMaxResults(cfg.SearchResults),
	}

	keys := config.NewKeyState(cfg.EnvKeys()).Effective()

	fmt.Fprintln(out)
	fmt.Fprintln(out, titleStyle.Render("Starting AI Research & Writing Crew"))
	fmt.Fprintf(out, "Topic: %s\n", topic)
	fmt.Fprintln(out, rule("-"))

	if !printKeyCheck(out, keys) {
		fmt.Fprintln(out, errStyle.Render("\nTask failed. Please check the errors above."))
		return nil
	}

	res, err := r.Run(ctx, keys, runner.Request{
		Topic:      topic,
		Verbose:    !quiet,
		OutputFile: file,
		OnStep: func(s runner.Step) {
			if s.Label == runner.StepInitializing {
				fmt.Fprintf(out, "Started at: %s\n", dimStyle.Render(nowStamp()))
			}
			fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("[%3d%%] %s", s.Progress, s.Label)))
		},
	})
	if err != nil {
		printFailure(ctx, out, err)
		return nil
	}

	fmt.Fprintln(out, rule("-"))
	fmt.Fprintln(out, okStyle.Render("Crew execution completed!"))
	fmt.Fprintf(out, "Execution time: %.2f seconds\n", res.Elapsed.Seconds())
	fmt.Fprintf(out, "Completed at: %s\n", res.CompletedAt.Format(timeLayout))

	fmt.Fprintln(out, titleStyle.Render("\nGenerated Article:"))
	fmt.Fprintln(out, rule("="))
	fmt.Fprintln(out, res.Article)
	fmt.Fprintln(out, rule("="))
	fmt.Fprintln(out, okStyle.Render("\nTask completed successfully!"))

	switch {
	case res.FileError != "":
		fmt.Fprintln(out, warnStyle.Render("Warning: Could not save to file: "+res.FileError))
	case res.OutputFile != "":
		fmt.Fprintf(out, "Article saved to: %s\n", res.OutputFile)
	}
	return nil
}

func printFailure(ctx context.Context, out io.Writer, err error) {
	if ctx.Err() != nil {
		fmt.Fprintln(out, warnStyle.Render("\nExecution interrupted by user"))
		return
	}

	category := runner.Classify(err)
	fmt.Fprintln(out, errStyle.Render("Error during execution: "+err.Error()))
	fmt.Fprintln(out, warnStyle.Render(category.Title()))
	fmt.Fprintln(out, dimStyle.Render(runner.Hint(category)))
	fmt.Fprintln(out, errStyle.Render("\nTask failed. Please check the errors above."))
}
