package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"lograg/internal/command"
	"lograg/internal/domain"
	"lograg/internal/llm"
	"lograg/internal/rag"
	"lograg/internal/tui"
)

func newScanCmd(v *viper.Viper) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Build the index from the configured log locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd, v, nil)
			if err != nil {
				return err
			}
			defer a.close()

			rep, err := a.scanner().Scan(cmd.Context(), a.cfg.DataSources, force)
			if err != nil {
				return err
			}
			fmt.Fprint(a.out, rep.Summary())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", true, "rebuild even when an index exists")
	return cmd
}

func newRunCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the interactive shell, scanning first if there is no index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// The shell owns the terminal, so logs go to a file.
			ws, err := resolveDataDir(v)
			if err != nil {
				return err
			}
			logFile, err := os.OpenFile(filepath.Join(ws, "lograg.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
			if err != nil {
				return err
			}
			defer logFile.Close()

			a, err := loadApp(cmd, v, logFile)
			if err != nil {
				return err
			}
			defer a.close()

			rep, err := a.scanner().Scan(cmd.Context(), a.cfg.DataSources, false)
			if err != nil {
				return err
			}
			if !rep.Reused {
				fmt.Fprint(a.out, rep.Summary())
			}
			if !rep.Reused && !rep.IndexCreated {
				return fmt.Errorf("%w: nothing to ask about, check data_sources in %s", domain.ErrIndexNotFound, a.configPath)
			}

			c, err := a.completer()
			if err != nil {
				return err
			}
			m := tui.New(cmd.Context(), a.engine(c), a.ws, a.cfg.NumChunksToReturn)
			_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		},
	}
}

func newAskCmd(v *viper.Viper) *cobra.Command {
	var (
		k      int
		stream bool
		tools  bool
	)
	cmd := &cobra.Command{
		Use:   "ask QUESTION...",
		Short: "Answer one question and print the answer with its sources",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, v, nil)
			if err != nil {
				return err
			}
			defer a.close()
			c, err := a.completer()
			if err != nil {
				return err
			}
			engine := a.engine(c)
			question := strings.Join(args, " ")

			var onToken domain.TokenHandler
			if stream {
				onToken = func(tok string) { fmt.Fprint(a.out, tok) }
			}

			var res *domain.RetrievalResult
			if tools {
				caller, ok := c.(llm.ToolCaller)
				if !ok {
					return fmt.Errorf("--tools needs a provider with function calling, %s has none", c.Name())
				}
				res, err = command.NewDispatcher(engine, a.logger, a.metrics).WithK(k).
					Route(cmd.Context(), caller, question, a.completionOptions(), onToken)
			} else {
				res, err = engine.Ask(cmd.Context(), rag.Request{Question: question, K: k, Stream: stream, OnToken: onToken})
			}
			if err != nil {
				return err
			}
			if stream {
				fmt.Fprintln(a.out)
			} else {
				fmt.Fprintln(a.out, res.Answer)
			}
			printSources(a, res.Sources)
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 0, "entries to retrieve (default num_chunks_to_return)")
	cmd.Flags().BoolVar(&stream, "stream", false, "print the answer as it is generated")
	cmd.Flags().BoolVar(&tools, "tools", false, "let the model pick between answering and searching the logs")
	return cmd
}

func printSources(a *app, sources []domain.SearchResult) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintf(a.out, "\nSources (%d):\n", len(sources))
	for i, s := range sources {
		first, _, _ := strings.Cut(s.Entry.Text, "\n")
		fmt.Fprintf(a.out, "%3d. [%.3f] %s: %s\n", i+1, s.Score,
			filepath.Join(s.Entry.Metadata.SourceDirectory, s.Entry.Metadata.FileName), first)
	}
}

func newShowConfigCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "show-config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd, v, nil)
			if err != nil {
				return err
			}
			defer a.close()
			data, err := yaml.Marshal(a.cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "# %s\n%s", a.configPath, data)
			return nil
		},
	}
}

func resolveDataDir(v *viper.Viper) (string, error) {
	ws, err := workspaceFor(v)
	if err != nil {
		return "", err
	}
	return ws.DataDir(), ws.Ensure()
}
