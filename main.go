package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fabfab/docsearch/api"
	"github.com/fabfab/docsearch/bootstrap"
	"github.com/fabfab/docsearch/config"
	"github.com/fabfab/docsearch/ingestion"
	"github.com/fabfab/docsearch/session"
	"github.com/fabfab/docsearch/shell"
	"github.com/fabfab/docsearch/telemetry"
	"github.com/fabfab/docsearch/ui"
)

const shutdownTimeout = 10 * time.Second

var (
	cfg               config.Config
	logger            *zap.Logger
	shutdownTelemetry func(context.Context) error
)

var rootCmd = &cobra.Command{
	Use:          "docsearch",
	Short:        "Search and ask questions about internal company documents",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()

		var err error
		logger, err = telemetry.NewLogger(cfg.Log)
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		shutdownTelemetry, err = telemetry.InitTelemetry(cmd.Context(), cfg.Log.Dir)
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if shutdownTelemetry == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := shutdownTelemetry(ctx)
		_ = logger.Sync()
		return err
	},
}

// serveCmd runs the chat web application.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat web application",
	RunE:  runServe,
}

// askCmd answers from the terminal. Without --question it reads questions
// from stdin until EOF.
var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Ask a question from the terminal",
	RunE:  runAsk,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Index documents (md, txt, pdf, csv) from a directory",
	RunE:  runIngest,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all indexed documents from Postgres and Neo4j",
	RunE:  runClear,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (defaults to HTTP_ADDR)")

	askCmd.Flags().String("question", "", "question to ask; reads stdin when empty")
	askCmd.Flags().String("mode", "", "document_search or contact_qa (defaults to DEFAULT_MODE)")
	askCmd.Flags().Int("limit", 0, "number of documents to retrieve (defaults to RETRIEVAL_TOP_K)")

	ingestCmd.Flags().String("dir", "", "directory containing documents (defaults to DATA_DIR)")

	clearCmd.Flags().Bool("confirm", false, "skip confirmation prompt")

	rootCmd.AddCommand(serveCmd, askCmd, ingestCmd, clearCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.HTTPAddr
	}

	initializer := bootstrap.New(cfg, bootstrap.DefaultBackendFactory, logger)
	defer func() {
		if err := initializer.Close(); err != nil {
			logger.Warn("close backend", zap.Error(err))
		}
	}()

	srv, err := api.New(cfg, session.NewStore(cfg.SessionTTL), initializer, ingestion.NewRunner(cfg, logger), logger)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-cmd.Context().Done():
	}

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	question, _ := cmd.Flags().GetString("question")
	modeFlag, _ := cmd.Flags().GetString("mode")
	limit, _ := cmd.Flags().GetInt("limit")

	askCfg := cfg
	if limit > 0 {
		askCfg.TopK = limit
	}

	var selection *session.Mode
	if modeFlag != "" {
		mode, err := session.ParseMode(modeFlag)
		if err != nil {
			return err
		}
		selection = &mode
	}

	initializer := bootstrap.New(askCfg, bootstrap.DefaultBackendFactory, logger)
	defer func() {
		if err := initializer.Close(); err != nil {
			logger.Warn("close backend", zap.Error(err))
		}
	}()
	controller := shell.New(session.New("cli"), initializer, logger)
	out := cmd.OutOrStdout()

	if strings.TrimSpace(question) != "" {
		frame := ui.NewFrame()
		state := controller.Pass(cmd.Context(), shell.Input{Question: question, Mode: selection}, frame)
		frame.Close()
		if err := ui.RenderText(out, frame); err != nil {
			return err
		}
		if state == shell.StateFailed {
			return shell.ErrFailed
		}
		return nil
	}

	inputs := make(chan shell.Input)
	go readQuestions(cmd.Context(), cmd.InOrStdin(), out, selection, inputs)

	sess := controller.Session()
	printer := &transcript{w: out}
	err := controller.Run(cmd.Context(), inputs, func(frame *ui.Frame) error {
		sess.Lock()
		logged := sess.Len()
		sess.Unlock()
		return printer.print(frame, logged)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// readQuestions sends one input per stdin line. The first input carries the
// mode selected on the command line.
func readQuestions(ctx context.Context, in io.Reader, out io.Writer, selection *session.Mode, inputs chan<- shell.Input) {
	defer close(inputs)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return
		}
		input := shell.Input{Question: scanner.Text(), Mode: selection}
		selection = nil
		select {
		case inputs <- input:
		case <-ctx.Done():
			return
		}
	}
}

// transcript prints what each pass added to the conversation. The pages it
// receives replay the whole log, so it skips the bubbles of messages logged
// before the pass and shows the greeting only once.
type transcript struct {
	w       io.Writer
	logged  int
	greeted bool
}

// print writes the new bubbles and errors of frame. logged is the log length
// after the pass that produced frame.
func (t *transcript) print(frame *ui.Frame, logged int) error {
	replayed := t.logged
	if t.logged == 0 {
		// The greeting stands in for an empty log.
		replayed = 1
	}

	var (
		fresh   []*ui.Element
		bubbles int
	)
	for _, el := range frame.Elements {
		switch el.Kind {
		case ui.KindChatMessage:
			bubbles++
			if bubbles > replayed {
				fresh = append(fresh, el)
				continue
			}
			if t.logged == 0 && !t.greeted {
				fresh = append(fresh, el)
				t.greeted = true
			}
		case ui.KindError, ui.KindException:
			fresh = append(fresh, el)
		}
	}
	t.logged = logged
	return ui.RenderText(t.w, &ui.Frame{Elements: fresh})
}

func runIngest(cmd *cobra.Command, args []string) error {
	dir, _ := cmd.Flags().GetString("dir")

	report, err := ingestion.NewRunner(cfg, logger).Ingest(cmd.Context(), dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ingested %d, unchanged %d, skipped %d, failed %d\n",
		report.Ingested, report.Unchanged, report.Skipped, report.Failed)
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	confirmed, _ := cmd.Flags().GetBool("confirm")

	if !confirmed {
		fmt.Fprint(cmd.OutOrStdout(), "This will permanently delete indexed documents from Postgres and Neo4j. Continue? [y/N]: ")
		scanner := bufio.NewScanner(cmd.InOrStdin())
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read confirmation: %w", err)
			}
			logger.Info("clear aborted")
			return nil
		}
		answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if answer != "y" && answer != "yes" {
			logger.Info("clear aborted")
			return nil
		}
	}

	return ingestion.NewRunner(cfg, logger).Clear(cmd.Context())
}
