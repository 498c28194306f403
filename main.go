package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vicentereig/whatsapp-export/internal/bridge"
	"github.com/vicentereig/whatsapp-export/internal/delivery"
	"github.com/vicentereig/whatsapp-export/internal/export"
	"github.com/vicentereig/whatsapp-export/internal/logger"
	"github.com/vicentereig/whatsapp-export/internal/privileged"
	"github.com/vicentereig/whatsapp-export/internal/progress"
	"github.com/vicentereig/whatsapp-export/internal/store"
	"github.com/vicentereig/whatsapp-export/internal/types"
)

var (
	// version is overridden at build time via -ldflags "-X main.version=X.Y.Z"
	version = "dev"

	logLevel string
)

// result is the JSON envelope printed on stdout by every command.
type result struct {
	Success bool    `json:"success"`
	Data    any     `json:"data"`
	Error   *string `json:"error"`
}

func printResult(data any) {
	b, _ := json.Marshal(result{Success: true, Data: data})
	fmt.Println(string(b))
}

func printError(err error) {
	msg := err.Error()
	b, _ := json.Marshal(result{Success: false, Error: &msg})
	fmt.Println(string(b))
}

func main() {
	root := &cobra.Command{
		Use:     "wa-export",
		Short:   "Cross-context WhatsApp chat export bridge",
		Version: version,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")

	root.AddCommand(serveCmd(), exportCmd(), pingCmd(), contactsCmd(), importCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	log, err := logger.New(logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return log
}

func serveCmd() *cobra.Command {
	var storeDir, sockPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the privileged context: serve the message store over the bridge socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()

			absStore, _ := filepath.Abs(storeDir)
			st, err := store.NewMessageStore(filepath.Join(absStore, "messages.db"))
			if err != nil {
				return err
			}
			defer st.Close()

			listener, err := bridge.Listen(sockPath)
			if err != nil {
				return err
			}
			defer listener.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				listener.Close()
			}()

			log.Info("Privileged context listening", "socket", sockPath, "store", absStore)
			for {
				transport, err := listener.Accept()
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}

				ch := bridge.New(transport, log)
				handler := privileged.NewHandler(st, ch.Emit, filepath.Join(absStore, "zips"), log)
				ch.OnRequest(handler.Handle)
				go func() {
					if err := ch.Run(ctx); err != nil && ctx.Err() == nil {
						log.Info("Bridge connection closed", "error", err)
					}
				}()
			}
		},
	}

	cmd.Flags().StringVar(&storeDir, "store", "./store", "storage directory")
	cmd.Flags().StringVar(&sockPath, "socket", defaultSocket(), "bridge socket path")
	return cmd
}

func exportCmd() *cobra.Command {
	var (
		sockPath, outDir, format, chatID string
		dateFrom, dateTo                 string
		limit                            int
		timestamps, senders              bool
		images, videos, audios, docs     bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Run one export against the privileged context",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()

			f, err := types.ParseFormat(format)
			if err != nil {
				printError(err)
				return err
			}

			settings := types.ExportSettings{
				Format:            f,
				MessageLimit:      limit,
				IncludeTimestamps: timestamps,
				IncludeSender:     senders,
				Media:             types.MediaToggles{Images: images, Videos: videos, Audios: audios, Docs: docs},
				ChatID:            chatID,
			}
			if settings.DateFrom, err = parseDate(dateFrom); err != nil {
				printError(err)
				return err
			}
			if settings.DateTo, err = parseDate(dateTo); err != nil {
				printError(err)
				return err
			}

			transport, err := bridge.Dial(sockPath)
			if err != nil {
				printError(err)
				return err
			}
			ch := bridge.New(transport, log)
			defer ch.Close()

			surface := privileged.NewSurface(ch)
			sink := newConsoleSink(log)
			deliverer, err := delivery.NewDirSink(outDir, log)
			if err != nil {
				printError(err)
				return err
			}

			// "Whatever is currently open" on the privileged side, probed with
			// a one-message history call.
			localChat := func(ctx context.Context) (types.ChatDescriptor, error) {
				res, err := surface.ActiveChatMessages(ctx, privileged.HistoryRequest{Limit: 1, MaxLoads: 1})
				if err != nil || !res.OK {
					return types.ChatDescriptor{}, export.ErrNoChatSelected
				}
				return res.Target, nil
			}

			orch := export.NewOrchestrator(surface, sink, deliverer, localChat, log)
			ch.OnEvent(orch.HandleEvent)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				if err := ch.Run(ctx); err != nil && ctx.Err() == nil {
					log.Debug("Bridge connection closed", "error", err)
				}
			}()
			go func() {
				<-ctx.Done()
				orch.CancelExport()
			}()

			orch.StartExport(settings)

			select {
			case count := <-sink.completed:
				printResult(map[string]any{"exported": true, "messages": count, "dir": outDir})
				return nil
			case msg := <-sink.failed:
				err := fmt.Errorf("%s", msg)
				printError(err)
				return err
			}
		},
	}

	cmd.Flags().StringVar(&sockPath, "socket", defaultSocket(), "bridge socket path")
	cmd.Flags().StringVar(&outDir, "out", "./exports", "delivery directory")
	cmd.Flags().StringVar(&format, "format", "txt", "document format (txt|csv|json|html)")
	cmd.Flags().StringVar(&chatID, "chat", "", "chat id (default: active chat)")
	cmd.Flags().IntVar(&limit, "limit", types.UnboundedLimit, "message limit (-1 = full history)")
	cmd.Flags().StringVar(&dateFrom, "from", "", "inclusive start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&dateTo, "to", "", "inclusive end date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&timestamps, "timestamps", true, "include timestamps")
	cmd.Flags().BoolVar(&senders, "senders", true, "include sender names")
	cmd.Flags().BoolVar(&images, "images", false, "export images")
	cmd.Flags().BoolVar(&videos, "videos", false, "export videos")
	cmd.Flags().BoolVar(&audios, "audios", false, "export audio messages")
	cmd.Flags().BoolVar(&docs, "docs", false, "export documents")
	return cmd
}

func pingCmd() *cobra.Command {
	var sockPath string

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check the bridge round-trip to the privileged context",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()

			transport, err := bridge.Dial(sockPath)
			if err != nil {
				printError(err)
				return err
			}
			ch := bridge.New(transport, log)
			defer ch.Close()
			go ch.Run(context.Background())

			start := time.Now()
			if err := privileged.NewSurface(ch).Ping(context.Background()); err != nil {
				printError(err)
				return err
			}
			printResult(map[string]any{"connected": true, "rtt_ms": time.Since(start).Milliseconds()})
			return nil
		},
	}

	cmd.Flags().StringVar(&sockPath, "socket", defaultSocket(), "bridge socket path")
	return cmd
}

func contactsCmd() *cobra.Command {
	var sockPath string

	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "List contacts known to the privileged context",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()

			transport, err := bridge.Dial(sockPath)
			if err != nil {
				printError(err)
				return err
			}
			ch := bridge.New(transport, log)
			defer ch.Close()
			go ch.Run(context.Background())

			contacts, err := privileged.NewSurface(ch).Contacts(context.Background())
			if err != nil {
				printError(err)
				return err
			}
			printResult(contacts)
			return nil
		},
	}

	cmd.Flags().StringVar(&sockPath, "socket", defaultSocket(), "bridge socket path")
	return cmd
}

// chatDump is the import file format: one entry per chat with its history.
type chatDump struct {
	Chat     types.ChatDescriptor `json:"chat"`
	Messages []types.RawMessage   `json:"messages"`
}

func importCmd() *cobra.Command {
	var storeDir, file string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load a JSON message dump into the privileged store",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				printError(err)
				return err
			}
			var dumps []chatDump
			if err := json.Unmarshal(data, &dumps); err != nil {
				printError(fmt.Errorf("parse dump: %w", err))
				return err
			}

			absStore, _ := filepath.Abs(storeDir)
			st, err := store.NewMessageStore(filepath.Join(absStore, "messages.db"))
			if err != nil {
				printError(err)
				return err
			}
			defer st.Close()

			total := 0
			for _, dump := range dumps {
				last := time.Unix(0, 0)
				for _, msg := range dump.Messages {
					if t := time.Unix(msg.Timestamp, 0); t.After(last) {
						last = t
					}
				}
				if err := st.UpsertChat(dump.Chat, last); err != nil {
					printError(err)
					return err
				}
				for _, msg := range dump.Messages {
					if err := st.InsertMessage(dump.Chat.ID, msg); err != nil {
						printError(err)
						return err
					}
					total++
				}
			}

			printResult(map[string]any{"chats": len(dumps), "messages": total})
			return nil
		},
	}

	cmd.Flags().StringVar(&storeDir, "store", "./store", "storage directory")
	cmd.Flags().StringVar(&file, "file", "", "dump file to import")
	cmd.MarkFlagRequired("file")
	return cmd
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return &t, nil
}

func defaultSocket() string {
	return filepath.Join(os.TempDir(), "wa-export.sock")
}

// consoleSink relays export events to the terminal and signals the terminal
// event to the waiting command.
type consoleSink struct {
	log       *slog.Logger
	completed chan int
	failed    chan string
}

func newConsoleSink(log *slog.Logger) *consoleSink {
	return &consoleSink{
		log:       log.With("component", "cli"),
		completed: make(chan int, 1),
		failed:    make(chan string, 1),
	}
}

func (s *consoleSink) Progress(u progress.Update) {
	fmt.Fprintf(os.Stderr, "\r[%3d%%] %s", u.Percent, u.Status)
}

func (s *consoleSink) MediaProgress(ev progress.MediaEvent) {
	s.log.Debug("Media progress", "kind", ev.Kind, "current", ev.Current, "total", ev.Total, "failed", ev.Failed)
}

func (s *consoleSink) ChatUpdate(chat types.ChatDescriptor) {
	s.log.Info("Exporting chat", "name", chat.Name, "group", chat.IsGroup)
}

func (s *consoleSink) Complete(count int) {
	fmt.Fprintln(os.Stderr)
	s.completed <- count
}

func (s *consoleSink) Error(message string) {
	fmt.Fprintln(os.Stderr)
	s.failed <- message
}
