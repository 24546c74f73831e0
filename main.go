package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	orchestratorx "github.com/tanpawarit/chative-router/agent/agents/orchestrator"
	"github.com/tanpawarit/chative-router/agent/api"
	contractx "github.com/tanpawarit/chative-router/agent/contract"
	configx "github.com/tanpawarit/chative-router/pkg/config"
	logx "github.com/tanpawarit/chative-router/pkg/logger"
)

const closeTimeout = 15 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "chative",
		Short:         "Conversational router over specialist handlers",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			configx.SetEnvFile(envFile)
			logCfg, err := configx.New[logx.Config]("LOG")
			if err != nil {
				return fmt.Errorf("log config: %w", err)
			}
			logx.Init(*logCfg)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env", "", "env file exported before configuration is read")

	root.AddCommand(newServeCmd(), newChatCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer closeApp(a)

			serverCfg, err := configx.New[api.Config]("SERVER")
			if err != nil {
				return fmt.Errorf("server config: %w", err)
			}
			return api.NewServer(a.orch, *serverCfg).ListenAndServe(ctx)
		},
	}
}

func newChatCmd() *cobra.Command {
	var sessionID, userID, forced string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the router from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer closeApp(a)

			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s (empty line or ctrl-d to quit)\n", sessionID)
			return chatLoop(ctx, a.orch, cmd.InOrStdin(), cmd.OutOrStdout(), contractx.Request{
				SessionID:  sessionID,
				UserID:     userID,
				Specialist: forced,
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id to continue, a new one is generated when empty")
	cmd.Flags().StringVar(&userID, "user", "", "user id attached to the session")
	cmd.Flags().StringVar(&forced, "specialist", "", "force every message to this specialist")
	return cmd
}

func chatLoop(ctx context.Context, orch *orchestratorx.Orchestrator, in io.Reader, out io.Writer, base contractx.Request) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			return nil
		}

		req := base
		req.Message = text
		stream, err := orch.HandleStreaming(ctx, req)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		printStream(ctx, stream, out)
		if ctx.Err() != nil {
			return nil
		}
	}
}

func printStream(ctx context.Context, stream *orchestratorx.Stream, out io.Writer) {
	defer stream.Close()
	labeled := false
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-stream.Frames():
			if !ok {
				return
			}
			switch f.Type {
			case contractx.FrameChunk:
				if !labeled {
					fmt.Fprintf(out, "[%s] ", f.AgentUsed)
					labeled = true
				}
				fmt.Fprint(out, f.Content)
			case contractx.FrameEnd:
				fmt.Fprintln(out)
			case contractx.FrameError:
				fmt.Fprintf(out, "\nerror: %s\n", f.Error)
			}
		}
	}
}

func closeApp(a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}
