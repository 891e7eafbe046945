package main

import (
	"context"
	"encoding/json"
	"errors"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dshills/lexgraph/memory"
	"github.com/dshills/lexgraph/server"
)

type sessionFlags struct {
	user   string
	thread string
}

func (f *sessionFlags) register(cmd *cobra.Command, threadRequired bool) {
	cmd.Flags().StringVar(&f.user, "user", "local-user", "user id owning the session")
	cmd.Flags().StringVar(&f.thread, "thread", "", "thread id of the session")
	if threadRequired {
		_ = cmd.MarkFlagRequired("thread")
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lexgraph",
		Short:         "Durable legal research assistant with human review",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newAskCmd(),
		newResumeCmd(),
		newStateCmd(),
		newWorkerCmd(),
		newTokenCmd(),
	)
	return root
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the assistant over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if a.cfg.App.JWTSecret == "" {
				return errors.New("JWT_SECRET is required to serve")
			}

			srv := server.New(a.assistant, []byte(a.cfg.App.JWTSecret),
				server.WithEvents(a.events),
				server.WithLogger(a.log),
				server.WithGatherer(a.registry),
			)
			return srv.ListenAndServe(ctx, ":"+a.cfg.App.Port)
		},
	}
}

func newAskCmd() *cobra.Command {
	var f sessionFlags
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Start an answer cycle and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if f.thread == "" {
				f.thread = uuid.NewString()
			}
			res, err := a.assistant.Run(ctx, f.user, f.thread, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	f.register(cmd, false)
	return cmd
}

func newResumeCmd() *cobra.Command {
	var f sessionFlags
	cmd := &cobra.Command{
		Use:   "resume [feedback]",
		Short: "Answer a session waiting for human review",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.assistant.Resume(ctx, f.user, f.thread, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	f.register(cmd, true)
	return cmd
}

func newStateCmd() *cobra.Command {
	var f sessionFlags
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Print a session's persisted state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			snap, err := a.assistant.GetState(ctx, f.user, f.thread)
			if err != nil {
				return err
			}
			return printJSON(cmd, snap)
		},
	}
	f.register(cmd, true)
	return cmd
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume memory tasks queued after completed answer cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if cfg.Redis.URL == "" {
				return errors.New("REDIS_URL is required to run the worker")
			}
			q, err := memory.NewRedisQueue(ctx, cfg.Redis.URL, cfg.Redis.Queue, log)
			if err != nil {
				return err
			}
			defer func() { _ = q.Close() }()

			return q.Consume(ctx, func(ctx context.Context, t memory.Task) error {
				log.Info("worker", "memory task", map[string]interface{}{
					"user_id":    t.UserID,
					"thread_id":  t.ThreadID,
					"query":      t.Query,
					"answer_len": len(t.Answer),
					"queued_for": time.Since(t.CreatedAt).String(),
				})
				return nil
			})
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		user string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.App.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			tok, err := server.IssueToken([]byte(cfg.App.JWTSecret), user, ttl)
			if err != nil {
				return err
			}
			cmd.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "local-user", "user id to embed in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
