package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tgsearchbot/toolloop"
)

var (
	markerColor = color.New(color.FgCyan, color.Bold)
	errorColor  = color.New(color.FgRed)
	promptColor = color.New(color.FgGreen, color.Bold)
)

func (a *app) newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the model; reads lines from stdin when no message is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := a.setup(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ts, err := buildTools(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer ts.Close()

			noStream, _ := cmd.Flags().GetBool("no-stream")
			s := &session{
				svc:     buildService(cfg, ts.reg, logger),
				model:   cfg.Backend.Model,
				system:  cfg.SystemPrompt,
				backend: cfg.BackendConfig(),
				marker:  cfg.Tools.Marker,
				stream:  !noStream,
				out:     cmd.OutOrStdout(),
				errOut:  cmd.ErrOrStderr(),
			}
			if len(args) > 0 {
				return s.turn(ctx, strings.Join(args, " "))
			}
			return s.repl(ctx, cmd.InOrStdin())
		},
	}
	cmd.Flags().Bool("no-stream", false, "Wait for the whole answer instead of streaming tokens.")
	return cmd
}

// session is one conversation. History holds completed user/assistant turns.
type session struct {
	svc     toolloop.Service
	model   string
	system  string
	backend toolloop.BackendConfig
	marker  string
	stream  bool
	out     io.Writer
	errOut  io.Writer
	history []toolloop.Message
}

func (s *session) repl(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		_, _ = promptColor.Fprint(s.out, "> ")
		if !sc.Scan() {
			_, _ = fmt.Fprintln(s.out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			s.history = nil
			continue
		}
		if err := s.turn(ctx, line); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

// turn sends one user message and prints the answer. Failed responses are printed, not returned.
func (s *session) turn(ctx context.Context, text string) error {
	req := toolloop.NewRequest(s.model, append(s.history, toolloop.UserMessage(text))...).WithSystemPrompt(s.system)
	req.Backend = s.backend

	var (
		resp toolloop.Response
		err  error
	)
	if s.stream {
		resp, err = s.streamTurn(ctx, req)
	} else {
		resp, err = s.svc.Execute(ctx, req)
		if err == nil && resp.IsSuccess {
			_, _ = fmt.Fprint(s.out, resp.Text)
		}
	}
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(s.out)
	if !resp.IsSuccess {
		_, _ = errorColor.Fprintf(s.errOut, "error: %s\n", resp.ErrorMessage)
		return nil
	}
	s.history = append(s.history, toolloop.UserMessage(text), toolloop.AssistantMessage(toolloop.CleanResponse(resp.Text)))
	return nil
}

func (s *session) streamTurn(ctx context.Context, req toolloop.Request) (toolloop.Response, error) {
	st, err := s.svc.ExecuteStream(ctx, req)
	if err != nil {
		return toolloop.Response{}, err
	}
	for tok := range st.Tokens() {
		if tok == s.marker {
			_, _ = markerColor.Fprint(s.out, tok)
			continue
		}
		_, _ = fmt.Fprint(s.out, tok)
	}
	return st.Wait(ctx)
}
