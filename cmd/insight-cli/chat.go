package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nurbua/Image-Insight/internal/cli"
	"github.com/nurbua/Image-Insight/internal/conversation"
	"github.com/nurbua/Image-Insight/internal/store"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with Gemini in the terminal",
	Long: `Open the persisted conversation of --user and chat with Gemini.
Type /quit or press Ctrl-D to leave.`,
	Args: cobra.NoArgs,
	Run:  runChat,
}

func runChat(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, key := openBackends(ctx, cfg)
	defer res.Close()

	generator := cli.InitGenerator(ctx, key, modelName(cfg))

	m := conversation.NewManager(userFlag, res.Chat, generator, nil)
	if err := m.Open(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to open conversation")
	}
	defer m.Close()

	for _, msg := range m.Messages() {
		printMessage(os.Stdout, msg)
	}

	repl(ctx, m, cli.NewPrompter(os.Stdin, os.Stdout), os.Stdout)
}

// sender is the part of *conversation.Manager the REPL drives.
type sender interface {
	Send(ctx context.Context, text string) (*store.ChatMessage, bool, error)
}

// repl reads lines until /quit or end of input, printing each model reply.
func repl(ctx context.Context, m sender, p *cli.Prompter, out io.Writer) {
	for ctx.Err() == nil {
		line, err := p.Line("vous> ")
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Error().Err(err).Msg("Failed to read input")
			}
			fmt.Fprintln(out)
			return
		}
		if line == "/quit" {
			return
		}

		reply, accepted, err := m.Send(ctx, line)
		switch {
		case err != nil:
			fmt.Fprintln(out, "Message non enregistré :", err)
		case !accepted:
		case reply == nil:
			fmt.Fprintln(out, "(pas de réponse)")
		default:
			printMessage(out, *reply)
		}
	}
}

func printMessage(w io.Writer, msg store.ChatMessage) {
	who := "vous"
	if msg.Role == store.RoleModel {
		who = "gemini"
	}
	fmt.Fprintf(w, "%s> %s\n", who, msg.Text)
}
