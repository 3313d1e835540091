package cmd

import (
	"context"
	"fmt"

	tea "charm.land/bubbletea/v2"
	"github.com/spf13/cobra"

	"github.com/shiplog/shiplog/internal/config"
	"github.com/shiplog/shiplog/internal/tui"
)

var (
	chatServerURL string
	chatFresh     bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the interactive chat client",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatServerURL, "server", "", "Shiplog server URL, overrides config")
	chatCmd.Flags().BoolVar(&chatFresh, "new", false, "start a new conversation instead of resuming")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadClient()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	serverURL := chatServerURL
	if serverURL == "" {
		serverURL = cfg.ServerURL
	}

	stateDir, err := tui.DefaultStateDir()
	if err != nil {
		return err
	}
	state, err := tui.LoadState(stateDir)
	if err != nil {
		return fmt.Errorf("loading client state: %w", err)
	}
	if chatFresh {
		state.ConversationID = ""
		state.Title = ""
	}

	client, err := tui.NewClient(tui.ClientConfig{
		BaseURL:    serverURL,
		AdminToken: cfg.AdminToken,
		UID:        state.UID,
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	opts := tui.Options{
		StateDir: stateDir,
		ConvID:   state.ConversationID,
		Title:    state.Title,
	}

	// Restore is best effort: a deleted or inaccessible conversation
	// just means starting fresh.
	if state.ConversationID != "" {
		history, err := client.History(ctx, state.ConversationID)
		if err != nil {
			opts.ConvID = ""
			opts.Title = ""
		} else {
			opts.Restore = history
		}
	}

	model, err := tui.New(ctx, client, opts)
	if err != nil {
		return err
	}

	program := tea.NewProgram(model, tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("running chat client: %w", err)
	}

	return nil
}
