package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/shiplog/shiplog/internal/config"
	"github.com/shiplog/shiplog/internal/tui"
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"convs"},
	Short:   "List your conversations on the server",
	RunE:    runConversations,
}

var deleteConversationCmd = &cobra.Command{
	Use:   "delete <conversation-id>",
	Short: "Delete a conversation you own",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteConversation,
}

func init() {
	conversationsCmd.AddCommand(deleteConversationCmd)
	rootCmd.AddCommand(conversationsCmd)
}

func newServerClient() (*tui.Client, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	stateDir, err := tui.DefaultStateDir()
	if err != nil {
		return nil, err
	}
	state, err := tui.LoadState(stateDir)
	if err != nil {
		return nil, fmt.Errorf("loading client state: %w", err)
	}

	return tui.NewClient(tui.ClientConfig{
		BaseURL:    cfg.ServerURL,
		AdminToken: cfg.AdminToken,
		UID:        state.UID,
	})
}

func runConversations(cmd *cobra.Command, args []string) error {
	client, err := newServerClient()
	if err != nil {
		return err
	}

	convs, err := client.Conversations(cmd.Context())
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Println("No conversations yet. Run \"shiplog chat\" to start one.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUPDATED\tTITLE")
	for _, c := range convs {
		title := c.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.ID, c.UpdatedAt, title)
	}
	return w.Flush()
}

func runDeleteConversation(cmd *cobra.Command, args []string) error {
	client, err := newServerClient()
	if err != nil {
		return err
	}

	if err := client.DeleteConversation(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Println("Deleted", args[0])
	return nil
}
