package cmd

import "testing"

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{
		"serve":         false,
		"chat":          false,
		"conversations": false,
		"migrate":       false,
		"version":       false,
	}

	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}

	for name, found := range want {
		if !found {
			t.Errorf("command %q not registered on root", name)
		}
	}
}

func TestConversationsHasDeleteSubcommand(t *testing.T) {
	for _, c := range conversationsCmd.Commands() {
		if c.Name() == "delete" {
			return
		}
	}
	t.Error("delete subcommand not registered on conversations")
}

func TestRootRunsChatByDefault(t *testing.T) {
	if rootCmd.RunE == nil {
		t.Fatal("root command has no RunE")
	}
}
