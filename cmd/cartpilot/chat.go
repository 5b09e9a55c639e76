package main

import (
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mohammad-safakhou/cartpilot/internal/tui"
	"github.com/spf13/cobra"
)

func chatCMD() *cobra.Command {
	var storefrontName string
	var userID string
	var imageDir string

	var chat = &cobra.Command{
		Use:   "chat",
		Short: "Interactive terminal session",
		RunE: func(cmd *cobra.Command, args []string) error {
			// the alternate screen owns stdout; loggers built below write to the file
			logf, err := tea.LogToFile(filepath.Join(os.TempDir(), "cartpilot-chat.log"), "chat")
			if err != nil {
				return err
			}
			defer func() { _ = logf.Close() }()

			rt, err := newRuntime(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer rt.Close()
			runner, err := rt.resolve(storefrontName)
			if err != nil {
				return err
			}
			if imageDir != "" {
				if err := os.MkdirAll(imageDir, 0o755); err != nil {
					return fmt.Errorf("screenshots dir: %w", err)
				}
			}
			return tui.Run(cmd.Context(), runner, tui.NewChannel(imageDir), tui.WithUser(userID))
		},
	}
	chat.Flags().StringVar(&storefrontName, "storefront", "", "storefront profile (default is storefront.profile)")
	chat.Flags().StringVar(&userID, "user", getenv("USER", "local"), "user orders are placed for")
	chat.Flags().StringVar(&imageDir, "images", "screenshots", "directory for checkout screenshots; empty only reports them")

	return chat
}
