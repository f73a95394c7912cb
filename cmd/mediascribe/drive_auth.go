package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codebuildervaibhav/mediascribe/internal/storage"
)

func newDriveAuthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "drive-auth",
		Short: "Authorize Google Drive uploads and store the OAuth token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.DriveEnabled() {
				return fmt.Errorf("credentials file %s not found; download OAuth client credentials from the Google Cloud console", cfg.GoogleDrive.CredentialsFile)
			}
			if err := storage.AuthorizeDrive(cmd.Context(), cfg.GoogleDrive.CredentialsFile, cfg.GoogleDrive.TokenFile, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Token saved to %s\n", cfg.GoogleDrive.TokenFile)
			return nil
		},
	}
}
