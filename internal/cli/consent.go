package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"starwatch/internal/app"
	"starwatch/internal/poller"
	"starwatch/internal/surface"
)

var consentCmd = &cobra.Command{
	Use:   "consent",
	Short: "Inspect or change permission to show alerts",
}

var consentStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the permission state for the configured surface",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withGate(cmd, func(ctx context.Context, comp *app.Components) (poller.PermissionState, error) {
			return comp.Gate.Query(), nil
		})
	},
}

var consentRequestCmd = &cobra.Command{
	Use:   "request",
	Short: "Prompt for permission (no-op when already decided)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withGate(cmd, func(ctx context.Context, comp *app.Components) (poller.PermissionState, error) {
			return comp.Gate.RequestConsent(ctx), nil
		})
	},
}

var consentRevokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Forget the recorded decision so the next start prompts again",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withGate(cmd, func(ctx context.Context, comp *app.Components) (poller.PermissionState, error) {
			if comp.Store == nil {
				return 0, errors.New("storage is disabled; there is no recorded decision to revoke")
			}
			comp.Gate.Revoke(ctx)
			return comp.Gate.Query(), nil
		})
	},
}

func init() {
	consentCmd.AddCommand(consentStatusCmd, consentRequestCmd, consentRevokeCmd)
	rootCmd.AddCommand(consentCmd)
}

// withGate starts the configured surface, refreshes the gate from storage
// and prints the state fn returns.
func withGate(cmd *cobra.Command, fn func(ctx context.Context, comp *app.Components) (poller.PermissionState, error)) error {
	ctx := cmd.Context()
	_, comp, err := loadComponents(ctx, time.Now())
	if err != nil {
		return err
	}
	defer closeComponents(comp)

	if err := comp.Surface.Start(ctx); err != nil && !errors.Is(err, surface.ErrUnsupported) {
		return fmt.Errorf("start surface: %w", err)
	}
	comp.Gate.Refresh(ctx)

	st, err := fn(ctx, comp)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", comp.Surface.Name(), st)
	return nil
}
