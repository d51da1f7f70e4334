package cli

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/store"
	"github.com/spf13/cobra"
)

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or edit the cached user profile",
	}

	cmd.AddCommand(newProfileShowCmd())
	cmd.AddCommand(newProfileSetCmd())
	return cmd
}

func newProfileShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the cached profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := openBackend()
			if err != nil {
				return err
			}
			defer backend.Close()

			p, err := backend.Profiles.LoadProfile(cmd.Context())
			if errors.Is(err, store.ErrNotFound) {
				fmt.Fprintln(cmd.OutOrStdout(), "no profile cached; run `wayfarer chat profiling`")
				return nil
			}
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "User:         %s\n", p.UserID)
			if p.DisplayName != "" {
				fmt.Fprintf(w, "Name:         %s\n", p.DisplayName)
			}
			if p.ProfileID != "" {
				fmt.Fprintf(w, "Profile:      %s\n", p.ProfileID)
			}
			fmt.Fprintf(w, "Completeness: %.0f%%\n", p.Completeness*100)
			fmt.Fprintf(w, "Updated:      %s\n", p.UpdatedAt.Local().Format(time.RFC3339))

			keys := make([]string, 0, len(p.Preferences))
			for k := range p.Preferences {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(w, "  %s: %s\n", k, p.Preferences[k])
			}
			return nil
		},
	}
}

func newProfileSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a profile field (name, user) or preference",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := openBackend()
			if err != nil {
				return err
			}
			defer backend.Close()

			ctx := cmd.Context()
			p := &domain.UserProfile{UserID: cfg.User.ID, DisplayName: cfg.User.DisplayName}
			existing, err := backend.Profiles.LoadProfile(ctx)
			switch {
			case err == nil:
				p = existing
			case !errors.Is(err, store.ErrNotFound):
				return err
			}

			key, value := args[0], args[1]
			switch key {
			case "name":
				p.DisplayName = value
			case "user":
				p.UserID = value
			default:
				if p.Preferences == nil {
					p.Preferences = make(map[string]string)
				}
				p.Preferences[key] = value
			}
			p.UpdatedAt = time.Now().UTC()

			if err := backend.Profiles.SaveProfile(ctx, *p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
			return nil
		},
	}
}
