package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"text/tabwriter"

	"github.com/dgellow/nimbus/internal"
	"github.com/dgellow/nimbus/internal/config"
	"github.com/dgellow/nimbus/internal/storage"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// openStore reads only the storage settings, so user management works on a
// host without provider credentials
func openStore(ctx context.Context, envFile string) (storage.UserStore, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	if err := config.ValidateStorage(&cfg); err != nil {
		return nil, err
	}
	if cfg.Storage == config.StorageMemory {
		return nil, fmt.Errorf("memory storage cannot be managed from the command line")
	}
	return internal.OpenUserStore(ctx, cfg)
}

func newUsersCmd(envFile *string) *cobra.Command {
	users := &cobra.Command{
		Use:   "users",
		Short: "Inspect and manage users",
	}
	users.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List all users",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				store, err := openStore(cmd.Context(), *envFile)
				if err != nil {
					return err
				}
				defer store.Close()

				all, err := store.ListAll(cmd.Context())
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tEMAIL\tNAME\tROLE\tPROVIDERS")
				for _, u := range all {
					var providers []string
					for _, p := range []storage.Provider{storage.ProviderGoogle, storage.ProviderGitHub} {
						if u.ProviderID(p) != "" {
							providers = append(providers, string(p))
						}
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", u.ID, u.Email, u.Name, u.Role, strings.Join(providers, ","))
				}
				return tw.Flush()
			},
		},
		newSetRoleCmd(envFile, "promote", storage.RoleAdmin),
		newSetRoleCmd(envFile, "demote", storage.RoleUser),
	)
	return users
}

func newSetRoleCmd(envFile *string, use string, role storage.Role) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <email>",
		Short: fmt.Sprintf("Give a user the %s role", role),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), *envFile)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.SetRole(cmd.Context(), args[0], role); err != nil {
				if errors.Is(err, storage.ErrUserNotFound) {
					return fmt.Errorf("no user with email %s; they must log in once first", args[0])
				}
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", args[0], role)
			return err
		},
	}
}
