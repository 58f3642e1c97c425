package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"clinicdesk/internal/app"
	"clinicdesk/internal/clinic"
	"clinicdesk/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, clinic.Describe(err))
		os.Exit(1)
	}
}

// withApp reads the config, starts an App and runs fn with it. The
// outcome of fn is recorded in the operation log.
func withApp(cmd *cobra.Command, args []string, runSchedule bool, fn func(context.Context, *app.App) error) error {
	ctx := cmd.Context()
	defaults, err := app.GetDefaults()
	if err != nil {
		return fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	a, err := app.NewApp(ctx, cfg, cmd.CommandPath(), strings.Join(args, " "), app.Options{Verbose: verbose})
	if err != nil {
		return fmt.Errorf("initializing app: %w", err)
	}
	defer a.Close()

	report, err := a.Startup(ctx, runSchedule)
	if err != nil {
		a.Finish(err)
		return err
	}
	if report.MigrationErr != nil {
		fmt.Fprintf(os.Stderr, "warning: database schema is not fully migrated: %v\n", report.MigrationErr)
	}
	if b := report.ScheduledBackup; b != nil {
		fmt.Printf("Scheduled backup completed at %s\n", b.Timestamp.Format("2006-01-02 15:04"))
	}

	err = fn(ctx, a)
	a.Finish(err)
	return err
}

var rootCmd = &cobra.Command{
	Use:           "clinicdesk",
	Short:         "Clinic practice data: migrations, backup and restore",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults.BaseDir)

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Host ID:  %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", defaults.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		vaultType := cfg.Vault.Type
		if vaultType == "" {
			vaultType = "(cloud disabled)"
		}
		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Printf("Host ID:    %s\n", cfg.HostID)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Database:   %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Vault:      %s\n", vaultType)
		fmt.Printf("Backup Dir: %s (keep %d)\n", cfg.Backup.LocalDir, cfg.Backup.Retention)
		return nil
	},
}

// migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, args, false, func(ctx context.Context, a *app.App) error {
			report, err := a.Migrate(ctx)
			if err != nil {
				return err
			}
			if len(report.Applied) == 0 {
				fmt.Printf("Schema is up to date (version %d)\n", report.To)
				return nil
			}
			fmt.Printf("Migrated schema from version %d to %d\n", report.From, report.To)
			return nil
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, args, false, func(ctx context.Context, a *app.App) error {
			if err := a.SchemaStatus(ctx); err != nil {
				return err
			}
			fmt.Println("Schema is up to date")
			return nil
		})
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, args, false, func(ctx context.Context, a *app.App) error {
			schema, err := a.Schema(ctx)
			if err != nil {
				return err
			}
			fmt.Print(schema)
			return nil
		})
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up the clinic database",
	RunE: func(cmd *cobra.Command, args []string) error {
		modeFlag, _ := cmd.Flags().GetString("mode")
		encrypt, _ := cmd.Flags().GetBool("encrypt")
		fromStdin, _ := cmd.Flags().GetBool("password-stdin")

		mode, err := clinic.ParseBackupMode(modeFlag)
		if err != nil {
			return err
		}
		var password string
		if encrypt || fromStdin {
			password, err = readPassword(fromStdin, true)
			if err != nil {
				return err
			}
		}

		return withApp(cmd, args, false, func(ctx context.Context, a *app.App) error {
			res, err := a.Backup(ctx, clinic.BackupOptions{Mode: mode, Password: password})
			if err != nil {
				return err
			}
			if res.LocalPath != "" {
				fmt.Printf("Local backup: %s\n", res.LocalPath)
			}
			if res.Cloud != nil {
				fmt.Printf("Cloud backup: %s (%d bytes)\n", res.Cloud.Name, res.Cloud.Size)
			}
			if len(res.Pruned) > 0 {
				fmt.Printf("Removed %d old local backup(s)\n", len(res.Pruned))
			}
			return nil
		})
	},
}

// backups command
var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "Manage existing backups",
}

var backupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List local and cloud backups",
	RunE: func(cmd *cobra.Command, args []string) error {
		cloud, _ := cmd.Flags().GetBool("cloud")
		limit, _ := cmd.Flags().GetInt("limit")

		return withApp(cmd, args, false, func(ctx context.Context, a *app.App) error {
			if cloud {
				files, err := a.CloudBackups(ctx, limit)
				if err != nil {
					return err
				}
				if len(files) == 0 {
					fmt.Println("No cloud backups.")
				}
				for _, f := range files {
					fmt.Printf("%s  %s  %10d  encrypted=%v  %s\n",
						f.ModifiedAt.Format("2006-01-02 15:04:05"), f.Name, f.Size, f.Description.Encrypted, f.ID)
				}
				return nil
			}

			files, err := a.LocalBackups()
			if err != nil {
				return err
			}
			if len(files) == 0 {
				fmt.Println("No local backups.")
			}
			for i, f := range files {
				if limit > 0 && i >= limit {
					break
				}
				fmt.Printf("%s  %10d  %s\n", f.ModTime.Format("2006-01-02 15:04:05"), f.Size, f.Path)
			}
			return nil
		})
	},
}

var backupsDeleteCmd = &cobra.Command{
	Use:   "delete FILE_ID",
	Short: "Delete a cloud backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, args, false, func(ctx context.Context, a *app.App) error {
			if err := a.DeleteCloudBackup(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", args[0])
			return nil
		})
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore the clinic database from a backup",
}

func restoreOptions(cmd *cobra.Command) (clinic.RestoreOptions, error) {
	email, _ := cmd.Flags().GetString("email")
	force, _ := cmd.Flags().GetBool("force")
	target, _ := cmd.Flags().GetString("target")
	fromStdin, _ := cmd.Flags().GetBool("password-stdin")

	opts := clinic.RestoreOptions{ExpectedEmail: email, Force: force, TargetPath: target}
	if fromStdin {
		password, err := readPassword(true, false)
		if err != nil {
			return opts, err
		}
		opts.Password = password
	}
	return opts, nil
}

// runRestore retries once with a prompted password when the backup turns
// out to be encrypted and none was given.
func runRestore(opts clinic.RestoreOptions, restore func(clinic.RestoreOptions) (*clinic.RestoreResult, error)) error {
	res, err := restore(opts)
	if errors.Is(err, clinic.ErrPasswordRequired) && opts.Password == "" && stdinIsTerminal() {
		opts.Password, err = readPassword(false, false)
		if err != nil {
			return err
		}
		res, err = restore(opts)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Restored from %s\n", res.Source)
	if res.OwnershipOverride {
		fmt.Printf("Warning: backup belongs to %s, restored anyway\n", clinic.MaskEmail(res.OwnerEmail))
	}
	if res.LicenseRestored {
		fmt.Println("License of this machine kept")
	}
	if res.RecoveryPath != "" {
		fmt.Printf("Previous database saved as %s\n", res.RecoveryPath)
	}
	return nil
}

var restoreLocalCmd = &cobra.Command{
	Use:   "local FILE",
	Short: "Restore from a local backup file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := restoreOptions(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd, args, false, func(ctx context.Context, a *app.App) error {
			return runRestore(opts, func(o clinic.RestoreOptions) (*clinic.RestoreResult, error) {
				return a.RestoreLocal(ctx, args[0], o)
			})
		})
	},
}

var restoreCloudCmd = &cobra.Command{
	Use:   "cloud",
	Short: "Restore from the cloud backup",
	RunE: func(cmd *cobra.Command, args []string) error {
		fileID, _ := cmd.Flags().GetString("file-id")
		opts, err := restoreOptions(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd, args, false, func(ctx context.Context, a *app.App) error {
			return runRestore(opts, func(o clinic.RestoreOptions) (*clinic.RestoreResult, error) {
				return a.RestoreCloud(ctx, fileID, o)
			})
		})
	},
}

// verify command
var verifyCmd = &cobra.Command{
	Use:   "verify FILE",
	Short: "Check that a backup file is usable",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fromStdin, _ := cmd.Flags().GetBool("password-stdin")
		var password string
		if fromStdin {
			var err error
			if password, err = readPassword(true, false); err != nil {
				return err
			}
		}
		return withApp(cmd, args, false, func(ctx context.Context, a *app.App) error {
			encrypted, err := a.Verify(ctx, args[0], password)
			if err != nil {
				return err
			}
			kind := "plaintext"
			if encrypted {
				kind = "encrypted"
			}
			fmt.Printf("%s: ok (%s)\n", args[0], kind)
			return nil
		})
	},
}

// patients command
var patientsCmd = &cobra.Command{
	Use:   "patients",
	Short: "Inspect patient records",
}

var patientsCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Count patients",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, args, true, func(ctx context.Context, a *app.App) error {
			n, err := a.PatientCount(ctx)
			if err != nil {
				return err
			}
			fmt.Println(n)
			return nil
		})
	},
}

var patientsAddCmd = &cobra.Command{
	Use:   "add FIRST_NAME [LAST_NAME]",
	Short: "Register a patient",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		last := ""
		if len(args) > 1 {
			last = args[1]
		}
		return withApp(cmd, args, true, func(ctx context.Context, a *app.App) error {
			id, err := a.AddPatient(ctx, args[0], last)
			if err != nil {
				return err
			}
			fmt.Printf("Patient #%d added\n", id)
			return nil
		})
	},
}

// settings command
var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "View or change backup settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		schedule, _ := cmd.Flags().GetString("schedule")
		localDir, _ := cmd.Flags().GetString("local-dir")

		if schedule != "" {
			if _, err := clinic.ParseSchedule(schedule); err != nil {
				return err
			}
		}
		return withApp(cmd, args, false, func(ctx context.Context, a *app.App) error {
			if schedule != "" || localDir != "" {
				err := a.UpdateSettings(func(s *config.Settings) {
					if schedule != "" {
						s.Schedule = schedule
					}
					if localDir != "" {
						s.LocalBackupPath = localDir
					}
				})
				if err != nil {
					return err
				}
			}
			s := a.Settings()
			last := "never"
			if !s.LastBackupAt.IsZero() {
				last = s.LastBackupAt.Local().Format("2006-01-02 15:04")
			}
			fmt.Printf("Schedule:     %s\n", s.Schedule)
			fmt.Printf("Backup Dir:   %s\n", s.LocalBackupPath)
			fmt.Printf("Last Backup:  %s\n", last)
			return nil
		})
	},
}

var readOnlyCmd = &cobra.Command{
	Use:       "readonly on|off",
	Short:     "Turn read-only mode on or off",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var on bool
		switch args[0] {
		case "on":
			on = true
		case "off":
		default:
			return fmt.Errorf("expected on or off, got %q", args[0])
		}
		return withApp(cmd, args, false, func(ctx context.Context, a *app.App) error {
			if err := a.SetReadOnly(ctx, on); err != nil {
				return err
			}
			fmt.Printf("Read-only mode %s\n", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Write debug records to the log")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	migrateCmd.AddCommand(migrateStatusCmd)

	backupCmd.Flags().String("mode", "both", "Destination: local, cloud or both")
	backupCmd.Flags().Bool("encrypt", false, "Encrypt the backup with a password")
	backupCmd.Flags().Bool("password-stdin", false, "Read the backup password from stdin")

	backupsCmd.AddCommand(backupsListCmd)
	backupsCmd.AddCommand(backupsDeleteCmd)
	backupsListCmd.Flags().Bool("cloud", false, "List cloud backups instead of local ones")
	backupsListCmd.Flags().IntP("limit", "n", 20, "Maximum number of backups to show")

	for _, c := range []*cobra.Command{restoreLocalCmd, restoreCloudCmd} {
		c.Flags().String("email", "", "Account email the backup is expected to belong to")
		c.Flags().Bool("force", false, "Restore even if the backup belongs to another account")
		c.Flags().Bool("password-stdin", false, "Read the backup password from stdin")
		c.Flags().String("target", "", "Restore into this database file instead of the live one")
		restoreCmd.AddCommand(c)
	}
	restoreCloudCmd.Flags().String("file-id", "", "ID of the cloud backup (default: the standard backup name)")

	verifyCmd.Flags().Bool("password-stdin", false, "Read the backup password from stdin")

	patientsCmd.AddCommand(patientsCountCmd)
	patientsCmd.AddCommand(patientsAddCmd)

	settingsCmd.Flags().String("schedule", "", "Automatic backup schedule: off, daily, weekly or monthly")
	settingsCmd.Flags().String("local-dir", "", "Folder for local backups")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(backupsCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(patientsCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(readOnlyCmd)
}
