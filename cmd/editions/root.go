package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/config"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/editions"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/logging"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/records"
)

type deps struct {
	EnvFile    string
	ConfigPath string
	LogLevel   string
	LogFormat  string
	User       int64

	svc *editions.Service
}

func newRootCmd(d *deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "editions",
		Short:         "Operate versioned editions of course resources",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(d.EnvFile); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("load env file: %w", err)
			}
			path := d.ConfigPath
			if path == "" {
				path = config.DefaultPath()
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			logger := logging.New(cmd.ErrOrStderr(), d.LogLevel, d.LogFormat)
			svc, err := editions.Open(cfg, logger)
			if err != nil {
				return err
			}
			d.svc = svc

			ctx := logging.WithLogger(cmd.Context(), logger)
			if d.User > 0 {
				ctx = records.WithUser(ctx, d.User)
			}
			cmd.SetContext(ctx)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if d.svc == nil {
				return nil
			}
			return d.svc.Close()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&d.EnvFile, "env-file", ".env", "environment file loaded before reading configuration")
	flags.StringVarP(&d.ConfigPath, "config", "c", "", "path to config file (default $EDITIONS_CONFIG_FILE or /etc/editions/config.json)")
	flags.StringVar(&d.LogLevel, "log-level", "info", "minimum log level")
	flags.StringVar(&d.LogFormat, "log-format", "text", "log format (text, json)")
	flags.Int64Var(&d.User, "user", 0, "user id recorded in the audit log")

	cmd.AddCommand(
		newRegisterCmd(d),
		newProcessCmd(d),
		newVersionsCmd(d),
		newApplyCmd(d),
		newAuditCmd(d),
		newHistoryCmd(d),
		newCoursesCmd(d),
	)
	return cmd
}

func parseIDs(args ...string) ([]int64, error) {
	ids := make([]int64, len(args))
	for i, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q", a)
		}
		ids[i] = id
	}
	return ids, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
