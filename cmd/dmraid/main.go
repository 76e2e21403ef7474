// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Command dmraid discovers firmware/BIOS RAID arrays on a list of raw
// block devices and drives them through the activate/deactivate/
// reconfigure state machine, the CLI harness around lib/group,
// lib/activate, and lib/reconfig. Grounded on the teacher's
// cmd/btrfs-rec/main.go: one root cobra.Command with persistent flags
// shared by every subcommand, and a subcommand registry each file in
// this package appends to via init().
package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lvmteam/dmraid-go/lib/textui"
)

// options collects spec.md §6's configuration table as a flat struct,
// populated by persistent pflag flags the way the teacher's main.go
// populates pvsFlag/mappingsFlag.
type options struct {
	Format        []string
	Separator     string
	NoPartitions  bool
	Test          bool
	IgnoreLocking bool
	Dump          string
	ErrorPath     string
}

var opts options

var logLevelFlag = textui.LogLevelFlag{Level: dlog.LogLevelInfo}

const configFileName = "dmraid.yaml"

// initConfig loads an optional config file overlay for the options a
// site wants to default differently (error-path placeholder,
// separator), following vconvert/config.go's initConfig: an explicit
// --config path wins, otherwise viper looks for configFileName in the
// user's home directory; a missing file just means the built-in
// pflag defaults stand.
func initConfig(cfgFile string) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.SetConfigFile(filepath.Join(home, configFileName))
	}
	_ = viper.ReadInConfig()
}

// applyConfigDefaults overlays viper-sourced values onto opts for any
// flag the user didn't pass explicitly on the command line, so a
// config file can change a default without every invocation having to
// repeat it as a flag.
func applyConfigDefaults(cmd *cobra.Command, opts *options) {
	if !cmd.Flags().Changed("separator") && viper.IsSet("separator") {
		opts.Separator = viper.GetString("separator")
	}
	if !cmd.Flags().Changed("error-path") && viper.IsSet("error_path") {
		opts.ErrorPath = viper.GetString("error_path")
	}
	if !cmd.Flags().Changed("ignorelocking") && viper.IsSet("ignorelocking") {
		opts.IgnoreLocking = viper.GetBool("ignorelocking")
	}
}

// subcommand pairs a cobra.Command with a RunE that receives the
// already-parsed global options and the disk paths collected as
// positional arguments, following cmd/btrfs-rec/main.go's subcommand
// struct.
type subcommand struct {
	cobra.Command
	RunE func(ctx context.Context, opts options, disks []string, cmd *cobra.Command, args []string) error
}

var subcommands []subcommand

func main() {
	argparser := &cobra.Command{
		Use:   "dmraid {[flags]|SUBCOMMAND} [disk...]",
		Short: "Discover and activate firmware/BIOS RAID sets on raw block devices",

		Args: cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE: cliutil.RunSubcommands,

		SilenceErrors: true,
		SilenceUsage:  true,

		CompletionOptions: cobra.CompletionOptions{ //nolint:exhaustivestruct
			DisableDefaultCmd: true,
		},
	}
	argparser.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	argparser.SetHelpTemplate(cliutil.HelpTemplate)

	var cfgFile string
	argparser.PersistentFlags().StringVar(&cfgFile, "config", "", "load option defaults from `file` instead of ~/dmraid.yaml")
	argparser.PersistentFlags().Var(&logLevelFlag, "verbosity", "set the verbosity")
	argparser.PersistentFlags().StringSliceVar(&opts.Format, "format", nil, "restrict plug-in probing to the listed `format` names")
	argparser.PersistentFlags().StringVar(&opts.Separator, "separator", ",", "delimiter used wherever multi-valued strings are joined")
	argparser.PersistentFlags().BoolVar(&opts.NoPartitions, "no-partitions", false, "skip the partition pass")
	argparser.PersistentFlags().BoolVar(&opts.Test, "test", false, "emit tables to the diagnostic sink instead of submitting to device-mapper")
	argparser.PersistentFlags().BoolVar(&opts.IgnoreLocking, "ignorelocking", false, "bypass the external locking collaborator")
	argparser.PersistentFlags().StringVar(&opts.Dump, "dump", "", "write every read metadata region to `directory` for post-mortem")
	argparser.PersistentFlags().StringVar(&opts.ErrorPath, "error-path", "/dev/mapper/error", "`path` used as the dead placeholder in emitted tables")

	for _, child := range subcommands {
		cmd := child.Command
		runE := child.RunE
		cmd.RunE = func(cmd *cobra.Command, args []string) error {
			initConfig(cfgFile)
			applyConfigDefaults(cmd, &opts)

			ctx := cmd.Context()
			ctx = dlog.WithLogger(ctx, textui.NewLogger(os.Stderr, logLevelFlag.Level))

			grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
				EnableSignalHandling: true,
			})
			grp.Go("main", func(ctx context.Context) error {
				return runE(ctx, opts, args, cmd, args)
			})
			return grp.Wait()
		}
		argparser.AddCommand(&cmd)
	}

	if err := argparser.ExecuteContext(context.Background()); err != nil {
		textui.Fprintf(os.Stderr, "%v: error: %v\n", argparser.CommandPath(), err)
		os.Exit(1)
	}
}
