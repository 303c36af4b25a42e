package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "pagerun",
		Short:         "pagerun: reactive page runtime with session state and memoization",
		Long:          "pagerun re-executes a page top to bottom on every interaction, keeping per-session state across runs and caching expensive computations across runs and sessions.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	app, err := wireApp()
	if err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}
		return rootCmd
	}

	rootCmd.PersistentPostRunE = func(_ *cobra.Command, _ []string) error {
		return app.Close()
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newSessionCmd(app),
		newRunCmd(app),
		newTUICmd(app),
	)

	return rootCmd
}
