package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sudekirlar/fjsm-project/pkg/catalogue"
)

func newCatalogueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalogue",
		Short: "Inspect and validate the machine catalogue file",
	}

	cmd.AddCommand(newCatalogueValidateCommand())
	cmd.AddCommand(newCatalogueReloadCommand())

	return cmd
}

func newCatalogueValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "validate <path>",
		Short:   "Validate a machine catalogue file against its CUE schema",
		Args:    cobra.ExactArgs(1),
		Example: `  fjsmctl catalogue validate catalogue.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := catalogue.Validate(args[0]); err != nil {
				return fmt.Errorf("catalogue %s is invalid: %w", args[0], err)
			}
			fmt.Printf("%s is valid\n", args[0])
			return nil
		},
	}
}

func newCatalogueReloadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reload <path>",
		Short: "Validate a catalogue file ahead of a running daemon picking it up",
		Long: `A running fjsmd process already watches its catalogue file and swaps in a
new snapshot automatically on write. This command just validates the file
first so a bad edit never reaches the daemon's watch loop.`,
		Args:    cobra.ExactArgs(1),
		Example: `  fjsmctl catalogue reload catalogue.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := catalogue.Validate(args[0]); err != nil {
				return fmt.Errorf("refusing reload, catalogue %s is invalid: %w", args[0], err)
			}
			log.Info().Str("path", args[0]).Msg("catalogue file is valid; a running fjsmd will pick it up on its next watch tick")
			fmt.Printf("%s is valid; a running daemon watching this file will reload it automatically\n", args[0])
			return nil
		},
	}
}
