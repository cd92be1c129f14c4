package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "legalbot",
	Short: "Vietnamese legal Q&A service over a law-article corpus",
	Long: `legalbot answers Vietnamese legal questions by classifying,
contextualizing, and decomposing each question, retrieving relevant
law articles, and generating a grounded answer with per-user
conversation memory.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the legalbot version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("legalbot version %s\n", version)
	},
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
