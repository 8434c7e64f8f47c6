package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	offline    bool
	workers    int
	pretty     bool

	tokenSubject string
	tokenRole    string
	tokenTTL     string

	serverURL   string
	serverToken string
	wait        bool

	rootCmd = &cobra.Command{
		Use:   "personalize",
		Short: "Check personalized bank communications before they are sent",
		Long: `personalize runs the content integrity pipeline over generated channel texts:
key point coverage, hallucination detection, refinement and the final send audit.`,
		SilenceUsage: true,
	}

	runCmd = &cobra.Command{
		Use:   "run [request.json]",
		Short: "Run the pipeline for one customer request",
		Args:  cobra.ExactArgs(1),
		RunE:  runSingle,
	}

	batchCmd = &cobra.Command{
		Use:   "batch [requests.json]",
		Short: "Run the pipeline for a JSON array of requests",
		Args:  cobra.ExactArgs(1),
		RunE:  runBatch,
	}

	submitCmd = &cobra.Command{
		Use:   "submit [requests.json]",
		Short: "Submit a batch job to a running server",
		Args:  cobra.ExactArgs(1),
		RunE:  submitBatch,
	}

	rulesCmd = &cobra.Command{
		Use:   "rules",
		Short: "Work with channel eligibility rules",
	}

	rulesValidateCmd = &cobra.Command{
		Use:   "validate [rules.yml]",
		Short: "Report malformed rules in a rules file",
		Args:  cobra.ExactArgs(1),
		RunE:  validateRules,
	}

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Issue an API token signed with the configured secret",
		Args:  cobra.NoArgs,
		RunE:  issueToken,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $PERSONALIZATION_CONFIG or configs/config.yml)")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "use rule and pattern strategies only")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", false, "indent JSON output")

	batchCmd.Flags().IntVarP(&workers, "workers", "w", 0, "parallel customers (default from config)")

	submitCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8003", "server base URL")
	submitCmd.Flags().StringVar(&serverToken, "token", os.Getenv("PERSONALIZATION_TOKEN"), "API token (default $PERSONALIZATION_TOKEN)")
	submitCmd.Flags().BoolVar(&wait, "wait", false, "wait for the job and print its decisions")

	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "token subject")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "operator", "token role")
	tokenCmd.Flags().StringVar(&tokenTTL, "ttl", "24h", "token lifetime")
	tokenCmd.MarkFlagRequired("subject")

	rulesCmd.AddCommand(rulesValidateCmd)
	rootCmd.AddCommand(runCmd, batchCmd, submitCmd, rulesCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
