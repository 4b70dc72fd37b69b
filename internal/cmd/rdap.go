package cmd

import (
	"github.com/spf13/cobra"

	errwrap "github.com/namelens/pacer/internal/errors"
	"github.com/namelens/pacer/internal/source"
)

var rdapDomainsFile string

var rdapCmd = &cobra.Command{
	Use:   "rdap [domain...]",
	Short: "Query RDAP for domains through the adaptive throttle",
	Long: `Query RDAP domain records through the adaptive throttle.

Registered and unregistered domains both count as successes. Rate limiting
(HTTP 429), server errors and transport failures count as failures and slow
the throttle down. Without --rdap-server the IANA bootstrap registry picks
the server for each TLD.`,
	Example: `  pacer rdap example.com example.org --min-rate 1 --max-rate 5
  pacer rdap --domains-file domains.txt --max-retries 2 --save`,
	RunE: func(cmd *cobra.Command, args []string) error {
		targets, err := resolveTargets(args, rdapDomainsFile, source.KindRDAP)
		if err != nil {
			return errwrap.WrapInvalidInput(cmd.Context(), err, "invalid domains")
		}
		return executeRun(cmd, targets, nil)
	},
}

func init() {
	rootCmd.AddCommand(rdapCmd)

	rdapCmd.Flags().StringVar(&rdapDomainsFile, "domains-file", "", "file with one domain per line (use - for stdin)")
	rdapCmd.Flags().String("rdap-server", "", "RDAP base URL (default: IANA bootstrap)")
	addThrottleFlags(rdapCmd)
	addReportFlags(rdapCmd)
}
