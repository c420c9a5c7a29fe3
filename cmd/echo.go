package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/trobanga/pacsbatch/internal/pipeline"
	"github.com/trobanga/pacsbatch/internal/ui"
)

// echoCmd represents the echo command
var echoCmd = &cobra.Command{
	Use:   "echo",
	Short: "Verify connectivity with the peer",
	Long: `Open a session with the peer and send one verification request.

Example:
  pacsbatch echo --peer-host pacs.example --peer-port 104 --peer-ae ARCHIVE`,
	Args: cobra.NoArgs,
	RunE: runEcho,
}

func init() {
	rootCmd.AddCommand(echoCmd)
}

func runEcho(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	defer logger.Sync()

	provider, err := openProvider(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	peer := cfg.PeerAddress()
	spinner := ui.NewSpinner(fmt.Sprintf("Verifying %s", peer))
	spinner.Start()

	runner := pipeline.NewRunner(*cfg, provider, pipeline.RunPolicy{}, logger)
	status, err := runner.Echo(ctx)
	spinner.Stop(err == nil)
	if err != nil {
		return err
	}
	fmt.Printf("  Status: %s\n", status)
	return nil
}
