package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const (
	defaultRPCEndpoint = "http://127.0.0.1:8545"
	rpcURLEnv          = "CVN_RPC_URL"
	rpcTokenEnv        = "CVN_RPC_TOKEN"
	adminPassEnv       = "CVN_ADMIN_PASS"
)

type globalOptions struct {
	endpoint string
	token    string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "cvnctl",
		Short:         "Operate CVN governance: membership changes, parameter updates, offline signing",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.endpoint, "rpc", envOr(rpcURLEnv, defaultRPCEndpoint), "JSON-RPC endpoint of the node")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv(rpcTokenEnv), "Bearer token for mutating calls (defaults to $"+rpcTokenEnv+")")

	root.AddCommand(
		newAddCommand(opts),
		newRemoveCommand(opts),
		newParamsCommand(opts),
		newSignCommand(),
		newKeygenCommand(),
		newInfoCommand(opts),
		newListCommand(opts, "validators", "cvn_listValidators", "List registered validators"),
		newListCommand(opts, "admins", "cvn_listAdmins", "List registered chain admins"),
		newListCommand(opts, "log", "cvn_getGovernanceLog", "Show applied governance messages"),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
