package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/spf13/cobra"

	"github.com/govm-net/mvm/client"
	"github.com/govm-net/mvm/core"
	"github.com/govm-net/mvm/vm"
)

var (
	remoteURI string
	remoteAt  string
)

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate gas against a running node",
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Read modules, resources and balances from a running node",
}

func init() {
	for _, c := range []*cobra.Command{estimateCmd, queryCmd} {
		c.PersistentFlags().StringVar(&remoteURI, "uri", "http://127.0.0.1:9650", "Node URI")
		c.PersistentFlags().StringVar(&remoteAt, "at", "", "Finalized block id, latest state when empty")
	}

	estimateCmd.AddCommand(
		&cobra.Command{
			Use:   "module <account> <module>",
			Short: "Estimate publishing a module package",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return estimatePublish(cmd, args, false)
			},
		},
		&cobra.Command{
			Use:   "bundle <account> <bundle>",
			Short: "Estimate publishing a bundle",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return estimatePublish(cmd, args, true)
			},
		},
		&cobra.Command{
			Use:   "script <tx>",
			Short: "Estimate executing a transaction",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				raw, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				at, err := parseAt()
				if err != nil {
					return err
				}
				est, err := client.New(remoteURI).EstimateExecuteScript(cmd.Context(), raw, at)
				if err != nil {
					return err
				}
				return printJSON(cmd, est)
			},
		},
	)

	queryCmd.AddCommand(
		&cobra.Command{
			Use:   "resource <account> <type>",
			Short: "Print a resource as hex",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				acct, err := core.AccountFromString(args[0])
				if err != nil {
					return err
				}
				at, err := parseAt()
				if err != nil {
					return err
				}
				v, ok, err := client.New(remoteURI).GetResource(cmd.Context(), acct, core.TypeTag(args[1]), at)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("resource %s not found under %s", args[1], acct)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(v))
				return err
			},
		},
		&cobra.Command{
			Use:   "module <module>",
			Short: "Download a module package",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := core.ParseModuleID(args[0])
				if err != nil {
					return err
				}
				at, err := parseAt()
				if err != nil {
					return err
				}
				raw, ok, err := client.New(remoteURI).GetModule(cmd.Context(), id.Address, id.Name, at)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("module %s not found", id)
				}
				_, err = cmd.OutOrStdout().Write(raw)
				return err
			},
		},
		&cobra.Command{
			Use:   "abi <module>",
			Short: "Print the ABI of a module",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := core.ParseModuleID(args[0])
				if err != nil {
					return err
				}
				at, err := parseAt()
				if err != nil {
					return err
				}
				a, ok, err := client.New(remoteURI).GetModuleABI(cmd.Context(), id.Address, id.Name, at)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("module %s not found", id)
				}
				return printJSON(cmd, a)
			},
		},
		&cobra.Command{
			Use:   "balance <account>",
			Short: "Print the native balance of an account",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				acct, err := core.AccountFromString(args[0])
				if err != nil {
					return err
				}
				at, err := parseAt()
				if err != nil {
					return err
				}
				b, err := client.New(remoteURI).GetBalance(cmd.Context(), acct, at)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), b)
				return err
			},
		},
	)
}

func estimatePublish(cmd *cobra.Command, args []string, bundle bool) error {
	acct, err := core.AccountFromString(args[0])
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}
	at, err := parseAt()
	if err != nil {
		return err
	}

	c := client.New(remoteURI)
	var est *vm.Estimation
	if bundle {
		est, err = c.EstimatePublishBundle(cmd.Context(), acct, raw, at)
	} else {
		est, err = c.EstimatePublishModule(cmd.Context(), acct, raw, at)
	}
	if err != nil {
		return err
	}
	return printJSON(cmd, est)
}

func parseAt() (*ids.ID, error) {
	if remoteAt == "" {
		return nil, nil
	}
	id, err := ids.FromString(remoteAt)
	if err != nil {
		return nil, fmt.Errorf("invalid block id %q: %w", remoteAt, err)
	}
	return &id, nil
}
