package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"cvnchain/cmd/internal/passphrase"
	"cvnchain/crypto"
	"cvnchain/native/governance"
)

type memberFlags struct {
	kind       string
	id         string
	signatures []string
}

func (f *memberFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.kind, "type", "c", `Member type: "c" for a CVN, "a" for a chain admin`)
	cmd.Flags().StringVar(&f.id, "id", "", "Hex encoded member id")
	cmd.Flags().StringArrayVar(&f.signatures, "sig", nil, "Admin signature token <signerIdHex>:<signatureHex>; repeat per signer")
	_ = cmd.MarkFlagRequired("id")
}

func newAddCommand(opts *globalOptions) *cobra.Command {
	var (
		flags  memberFlags
		pubKey string
		params []string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a CVN or chain admin. Without --sig prints the hash to sign",
		RunE: func(cmd *cobra.Command, _ []string) error {
			overrides, err := parseParamFlags(params)
			if err != nil {
				return err
			}
			param := map[string]interface{}{"type": flags.kind, "id": flags.id, "pubKey": pubKey}
			if len(flags.signatures) > 0 {
				param["signatures"] = flags.signatures
			}
			if len(overrides) > 0 {
				param["params"] = overrides
			}
			result, err := newRPCClient(opts).call(cmd.Context(), "cvn_add", param, true)
			if err != nil {
				return err
			}
			printJSONResult(cmd.OutOrStdout(), result)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&pubKey, "pubkey", "", "Hex encoded secp256k1 public key")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Dynamic parameter override name=value; repeatable")
	_ = cmd.MarkFlagRequired("pubkey")
	return cmd
}

func newRemoveCommand(opts *globalOptions) *cobra.Command {
	var flags memberFlags
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a CVN or chain admin. Without --sig prints the hash to sign",
		RunE: func(cmd *cobra.Command, _ []string) error {
			param := map[string]interface{}{"type": flags.kind, "id": flags.id}
			if len(flags.signatures) > 0 {
				param["signatures"] = flags.signatures
			}
			result, err := newRPCClient(opts).call(cmd.Context(), "cvn_remove", param, true)
			if err != nil {
				return err
			}
			printJSONResult(cmd.OutOrStdout(), result)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newParamsCommand(opts *globalOptions) *cobra.Command {
	var (
		params     []string
		signatures []string
	)
	cmd := &cobra.Command{
		Use:   "params",
		Short: "Update dynamic chain parameters. Without --sig prints the hash to sign",
		RunE: func(cmd *cobra.Command, _ []string) error {
			overrides, err := parseParamFlags(params)
			if err != nil {
				return err
			}
			if len(overrides) == 0 {
				return fmt.Errorf("at least one --param is required")
			}
			param := map[string]interface{}{"params": overrides}
			if len(signatures) > 0 {
				param["signatures"] = signatures
			}
			result, err := newRPCClient(opts).call(cmd.Context(), "cvn_setParams", param, true)
			if err != nil {
				return err
			}
			printJSONResult(cmd.OutOrStdout(), result)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&params, "param", nil, "Dynamic parameter override name=value; repeatable")
	cmd.Flags().StringArrayVar(&signatures, "sig", nil, "Admin signature token; repeat per signer")
	return cmd
}

// newSignCommand signs a governance hash with a keystore held admin key. The
// key never leaves the operator's machine.
func newSignCommand() *cobra.Command {
	var (
		keystorePath string
		adminID      string
	)
	cmd := &cobra.Command{
		Use:   "sign <hash>",
		Short: "Sign a governance message hash offline and print the signature token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseHexID(adminID)
			if err != nil {
				return err
			}
			hash, err := hex.DecodeString(trimHex(args[0]))
			if err != nil || len(hash) != 32 {
				return fmt.Errorf("hash must be 32 hex encoded bytes")
			}
			pass, err := passphrase.NewSource(adminPassEnv, "").Get()
			if err != nil {
				return err
			}
			key, err := crypto.LoadFromKeystore(keystorePath, pass)
			if err != nil {
				return fmt.Errorf("load keystore: %w", err)
			}
			sig, err := crypto.Sign(hash, key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), governance.FormatSignatureToken(id, sig))
			return nil
		},
	}
	cmd.Flags().StringVar(&keystorePath, "keystore", "", "Path to the admin keystore file")
	cmd.Flags().StringVar(&adminID, "admin-id", "", "Hex encoded chain admin id")
	_ = cmd.MarkFlagRequired("keystore")
	_ = cmd.MarkFlagRequired("admin-id")
	return cmd
}

func newKeygenCommand() *cobra.Command {
	var keystorePath string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an admin or validator key into an encrypted keystore",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pass, err := passphrase.NewSource(adminPassEnv, "Choose keystore passphrase: ").Get()
			if err != nil {
				return err
			}
			key, err := crypto.GeneratePrivateKey()
			if err != nil {
				return err
			}
			if err := crypto.SaveToKeystore(keystorePath, key, pass); err != nil {
				return fmt.Errorf("write keystore: %w", err)
			}
			out, _ := json.MarshalIndent(map[string]string{
				"keystore": keystorePath,
				"pubKey":   hex.EncodeToString(key.PubKey().Bytes()),
				"address":  key.PubKey().Address().String(),
			}, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&keystorePath, "keystore", "", "Output path for the keystore file")
	_ = cmd.MarkFlagRequired("keystore")
	return cmd
}

func newInfoCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show chain tip, registry sizes and dynamic parameters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := newRPCClient(opts).call(cmd.Context(), "cvn_getInfo", nil, false)
			if err != nil {
				return err
			}
			printJSONResult(cmd.OutOrStdout(), result)
			return nil
		},
	}
}

func newListCommand(opts *globalOptions, use, method, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := newRPCClient(opts).call(cmd.Context(), method, nil, false)
			if err != nil {
				return err
			}
			printJSONResult(cmd.OutOrStdout(), result)
			return nil
		},
	}
}

func parseParamFlags(values []string) (map[string]int64, error) {
	out := make(map[string]int64, len(values))
	for _, v := range values {
		name, raw, ok := strings.Cut(v, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --param %q: expected name=value", v)
		}
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid --param %q: %w", v, err)
		}
		out[name] = n
	}
	return out, nil
}

func parseHexID(s string) (uint32, error) {
	v, err := strconv.ParseUint(trimHex(s), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return uint32(v), nil
}

func trimHex(s string) string {
	s = strings.TrimSpace(s)
	return strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
}
