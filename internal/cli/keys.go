package cli

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/cmdgate/internal/identity"
)

var (
	keygenIdentity string
	keysDevice     string
)

func init() {
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysAddCmd)
	keysCmd.AddCommand(keysListCmd)
	keygenCmd.Flags().StringVar(&keygenIdentity, "identity", "", "Identity to sign as. Default: the key's did:key")
	keysAddCmd.Flags().StringVar(&keysDevice, "device", "", "Device name stored with the key")
}

var keygenCmd = &cobra.Command{
	Use:   "keygen <path>",
	Short: "Generate an Ed25519 key file",
	Long:  "Writes a new private key file (mode 0600) and prints the identity and\npublic key to register in the gateway keyring.",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeygen,
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the identity keyring",
}

var keysAddCmd = &cobra.Command{
	Use:   "add <identity> <public-key-base64>",
	Short: "Register a device public key",
	Long:  "Adds or replaces an identity in the keyring file. A running gateway reloads the keyring on change.",
	Args:  cobra.ExactArgs(2),
	RunE:  runKeysAdd,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List keyring identities",
	RunE:  runKeysList,
}

func runKeygen(cmd *cobra.Command, args []string) error {
	signer, err := identity.GenerateSigner(keygenIdentity)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(args[0]), 0o750); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	if err := signer.Save(args[0]); err != nil {
		return err
	}

	w := output(cmd)
	fmt.Fprintf(w, "Key written: %s\n", args[0])
	fmt.Fprintf(w, "Identity:    %s\n", signer.Identity())
	fmt.Fprintf(w, "Public key:  %s\n", base64.StdEncoding.EncodeToString(signer.PublicKey()))
	fmt.Fprintf(w, "did:key:     %s\n", identity.DIDKey(signer.PublicKey()))
	return nil
}

func runKeysAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	raw, err := base64.StdEncoding.DecodeString(args[1])
	if err != nil {
		return fmt.Errorf("invalid public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}

	kr, err := identity.LoadKeyring(cfg.Keyring)
	if err != nil {
		return err
	}
	if err := kr.Add(args[0], ed25519.PublicKey(raw), keysDevice); err != nil {
		return err
	}
	if err := kr.Save(cfg.Keyring); err != nil {
		return err
	}
	fmt.Fprintf(output(cmd), "Added %s to %s\n", args[0], cfg.Keyring)
	return nil
}

func runKeysList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	kr, err := identity.LoadKeyring(cfg.Keyring)
	if err != nil {
		return err
	}

	w := output(cmd)
	ids := kr.Identities()
	if len(ids) == 0 {
		fmt.Fprintln(w, "Keyring is empty.")
		return nil
	}
	fmt.Fprintf(w, "%-30s %-20s %s\n", "IDENTITY", "DEVICE", "PUBLIC KEY")
	for _, id := range ids {
		e, _ := kr.Lookup(id)
		fmt.Fprintf(w, "%-30s %-20s %s\n", truncate(id, 30), truncate(e.DeviceName, 20), e.PublicKey)
	}
	return nil
}
