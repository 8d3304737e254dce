package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/cmdgate/internal/identity"
	"github.com/ppiankov/cmdgate/internal/model"
	"github.com/ppiankov/cmdgate/internal/transport"
	"github.com/ppiankov/cmdgate/sdk/go/cmdgate"
)

var (
	callURL     string
	callKey     string
	callTimeout time.Duration
	callRetries int
)

func init() {
	rootCmd.AddCommand(callCmd)
	callCmd.Flags().StringVar(&callURL, "url", "ws://127.0.0.1:8440/ws", "Gateway WebSocket endpoint")
	callCmd.Flags().StringVar(&callKey, "key", "", "Key file to sign with (default: identity from config)")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 10*time.Second, "Per-attempt timeout")
	callCmd.Flags().IntVar(&callRetries, "retries", 0, "Retries on transport failure")
}

var callCmd = &cobra.Command{
	Use:   "call <method> [params-json]",
	Short: "Send one signed command to a gateway",
	Long: "Connects as the identity in the key file, sends method with optional\n" +
		"JSON params and prints the result. A denial exits non-zero with the\n" +
		"gateway's error code and message.",
	Example: `  cmdgate call system.ping --key ~/.cmdgate/phone.key
  cmdgate call device.setPermission '{"identity":"laptop-1","level":3}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCall,
}

func runCall(cmd *cobra.Command, args []string) error {
	keyPath := callKey
	if keyPath == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		keyPath = cfg.Identity
	}
	if keyPath == "" {
		return fmt.Errorf("--key is required when no identity is configured")
	}
	signer, err := identity.LoadSigner(keyPath)
	if err != nil {
		return err
	}

	var params any
	if len(args) == 2 {
		if !json.Valid([]byte(args[1])) {
			return fmt.Errorf("params must be valid JSON")
		}
		params = json.RawMessage(args[1])
	}

	client, err := cmdgate.New(signer)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout*time.Duration(callRetries+2))
	defer cancel()
	if err := client.Dial(ctx, callURL); err != nil {
		return err
	}

	result, err := client.CallRaw(ctx, args[0], params, transport.CallOptions{
		Timeout: callTimeout,
		Retries: callRetries,
		NoRetry: callRetries == 0,
	})
	var rpcErr *model.RPCError
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("%s: %s (code %d)", args[0], rpcErr.Message, rpcErr.Code)
	}
	if err != nil {
		return err
	}

	var pretty any
	if err := json.Unmarshal(result, &pretty); err != nil {
		fmt.Fprintln(output(cmd), string(result))
		return nil
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Fprintln(output(cmd), string(out))
	return nil
}
