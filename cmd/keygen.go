package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bgdnvk/coolctl/internal/deploykey"
	"github.com/spf13/cobra"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an ed25519 deploy key for a private repository",
	Long: `Generate an SSH key pair to use as a read-only deploy key. Add the public key
to the repository's deploy keys and the private key to Coolify's Keys & Tokens,
then pass its id with --private-key-id or application.private_key_id.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		comment, _ := cmd.Flags().GetString("comment")
		force, _ := cmd.Flags().GetBool("force")
		check, _ := cmd.Flags().GetString("check")

		if check != "" {
			fp, err := deploykey.Validate(check)
			if err != nil {
				return err
			}
			fmt.Printf("%s: valid private key, fingerprint %s\n", check, fp)
			return nil
		}

		if out == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("error finding home directory: %w", err)
			}
			out = filepath.Join(home, ".coolctl", "deploy_key")
		}

		kp, err := deploykey.Generate(comment)
		if err != nil {
			return err
		}
		if err := kp.Write(out, force); err != nil {
			return err
		}

		fmt.Printf("Private key: %s\n", out)
		fmt.Printf("Public key:  %s.pub\n", out)
		fmt.Printf("Fingerprint: %s\n\n", kp.Fingerprint)
		fmt.Print(string(kp.AuthorizedKey))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().String("out", "", "private key path (default $HOME/.coolctl/deploy_key)")
	keygenCmd.Flags().String("comment", "coolctl-deploy-key", "key comment")
	keygenCmd.Flags().Bool("force", false, "overwrite an existing key")
	keygenCmd.Flags().String("check", "", "validate an existing private key instead of generating one")
}
