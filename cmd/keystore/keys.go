package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/benaskins/keystore/internal/keychain"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	kindFlag    string
	privateFlag bool
	jwkFlag     bool
	forceFlag   bool
)

func parseKind() (keychain.KeyKind, error) {
	return keychain.ParseKeyKind(kindFlag)
}

// withStore opens a session, runs fn, and closes the session.
func withStore(fn func(s *session) error) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

var stdoutIsTerminal = func() bool { return term.IsTerminal(int(os.Stdout.Fd())) }

// guardTerminal refuses to print secret material to an interactive terminal
// unless --force is set. Commands call it before touching the store.
func guardTerminal(what string) error {
	if !forceFlag && stdoutIsTerminal() {
		return fmt.Errorf("refusing to print %s to a terminal; redirect output or pass --force", what)
	}
	return nil
}

// keyCommandArgs parses --kind and checks that the requested output may be
// written, so nothing is stored when it cannot be.
func keyCommandArgs() (keychain.KeyKind, error) {
	kind, err := parseKind()
	if err != nil {
		return "", err
	}
	if privateFlag {
		if err := guardTerminal("private key"); err != nil {
			return "", err
		}
	}
	return kind, nil
}

func printKey(w io.Writer, key *keychain.PrivateKey) error {
	switch {
	case privateFlag:
		fmt.Fprintln(w, hex.EncodeToString(key.Bytes()))
	case jwkFlag:
		data, err := publicJWK(key)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
	default:
		fmt.Fprintln(w, hex.EncodeToString(key.PublicKeyBytes()))
	}
	return nil
}

var generateCmd = &cobra.Command{
	Use:   "generate <label>",
	Short: "Generate and store a new key",
	Long:  "Generate a new P-256 key and store it. Fails if a key with this label and kind already exists.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := keyCommandArgs()
		if err != nil {
			return err
		}
		return withStore(func(s *session) error {
			key, err := s.store.GenerateAndSave(args[0], kind)
			if err != nil {
				return err
			}
			return printKey(cmd.OutOrStdout(), key)
		})
	},
}

var ensureCmd = &cobra.Command{
	Use:   "ensure <label>",
	Short: "Print a stored key, generating it first if absent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := keyCommandArgs()
		if err != nil {
			return err
		}
		return withStore(func(s *session) error {
			key, err := s.store.GetOrGenerate(args[0], kind)
			if err != nil {
				return err
			}
			return printKey(cmd.OutOrStdout(), key)
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get <label>",
	Short: "Print a stored key (public key by default)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := keyCommandArgs()
		if err != nil {
			return err
		}
		return withStore(func(s *session) error {
			key, err := s.store.Retrieve(args[0], kind)
			if err != nil {
				return err
			}
			return printKey(cmd.OutOrStdout(), key)
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import <label> [hex]",
	Short: "Store an existing key",
	Long:  "Store a hex-encoded X9.63 private key (04 || X || Y || D). If hex is omitted, reads from stdin.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseKind()
		if err != nil {
			return err
		}

		var encoded string
		if len(args) == 2 {
			encoded = args[1]
		} else if term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprint(os.Stderr, "Enter private key (hex): ")
			b, err := term.ReadPassword(int(os.Stdin.Fd()))
			if err != nil {
				return fmt.Errorf("reading key: %w", err)
			}
			fmt.Fprintln(os.Stderr)
			encoded = string(b)
		} else {
			b, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			encoded = string(b)
		}

		data, err := hex.DecodeString(strings.TrimSpace(encoded))
		if err != nil {
			return fmt.Errorf("%w: key is not valid hex", keychain.ErrInvalidArgument)
		}
		key, err := keychain.ParsePrivateKey(kind, data)
		if err != nil {
			return fmt.Errorf("%w: %v", keychain.ErrInvalidArgument, err)
		}

		return withStore(func(s *session) error {
			if err := s.store.Save(args[0], key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Key %s/%s stored\n", kind, args[0])
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <label>",
	Short:   "Remove a stored key",
	Aliases: []string{"rm"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseKind()
		if err != nil {
			return err
		}
		return withStore(func(s *session) error {
			deleted, err := s.store.Delete(args[0], kind)
			if err != nil {
				return err
			}
			if !deleted {
				fmt.Fprintf(cmd.OutOrStdout(), "Key %s/%s not present\n", kind, args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Key %s/%s deleted\n", kind, args[0])
			return nil
		})
	},
}

var rotateCmd = &cobra.Command{
	Use:   "rotate <label>",
	Short: "Replace a stored key with a freshly generated one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := keyCommandArgs()
		if err != nil {
			return err
		}
		return withStore(func(s *session) error {
			key, err := s.store.Rotate(args[0], kind)
			if err != nil {
				return err
			}
			return printKey(cmd.OutOrStdout(), key)
		})
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List stored keys",
	Aliases: []string{"ls"},
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *session) error {
			entries, err := s.store.List()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No keys stored")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "LABEL\tKIND\tCREATED\tROTATED")
			for _, e := range entries {
				created, rotated := "-", "-"
				if meta := s.store.Metadata().Get(e.Label, e.Kind); meta != nil {
					created = meta.CreatedAt.Local().Format(time.DateTime)
					if !meta.LastRotated.IsZero() {
						rotated = meta.LastRotated.Local().Format(time.DateTime)
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Label, e.Kind, created, rotated)
			}
			return w.Flush()
		})
	},
}

var deriveCmd = &cobra.Command{
	Use:   "derive <label> <remote-public-hex>",
	Short: "Derive a 32-byte symmetric key with a peer's public key",
	Long: "Perform ECDH between the stored key-agreement key and the peer's uncompressed P-256 public key, " +
		"then derive a 32-byte key with HKDF-SHA256 (empty salt and info). Prints the key as hex.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		remote, err := hex.DecodeString(strings.TrimSpace(args[1]))
		if err != nil {
			return fmt.Errorf("%w: remote public key is not valid hex", keychain.ErrInvalidArgument)
		}
		if err := guardTerminal("derived key"); err != nil {
			return err
		}
		return withStore(func(s *session) error {
			local, err := s.store.Retrieve(args[0], keychain.KindKeyAgreement)
			if err != nil {
				return err
			}
			key, err := s.store.DeriveSharedSymmetricKey(local, remote)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(key))
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{generateCmd, ensureCmd, getCmd, importCmd, deleteCmd, rotateCmd} {
		c.Flags().StringVarP(&kindFlag, "kind", "k", string(keychain.KindKeyAgreement), "Key kind: agreement or signing")
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{generateCmd, ensureCmd, getCmd, rotateCmd} {
		c.Flags().BoolVar(&privateFlag, "private", false, "Print the private key (X9.63 hex) instead of the public key")
		c.Flags().BoolVar(&jwkFlag, "jwk", false, "Print the public key as a JWK")
		c.MarkFlagsMutuallyExclusive("private", "jwk")
	}
	for _, c := range []*cobra.Command{generateCmd, ensureCmd, getCmd, rotateCmd, deriveCmd} {
		c.Flags().BoolVar(&forceFlag, "force", false, "Allow printing secret material to a terminal")
	}
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deriveCmd)
}
