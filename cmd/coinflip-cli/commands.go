package main

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"heads-or-tails/commitment"
	"heads-or-tails/models"
	"heads-or-tails/utils"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "coinflip-cli",
		Short:         "heads-or-tails player tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		SecretCmd(),
		CommitCmd(),
		VerifyCmd(),
		OutcomeCmd(),
		UnitsCmd(),
	)
	return cmd
}

// SecretCmd creates a fresh secret and its commitment.
func SecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Generate a 16-byte secret and its commitment",
		Args:  cobra.NoArgs,
		RunE:  newSecret,
	}
	cmd.Flags().StringP("value", "v", "", "derive the secret from an unsigned integer instead of random bytes")
	return cmd
}

func newSecret(cmd *cobra.Command, args []string) error {
	value, _ := cmd.Flags().GetString("value")

	var secret []byte
	if value == "" {
		s, err := commitment.NewSecret()
		if err != nil {
			return errors.Wrap(err, "generate secret")
		}
		secret = s
	} else {
		v, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "parse value %q", value)
		}
		secret = make([]byte, commitment.SecretSize)
		binary.BigEndian.PutUint64(secret[8:], v)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "secret:     %s\n", models.HexBytes(secret))
	fmt.Fprintf(out, "commitment: %s\n", models.HexBytes(commitment.Commit(secret)))
	return nil
}

// CommitCmd hashes an existing secret.
func CommitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commit <secret-hex>",
		Short: "Print the commitment of a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := parseSecret(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), models.HexBytes(commitment.Commit(secret)))
			return nil
		},
	}
}

// VerifyCmd checks a secret against a commitment.
func VerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <commitment-hex> <secret-hex>",
		Short: "Check that a secret opens a commitment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := models.ParseHex(args[0])
			if err != nil {
				return errors.Wrap(err, "commitment")
			}
			s, err := models.ParseHex(args[1])
			if err != nil {
				return errors.Wrap(err, "secret")
			}
			if commitment.Verify(c, s) {
				fmt.Fprintln(cmd.OutOrStdout(), "match")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "mismatch")
			return errors.New("secret does not open commitment")
		},
	}
}

// OutcomeCmd recomputes who wins from both reveals and player1's guess.
func OutcomeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outcome <player1-secret-hex> <player2-secret-hex>",
		Short: "Decide the winner of a game where both reveals matched",
		Args:  cobra.ExactArgs(2),
		RunE:  outcome,
	}
	cmd.Flags().BoolP("guess", "g", false, "player1's guess: true bets on an even sum")
	return cmd
}

func outcome(cmd *cobra.Command, args []string) error {
	guess, _ := cmd.Flags().GetBool("guess")
	s1, err := parseSecret(args[0])
	if err != nil {
		return errors.Wrap(err, "player1")
	}
	s2, err := parseSecret(args[1])
	if err != nil {
		return errors.Wrap(err, "player2")
	}

	even := commitment.ParityEven(s1, s2)
	parity, winner := "odd", "player2"
	if even {
		parity = "even"
	}
	if guess == even {
		winner = "player1"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sum is %s, %s wins\n", parity, winner)
	return nil
}

// UnitsCmd converts a coin amount into the smallest units X-Attached-Deposit expects.
func UnitsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "units <amount>",
		Short: "Convert between coin amounts and smallest units",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			decimals, _ := cmd.Flags().GetInt32("decimals")
			if reverse, _ := cmd.Flags().GetBool("reverse"); reverse {
				units, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return errors.Wrapf(err, "parse units %q", args[0])
				}
				fmt.Fprintln(cmd.OutOrStdout(), utils.FormatUnits(units, decimals))
				return nil
			}
			units, err := utils.ParseUnits(args[0], decimals)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), units)
			return nil
		},
	}
	cmd.Flags().Int32P("decimals", "d", utils.DefaultUnitDecimals, "decimal places of one coin")
	cmd.Flags().BoolP("reverse", "r", false, "convert smallest units back to coins")
	return cmd
}

func parseSecret(s string) ([]byte, error) {
	b, err := models.ParseHex(s)
	if err != nil {
		return nil, errors.Wrap(err, "decode secret")
	}
	if len(b) != commitment.SecretSize {
		return nil, errors.Errorf("secret must be %d bytes, got %d", commitment.SecretSize, len(b))
	}
	return b, nil
}
