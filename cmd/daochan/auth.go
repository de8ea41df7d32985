package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daochan/daochan/internal/session"
	"github.com/daochan/daochan/internal/wallet"
)

const ENSNameKey = "ens-name"

func signinCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "signin",
		Short: "Signs a fresh challenge with the wallet key",
		Args:  cobra.NoArgs,
		RunE:  signinFunc,
	}
	c.Flags().String(ENSNameKey, "", "ENS name to set on the profile")
	return c
}

func signinFunc(c *cobra.Command, args []string) error {
	ensName, err := c.Flags().GetString(ENSNameKey)
	if err != nil {
		return err
	}

	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.SignIn(c.Context(), ensName)
	if err != nil {
		return err
	}
	printStatus(c, st)
	return nil
}

func signoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Discards the stored credential",
		Args:  cobra.NoArgs,
		RunE:  signoutFunc,
	}
}

func signoutFunc(c *cobra.Command, args []string) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.SignOut(c.Context())
}

func whoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Shows the wallet's sign-in state",
		Args:  cobra.NoArgs,
		RunE:  whoamiFunc,
	}
}

func whoamiFunc(c *cobra.Command, args []string) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.Status(c.Context())
	if err != nil {
		return err
	}
	printStatus(c, st)
	return nil
}

func printStatus(c *cobra.Command, st session.Status) {
	out := c.OutOrStdout()
	if !st.Connected {
		fmt.Fprintln(out, "no wallet, run daochan keygen")
		return
	}
	fmt.Fprintf(out, "address:       %s\n", st.Address)
	if st.Credential != nil {
		fmt.Fprintf(out, "signed in:     until %s\n", st.Credential.ExpiresAt.Local().Format("2006-01-02 15:04"))
	} else {
		fmt.Fprintln(out, "signed in:     no")
	}
	if st.User != nil {
		fmt.Fprintf(out, "ens name:      %s\n", st.User.ENSName)
		fmt.Fprintf(out, "reputation:    %s\n", st.User.Reputation)
	}
	fmt.Fprintf(out, "authenticated: %t\n", st.Authenticated)
}

func keygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Creates a wallet key file",
		Args:  cobra.NoArgs,
		RunE:  keygenFunc,
	}
}

func keygenFunc(c *cobra.Command, args []string) error {
	cfg, err := loadConfig(c.Flags())
	if err != nil {
		return err
	}

	w, err := wallet.Generate()
	if err != nil {
		return err
	}
	if err := w.Save(cfg.KeyPath); err != nil {
		return fmt.Errorf("save key: %w", err)
	}

	address, _ := w.Address(c.Context())
	fmt.Fprintf(c.OutOrStdout(), "%s\nkey written to %s\n", address, cfg.KeyPath)
	return nil
}
