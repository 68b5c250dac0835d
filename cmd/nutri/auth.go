package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	loginUser     string
	loginInitData string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with a username and password, or with Telegram initData",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			if loginInitData != "" {
				if err := s.client.LoginTelegram(ctx, loginInitData); err != nil {
					return err
				}
			} else {
				username := loginUser
				if username == "" {
					fmt.Fprint(s.out, "Username: ")
					line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
					username = strings.TrimSpace(line)
				}
				fmt.Fprint(s.out, "Password: ")
				password, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(s.out)
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				if err := s.client.Login(ctx, username, string(password)); err != nil {
					return err
				}
			}
			u, err := s.client.Me(ctx)
			if err != nil {
				return err
			}
			name := u.FirstName
			if name == "" {
				name = u.Username
			}
			fmt.Fprintf(s.out, "Signed in as %s\n", name)
			if !u.Onboarded {
				fmt.Fprintln(s.out, "Set up your profile with `nutri profile set` to get personal targets.")
			}
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored login token",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			if err := s.client.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(s.out, "Signed out")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd)
	loginCmd.Flags().StringVarP(&loginUser, "username", "u", "", "Username (prompted when empty)")
	loginCmd.Flags().StringVar(&loginInitData, "telegram", "", "Sign in with Telegram mini-app initData instead")
}
