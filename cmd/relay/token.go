package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/orchestra-mcp/relay/src/auth"
	"github.com/spf13/cobra"
)

var (
	tokenUser string
	tokenRole string
	tokenTTL  time.Duration
)

var TokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin token signed with auth.jwt_secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Auth.JWTSecret == "" {
			return errors.New("auth.jwt_secret is not set; tokens would not verify against the server")
		}
		ttl := tokenTTL
		if ttl <= 0 {
			ttl = cfg.Auth.TokenTTL
		}
		user := tokenUser
		if user == "" {
			user = cfg.Auth.AdminUsername
		}
		tok, err := auth.IssueToken(cfg.Auth.JWTSecret, user, tokenRole, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

var HashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Print a bcrypt hash for auth.admin_password_hash",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var password string
		if len(args) == 1 {
			password = args[0]
		} else {
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}
		if password == "" {
			return errors.New("password must not be empty")
		}
		hash, err := auth.HashPassword(password)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	TokenCmd.Flags().StringVarP(&tokenUser, "user", "u", "", "token subject (default auth.admin_username)")
	TokenCmd.Flags().StringVar(&tokenRole, "role", auth.RoleAdmin, "role claim")
	TokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default auth.token_ttl)")
	RootCmd.AddCommand(TokenCmd, HashPasswordCmd)
}
