package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nexgram/nexgram/pkg/client"
	"github.com/nexgram/nexgram/pkg/tl"
)

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			cl, err := client.New(cfg, client.Options{
				Logger:     newLogger(),
				AppVersion: version,
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := cl.Connect(ctx); err != nil {
				return err
			}
			defer cl.Disconnect(context.Background())

			return runLogin(ctx, cl)
		},
	}
}

// runLogin walks the interactive flow: phone, confirmation code, and a
// two-factor password when the account requires one.
func runLogin(ctx context.Context, cl *client.Client) error {
	var phone string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Phone number").
			Description("International format, e.g. +15550001111").
			Value(&phone).
			Validate(validatePhone),
	))
	if err := form.Run(); err != nil {
		return err
	}

	sent, err := cl.SendCode(ctx, strings.TrimSpace(phone))
	if err != nil {
		return fmt.Errorf("send code: %w", err)
	}

	var code string
	form = huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Confirmation code").
			Description("Sent to " + phone).
			Value(&code),
	))
	if err := form.Run(); err != nil {
		return err
	}

	auth, err := cl.SignIn(ctx, strings.TrimSpace(phone), sent.PhoneCodeHash, strings.TrimSpace(code))
	if errors.Is(err, client.ErrPasswordNeeded) {
		auth, err = loginWithPassword(ctx, cl)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Signed in (user id %d). Session saved.\n", auth.UserID)
	return nil
}

func loginWithPassword(ctx context.Context, cl *client.Client) (*tl.Authorization, error) {
	var password string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Two-factor password").
			EchoMode(huh.EchoModePassword).
			Value(&password),
	))
	if err := form.Run(); err != nil {
		return nil, err
	}
	return cl.CheckPassword(ctx, password)
}

func validatePhone(s string) error {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "+") || len(s) < 8 {
		return errors.New("use international format starting with +")
	}
	return nil
}
