package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/spritegate/internal/config"
	"github.com/sprite-ai/spritegate/internal/identity"
)

var (
	tokenUser  string
	tokenEmail string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an access/refresh token pair for a user",
	Long: `Mint a signed token pair for the given user id, using the configured
JWT secret. Clients present the access token in the connect envelope.`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVarP(&tokenUser, "user", "u", "", "User id to mint for (required)")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "Email claim to embed")
	tokenCmd.MarkFlagRequired("user")
}

func runToken(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir("")
	if err != nil {
		return err
	}
	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if cfg.Identity.JWTSecret == "" {
		return fmt.Errorf("no jwt secret configured; set identity.jwtSecret or SPRITEGATE_JWT_SECRET")
	}

	resolver := identity.New(cfg.Identity.JWTSecret, cfg.Identity.SpritePrefix)
	pair, err := resolver.MintPair(tokenUser, tokenEmail)
	if err != nil {
		return err
	}

	fmt.Printf("sprite:  %s\n", resolver.SpriteName(tokenUser))
	fmt.Printf("access:  %s\n", pair.AccessToken)
	fmt.Printf("refresh: %s\n", pair.RefreshToken)
	return nil
}
