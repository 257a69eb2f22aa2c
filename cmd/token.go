package cmd

import (
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/auth"
	"github.com/LeeDigitalWorks/zaptus/pkg/utils"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an HS256 bearer token",
	Long: `Issue a bearer token accepted by a server configured with the same
auth_secret. ops limits the token to the listed operations (create, status,
append, terminate, concatenate, declare-length, or * for all) and upload
pins it to a single upload id.`,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	f := tokenCmd.Flags()
	f.String("auth_secret", "", "HS256 signing secret (use env var AUTH_SECRET)")
	f.String("auth_issuer", "", "Token issuer")
	f.String("auth_audience", "", "Token audience")
	f.String("subject", "", "Token subject")
	f.StringSlice("ops", []string{auth.AllOperations}, "Allowed operations")
	f.String("upload", "", "Restrict the token to one upload id")
	f.Duration("ttl", time.Hour, "Token lifetime")

	viper.BindPFlags(f)
}

func runToken(cmd *cobra.Command, args []string) error {
	utils.LoadConfiguration("zaptus", false)
	l := NewFlagLoader(cmd)

	j, err := auth.NewJWT(auth.Config{
		Secret:   l.String("auth_secret"),
		Issuer:   l.String("auth_issuer"),
		Audience: l.String("auth_audience"),
	})
	if err != nil {
		return err
	}

	token, err := j.Issue(l.String("subject"), l.StringSlice("ops"), l.String("upload"), l.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
