/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"

	"github.com/recipebox/apiserver/config"
	"github.com/recipebox/apiserver/internal/db"
	"github.com/recipebox/apiserver/internal/services"
	"github.com/recipebox/apiserver/internal/store"
	"github.com/recipebox/apiserver/types"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var (
	superuserEmail    string
	superuserName     string
	superuserPassword string
)

// createsuperuserCmd represents the createsuperuser command.
var createsuperuserCmd = &cobra.Command{
	Use:   "createsuperuser",
	Short: "Create a superuser account",
	RunE: func(cmd *cobra.Command, args []string) error {
		if superuserEmail == "" || superuserPassword == "" {
			return errors.New("--email and --password are required")
		}

		cfg := config.LoadConfig()
		dbConn, err := db.Open(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer dbConn.Close()

		hashed, err := bcrypt.GenerateFromPassword([]byte(superuserPassword), bcrypt.DefaultCost)
		if err != nil {
			return err
		}

		userService := services.NewUserService(store.NewUserRepository(dbConn))
		user, err := userService.Create(cmd.Context(), types.User{
			Email:        superuserEmail,
			Name:         superuserName,
			IsStaff:      true,
			IsSuperuser:  true,
			PasswordHash: string(hashed),
		})
		if err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return fmt.Errorf("user %s already exists", superuserEmail)
			}
			return err
		}

		fmt.Printf("superuser %s created (id %d)\n", user.Email, user.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(createsuperuserCmd)

	createsuperuserCmd.Flags().StringVar(&superuserEmail, "email", "", "superuser email address")
	createsuperuserCmd.Flags().StringVar(&superuserName, "name", "", "superuser display name")
	createsuperuserCmd.Flags().StringVar(&superuserPassword, "password", "", "superuser password")
}
