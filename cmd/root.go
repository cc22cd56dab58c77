package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gate-attendance",
	Short: "Face-recognition attendance service for the school gate",
	Long: `Gate Attendance matches face embeddings from the gate cameras against enrolled
students, records time-in and time-out under the closed-gate or open-gate policy,
signals the physical gate and notifies guardians by email and SMS.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
