package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "settlectl",
	Short: "Settlement pipeline CLI",
	Long:  `A CLI tool to inspect and drive the auction settlement pipeline.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.settlectl.yaml)")
	rootCmd.PersistentFlags().String("api", "http://localhost:8084", "settlement service base URL")
	viper.BindPFlag("api", rootCmd.PersistentFlags().Lookup("api"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".settlectl")
	}

	viper.SetEnvPrefix("SETTLECTL")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

func main() {
	Execute()
}
