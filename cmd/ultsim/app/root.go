// Copyright 2019 The go-ultiledger Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ultiledger/go-ballot/log"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ultsim",
	Short: "Simulate networks running the ballot protocol",
	Long: `Simulate a network of nodes agreeing on a sequence of slots with
the ballot protocol. The nodes are connected by an in-process network
and their state can be inspected over http while they run.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if viper.GetBool("debug") {
			log.OpenDebug()
		}
	},
}

// Execute runs the root command.
func Execute() {
	defer log.Sync()
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func initConfig() {
	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("read config file failed: %v", err)
	}
	log.Infow("using config file", "path", viper.ConfigFileUsed())
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file of the simulation")
	rootCmd.PersistentFlags().BoolP("debug", "", false, "write debug logs")
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}
