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
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ultiledger/go-ballot/api"
	"github.com/ultiledger/go-ballot/log"
	"github.com/ultiledger/go-ballot/node"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a standalone node with config",
	Long: `Start a node with the specified configuration on a network of its own,
slots are proposed through the http api. The node restores the slots saved
in its database, so a boltdb backed node keeps its externalized values
across restarts. Only a quorum made of the node itself can make progress.`,
	Run: func(cmd *cobra.Command, args []string) {
		if cfgFile == "" {
			log.Fatal("config file not provided")
		}
		c, err := node.NewConfig(viper.GetViper())
		if err != nil {
			log.Fatal(err)
		}

		reg := prometheus.NewRegistry()
		n, err := node.NewNode(&node.NodeContext{Config: c, Hub: node.NewHub(), Registerer: reg})
		if err != nil {
			log.Fatal(err)
		}
		if err := n.Start(); err != nil {
			log.Fatal(err)
		}
		defer n.Stop()

		mux := http.NewServeMux()
		mux.Handle("/ballot/", api.NewHandler(n))
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		server := &http.Server{
			Addr:    viper.GetString("listen_addr"),
			Handler: mux,
		}
		go func() {
			log.Infow("serve http requests", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorw("http server stopped", "err", err)
			}
		}()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		server.Close()
	},
}

func init() {
	startCmd.Flags().StringP("listen_addr", "", ":8080", "network address of the http server")
	viper.BindPFlag("listen_addr", startCmd.Flags().Lookup("listen_addr"))
	rootCmd.AddCommand(startCmd)
}
