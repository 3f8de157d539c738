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
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ultiledger/go-ballot/api"
	"github.com/ultiledger/go-ballot/log"
	"github.com/ultiledger/go-ballot/node"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulated network",
	Long: `Run a simulated network until the requested number of slots are
externalized by every node. With --conflict the two halves of the network
propose different values for every slot and converge through the ballot
timeouts. With --addr the node state and metrics are served over http and
the command waits for an interrupt after the last slot.`,
	Run: func(cmd *cobra.Command, args []string) {
		reg := prometheus.NewRegistry()
		nw, err := node.NewNetwork(&node.NetworkConfig{
			Size:             viper.GetInt("nodes"),
			Threshold:        viper.GetFloat64("threshold"),
			DBBackend:        viper.GetString("db_backend"),
			DBDir:            viper.GetString("db_dir"),
			BallotTimeout:    viper.GetDuration("ballot_timeout"),
			MaxBallotTimeout: viper.GetDuration("max_ballot_timeout"),
			Debug:            viper.GetBool("debug"),
			Registerer:       reg,
		})
		if err != nil {
			log.Fatalf("create network failed: %v", err)
		}
		if err := nw.Start(); err != nil {
			log.Fatalf("start network failed: %v", err)
		}
		defer nw.Stop()

		addr := viper.GetString("addr")
		if addr != "" {
			go serve(addr, nw, reg)
		}

		slots := viper.GetInt("slots")
		timeout := viper.GetDuration("slot_timeout")
		for i := 1; i <= slots; i++ {
			idx := uint64(i)
			values := []string{fmt.Sprintf("value-%d", idx)}
			if viper.GetBool("conflict") {
				values = append(values, fmt.Sprintf("value-%d-alt", idx))
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			start := time.Now()
			v, err := nw.RunSlot(ctx, idx, values)
			cancel()
			if err != nil {
				log.Errorw("slot not agreed", "slot", idx, "err", err)
				return
			}
			fmt.Printf("slot %d: %s (%v)\n", idx, v, time.Since(start))
		}

		if addr != "" {
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
		}
	},
}

func serve(addr string, nw *node.Network, reg *prometheus.Registry) {
	var backends []api.Backend
	for _, n := range nw.Nodes() {
		backends = append(backends, n)
	}
	mux := http.NewServeMux()
	mux.Handle("/ballot/", api.NewHandler(backends...))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	log.Infow("serve http requests", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorw("http server stopped", "err", err)
	}
}

func init() {
	runCmd.Flags().IntP("nodes", "n", 4, "number of nodes")
	runCmd.Flags().Float64P("threshold", "t", 0.75, "threshold of the flat quorum")
	runCmd.Flags().IntP("slots", "s", 3, "number of slots to externalize")
	runCmd.Flags().BoolP("conflict", "", false, "let the nodes start with different values")
	runCmd.Flags().StringP("db_backend", "", "memdb", "database backend of the nodes, memdb or boltdb")
	runCmd.Flags().StringP("db_dir", "", os.TempDir(), "directory of the boltdb files")
	runCmd.Flags().DurationP("ballot_timeout", "", 200*time.Millisecond, "timeout of the first ballot")
	runCmd.Flags().DurationP("max_ballot_timeout", "", 5*time.Second, "upper bound of the ballot timeout")
	runCmd.Flags().DurationP("slot_timeout", "", time.Minute, "time allowed for a slot to be externalized")
	runCmd.Flags().StringP("addr", "", "", "network address of the http server")

	for _, name := range []string{"nodes", "threshold", "slots", "conflict", "db_backend",
		"db_dir", "ballot_timeout", "max_ballot_timeout", "slot_timeout", "addr"} {
		viper.BindPFlag(name, runCmd.Flags().Lookup(name))
	}
	rootCmd.AddCommand(runCmd)
}
