// This file is part of bizfly-bridge
//
// Copyright (C) 2021  BizFly Cloud
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>

package cmd

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-bridge/pkg/bridge"
	"github.com/bizflycloud/bizfly-bridge/pkg/broker/mqtt"
	"github.com/bizflycloud/bizfly-bridge/pkg/server"
)

var defaultAddr = "unix://" + filepath.Join(os.TempDir(), "bizfly-bridge.sock")

// agentCmd represents the agent command
var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run bridge agent.",
	Run: func(cmd *cobra.Command, args []string) {
		b, err := mqtt.NewBroker(
			mqtt.WithClientID(viper.GetString("client_id")),
			mqtt.WithCredentials(viper.GetString("username"), viper.GetString("password")),
			mqtt.WithWill(),
			mqtt.WithLogger(logger),
		)
		if err != nil {
			logger.Fatal("failed to create broker", zap.Error(err))
			os.Exit(1)
		}

		br, err := bridge.New(bridge.WithBroker(b), bridge.WithLogger(logger))
		if err != nil {
			logger.Fatal("failed to create bridge", zap.Error(err))
			os.Exit(1)
		}
		if debug {
			_ = br.Verbose()
		}
		if err := br.Connect(
			viper.GetString("broker_host"),
			viper.GetInt("broker_port"),
			viper.GetInt("keepalive"),
			viper.GetString("bind_address"),
		); err != nil {
			logger.Fatal("failed to configure bridge connection", zap.Error(err))
			os.Exit(1)
		}
		if topics := viper.GetStringSlice("topics"); len(topics) > 0 {
			if err := br.Subscribe(topics...); err != nil {
				logger.Fatal("failed to subscribe topics", zap.Error(err))
				os.Exit(1)
			}
		}

		logger.Debug("Listening address: " + addr)
		opts := []server.Option{
			server.WithAddr(addr),
			server.WithBridge(br),
			server.WithAutoStart(),
			server.WithLogger(logger),
		}
		if schedule := viper.GetString("heartbeat_schedule"); schedule != "" {
			opts = append(opts, server.WithHeartbeat(schedule, viper.GetString("heartbeat_topic")))
		}
		s, err := server.New(opts...)
		if err != nil {
			logger.Fatal("failed to create new server", zap.Error(err))
			os.Exit(1)
		}
		if err := s.Run(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server run failed", zap.Error(err))
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.PersistentFlags().StringVar(&addr, "addr", defaultAddr, "listening address of server.")
}
