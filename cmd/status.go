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
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bizflycloud/bizfly-bridge/pkg/server"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show status of the running agent.",
	Run: func(cmd *cobra.Command, args []string) {
		httpc, baseURL := agentClient()
		resp, err := httpc.Get(baseURL + "/bridge/status")
		if err != nil {
			logger.Error(err.Error())
			os.Exit(1)
		}
		defer resp.Body.Close()
		var st server.StatusResponse
		if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		fmt.Println("State: ", st.State)
		fmt.Println("Connected: ", st.Connected)
		fmt.Println("Relayed: ", st.Relayed)
		fmt.Println("Dropped: ", st.Dropped)
		fmt.Println("Payload size: ", st.PayloadSize)
		fmt.Println("Uptime: ", st.Uptime)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
