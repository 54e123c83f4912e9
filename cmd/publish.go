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
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	backoff "github.com/cenkalti/backoff/v3"
	"github.com/spf13/cobra"
)

var (
	publishTopic  string
	publishQos    int
	publishRetain bool
)

// publishCmd represents the publish command
var publishCmd = &cobra.Command{
	Use:   "publish [payload]",
	Short: "Publish a message through the running agent.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		body, err := json.Marshal(map[string]interface{}{
			"topic":   publishTopic,
			"qos":     publishQos,
			"retain":  publishRetain,
			"payload": args[0],
		})
		if err != nil {
			logger.Error(err.Error())
			os.Exit(1)
		}

		httpc, baseURL := agentClient()
		operation := func() error {
			resp, err := httpc.Post(baseURL+"/bridge/publish", "application/json", bytes.NewReader(body))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode >= http.StatusBadRequest {
				return fmt.Errorf("agent returned status %d", resp.StatusCode)
			}
			return nil
		}
		// The agent socket may still be coming up.
		bo := backoff.NewExponentialBackOff()
		bo.MaxElapsedTime = 15 * time.Second
		if err := backoff.Retry(operation, bo); err != nil {
			logger.Error(err.Error())
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(publishCmd)
	publishCmd.PersistentFlags().StringVar(&publishTopic, "topic", "", "The topic to publish to")
	publishCmd.PersistentFlags().IntVar(&publishQos, "qos", 0, "Delivery guarantee level (0, 1 or 2)")
	publishCmd.PersistentFlags().BoolVar(&publishRetain, "retain", false, "Ask the broker to retain the message")
	publishCmd.MarkPersistentFlagRequired("topic")
}
