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
	"context"
	"net"
	"net/http"
	"strings"
)

// agentClient returns an HTTP client talking to the running agent server
// together with the base url, over either the unix socket or TCP.
func agentClient() (*http.Client, string) {
	if strings.HasPrefix(addr, unixPrefix) {
		httpc := &http.Client{
			Transport: &http.Transport{
				DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
					return net.Dial("unix", strings.TrimPrefix(addr, unixPrefix))
				},
			},
		}
		return httpc, "http://unix"
	}
	return http.DefaultClient, "http://" + strings.TrimPrefix(addr, "http://")
}
