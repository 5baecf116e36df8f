// Copyright 2026 The Sockskel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build linux

package main

import "github.com/BurntSushi/toml"

// config is the sockskeld configuration file. Flags override file
// values; file values override these defaults.
type config struct {
	// Socket is the Unix socket path the stub-service transport
	// attaches to.
	Socket string `toml:"socket"`

	// ServiceName is the discovery name of the stub service.
	ServiceName string `toml:"service_name"`

	// Workers is the worker and request-slot count, bounding the
	// number of concurrently blocking foreign calls.
	Workers int `toml:"workers"`

	// BufferBudget caps the total bytes of live marshaling buffers.
	// 0 means unlimited.
	BufferBudget uint64 `toml:"buffer_budget"`

	// LogLevel is a logrus level name.
	LogLevel string `toml:"log_level"`
}

func defaultConfig() config {
	return config{
		Socket:      "/run/sockskeld.sock",
		ServiceName: "TsStubsService",
		Workers:     0, // skel.DefaultWorkers
		LogLevel:    "info",
	}
}

// loadConfig reads the TOML configuration at path over the defaults.
func loadConfig(path string) (config, error) {
	c := defaultConfig()
	if path == "" {
		return c, nil
	}
	_, err := toml.DecodeFile(path, &c)
	return c, err
}
