// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package env

import (
	"os"
	"sync"

	"github.com/spf13/viper"
)

const (
	Local      = "local"
	Production = "production"
	Testing    = "testing"
)

var (
	Env string

	once sync.Once
)

func IsLocal() bool {
	return Env == Local
}

func IsProduction() bool {
	return Env == Production
}

func IsTesting() bool {
	return Env == Testing
}

func init() {
	once.Do(func() {
		viper.BindEnv("ENV")
		Env = viper.GetString("ENV")
		if Env == "" {
			// go test binaries end in .test
			if exe, err := os.Executable(); err == nil && len(exe) > 5 && exe[len(exe)-5:] == ".test" {
				Env = Testing
				return
			}
			Env = Local
		}
	})
}
