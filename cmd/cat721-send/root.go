package main

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvReplacer replaces `-` to `_`.
// This is used to map flag like `--db-type` to environment variables like `CAT721_DB_TYPE`.
var envReplacer = strings.NewReplacer("-", "_")

func init() {
	viper.SetEnvPrefix("CAT721")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(envReplacer)
}
