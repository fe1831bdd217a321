// Package autoload initializes the global logger from LOG_* environment
// variables as a side effect of being imported.
package autoload

import (
	configx "github.com/Crohns-Kate/echo-desk-sub000/pkg/config"
	logx "github.com/Crohns-Kate/echo-desk-sub000/pkg/logger"
)

func init() {
	logx.Init(*configx.MustNew[logx.Config]("LOG"))
}
