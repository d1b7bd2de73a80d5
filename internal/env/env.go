package env

import (
	"github.com/thatsimonsguy/airzone-controller/internal/config"
)

var Cfg *config.Config
