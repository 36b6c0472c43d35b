package main

import (
	"github.com/blockspam/blockspam/logger"
)

var log, _ = logger.Get(logger.SubsystemTags.BSPM)
