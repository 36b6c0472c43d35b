package spammer

import (
	"github.com/blockspam/blockspam/logger"
	"github.com/blockspam/blockspam/util/panics"
)

var log, _ = logger.Get(logger.SubsystemTags.SPAM)
var spawn = panics.GoroutineWrapperFunc(log)
