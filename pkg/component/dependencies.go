package component

import (
	"github.com/veesix-networks/cmopt122/pkg/cache"
	"github.com/veesix-networks/cmopt122/pkg/config"
	"github.com/veesix-networks/cmopt122/pkg/events"
	"github.com/veesix-networks/cmopt122/pkg/mangle"
	"github.com/veesix-networks/cmopt122/pkg/stats"
)

type Dependencies struct {
	EventBus events.Bus
	Cache    cache.Cache
	Config   *config.Config
	Mangler  *mangle.Mangler
	Stats    *stats.Counters
}
