package queue

import (
	"github.com/veesix-networks/cmopt122/pkg/component"
	"github.com/veesix-networks/cmopt122/pkg/config"
	"github.com/veesix-networks/cmopt122/pkg/logger"
	"github.com/veesix-networks/cmopt122/pkg/mangle"
)

func newBase() *component.Base {
	return component.NewBase(logger.Queue)
}

func componentDeps(m *mangle.Mangler) component.Dependencies {
	return component.Dependencies{Config: config.Default(), Mangler: m}
}
