package store

import (
	"github.com/fyrsmithlabs/patternd/internal/attribution"
	"github.com/fyrsmithlabs/patternd/internal/injection"
	"github.com/fyrsmithlabs/patternd/internal/killswitch"
	"github.com/fyrsmithlabs/patternd/internal/promotion"
	"github.com/fyrsmithlabs/patternd/internal/reflection"
)

// The one SQLite store backs every service.
var (
	_ attribution.Store = (*Store)(nil)
	_ promotion.Store   = (*Store)(nil)
	_ killswitch.Store  = (*Store)(nil)
	_ injection.Store   = (*Store)(nil)
	_ reflection.Store  = (*Store)(nil)
)
