package common

const (
	ComponentEngine      = "engine"
	ComponentSource      = "source"
	ComponentTracker     = "tracker"
	ComponentStore       = "store"
	ComponentQuery       = "query"
	ComponentAPI         = "api"
	ComponentMaintenance = "maintenance"
)

var AllComponents = map[string]struct{}{
	ComponentEngine:      {},
	ComponentSource:      {},
	ComponentTracker:     {},
	ComponentStore:       {},
	ComponentQuery:       {},
	ComponentAPI:         {},
	ComponentMaintenance: {},
}
