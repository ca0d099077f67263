// Package router implements the Router component (spec §4.5): a pure
// selection function over a registry snapshot. It holds no state of its
// own and no lock — grounded on the teacher's stateless scheduling helpers
// in internal/scheduler, reworked here from a cron-job picker into a
// per-request agent picker.
package router

import (
	"errors"
	"sort"

	"github.com/arkeep-io/llmgateway/internal/registry"
)

// ErrNoAvailableAgents is returned when no connected agent has the
// requested model installed.
var ErrNoAvailableAgents = errors.New("router: no available agents")

// Select implements spec §4.5's priority ordering over a snapshot of
// connected agents: filter to agents whose installed_models contains
// internalModel, then sort ascending by
// (pending_requests, loaded_models.contains(model) ? 0 : 1, id), and
// return the head. Sorting (not just a single min-scan) keeps the
// tie-break deterministic and the logic trivially testable against a
// fixed snapshot, which is also how the teacher's scheduler orders
// candidate jobs.
func Select(agents []registry.Agent, internalModel string) (registry.Agent, error) {
	candidates := make([]registry.Agent, 0, len(agents))
	for _, a := range agents {
		if containsModel(a.InstalledModels, internalModel) {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		return registry.Agent{}, ErrNoAvailableAgents
	}

	sort.Slice(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		if ci.PendingRequests != cj.PendingRequests {
			return ci.PendingRequests < cj.PendingRequests
		}
		li, lj := loadedRank(ci, internalModel), loadedRank(cj, internalModel)
		if li != lj {
			return li < lj
		}
		return ci.ID < cj.ID
	})

	return candidates[0], nil
}

func loadedRank(a registry.Agent, model string) int {
	if containsModel(a.LoadedModels, model) {
		return 0
	}
	return 1
}

func containsModel(models []string, model string) bool {
	for _, m := range models {
		if m == model {
			return true
		}
	}
	return false
}
