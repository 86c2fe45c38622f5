package risk

import (
	"math"
	"sort"

	"shrimptrace/pkg/domain"
)

// NodeSuspicion apportions contamination likelihood to one node on a lot's
// path. Probabilities across the path sum to roughly 100, subject to
// rounding.
type NodeSuspicion struct {
	NodeID           string  `json:"node_id"`
	Probability      float64 `json:"probability"`
	LotCount         int     `json:"lot_count"`
	ProblematicCount int     `json:"problematic_count"`
	IncidentCount    int     `json:"incident_count"`
}

// Per-node weighting constants. Novel nodes get a nonzero base so they still
// render; every weight is floored to avoid zero-probability entries.
const (
	novelNodeRatio = 0.05
	incidentBonus  = 0.03
	weightFloor    = 0.01
)

// EstimateNodeSuspicion computes a normalized contamination-probability
// distribution over the lot's node path, using cross-lot traffic aggregates.
// The estimate is a display overlay only; it never feeds back into the lot's
// stored risk fields. An empty movement history yields an empty result.
func (e *Engine) EstimateNodeSuspicion(view View, lot domain.Lot) []NodeSuspicion {
	path := collapsePath(view.MovementsByLot(lot.ID))
	if len(path) == 0 {
		return nil
	}

	traffic := make(map[string]domain.NodeTraffic)
	for _, t := range view.NodeTraffic(uniqueIDs(path)) {
		traffic[t.NodeID] = t
	}

	out := make([]NodeSuspicion, len(path))
	weights := make([]float64, len(path))
	total := 0.0
	for i, nodeID := range path {
		t := traffic[nodeID]
		base := novelNodeRatio
		if t.LotCount > 0 {
			base = float64(t.ProblematicCount) / float64(t.LotCount)
		}
		w := base + incidentBonus*float64(t.IncidentCount)
		if w < weightFloor {
			w = weightFloor
		}
		weights[i] = w
		total += w
		out[i] = NodeSuspicion{
			NodeID:           nodeID,
			LotCount:         t.LotCount,
			ProblematicCount: t.ProblematicCount,
			IncidentCount:    t.IncidentCount,
		}
	}
	for i := range out {
		out[i].Probability = math.Round(1000*weights[i]/total) / 10
	}
	return out
}

// collapsePath derives the lot's node path from its movements: timestamp
// order, with consecutive visits to the same node collapsed. A node visited
// again later, non-adjacently, counts as a separate path entry.
func collapsePath(movements []domain.LotMovement) []string {
	if len(movements) == 0 {
		return nil
	}
	ordered := append([]domain.LotMovement(nil), movements...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})
	path := make([]string, 0, len(ordered))
	for _, mv := range ordered {
		if len(path) > 0 && path[len(path)-1] == mv.NodeID {
			continue
		}
		path = append(path, mv.NodeID)
	}
	return path
}

func uniqueIDs(path []string) []string {
	seen := make(map[string]struct{}, len(path))
	out := make([]string, 0, len(path))
	for _, id := range path {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
