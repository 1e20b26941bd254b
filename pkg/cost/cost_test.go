package cost_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/azybler/sltm/pkg/cost"
	"github.com/azybler/sltm/pkg/network/networktest"
)

func TestBPRCostAndDerivative(t *testing.T) {
	tr := networktest.NewTwoRoutes(10, 12, 1, 200)
	bpr := cost.NewBPR(0.5, 1, 1)
	mode := cost.Mode{Name: "car", PCU: 1}

	assert.InDelta(t, 10, bpr.SegmentCost(mode, tr.Net, tr.Link1, 0, 1), 1e-12)
	assert.InDelta(t, 12.5, bpr.SegmentCost(mode, tr.Net, tr.Link1, 100, 1), 1e-12)
	assert.InDelta(t, 12.0*(1+0.5*50/200), bpr.SegmentCost(mode, tr.Net, tr.Link2, 50, 1), 1e-12)

	assert.InDelta(t, 0.025, bpr.SegmentDerivative(mode, tr.Net, tr.Link1, 100, 1), 1e-12)
	assert.InDelta(t, 0.03, bpr.SegmentDerivative(mode, tr.Net, tr.Link2, 0, 1), 1e-12)
}

func TestBPRNonLinearDerivativeMatchesDifference(t *testing.T) {
	tr := networktest.NewTwoRoutes(10, 12, 1, 200)
	bpr := cost.NewBPR(0.15, 4, 1)
	mode := cost.Mode{Name: "car", PCU: 1}

	const v, h = 150.0, 1e-4
	numeric := (bpr.SegmentCost(mode, tr.Net, tr.Link1, v+h, 1) - bpr.SegmentCost(mode, tr.Net, tr.Link1, v-h, 1)) / (2 * h)
	assert.InEpsilon(t, numeric, bpr.SegmentDerivative(mode, tr.Net, tr.Link1, v, 1), 1e-6)
}

func TestBPRQueueDelay(t *testing.T) {
	tr := networktest.NewTwoRoutes(10, 12, 1, 200)
	bpr := cost.NewBPR(0, 1, 2)
	mode := cost.Mode{Name: "car", PCU: 1}

	// Half the demand accepted: 2h period / 2 * (1/0.5 - 1) = 1h extra.
	assert.InDelta(t, 11, bpr.SegmentCost(mode, tr.Net, tr.Link1, 100, 0.5), 1e-12)
}

func TestBPROverride(t *testing.T) {
	tr := networktest.NewTwoRoutes(10, 12, 1, 200)
	bpr := cost.NewBPR(0.5, 1, 1)
	bpr.Override(tr.Link2, cost.BPRParams{Alpha: 0, Beta: 1})
	mode := cost.Mode{Name: "car", PCU: 1}

	assert.InDelta(t, 12, bpr.SegmentCost(mode, tr.Net, tr.Link2, 150, 1), 1e-12)
	assert.Zero(t, bpr.SegmentDerivative(mode, tr.Net, tr.Link2, 150, 1))
	assert.InDelta(t, 12.5, bpr.SegmentCost(mode, tr.Net, tr.Link1, 100, 1), 1e-12)
}

func TestModeSpeedCap(t *testing.T) {
	tr := networktest.NewTwoRoutes(10, 12, 60, 2000)
	bpr := cost.NewBPR(0, 1, 1)
	slow := cost.Mode{Name: "truck", PCU: 2, MaxSpeedKmh: 30}
	assert.InDelta(t, 10.0/30, bpr.SegmentCost(slow, tr.Net, tr.Link1, 0, 1), 1e-12)
}

func TestEvaluate(t *testing.T) {
	tr := networktest.NewTwoRoutes(10, 12, 1, 200)
	net := tr.Net
	n := net.NumSegments()

	inflow := make([]float64, n)
	alpha := make([]float64, n)
	for i := range alpha {
		alpha[i] = 1
	}
	inflow[tr.Link1] = 100

	costs := make([]float64, n)
	derivs := make([]float64, n)
	cost.Evaluate(net, cost.Mode{PCU: 1}, cost.NewBPR(0.5, 1, 1), cost.FixedVirtual{ConnectoidCost: 0.25}, inflow, alpha, costs, derivs)

	assert.InDelta(t, 12.5, costs[tr.Link1], 1e-12)
	assert.InDelta(t, 12, costs[tr.Link2], 1e-12)
	assert.InDelta(t, 0.25, costs[tr.C1], 1e-12)
	assert.Zero(t, costs[net.Source(tr.Origin)])
	assert.Zero(t, costs[net.Sink(tr.Dest)])
	assert.InDelta(t, 0.025, derivs[tr.Link1], 1e-12)
	assert.Zero(t, derivs[tr.C2])

}
