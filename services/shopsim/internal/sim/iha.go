package sim

import (
	"sort"
)

// Queue ordering weighs two signals: how much work the job's current step
// still needs, and how loaded each candidate machine already runs
// (temperature plus vibration).
const (
	flowWeight     = 0.6
	workloadWeight = 0.4

	// padCost fills the square matrix past the real rows and columns so
	// phantom seats stay expensive.
	padCost = 99.0
)

type assignment struct {
	job     *Job
	machine *Machine
}

// balanceAssignments pairs queued jobs with machines of one class by
// weighted cost. Both cost matrices are min-max normalized before the
// weights combine them, then seats are taken greedily, cheapest first.
func balanceAssignments(jobs []*Job, machines []*Machine) []assignment {
	nJobs, nMachs := len(jobs), len(machines)
	if nJobs == 0 || nMachs == 0 {
		return nil
	}

	k := nJobs
	if nMachs > k {
		k = nMachs
	}

	flow := newMatrix(k, padCost)
	load := newMatrix(k, padCost)
	for i, j := range jobs {
		for c, m := range machines {
			flow[i][c] = float64(j.RemainingTicks())
			load[i][c] = m.Temperature + m.Vibration
		}
	}
	normalize(flow)
	normalize(load)

	cost := newMatrix(k, 0)
	for i := range cost {
		for c := range cost[i] {
			cost[i][c] = flowWeight*flow[i][c] + workloadWeight*load[i][c]
		}
	}

	seats := greedySeats(cost)

	out := make([]assignment, 0, len(seats))
	for _, s := range seats {
		if s.row < nJobs && s.col < nMachs {
			out = append(out, assignment{job: jobs[s.row], machine: machines[s.col]})
		}
	}
	return out
}

func newMatrix(k int, fill float64) [][]float64 {
	m := make([][]float64, k)
	for i := range m {
		m[i] = make([]float64, k)
		for j := range m[i] {
			m[i][j] = fill
		}
	}
	return m
}

// normalize rescales a matrix to [0,1] in place. A flat matrix becomes all
// zeros.
func normalize(m [][]float64) {
	mn, mx := m[0][0], m[0][0]
	for _, row := range m {
		for _, v := range row {
			if v < mn {
				mn = v
			}
			if v > mx {
				mx = v
			}
		}
	}
	span := mx - mn
	if span < 1e-9 {
		for _, row := range m {
			for i := range row {
				row[i] = 0
			}
		}
		return
	}
	for _, row := range m {
		for i := range row {
			row[i] = (row[i] - mn) / span
		}
	}
}

type seat struct {
	row, col int
}

// greedySeats picks non-conflicting cells lowest cost first. Ties resolve
// by row then column so the result is stable.
func greedySeats(cost [][]float64) []seat {
	type entry struct {
		cost     float64
		row, col int
	}
	k := len(cost)
	entries := make([]entry, 0, k*k)
	for i, row := range cost {
		for j, v := range row {
			entries = append(entries, entry{cost: v, row: i, col: j})
		}
	}
	sort.Slice(entries, func(a, b int) bool {
		if entries[a].cost != entries[b].cost {
			return entries[a].cost < entries[b].cost
		}
		if entries[a].row != entries[b].row {
			return entries[a].row < entries[b].row
		}
		return entries[a].col < entries[b].col
	})

	takenRow := make([]bool, k)
	takenCol := make([]bool, k)
	seats := make([]seat, 0, k)
	for _, e := range entries {
		if takenRow[e.row] || takenCol[e.col] {
			continue
		}
		takenRow[e.row] = true
		takenCol[e.col] = true
		seats = append(seats, seat{row: e.row, col: e.col})
		if len(seats) == k {
			break
		}
	}
	return seats
}
