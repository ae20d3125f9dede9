// Copyright (C) The Keraon Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package keraon

import (
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	_ "net/http/pprof"
	"runtime"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// nonPSDScore is the sentinel objective value for a feature mask whose
// restricted class covariance fails the PSD check. It keeps infeasible
// masks in play but behind every feasible one.
const nonPSDScore = 1e-9

// SelectConfig bounds the combinatorial seeding phase of
// SelectFeatures. MaxCombos 0 means enumerate every anchor-sized mask;
// a positive cap switches to uniform sampling of that many masks,
// which is an explicit approximation the caller opted into.
type SelectConfig struct {
	MaxCombos int
	Threads   int
	Seed      uint64
}

// simplexObjective builds the separability score for feature masks
// over the given per-subtype sample matrices. Higher is better. The
// score is the simplex volume spanned by the masked class means,
// divided by the summed per-vertex products of variance projected
// along each vertex's incident edges (punishing masks where classes
// are wide relative to their separation), divided again by the ratio
// of the longest to the shortest pairwise mean distance (punishing
// lopsided simplexes).
func simplexObjective(mats []*mat.Dense) func(mask []bool) float64 {
	k := len(mats)
	return func(mask []bool) float64 {
		var cols []int
		for j, set := range mask {
			if set {
				cols = append(cols, j)
			}
		}
		if len(cols) == 0 {
			return math.Inf(-1)
		}
		means := make([][]float64, k)
		masked := make([]*mat.Dense, k)
		for ci, m := range mats {
			rows, _ := m.Dims()
			sub := mat.NewDense(rows, len(cols), nil)
			for i := 0; i < rows; i++ {
				for j, col := range cols {
					sub.Set(i, j, m.At(i, col))
				}
			}
			mean, cov := matrixStats(sub)
			if !isPositiveSemiDefinite(cov) {
				return nonPSDScore
			}
			means[ci] = mean
			masked[ci] = sub
		}

		// Mean projected variance along each inter-class edge.
		edgeVar := make([][]float64, k)
		for i := range edgeVar {
			edgeVar[i] = make([]float64, k)
		}
		edge := make([]float64, len(cols))
		for i := 0; i < k; i++ {
			for j := i + 1; j < k; j++ {
				floats.SubTo(edge, means[j], means[i])
				v := 0.0
				for ci, sub := range masked {
					v += projectedVariance(sub, means[ci], edge)
				}
				edgeVar[i][j] = v / float64(k)
				edgeVar[j][i] = edgeVar[i][j]
			}
		}
		spread := 0.0
		for i := 0; i < k; i++ {
			prod := 1.0
			for j := 0; j < k; j++ {
				if j != i {
					prod *= edgeVar[i][j]
				}
			}
			spread += prod
		}
		if k == 1 {
			spread = 1
		}

		volume := simplexVolume(means) / spread

		penalty := 1.0
		if k > 1 {
			minD, maxD := math.Inf(1), math.Inf(-1)
			for i := 0; i < k; i++ {
				for j := i + 1; j < k; j++ {
					d := floats.Distance(means[i], means[j], 2)
					minD = math.Min(minD, d)
					maxD = math.Max(maxD, d)
				}
			}
			penalty = maxD / minD
		}
		return volume / penalty
	}
}

// projectedVariance is the population variance of the rows of m,
// centered on mean, projected onto edge.
func projectedVariance(m *mat.Dense, mean, edge []float64) float64 {
	rows, cols := m.Dims()
	sum, sumsq := 0.0, 0.0
	for i := 0; i < rows; i++ {
		p := 0.0
		row := m.RawRowView(i)
		for j := 0; j < cols; j++ {
			p += (row[j] - mean[j]) * edge[j]
		}
		sum += p
		sumsq += p * p
	}
	n := float64(rows)
	mu := sum / n
	return sumsq/n - mu*mu
}

// SelectFeatures returns t restricted to a minimal feature subset
// maximizing the simplex-volume separability of its subtypes. The
// anchor phase scores every mask of exactly len(subtypes)-1 features
// (the smallest dimensionality that can hold a non-degenerate simplex
// on that many vertices) and keeps the best; greedy growth then adds
// one feature at a time until no single addition improves the score.
// Features are never removed once added. The search is deterministic
// for a given table and config.
func SelectFeatures(t *FeatureTable, cfg SelectConfig) (*FeatureTable, float64, error) {
	subtypes, mats := t.Partition()
	n := len(t.Features)
	anchors := len(subtypes) - 1
	if anchors > n {
		return nil, 0, fmt.Errorf("%d subtypes need at least %d features, table has %d", len(subtypes), anchors, n)
	}
	objective := simplexObjective(mats)

	threads := cfg.Threads
	if threads < 1 {
		threads = runtime.NumCPU()
	}

	bestMask := make([]bool, n)
	bestScore := math.Inf(-1)
	bestIndex := math.MaxInt
	var mtx sync.Mutex
	var th throttle
	th.Max = threads
	score := func(index int, combo []int) {
		combo = append([]int(nil), combo...)
		th.Go(func() error {
			mask := make([]bool, n)
			for _, j := range combo {
				mask[j] = true
			}
			v := objective(mask)
			mtx.Lock()
			defer mtx.Unlock()
			if v > bestScore || (v == bestScore && index < bestIndex) {
				bestScore = v
				bestIndex = index
				bestMask = mask
			}
			return nil
		})
	}

	total := binomial(n, anchors)
	if cfg.MaxCombos > 0 && total > float64(cfg.MaxCombos) {
		log.Printf("sampling %d of %.3g anchor masks", cfg.MaxCombos, total)
		rng := rand.New(rand.NewSource(cfg.Seed))
		for i := 0; i < cfg.MaxCombos; i++ {
			score(i, rng.Perm(n)[:anchors])
		}
	} else {
		index := 0
		forEachCombination(n, anchors, func(combo []int) {
			score(index, combo)
			index++
		})
	}
	if err := th.Wait(); err != nil {
		return nil, 0, err
	}

	// Greedy growth is inherently sequential: each round scores
	// single-feature additions to the previous round's winner.
	for {
		bestNewScore := bestScore
		bestBit := -1
		for i := 0; i < n; i++ {
			if bestMask[i] {
				continue
			}
			bestMask[i] = true
			if v := objective(bestMask); v > bestNewScore {
				bestNewScore = v
				bestBit = i
			}
			bestMask[i] = false
		}
		if bestBit < 0 {
			break
		}
		bestMask[bestBit] = true
		bestScore = bestNewScore
	}

	var selected []string
	for j, set := range bestMask {
		if set {
			selected = append(selected, t.Features[j])
		}
	}
	out, err := t.Restrict(selected)
	if err != nil {
		return nil, 0, err
	}
	return out, bestScore, nil
}

// forEachCombination calls f with each k-subset of [0,n) in
// lexicographic order. The slice is reused between calls.
func forEachCombination(n, k int, f func(combo []int)) {
	if k == 0 {
		f(nil)
		return
	}
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}
	for {
		f(idx)
		i := k - 1
		for i >= 0 && idx[i] == n-k+i {
			i--
		}
		if i < 0 {
			return
		}
		idx[i]++
		for j := i + 1; j < k; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
}

func binomial(n, k int) float64 {
	v := 1.0
	for i := 0; i < k; i++ {
		v *= float64(n-i) / float64(i+1)
	}
	return v
}

type selectFeaturesCmd struct {
	cfg SelectConfig
}

func (cmd *selectFeaturesCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	inputFilename := flags.String("i", "-", "input `file`")
	outputFilename := flags.String("o", "-", "output `file`")
	flags.IntVar(&cmd.cfg.MaxCombos, "max-combos", 0, "sample this many anchor masks instead of enumerating (0 = exhaustive)")
	flags.Uint64Var(&cmd.cfg.Seed, "seed", 1, "random `seed` for sampled anchor masks")
	flags.IntVar(&cmd.cfg.Threads, "threads", runtime.NumCPU(), "`concurrency` for mask scoring")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	table, err := loadFeatureTable(*inputFilename, stdin)
	if err != nil {
		return 1
	}
	log.Printf("maximal simplex volume subsetting: %d classes, %d features, blake2b %s", len(table.Subtypes()), len(table.Features), table.Fingerprint())
	out, score, err := SelectFeatures(table, cmd.cfg)
	if err != nil {
		return 1
	}
	log.Printf("selected %d features, final weighted simplex volume %v", len(out.Features), score)
	for _, f := range out.Features {
		log.Printf("-------   %s", f)
	}

	output, err := openOutput(*outputFilename, stdout)
	if err != nil {
		return 1
	}
	err = out.WriteTSV(output)
	if err != nil {
		output.Close()
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}
