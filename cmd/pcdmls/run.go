package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/geo/r3"
	pmat "github.com/seqsense/pcgol/mat"
	"github.com/seqsense/pcgol/pc"
	pvoxelgrid "github.com/seqsense/pcgol/pc/filter/voxelgrid"
	"golang.org/x/sync/errgroup"

	"github.com/seqsense/pcdmls/internal/logging"
	"github.com/seqsense/pcdmls/mat"
	"github.com/seqsense/pcdmls/pcd"
	"github.com/seqsense/pcdmls/pcd/filter"
	"github.com/seqsense/pcdmls/pcd/filter/cluster"
	"github.com/seqsense/pcdmls/pcd/filter/plane"
	"github.com/seqsense/pcdmls/pcd/filter/radius"
	"github.com/seqsense/pcdmls/pcd/filter/voxelgrid"
	"github.com/seqsense/pcdmls/pcd/mls"
)

const progressInterval = 5 * time.Second

type options struct {
	input   string
	query   string
	output  string
	workers int
}

// failures counts projections dropped from the output by cause.
type failures struct {
	mu     sync.Mutex
	counts map[string]int
}

func (f *failures) add(err error) {
	var key string
	switch {
	case errors.Is(err, mls.ErrNonConvergence):
		key = "non-convergence"
	case errors.Is(err, mls.ErrDomainViolation):
		key = "outside domain"
	case errors.Is(err, mls.ErrInsufficientSamples):
		key = "insufficient samples"
	case errors.Is(err, mls.ErrDegenerateSystem):
		key = "degenerate fit"
	default:
		key = "other"
	}
	f.mu.Lock()
	f.counts[key]++
	f.mu.Unlock()
}

func loadCloud(path string) (*pcd.Cloud, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return pcd.Load(f)
}

func preprocess(c *pcd.Cloud, p preprocessConfig) (*pcd.Cloud, error) {
	var filters []filter.Filter
	if p.PlaneThreshold > 0 {
		filters = append(filters, plane.New(plane.Options{
			Threshold:  p.PlaneThreshold,
			Iterations: p.PlaneIterations,
			MinInliers: p.PlaneMinInliers,
			Seed:       1,
		}))
	}
	if p.MinClusterPoints > 0 {
		filters = append(filters, cluster.New(p.ClusterResolution, p.MinClusterPoints))
	}
	if p.LeafSize > 0 {
		filters = append(filters, voxelgrid.New(r3.Vector{X: p.LeafSize, Y: p.LeafSize, Z: p.LeafSize}))
	}
	if !c.Has(pcd.AttrRadius) {
		filters = append(filters, radius.New(p.RadiusNeighbors, p.RadiusScale))
	}
	return filter.Apply(c, filters...)
}

// loadQueries reads the query positions, downsampled when leaf is positive.
func loadQueries(path string, leaf float64) ([]r3.Vector, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pp, err := pc.Unmarshal(f)
	if err != nil {
		return nil, err
	}
	if leaf > 0 {
		l := float32(leaf)
		if pp, err = pvoxelgrid.New(pmat.Vec3{l, l, l}).Filter(pp); err != nil {
			return nil, err
		}
	}
	it, err := pp.Vec3Iterator()
	if err != nil {
		return nil, err
	}
	queries := make([]r3.Vector, 0, pp.Points)
	for ; it.IsValid(); it.Incr() {
		queries = append(queries, mat.FromVec3(it.Vec3()))
	}
	return queries, nil
}

func project(ctx context.Context, m *mls.Model, queries []r3.Vector, workers int) (*pcd.Cloud, *failures, error) {
	attrs := pcd.AttrNormal
	if m.Cloud().Has(pcd.AttrColor) {
		attrs |= pcd.AttrColor
	}
	results := make([]*mls.Projection, len(queries))
	fails := &failures{counts: make(map[string]int)}
	var done int64

	eg, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		eg.Go(func() error {
			s := m.NewSurface()
			for i := w; i < len(queries); i += workers {
				if err := ctx.Err(); err != nil {
					return err
				}
				proj, err := s.Project(queries[i])
				atomic.AddInt64(&done, 1)
				if err != nil {
					logging.Debugf("Query %d at %v: %v", i, queries[i], err)
					fails.add(err)
					continue
				}
				results[i] = &proj
			}
			return nil
		})
	}

	stop := make(chan struct{})
	go func() {
		tick := time.NewTicker(progressInterval)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				logging.Infof("Projected %s of %s points",
					humanize.Comma(atomic.LoadInt64(&done)), humanize.Comma(int64(len(queries))))
			}
		}
	}()
	err := eg.Wait()
	close(stop)
	if err != nil {
		return nil, nil, err
	}

	out := pcd.NewCloud(attrs)
	for _, proj := range results {
		if proj == nil {
			continue
		}
		out.Append(pcd.Point{
			Position: proj.Position,
			Normal:   proj.Normal,
			Color:    proj.Color,
		})
	}
	return out, fails, nil
}

func run(ctx context.Context, cfg config, o options) error {
	if o.workers < 1 {
		return fmt.Errorf("invalid number of workers: %d", o.workers)
	}
	in, err := loadCloud(o.input)
	if err != nil {
		return fmt.Errorf("loading %s: %w", o.input, err)
	}
	logging.Infof("Loaded %s points from %s (%s)", humanize.Comma(int64(in.Len())), o.input, in.Attrs())

	c, err := preprocess(in, cfg.Preprocess)
	if err != nil {
		return err
	}
	if c.Len() != in.Len() {
		logging.Infof("Preprocessing kept %s points", humanize.Comma(int64(c.Len())))
	}

	m, err := mls.NewModel(c, cfg.Surface)
	if err != nil {
		return err
	}

	var queries []r3.Vector
	if o.query != "" {
		if queries, err = loadQueries(o.query, cfg.Preprocess.QueryLeafSize); err != nil {
			return fmt.Errorf("loading %s: %w", o.query, err)
		}
	} else {
		queries = make([]r3.Vector, c.Len())
		for i := range queries {
			queries[i] = c.Position(i)
		}
	}

	start := time.Now()
	out, fails, err := project(ctx, m, queries, o.workers)
	if err != nil {
		return err
	}
	logging.Infof("Projected %s of %s points in %s",
		humanize.Comma(int64(out.Len())), humanize.Comma(int64(len(queries))), time.Since(start).Round(time.Millisecond))
	for k, n := range fails.counts {
		logging.Warningf("%s points dropped: %s", humanize.Comma(int64(n)), k)
	}

	f, err := os.Create(o.output)
	if err != nil {
		return err
	}
	if err := out.Save(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if st, err := os.Stat(o.output); err == nil {
		logging.Infof("Wrote %s (%s)", o.output, humanize.Bytes(uint64(st.Size())))
	}
	return nil
}
