package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"SE3Price/internal/domain/models"
	"SE3Price/pkg/config"
	applogger "SE3Price/pkg/logger"
)

var (
	ErrNoTrainingRows   = errors.New("no training rows")
	ErrNoValidationRows = errors.New("early stopping needs validation rows")
	ErrNoFeatures       = errors.New("no feature columns")
)

// Params are the boosting hyperparameters.
type Params struct {
	NumRounds           int     `json:"num_rounds"`
	LearningRate        float64 `json:"learning_rate"`
	MaxDepth            int     `json:"max_depth"`
	MinChildWeight      float64 `json:"min_child_weight"`
	Gamma               float64 `json:"gamma"`
	Lambda              float64 `json:"lambda"`
	Alpha               float64 `json:"alpha"`
	Subsample           float64 `json:"subsample"`
	ColSample           float64 `json:"colsample"`
	MaxBins             int     `json:"max_bins"`
	EarlyStoppingRounds int     `json:"early_stopping_rounds"`
	Seed                int64   `json:"seed"`
}

func DefaultParams() Params {
	return Params{
		NumRounds:           500,
		LearningRate:        0.05,
		MaxDepth:            8,
		MinChildWeight:      3,
		Gamma:               0.1,
		Lambda:              1,
		Alpha:               0.1,
		Subsample:           0.8,
		ColSample:           0.8,
		MaxBins:             64,
		EarlyStoppingRounds: 50,
		Seed:                42,
	}
}

func ParamsFromConfig(cfg *config.Config) Params {
	p := cfg.Training.Params
	return Params{
		NumRounds:           p.NumRounds,
		LearningRate:        p.LearningRate,
		MaxDepth:            p.MaxDepth,
		MinChildWeight:      p.MinChildWeight,
		Gamma:               p.Gamma,
		Lambda:              p.Lambda,
		Alpha:               p.Alpha,
		Subsample:           p.Subsample,
		ColSample:           p.ColSample,
		MaxBins:             p.MaxBins,
		EarlyStoppingRounds: p.EarlyStoppingRounds,
		Seed:                p.Seed,
	}
}

// Dataset is a dense row-major matrix. NaN marks a missing value.
type Dataset struct {
	X [][]float64
	Y []float64
}

func (d Dataset) Len() int { return len(d.Y) }

// Booster is a trained additive ensemble of regression trees.
type Booster struct {
	Features      []string  `json:"features"`
	BaseScore     float64   `json:"base_score"`
	Params        Params    `json:"params"`
	Trees         []Tree    `json:"trees"`
	BestIteration int       `json:"best_iteration"`
	Gain          []float64 `json:"gain"`
}

type trainOptions struct {
	l        *applogger.Logger
	logEvery int
}

type TrainOption func(*trainOptions)

func WithTrainLogger(l *applogger.Logger, every int) TrainOption {
	return func(o *trainOptions) {
		o.l = l
		o.logEvery = every
	}
}

// Train fits a booster on train, stopping early when the validation RMSE has
// not improved for EarlyStoppingRounds rounds. The ensemble is truncated to the
// best iteration.
func Train(features []string, train, valid Dataset, p Params, opts ...TrainOption) (*Booster, error) {
	o := trainOptions{l: applogger.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if len(features) == 0 {
		return nil, ErrNoFeatures
	}
	if train.Len() == 0 {
		return nil, ErrNoTrainingRows
	}
	if p.EarlyStoppingRounds > 0 && valid.Len() == 0 {
		return nil, ErrNoValidationRows
	}
	if err := checkShape(features, train); err != nil {
		return nil, fmt.Errorf("train set: %w", err)
	}
	if err := checkShape(features, valid); err != nil {
		return nil, fmt.Errorf("validation set: %w", err)
	}

	nf := len(features)
	base := mean(train.Y)
	bst := &Booster{Features: features, BaseScore: base, Params: p, Gain: make([]float64, nf)}
	bins := newBinMatrix(train.X, nf, p.MaxBins)
	rng := rand.New(rand.NewSource(p.Seed))

	n := train.Len()
	pred := fill(n, base)
	grad := make([]float64, n)
	hess := fill(n, 1)
	vpred := fill(valid.Len(), base)

	bestRMSE := math.Inf(1)
	bestIter := 0
	var bestGain []float64
	gain := make([]float64, nf)
	for round := 0; round < p.NumRounds; round++ {
		for i := range grad {
			grad[i] = pred[i] - train.Y[i]
		}
		tb := &treeBuilder{
			p:     p,
			bins:  bins,
			grad:  grad,
			hess:  hess,
			feats: sample(rng, nf, p.ColSample),
			gain:  gain,
		}
		tree := tb.build(sample(rng, n, p.Subsample))
		bst.Trees = append(bst.Trees, tree)
		for i, x := range train.X {
			pred[i] += tree.predict(x)
		}

		if valid.Len() == 0 {
			bestIter = round
			continue
		}
		for i, x := range valid.X {
			vpred[i] += tree.predict(x)
		}
		score := rmse(valid.Y, vpred)
		if o.logEvery > 0 && round%o.logEvery == 0 {
			o.l.Debug("boosting round",
				applogger.Int("round", round),
				applogger.Float64("valid_rmse", score),
			)
		}
		if score < bestRMSE {
			bestRMSE = score
			bestIter = round
			bestGain = append(bestGain[:0], gain...)
		} else if p.EarlyStoppingRounds > 0 && round-bestIter >= p.EarlyStoppingRounds {
			o.l.Info("early stopping",
				applogger.Int("round", round),
				applogger.Int("best_iteration", bestIter),
				applogger.Float64("best_valid_rmse", bestRMSE),
			)
			break
		}
	}

	bst.Trees = bst.Trees[:bestIter+1]
	bst.BestIteration = bestIter
	if bestGain != nil {
		copy(bst.Gain, bestGain)
	} else {
		copy(bst.Gain, gain)
	}
	return bst, nil
}

func checkShape(features []string, d Dataset) error {
	if len(d.X) != len(d.Y) {
		return fmt.Errorf("%d rows but %d targets", len(d.X), len(d.Y))
	}
	for i, row := range d.X {
		if len(row) != len(features) {
			return fmt.Errorf("row %d has %d values, want %d", i, len(row), len(features))
		}
	}
	for i, y := range d.Y {
		if math.IsNaN(y) || math.IsInf(y, 0) {
			return fmt.Errorf("target %d is not finite", i)
		}
	}
	return nil
}

// Predict scores one row laid out in b.Features order.
func (b *Booster) Predict(x []float64) float64 {
	out := b.BaseScore
	for i := range b.Trees {
		out += b.Trees[i].predict(x)
	}
	return out
}

func (b *Booster) PredictAll(x [][]float64) []float64 {
	out := make([]float64, len(x))
	for i, row := range x {
		out[i] = b.Predict(row)
	}
	return out
}

// Importance lists features by total split gain, highest first.
func (b *Booster) Importance() []models.FeatureImportance {
	out := make([]models.FeatureImportance, len(b.Features))
	for i, name := range b.Features {
		var g float64
		if i < len(b.Gain) {
			g = b.Gain[i]
		}
		out[i] = models.FeatureImportance{Name: name, Gain: g}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Gain > out[j].Gain })
	return out
}

func (b *Booster) Encode() ([]byte, error) {
	return json.Marshal(b)
}

// Decode parses an encoded booster and checks that its trees are well formed.
func Decode(data []byte) (*Booster, error) {
	var b Booster
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode booster: %w", err)
	}
	if len(b.Features) == 0 {
		return nil, fmt.Errorf("decode booster: %w", ErrNoFeatures)
	}
	for ti, t := range b.Trees {
		if len(t.Nodes) == 0 {
			return nil, fmt.Errorf("decode booster: tree %d is empty", ti)
		}
		for ni, n := range t.Nodes {
			if n.Leaf {
				continue
			}
			if n.Feature < 0 || n.Feature >= len(b.Features) ||
				n.Left <= ni || n.Left >= len(t.Nodes) || n.Right <= ni || n.Right >= len(t.Nodes) {
				return nil, fmt.Errorf("decode booster: tree %d node %d is malformed", ti, ni)
			}
		}
	}
	return &b, nil
}

func fill(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
