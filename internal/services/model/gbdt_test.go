package model

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"SE3Price/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastParams() Params {
	return Params{
		NumRounds:      100,
		LearningRate:   0.3,
		MaxDepth:       3,
		MinChildWeight: 1,
		Lambda:         1,
		Subsample:      1,
		ColSample:      1,
		MaxBins:        32,
		Seed:           7,
	}
}

// stepData is y = 10 when x0 > 5, else 0; x1 is noise.
func stepData(n int, seed int64) Dataset {
	rng := rand.New(rand.NewSource(seed))
	var d Dataset
	for i := 0; i < n; i++ {
		x0 := 10 * float64(i) / float64(n)
		y := 0.0
		if x0 > 5 {
			y = 10
		}
		d.X = append(d.X, []float64{x0, rng.Float64()})
		d.Y = append(d.Y, y)
	}
	return d
}

func TestTrainFitsStepFunction(t *testing.T) {
	data := stepData(200, 1)
	bst, err := Train([]string{"x0", "noise"}, data, Dataset{}, fastParams())
	require.NoError(t, err)

	m := Evaluate(data.Y, bst.PredictAll(data.X))
	assert.Less(t, m.MAE, 0.5)
	assert.InDelta(t, 0, bst.Predict([]float64{2, 0.5}), 0.5)
	assert.InDelta(t, 10, bst.Predict([]float64{8, 0.5}), 0.5)

	imp := bst.Importance()
	require.Len(t, imp, 2)
	assert.Equal(t, "x0", imp[0].Name)
	assert.Greater(t, imp[0].Gain, imp[1].Gain)
}

func TestTrainLearnsMissingValueDirection(t *testing.T) {
	var d Dataset
	for i := 0; i < 200; i++ {
		if i%4 == 0 {
			d.X = append(d.X, []float64{math.NaN()})
			d.Y = append(d.Y, 100)
			continue
		}
		d.X = append(d.X, []float64{float64(i) / 100})
		d.Y = append(d.Y, 0)
	}

	bst, err := Train([]string{"x"}, d, Dataset{}, fastParams())
	require.NoError(t, err)
	assert.Greater(t, bst.Predict([]float64{math.NaN()}), 90.0)
	assert.Less(t, bst.Predict([]float64{0.5}), 10.0)
}

func TestTrainStopsEarly(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	noise := func(n int) Dataset {
		var d Dataset
		for i := 0; i < n; i++ {
			d.X = append(d.X, []float64{rng.Float64(), rng.Float64()})
			d.Y = append(d.Y, rng.NormFloat64())
		}
		return d
	}
	p := fastParams()
	p.NumRounds = 200
	p.EarlyStoppingRounds = 5

	bst, err := Train([]string{"a", "b"}, noise(200), noise(50), p)
	require.NoError(t, err)
	assert.Less(t, len(bst.Trees), 200)
	assert.Equal(t, bst.BestIteration+1, len(bst.Trees))
}

func TestTrainRejectsBadInput(t *testing.T) {
	data := stepData(20, 1)
	p := fastParams()

	_, err := Train(nil, data, Dataset{}, p)
	assert.ErrorIs(t, err, ErrNoFeatures)

	_, err = Train([]string{"x0", "noise"}, Dataset{}, Dataset{}, p)
	assert.ErrorIs(t, err, ErrNoTrainingRows)

	p.EarlyStoppingRounds = 10
	_, err = Train([]string{"x0", "noise"}, data, Dataset{}, p)
	assert.ErrorIs(t, err, ErrNoValidationRows)

	p.EarlyStoppingRounds = 0
	_, err = Train([]string{"x0"}, data, Dataset{}, p)
	assert.Error(t, err, "row width must match feature names")
}

func TestTrainIsDeterministicForSeed(t *testing.T) {
	data := stepData(100, 2)
	p := fastParams()
	p.Subsample = 0.7
	p.ColSample = 0.5

	a, err := Train([]string{"x0", "noise"}, data, Dataset{}, p)
	require.NoError(t, err)
	b, err := Train([]string{"x0", "noise"}, data, Dataset{}, p)
	require.NoError(t, err)

	ea, err := a.Encode()
	require.NoError(t, err)
	eb, err := b.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, string(ea), string(eb))
}

func TestEncodeDecodeKeepsPredictions(t *testing.T) {
	data := stepData(100, 4)
	data.X[3][1] = math.NaN()
	bst, err := Train([]string{"x0", "noise"}, data, Dataset{}, fastParams())
	require.NoError(t, err)

	enc, err := bst.Encode()
	require.NoError(t, err)
	got, err := Decode(enc)
	require.NoError(t, err)

	for _, x := range [][]float64{{1, 0.2}, {6, math.NaN()}, {9.5, 0.9}} {
		assert.Equal(t, bst.Predict(x), got.Predict(x))
	}
}

func TestDecodeRejectsMalformedTrees(t *testing.T) {
	_, err := Decode([]byte(`{"features":["a"],"trees":[{"nodes":[{"feature":0,"left":0,"right":0}]}]}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`{"features":[]}`))
	assert.ErrorIs(t, err, ErrNoFeatures)
	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestEvaluate(t *testing.T) {
	m := Evaluate([]float64{1, 2, 3, 4}, []float64{1, 2, 3, 5})
	assert.Equal(t, 4, m.Rows)
	assert.InDelta(t, 0.25, m.MAE, 1e-12)
	assert.InDelta(t, 0.5, m.RMSE, 1e-12)
	assert.InDelta(t, 0.8, m.R2, 1e-12)
	assert.InDelta(t, 6.25, m.MAPE, 1e-12)

	// near-zero prices do not blow up the percentage error
	m = Evaluate([]float64{0, 10}, []float64{5, 10})
	assert.InDelta(t, 0, m.MAPE, 1e-12)
}

func TestChronologicalSplit(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	table := &models.FeatureTable{Version: 1, Columns: []string{"a"}}
	for _, i := range rand.New(rand.NewSource(1)).Perm(20) {
		table.Rows = append(table.Rows, models.FeatureRow{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Features:  []models.Feature{{Name: "a", Value: float64(i)}},
			Target:    float64(i),
		})
	}

	train, valid, test := ChronologicalSplit(table, 0.7, 0.15)
	require.Equal(t, 14, train.Len())
	require.Equal(t, 3, valid.Len())
	require.Equal(t, 3, test.Len())

	last := func(ft *models.FeatureTable) time.Time { return ft.Rows[ft.Len()-1].Timestamp }
	assert.True(t, last(train).Before(valid.Rows[0].Timestamp))
	assert.True(t, last(valid).Before(test.Rows[0].Timestamp))
	assert.Equal(t, start, train.Rows[0].Timestamp)
}
