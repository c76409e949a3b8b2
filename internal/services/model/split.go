package model

import (
	"sort"

	"SE3Price/internal/domain/models"
)

// ChronologicalSplit orders rows by timestamp and cuts them into train,
// validation and test blocks. Rows are never shuffled.
func ChronologicalSplit(t *models.FeatureTable, trainRatio, validRatio float64) (train, valid, test *models.FeatureTable) {
	rows := make([]models.FeatureRow, len(t.Rows))
	copy(rows, t.Rows)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Timestamp.Before(rows[j].Timestamp) })

	n := len(rows)
	nTrain := int(float64(n) * trainRatio)
	nValid := int(float64(n) * validRatio)
	if nTrain+nValid > n {
		nValid = n - nTrain
	}

	part := func(r []models.FeatureRow) *models.FeatureTable {
		return &models.FeatureTable{Version: t.Version, Columns: t.Columns, Rows: r}
	}
	return part(rows[:nTrain]), part(rows[nTrain : nTrain+nValid]), part(rows[nTrain+nValid:])
}

// ToDataset converts a feature table into a training matrix.
func ToDataset(t *models.FeatureTable) Dataset {
	return Dataset{X: t.Matrix(), Y: t.Targets()}
}
