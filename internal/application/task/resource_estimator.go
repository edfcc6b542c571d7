package task

import (
	"context"
	"sync"

	domain "github.com/here-xyz/tasked-step-engine/internal/domain/task"
)

// changedTilesThreadCount is the fixed fan-out the original service uses
// for every ChangedTiles export, regardless of dataset size.
const changedTilesThreadCount = 8

// parallelizationMinThreshold is the feature count below which a
// partition-by-id export with no filter is forced single-threaded, per
// spec.md §6's parallelismMinThreshold default.
const parallelizationMinThreshold = 200_000

// bytesPerACU is the divisor used to turn a dataset byte size into an ACU
// claim; grounded on the "calculateNeededExportAcus" contract named in
// spec.md §4.1 and the original TaskedSpaceBasedStep.calculateLoadAndSetOverallNeededAcus.
const bytesPerACU = 1 << 30 // 1 GiB of source data per ACU

// uploadBytesEstimationFactor scales the claimed ioOut units from the
// dataset byte size, standing in for getUncompressedUploadBytesEstimation.
const uploadBytesEstimationFactor = 1.3

// ResourceEstimator translates dataset statistics into a compute-unit
// budget and an I/O budget claim for a run, per spec.md §4.1. It is pure
// with respect to the statistics snapshot; overallNeededAcus is computed
// once per instance and memoized.
type ResourceEstimator struct {
	statistics domain.StatisticsService
	precalc    domain.PrecalcService

	once   sync.Once
	acus   float64
	acuErr error
}

// NewResourceEstimator builds an estimator against the external
// statistics and precalc collaborators.
func NewResourceEstimator(statistics domain.StatisticsService, precalc domain.PrecalcService) *ResourceEstimator {
	return &ResourceEstimator{statistics: statistics, precalc: precalc}
}

// NeededResources returns the resource claim list for the given space and
// context, computing and caching overallNeededAcus on first call.
func (e *ResourceEstimator) NeededResources(ctx context.Context, spaceID string, spaceContext domain.SpaceContext) ([]domain.ResourceClaim, error) {
	snapshot, err := e.statistics.Statistics(ctx, spaceID, spaceContext)
	if err != nil {
		return nil, mapStatisticsError(err)
	}

	acus, err := e.overallNeededACUs(snapshot.ByteSize)
	if err != nil {
		return nil, err
	}

	return []domain.ResourceClaim{
		{Resource: domain.ResourceDBReader, VirtualUnits: acus},
		{Resource: domain.ResourceIOOut, VirtualUnits: float64(snapshot.ByteSize) * uploadBytesEstimationFactor},
	}, nil
}

// overallNeededACUs memoizes the byte-size-derived ACU claim: once computed
// for a run, subsequent calls return the cached value regardless of the
// byteSize argument, matching the "computing and caching on first call"
// contract in spec.md §4.3.
func (e *ResourceEstimator) overallNeededACUs(byteSize int64) (float64, error) {
	e.once.Do(func() {
		e.acus = calculateNeededExportACUs(byteSize)
	})
	return e.acus, e.acuErr
}

func calculateNeededExportACUs(byteSize int64) float64 {
	if byteSize <= 0 {
		return 1
	}
	acus := float64(byteSize) / float64(bytesPerACU)
	if acus < 1 {
		return 1
	}
	return acus
}

// ChangedTilesThreadCount returns the fixed parallelism for ChangedTiles
// exports, per spec.md §4.1's thread-count policy.
func (e *ResourceEstimator) ChangedTilesThreadCount() int {
	return changedTilesThreadCount
}

// DownloadThreadCount implements the generic-download thread-count policy:
// the database precalc value, adjusted upward for an unfiltered
// partition-by-id export on a large dataset, and forced to 1 for such an
// export below parallelizationMinThreshold features.
func (e *ResourceEstimator) DownloadThreadCount(ctx context.Context, estimatedFeatureCount int64, selectQuery, sourceTable string, partitionByIDNoFilter bool) (int, error) {
	precalc, err := e.precalc.PrecalcThreadCount(ctx, estimatedFeatureCount, selectQuery, sourceTable)
	if err != nil {
		return 0, domain.TransientDBErrorf(err, "precalc thread count")
	}

	if !partitionByIDNoFilter {
		return precalc, nil
	}
	if estimatedFeatureCount < parallelizationMinThreshold {
		return 1, nil
	}

	byCount := int(estimatedFeatureCount / 500_000)
	if byCount > precalc {
		return byCount, nil
	}
	return precalc, nil
}

func mapStatisticsError(err error) error {
	if httpErr, ok := err.(interface{ StatusCode() int }); ok && httpErr.StatusCode() == 428 {
		return domain.ValidationErrorf(err, "dataset is deactivated")
	}
	return domain.ValidationErrorf(err, "unable to reach statistics service")
}
