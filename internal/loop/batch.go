package loop

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"rtecgen/internal/deps"
	"rtecgen/internal/types"
)

// BatchResult summarizes a batch of refinement runs
type BatchResult struct {
	Records       []*types.RunRecord
	Converged     int
	MeanBestScore float64
}

// RunAll refines a set of concepts sequentially in dependency order, so each
// concept's prerequisites are already materialized into memory by the time
// it is generated. Runs that fail to converge do not stop the batch unless
// stopOnFailure is set; a fatal collaborator error always stops it, with the
// partial batch returned alongside the error.
func (c *Controller) RunAll(ctx context.Context, concepts []types.Concept, stopOnFailure bool) (*BatchResult, error) {
	ordered, err := c.orderConcepts(concepts)
	if err != nil {
		return nil, err
	}

	c.logger.Info("starting batch run", zap.Int("concepts", len(ordered)))

	result := &BatchResult{}
	for i, concept := range ordered {
		c.logger.Info("processing concept",
			zap.Int("position", i+1),
			zap.Int("total", len(ordered)),
			zap.String("concept", concept.ID))

		record, runErr := c.Run(ctx, concept)
		if record != nil {
			result.Records = append(result.Records, record)
		}
		if runErr != nil {
			finalizeBatch(result)
			return result, fmt.Errorf("batch stopped at concept %q: %w", concept.ID, runErr)
		}

		if record.Converged {
			result.Converged++
		} else if stopOnFailure {
			c.logger.Warn("stopping batch: concept did not converge",
				zap.String("concept", concept.ID),
				zap.Float64("best_score", record.BestScore))
			break
		}
	}

	finalizeBatch(result)
	c.logger.Info("batch complete",
		zap.Int("total", len(result.Records)),
		zap.Int("converged", result.Converged),
		zap.Float64("mean_best_score", result.MeanBestScore))
	return result, nil
}

// orderConcepts sorts concepts bottom-up by dependency depth when a graph is
// configured; otherwise the given order is kept.
func (c *Controller) orderConcepts(concepts []types.Concept) ([]types.Concept, error) {
	if c.resolver == nil {
		return concepts, nil
	}

	graph := make(deps.Graph, len(concepts))
	byID := make(map[string]types.Concept, len(concepts))
	ids := make([]string, 0, len(concepts))
	for _, concept := range concepts {
		prereqs, err := c.resolver.PrerequisitesOf(concept.ID)
		if err != nil {
			return nil, err
		}
		graph[concept.ID] = prereqs
		byID[concept.ID] = concept
		ids = append(ids, concept.ID)
	}

	order, err := deps.TopoOrder(graph, ids)
	if err != nil {
		return nil, fmt.Errorf("cannot order batch: %w", err)
	}

	ordered := make([]types.Concept, 0, len(order))
	for _, id := range order {
		ordered = append(ordered, byID[id])
	}
	return ordered, nil
}

func finalizeBatch(result *BatchResult) {
	if len(result.Records) == 0 {
		return
	}
	var total float64
	for _, record := range result.Records {
		total += record.BestScore
	}
	result.MeanBestScore = total / float64(len(result.Records))
}
