package trace

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siherrmann/copilot/database"
	"github.com/siherrmann/copilot/model"
)

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("Run is visible only after finish", func(t *testing.T) {
		store := database.NewMemoryStore()
		recorder, err := NewRecorder(store, nil)
		require.NoError(t, err)

		run := recorder.StartRun("question")
		require.NoError(t, run.RecordStep(ctx, model.StepRetrieve, model.StepOK, nil, nil))

		_, err = recorder.GetRun(ctx, run.ID())
		assert.ErrorIs(t, err, model.ErrNotFound, "unfinished run must not be readable")

		require.NoError(t, run.Finish(ctx, model.RouteDocRAG, model.ModeSourcesOnly, model.StrategyKeyword, "", nil))

		stored, err := recorder.GetRun(ctx, run.ID())
		require.NoError(t, err)
		assert.Equal(t, model.RunSuccess, stored.Status)
		assert.Equal(t, model.RouteDocRAG, stored.Route)
		assert.NotNil(t, stored.Sources, "sources are never null")

		steps, err := recorder.Steps(ctx, run.ID())
		require.NoError(t, err)
		assert.Len(t, steps, 1, "a visible run always has its steps")
	})

	t.Run("Steps keep append order via sequence", func(t *testing.T) {
		store := database.NewMemoryStore()
		recorder, err := NewRecorder(store, nil)
		require.NoError(t, err)

		run := recorder.StartRun("question")
		for i := 0; i < 5; i++ {
			require.NoError(t, run.RecordStep(ctx, fmt.Sprintf("phase%d", i), model.StepOK, nil, nil))
		}
		require.NoError(t, run.Finish(ctx, model.RouteGeneral, model.ModeSourcesOnly, model.StrategyKeyword, "", nil))

		steps, err := recorder.Steps(ctx, run.ID())
		require.NoError(t, err)
		require.Len(t, steps, 5)
		for i, step := range steps {
			assert.Equal(t, fmt.Sprintf("phase%d", i), step.Name)
			if i > 0 {
				assert.Greater(t, step.Seq, steps[i-1].Seq)
			}
		}
	})

	t.Run("Failed run records the cause", func(t *testing.T) {
		store := database.NewMemoryStore()
		recorder, err := NewRecorder(store, nil)
		require.NoError(t, err)

		run := recorder.StartRun("question")
		require.NoError(t, run.Fail(ctx, model.RouteGeneral, model.ModeSourcesOnly, model.StrategyVector, fmt.Errorf("embedder down")))

		stored, err := recorder.GetRun(ctx, run.ID())
		require.NoError(t, err)
		assert.Equal(t, model.RunError, stored.Status)
		assert.Equal(t, "embedder down", stored.Error)
	})

	t.Run("Run finishes exactly once", func(t *testing.T) {
		store := database.NewMemoryStore()
		recorder, err := NewRecorder(store, nil)
		require.NoError(t, err)

		run := recorder.StartRun("question")
		require.NoError(t, run.Finish(ctx, model.RouteGeneral, model.ModeSourcesOnly, model.StrategyKeyword, "", nil))

		err = run.Finish(ctx, model.RouteGeneral, model.ModeSourcesOnly, model.StrategyKeyword, "", nil)
		assert.Error(t, err)
		err = run.RecordStep(ctx, "late", model.StepOK, nil, nil)
		assert.Error(t, err, "no steps after finish")
	})
}

func TestListSteps(t *testing.T) {
	ctx := context.Background()

	t.Run("Iteration is lazy and restartable", func(t *testing.T) {
		store := database.NewMemoryStore()
		recorder, err := NewRecorder(store, nil)
		require.NoError(t, err)

		run := recorder.StartRun("question")
		require.NoError(t, run.RecordStep(ctx, "first", model.StepOK, nil, nil))
		require.NoError(t, run.RecordStep(ctx, "second", model.StepOK, nil, nil))
		require.NoError(t, run.Finish(ctx, model.RouteGeneral, model.ModeSourcesOnly, model.StrategyKeyword, "", nil))

		seq := recorder.ListSteps(ctx, run.ID())

		var names []string
		for step, err := range seq {
			require.NoError(t, err)
			names = append(names, step.Name)
		}
		assert.Equal(t, []string{"first", "second"}, names)

		// Early break, then a full restart of the same sequence.
		for step, err := range seq {
			require.NoError(t, err)
			assert.Equal(t, "first", step.Name)
			break
		}
		count := 0
		for _, err := range seq {
			require.NoError(t, err)
			count++
		}
		assert.Equal(t, 2, count)
	})

	t.Run("Unknown run yields nothing", func(t *testing.T) {
		store := database.NewMemoryStore()
		recorder, err := NewRecorder(store, nil)
		require.NoError(t, err)

		run := recorder.StartRun("never finished")

		count := 0
		for _, err := range recorder.ListSteps(ctx, run.ID()) {
			require.NoError(t, err)
			count++
		}
		assert.Equal(t, 0, count)
	})
}
