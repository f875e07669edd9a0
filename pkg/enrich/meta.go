package enrich

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/medcat-trainer-client/pkg/pagination"
	"github.com/Sternrassler/medcat-trainer-client/pkg/trainer"
)

// ErrUnknownOption is returned when a value is not an option of the task.
var ErrUnknownOption = errors.New("value is not an option of the task")

var metaAnnotationsWritten = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "trainer_meta_annotations_written_total",
		Help: "Meta-annotations written by kind (default, created, updated)",
	},
	[]string{"kind"},
)

// MetaTasks returns the tasks with the given ids, in backend order, with
// their options resolved from the task values. No request is made for an
// empty id list.
func (en *Enricher) MetaTasks(ctx context.Context, taskIDs []int) ([]trainer.MetaTask, error) {
	if len(taskIDs) == 0 {
		return nil, nil
	}

	all, err := en.tasks.Collect(ctx, trainer.PathMetaTasks, pagination.Unbounded)
	if err != nil {
		return nil, fmt.Errorf("fetch meta tasks: %w", err)
	}
	values, err := en.values.Collect(ctx, trainer.PathMetaTaskValues, pagination.Unbounded)
	if err != nil {
		return nil, fmt.Errorf("fetch meta task values: %w", err)
	}

	byID := make(map[int]trainer.MetaTaskValue, len(values.Items))
	for _, v := range values.Items {
		byID[v.ID] = v
	}

	tasks := make([]trainer.MetaTask, 0, len(taskIDs))
	for _, t := range all.Items {
		if !slices.Contains(taskIDs, t.ID) {
			continue
		}
		t.Options = make([]trainer.MetaTaskValue, 0, len(t.Values))
		for _, id := range t.Values {
			if v, ok := byID[id]; ok {
				t.Options = append(t.Options, v)
			}
		}
		tasks = append(tasks, t)
	}

	en.logger.Debug().
		Ints("task_ids", taskIDs).
		Int("resolved", len(tasks)).
		Msg("Meta tasks resolved")
	return tasks, nil
}

// MetaAnnotations returns the value of every task for an entity. A task
// with a saved annotation takes the first saved value. With useDefault, a
// task that declares a default and has no saved value gets a new validated
// annotation; those writes run concurrently and MetaAnnotations returns once
// all of them settled. A failed write leaves its task without a value.
func (en *Enricher) MetaAnnotations(ctx context.Context, entityID int, tasks []trainer.MetaTask, useDefault bool) ([]trainer.TaskValue, error) {
	saved, err := en.annos.Collect(ctx, trainer.MetaAnnotationsURL(entityID), pagination.Unbounded)
	if err != nil {
		return nil, fmt.Errorf("fetch meta annotations of entity %d: %w", entityID, err)
	}

	out := make([]trainer.TaskValue, len(tasks))
	var pending []int
	for i, task := range tasks {
		out[i] = trainer.TaskValue{Task: task}
		idx := slices.IndexFunc(saved.Items, func(a trainer.MetaAnnotation) bool {
			return a.MetaTask == task.ID
		})
		switch {
		case idx >= 0:
			out[i].Value = saved.Items[idx].MetaTaskValue
			out[i].AnnotationID = saved.Items[idx].ID
		case useDefault && task.HasDefault():
			pending = append(pending, i)
		}
	}

	if len(pending) == 0 {
		return out, nil
	}

	errs := make([]error, len(pending))
	var g errgroup.Group
	for n, i := range pending {
		g.Go(func() error {
			anno := trainer.MetaAnnotation{
				AnnotatedEntity: entityID,
				MetaTask:        out[i].Task.ID,
				MetaTaskValue:   out[i].Task.Default,
				Validated:       true,
			}
			var created trainer.MetaAnnotation
			if err := en.api.PostJSON(ctx, trainer.PathMetaAnnotations, anno, &created); err != nil {
				errs[n] = fmt.Errorf("create default for task %d: %w", anno.MetaTask, err)
				return nil
			}
			out[i].Value = created.MetaTaskValue
			out[i].AnnotationID = created.ID
			metaAnnotationsWritten.WithLabelValues("default").Inc()
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return out, fmt.Errorf("meta annotations of entity %d: %w", entityID, err)
	}

	en.logger.Debug().
		Int("entity_id", entityID).
		Int("defaults_created", len(pending)).
		Msg("Default meta annotations created")
	return out, nil
}

// SetMetaAnnotation stores valueID as the entity's value for the task in tv.
// An existing annotation is replaced in place; otherwise a new validated
// annotation is created. The updated TaskValue is returned.
func (en *Enricher) SetMetaAnnotation(ctx context.Context, entityID int, tv trainer.TaskValue, valueID int) (trainer.TaskValue, error) {
	if len(tv.Task.Options) > 0 && !slices.ContainsFunc(tv.Task.Options, func(o trainer.MetaTaskValue) bool {
		return o.ID == valueID
	}) {
		return tv, fmt.Errorf("task %d value %d: %w", tv.Task.ID, valueID, ErrUnknownOption)
	}

	anno := trainer.MetaAnnotation{
		ID:              tv.AnnotationID,
		AnnotatedEntity: entityID,
		MetaTask:        tv.Task.ID,
		MetaTaskValue:   valueID,
		Validated:       true,
	}

	var (
		saved trainer.MetaAnnotation
		err   error
		kind  = "created"
	)
	if tv.AnnotationID != 0 {
		kind = "updated"
		err = en.api.PutJSON(ctx, trainer.MetaAnnotationURL(tv.AnnotationID), anno, &saved)
	} else {
		err = en.api.PostJSON(ctx, trainer.PathMetaAnnotations, anno, &saved)
	}
	if err != nil {
		return tv, fmt.Errorf("save meta annotation for entity %d task %d: %w", entityID, tv.Task.ID, err)
	}
	metaAnnotationsWritten.WithLabelValues(kind).Inc()

	tv.Value = saved.MetaTaskValue
	tv.AnnotationID = saved.ID
	return tv, nil
}
