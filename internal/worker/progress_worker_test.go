package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeApplier struct {
	jobs []model.ProgressJob
	err  error
}

func (f *fakeApplier) Apply(_ context.Context, job model.ProgressJob) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

// cancelingApplier simulates shutdown landing while the write is in flight.
type cancelingApplier struct {
	cancel context.CancelFunc
}

func (a *cancelingApplier) Apply(ctx context.Context, _ model.ProgressJob) error {
	a.cancel()
	return ctx.Err()
}

type pushed struct {
	key   string
	value string
}

// fakeQueue fails pushes on a cancelled context the way go-redis does.
type fakeQueue struct {
	items  []string
	pushes []pushed
}

func (q *fakeQueue) BLPop(_ context.Context, _ time.Duration, keys ...string) *redis.StringSliceCmd {
	if len(q.items) == 0 {
		return redis.NewStringSliceResult(nil, redis.Nil)
	}
	item := q.items[0]
	q.items = q.items[1:]
	return redis.NewStringSliceResult([]string{keys[0], item}, nil)
}

func (q *fakeQueue) LPop(_ context.Context, _ string) *redis.StringCmd {
	if len(q.items) == 0 {
		return redis.NewStringResult("", redis.Nil)
	}
	item := q.items[0]
	q.items = q.items[1:]
	return redis.NewStringResult(item, nil)
}

func (q *fakeQueue) RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	if err := ctx.Err(); err != nil {
		return redis.NewIntResult(0, err)
	}
	for _, v := range values {
		var s string
		switch t := v.(type) {
		case []byte:
			s = string(t)
		case string:
			s = t
		}
		q.pushes = append(q.pushes, pushed{key: key, value: s})
	}
	return redis.NewIntResult(int64(len(q.pushes)), nil)
}

func rawJob(t *testing.T, attempts int) string {
	t.Helper()
	b, err := json.Marshal(queuedJob{
		ProgressJob: model.ProgressJob{
			StudentID: "learner-1",
			Request:   model.ProgressUpdateRequest{CourseID: "c", LectureID: "l"},
		},
		Attempts: attempts,
	})
	require.NoError(t, err)
	return string(b)
}

func TestProgressWorker_Process(t *testing.T) {
	applier := &fakeApplier{}
	w := NewProgressWorker(nil, applier, zerolog.Nop())

	_, v := w.process(context.Background(), rawJob(t, 0))
	assert.Equal(t, verdictDone, v)
	require.Len(t, applier.jobs, 1)
	assert.Equal(t, "learner-1", applier.jobs[0].StudentID)
	assert.Equal(t, model.ProgressLecture, applier.jobs[0].Request.Kind())
}

func TestProgressWorker_RetryThenDead(t *testing.T) {
	w := NewProgressWorker(nil, &fakeApplier{err: errors.New("db down")}, zerolog.Nop())

	job, v := w.process(context.Background(), rawJob(t, 0))
	assert.Equal(t, verdictRetry, v)
	assert.Equal(t, 1, job.Attempts)

	_, v = w.process(context.Background(), rawJob(t, MaxAttempts-1))
	assert.Equal(t, verdictDead, v)
}

func TestProgressWorker_MalformedIsDead(t *testing.T) {
	w := NewProgressWorker(nil, &fakeApplier{}, zerolog.Nop())
	_, v := w.process(context.Background(), "{not json")
	assert.Equal(t, verdictDead, v)
}

func TestProgressWorker_InvalidJobIsDead(t *testing.T) {
	applier := &fakeApplier{}
	w := NewProgressWorker(nil, applier, zerolog.Nop())

	_, v := w.process(context.Background(), `{"student_id":"learner-1","request":{"lectureId":"l"}}`)
	assert.Equal(t, verdictDead, v)

	_, v = w.process(context.Background(), `{"request":{"courseId":"c","lectureId":"l"}}`)
	assert.Equal(t, verdictDead, v)
	assert.Empty(t, applier.jobs)
}

func TestProgressWorker_ShutdownMidApplyRequeues(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := &fakeQueue{items: []string{rawJob(t, MaxAttempts-1)}}
	w := NewProgressWorker(q, &cancelingApplier{cancel: cancel}, zerolog.Nop())

	w.processNext(ctx)

	require.Len(t, q.pushes, 1)
	assert.Equal(t, "persist_progress_queue", q.pushes[0].key)

	var job queuedJob
	require.NoError(t, json.Unmarshal([]byte(q.pushes[0].value), &job))
	assert.Equal(t, MaxAttempts-1, job.Attempts, "shutdown must not count as a failed attempt")
	assert.Equal(t, "learner-1", job.StudentID)
}

func TestProgressWorker_DeadLetterAfterMaxAttempts(t *testing.T) {
	q := &fakeQueue{items: []string{rawJob(t, MaxAttempts-1)}}
	w := NewProgressWorker(q, &fakeApplier{err: errors.New("db down")}, zerolog.Nop())

	w.processNext(context.Background())

	require.Len(t, q.pushes, 1)
	assert.Equal(t, "persist_progress_dead", q.pushes[0].key)
	assert.Empty(t, q.items)
}
