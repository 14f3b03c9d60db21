// Package uploader runs the durable image upload queue. Tasks are persisted
// in the local cache, claimed by a bounded worker pool, normalized, pushed to
// object storage and, on success, the owning entity's local image reference
// is rewritten to the resolved URL. Failed tasks go back to pending while the
// retry budget lasts; a crash mid-upload is recovered at startup by flipping
// in-flight tasks back to pending, so delivery is at least once.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkalinina/stashkeep/internal/imaging"
	"github.com/mkalinina/stashkeep/internal/logging"
	"github.com/mkalinina/stashkeep/internal/models"
	"github.com/mkalinina/stashkeep/internal/remote"
	"github.com/mkalinina/stashkeep/internal/repositories/uploads"
	"github.com/mkalinina/stashkeep/internal/store"
)

const (
	DefaultWorkers    = 3
	DefaultMaxRetries = 5

	// retryBaseDelay seeds the per-task backoff between failed attempts.
	retryBaseDelay = 30 * time.Second
	// retryMaxDelay caps the backoff tail.
	retryMaxDelay = 10 * time.Minute
)

// retryDelay returns how long a task with n failed attempts must wait before
// it may be claimed again. The delay follows a capped fibonacci progression,
// matching the remote sync retry policy.
func retryDelay(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	a, b := retryBaseDelay, retryBaseDelay
	for i := 1; i < n; i++ {
		a, b = b, a+b
		if b >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return b
}

// BlobSource resolves a local image handle to its bytes.
type BlobSource interface {
	Read(ctx context.Context, localRef string) ([]byte, error)
}

// DirSource reads local image handles as file names under a media directory.
type DirSource struct {
	Dir string
}

func (s DirSource) Read(_ context.Context, localRef string) ([]byte, error) {
	if strings.Contains(localRef, "..") || filepath.IsAbs(localRef) {
		return nil, fmt.Errorf("invalid local ref %q", localRef)
	}
	return os.ReadFile(filepath.Join(s.Dir, localRef))
}

// rewriteFunc swaps one local image reference for its uploaded URL on the
// owning entity. It reports false when the entity or the reference is gone,
// which is not an error: the task still completes.
type rewriteFunc func(ctx context.Context, entityID, localRef, url string) (bool, error)

type binding struct {
	bucket  string
	rewrite rewriteFunc
}

// Queue is the image upload queue for one owner.
type Queue struct {
	ownerID    string
	repo       uploads.Repository
	adapter    remote.Adapter
	blobs      BlobSource
	log        logging.Logger
	now        func() time.Time
	workers    int
	maxRetries int

	mu       sync.Mutex
	bindings map[models.Kind]binding

	wake chan struct{}
}

func New(ownerID string, repo uploads.Repository, adapter remote.Adapter, blobs BlobSource, log logging.Logger) *Queue {
	return &Queue{
		ownerID:    ownerID,
		repo:       repo,
		adapter:    adapter,
		blobs:      blobs,
		log:        log.With("component", "uploader"),
		now:        time.Now,
		workers:    DefaultWorkers,
		maxRetries: DefaultMaxRetries,
		bindings:   map[models.Kind]binding{},
		wake:       make(chan struct{}, 1),
	}
}

// SetWorkers and SetMaxRetries tune the pool before Run starts.
func (q *Queue) SetWorkers(n int) {
	if n > 0 {
		q.workers = n
	}
}

func (q *Queue) SetMaxRetries(n int) {
	if n >= 0 {
		q.maxRetries = n
	}
}

// BindProjects wires the project store: new local image references observed
// in store events are enqueued, and completed uploads rewrite the project's
// image list in place.
func (q *Queue) BindProjects(st *store.Store[*models.Project]) {
	q.bind(models.KindProject, binding{
		bucket: remote.BucketProjectPhotos,
		rewrite: func(ctx context.Context, entityID, localRef, url string) (bool, error) {
			cur, ok := st.Get(entityID)
			if !ok || !hasLocalRef(cur.Images, localRef) {
				return false, nil
			}
			err := st.Update(ctx, entityID, func(p *models.Project) {
				models.ReplaceLocalRef(p.Images, localRef, url)
			})
			if errors.Is(err, store.ErrNotFound) {
				return false, nil
			}
			return err == nil, err
		},
	})
	st.Subscribe(func(ev store.Event[*models.Project]) {
		if ev.Op == store.OpDelete {
			return
		}
		q.enqueueLocalRefs(models.KindProject, ev.After.ID, models.LocalRefs(ev.After.Images))
	})
}

// BindItems is the inventory counterpart of BindProjects.
func (q *Queue) BindItems(st *store.Store[*models.InventoryItem]) {
	q.bind(models.KindInventoryItem, binding{
		bucket: remote.BucketInventoryPhotos,
		rewrite: func(ctx context.Context, entityID, localRef, url string) (bool, error) {
			cur, ok := st.Get(entityID)
			if !ok || !hasLocalRef(cur.Images, localRef) {
				return false, nil
			}
			err := st.Update(ctx, entityID, func(it *models.InventoryItem) {
				models.ReplaceLocalRef(it.Images, localRef, url)
			})
			if errors.Is(err, store.ErrNotFound) {
				return false, nil
			}
			return err == nil, err
		},
	})
	st.Subscribe(func(ev store.Event[*models.InventoryItem]) {
		if ev.Op == store.OpDelete {
			return
		}
		q.enqueueLocalRefs(models.KindInventoryItem, ev.After.ID, models.LocalRefs(ev.After.Images))
	})
}

func (q *Queue) bind(kind models.Kind, b binding) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.bindings[kind] = b
}

func (q *Queue) binding(kind models.Kind) (binding, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	b, ok := q.bindings[kind]
	return b, ok
}

func (q *Queue) enqueueLocalRefs(kind models.Kind, entityID string, refs []string) {
	ctx := context.Background()
	for _, ref := range refs {
		if _, err := q.Enqueue(ctx, kind, entityID, ref); err != nil {
			q.log.Warn(ctx, "failed to enqueue image upload", "entity", entityID, "ref", ref, "error", err)
		}
	}
}

// Enqueue registers one local image for upload. It is idempotent per
// (entity, local ref): a second call returns the existing task whatever its
// state, so store events re-announcing the same image never duplicate work.
func (q *Queue) Enqueue(ctx context.Context, kind models.Kind, entityID, localRef string) (*models.UploadTask, error) {
	b, ok := q.binding(kind)
	if !ok {
		return nil, fmt.Errorf("no binding for entity kind %q", kind)
	}

	existing, err := q.repo.GetByEntityRef(ctx, entityID, localRef)
	if err != nil && !errors.Is(err, uploads.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	task := &models.UploadTask{
		ID:         uuid.NewString(),
		OwnerID:    q.ownerID,
		LocalRef:   localRef,
		EntityKind: kind,
		EntityID:   entityID,
		Bucket:     b.bucket,
		State:      models.TaskPending,
		UpdatedAt:  q.now(),
	}
	if err := q.repo.Save(ctx, task); err != nil {
		return nil, err
	}
	q.nudge()
	return task, nil
}

// Recover flips tasks stranded in uploading back to pending. Run it once at
// startup, before Run.
func (q *Queue) Recover(ctx context.Context) error {
	n, err := q.repo.ResetUploading(ctx, q.ownerID)
	if err != nil {
		return err
	}
	if n > 0 {
		q.log.Info(ctx, "recovered interrupted uploads", "count", n)
	}
	return nil
}

// Counts summarizes the queue by state for diagnostics.
func (q *Queue) Counts(ctx context.Context) (map[models.TaskState]int, error) {
	return q.repo.CountsByState(ctx, q.ownerID)
}

// Failed returns the terminally failed tasks, oldest first.
func (q *Queue) Failed(ctx context.Context) ([]*models.UploadTask, error) {
	return q.repo.ListByState(ctx, q.ownerID, models.TaskFailed)
}

// Run drives the worker pool until ctx is cancelled. Pending tasks are
// claimed by a single dispatcher, so no task runs on two workers at once.
func (q *Queue) Run(ctx context.Context, pollInterval time.Duration) {
	tasks := make(chan *models.UploadTask)

	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range tasks {
				q.process(ctx, task)
			}
		}()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	q.dispatch(ctx, tasks)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			q.dispatch(ctx, tasks)
		case <-q.wake:
			q.dispatch(ctx, tasks)
		}
	}

	close(tasks)
	wg.Wait()
}

// DrainOnce claims and processes every currently claimable pending task on
// the calling goroutine. Used by tests and by one-shot CLI runs.
func (q *Queue) DrainOnce(ctx context.Context) error {
	pending, err := q.repo.ListByState(ctx, q.ownerID, models.TaskPending)
	if err != nil {
		return err
	}
	for _, task := range pending {
		if !q.ready(task) {
			continue
		}
		if err := q.claim(ctx, task); err != nil {
			return err
		}
		q.process(ctx, task)
	}
	return nil
}

func (q *Queue) dispatch(ctx context.Context, tasks chan<- *models.UploadTask) {
	pending, err := q.repo.ListByState(ctx, q.ownerID, models.TaskPending)
	if err != nil {
		q.log.Warn(ctx, "failed to list pending uploads", "error", err)
		return
	}
	for _, task := range pending {
		if !q.ready(task) {
			continue
		}
		if err := q.claim(ctx, task); err != nil {
			q.log.Warn(ctx, "failed to claim upload task", "task", task.ID, "error", err)
			continue
		}
		select {
		case tasks <- task:
		case <-ctx.Done():
			return
		}
	}
}

// ready reports whether a pending task's retry backoff has elapsed. A task
// that has never failed is claimable immediately; after a failure UpdatedAt
// marks the failure time and the task waits retryDelay(RetryCount).
func (q *Queue) ready(task *models.UploadTask) bool {
	if task.RetryCount == 0 {
		return true
	}
	return !q.now().Before(task.UpdatedAt.Add(retryDelay(task.RetryCount)))
}

func (q *Queue) claim(ctx context.Context, task *models.UploadTask) error {
	task.State = models.TaskUploading
	task.UpdatedAt = q.now()
	return q.repo.Save(ctx, task)
}

// process runs one claimed task to a terminal or retryable state.
func (q *Queue) process(ctx context.Context, task *models.UploadTask) {
	url, err := q.upload(ctx, task)
	if err != nil {
		q.settleFailure(ctx, task, err)
		return
	}

	task.State = models.TaskCompleted
	task.ResultURL = url
	task.LastError = ""
	task.UpdatedAt = q.now()
	if err := q.repo.Save(ctx, task); err != nil {
		q.log.Warn(ctx, "failed to persist completed upload", "task", task.ID, "error", err)
		return
	}

	b, ok := q.binding(task.EntityKind)
	if !ok {
		return
	}
	replaced, err := b.rewrite(ctx, task.EntityID, task.LocalRef, url)
	if err != nil {
		q.log.Warn(ctx, "failed to rewrite image reference", "task", task.ID, "error", err)
		return
	}
	if !replaced {
		// Entity deleted or reference edited away while uploading. The object
		// is orphaned; reconciliation of storage is a maintenance concern,
		// not this queue's. The completed task stays visible.
		q.log.Debug(ctx, "upload completed for a vanished reference", "task", task.ID)
		return
	}

	// Applied end to end; the task record has nothing left to tell anyone.
	if err := q.repo.Delete(ctx, task.ID); err != nil {
		q.log.Warn(ctx, "failed to remove applied upload task", "task", task.ID, "error", err)
	}
}

func (q *Queue) upload(ctx context.Context, task *models.UploadTask) (string, error) {
	data, err := q.blobs.Read(ctx, task.LocalRef)
	if err != nil {
		return "", &blobError{err: err}
	}

	body, contentType, ext := data, "", ""
	normalized, ct, err := imaging.Normalize(data)
	if err != nil {
		// Ship the original bytes rather than lose the photo, labelled with
		// what they actually are.
		q.log.Warn(ctx, "image normalization failed, uploading original", "task", task.ID, "error", err)
		contentType = http.DetectContentType(data)
		ext = extFor(contentType)
	} else {
		body, contentType, ext = normalized, ct, "jpg"
	}

	path := remote.ObjectPath(task.OwnerID, task.EntityID, q.now(), ext)
	return q.adapter.PutObject(ctx, task.Bucket, path, body, contentType)
}

func extFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	case "image/bmp":
		return "bmp"
	default:
		return "bin"
	}
}

// settleFailure routes a failed attempt: transient errors consume a retry
// and go back to pending, claimable again once retryDelay(RetryCount) has
// elapsed; everything else is terminal. A missing backend leaves the task
// pending without burning retries or delay; it will run when credentials
// arrive.
func (q *Queue) settleFailure(ctx context.Context, task *models.UploadTask, cause error) {
	task.UpdatedAt = q.now()
	task.LastError = cause.Error()

	var blobErr *blobError
	switch {
	case errors.As(cause, &blobErr):
		// The bytes are gone; retrying cannot help.
		task.State = models.TaskFailed
	case remote.Classify(cause) == remote.KindNotConfigured:
		task.State = models.TaskPending
		task.LastError = ""
	case remote.Classify(cause) == remote.KindTransient && task.Retryable(q.maxRetries):
		task.RetryCount++
		task.State = models.TaskPending
	default:
		task.State = models.TaskFailed
	}

	if task.State == models.TaskFailed {
		q.log.Warn(ctx, "upload failed permanently", "task", task.ID, "ref", task.LocalRef, "error", cause)
	}
	if err := q.repo.Save(ctx, task); err != nil {
		q.log.Warn(ctx, "failed to persist upload state", "task", task.ID, "error", err)
	}
}

func (q *Queue) nudge() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

type blobError struct {
	err error
}

func (e *blobError) Error() string { return fmt.Sprintf("reading local image: %v", e.err) }
func (e *blobError) Unwrap() error { return e.err }

func hasLocalRef(images []models.ImageRef, localRef string) bool {
	for _, img := range images {
		if img.Local == localRef && img.URL == "" {
			return true
		}
	}
	return false
}
