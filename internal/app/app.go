// Package app assembles a workspace: the stores, reference maintenance,
// reconciliation, sync loops and the upload queue for one identity. Switching
// accounts means closing the workspace and opening a new one; components are
// bound to an owner for their whole life.
package app

import (
	"context"
	"database/sql"
	"sync"

	"github.com/mkalinina/stashkeep/internal/config"
	"github.com/mkalinina/stashkeep/internal/identity"
	"github.com/mkalinina/stashkeep/internal/linksync"
	"github.com/mkalinina/stashkeep/internal/localdb"
	"github.com/mkalinina/stashkeep/internal/logging"
	"github.com/mkalinina/stashkeep/internal/models"
	"github.com/mkalinina/stashkeep/internal/reconcile"
	"github.com/mkalinina/stashkeep/internal/remote"
	"github.com/mkalinina/stashkeep/internal/repositories/rows"
	"github.com/mkalinina/stashkeep/internal/repositories/uploads"
	"github.com/mkalinina/stashkeep/internal/store"
	"github.com/mkalinina/stashkeep/internal/syncer"
	"github.com/mkalinina/stashkeep/internal/timelog"
	"github.com/mkalinina/stashkeep/internal/uploader"
)

// Workspace is everything running for one identity.
type Workspace struct {
	Identity identity.Identity

	Projects *store.Store[*models.Project]
	Items    *store.Store[*models.InventoryItem]
	Sessions *store.Store[*models.TimeSession]

	Links     *linksync.Synchronizer
	Reconcile *reconcile.Service
	Uploads   *uploader.Queue
	Timer     *timelog.Tracker

	db      *sql.DB
	adapter remote.Adapter
	log     logging.Logger
	cfg     *config.Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open builds and starts a workspace for the resolved identity. The local
// cache is hydrated before Open returns; remote loading proceeds in the
// background and flips each store's RemoteLoaded flag when the first sync
// pass lands. Remote failures never block local use.
func Open(ctx context.Context, cfg *config.Config, provider identity.Provider, log logging.Logger) (*Workspace, error) {
	ident, err := provider.Resolve()
	if err != nil {
		return nil, err
	}

	db, err := localdb.Open(ctx, cfg.LocalDBPath)
	if err != nil {
		return nil, err
	}

	// Free-tier identities never touch the backend; no client is built for
	// them even when credentials are configured.
	syncEnabled := ident.RemoteSync()
	var adapter remote.Adapter = remote.Unconfigured{}
	if syncEnabled {
		adapter, err = remote.New(ctx, remote.Config{
			DatabaseDSN:   cfg.DatabaseDSN,
			S3Endpoint:    cfg.S3Endpoint,
			S3Region:      cfg.S3Region,
			S3AccessKey:   cfg.S3AccessKey,
			S3SecretKey:   cfg.S3SecretKey,
			PublicBaseURL: cfg.PublicBaseURL,
		})
		if err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	w := &Workspace{
		Identity: ident,
		Projects: store.New(ident.OwnerID, syncEnabled,
			rows.NewSQLiteRepository(db, models.KindProject), models.ProjectCodec(), log),
		Items: store.New(ident.OwnerID, syncEnabled,
			rows.NewSQLiteRepository(db, models.KindInventoryItem), models.InventoryItemCodec(), log),
		Sessions: store.New(ident.OwnerID, syncEnabled,
			rows.NewSQLiteRepository(db, models.KindTimeSession), models.TimeSessionCodec(), log),
		db:      db,
		adapter: adapter,
		log:     log,
		cfg:     cfg,
	}

	runCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	// Reference maintenance and reconciliation must watch events from the
	// very first hydrated row.
	w.Links = linksync.New(w.Projects, w.Items, log)
	w.Links.Bind(runCtx)
	w.Reconcile = reconcile.New(w.Projects, w.Items, log)
	w.Reconcile.Bind(runCtx)

	w.Uploads = uploader.New(ident.OwnerID, uploads.NewSQLiteRepository(db), adapter,
		uploader.DirSource{Dir: cfg.MediaDir}, log)
	w.Uploads.SetWorkers(cfg.UploadWorkers)
	w.Uploads.SetMaxRetries(cfg.UploadMaxRetries)
	w.Uploads.BindProjects(w.Projects)
	w.Uploads.BindItems(w.Items)

	w.Timer = timelog.New(w.Sessions)

	if err := w.hydrate(ctx); err != nil {
		cancel()
		_ = db.Close()
		return nil, err
	}

	if err := w.Uploads.Recover(ctx); err != nil {
		cancel()
		_ = db.Close()
		return nil, err
	}

	w.start(runCtx)
	return w, nil
}

func (w *Workspace) hydrate(ctx context.Context) error {
	if err := w.Projects.Hydrate(ctx); err != nil {
		return err
	}
	if err := w.Items.Hydrate(ctx); err != nil {
		return err
	}
	return w.Sessions.Hydrate(ctx)
}

func (w *Workspace) start(ctx context.Context) {
	run := func(fn func()) {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			fn()
		}()
	}

	projectSync := syncer.New(w.Projects, w.adapter, models.ProjectCodec(), w.log)
	itemSync := syncer.New(w.Items, w.adapter, models.InventoryItemCodec(), w.log)
	sessionSync := syncer.New(w.Sessions, w.adapter, models.TimeSessionCodec(), w.log)

	run(func() { projectSync.Start(ctx, w.cfg.SyncInterval, w.cfg.SyncPassTimeout) })
	run(func() { itemSync.Start(ctx, w.cfg.SyncInterval, w.cfg.SyncPassTimeout) })
	run(func() { sessionSync.Start(ctx, w.cfg.SyncInterval, w.cfg.SyncPassTimeout) })
	run(func() { w.Reconcile.Start(ctx, w.cfg.ReconcileInterval) })
	run(func() { w.Uploads.Run(ctx, w.cfg.UploadPollInterval) })
}

// Close stops the background loops and releases the cache and the remote
// connection. Pending sync work stays in the cache and resumes next open.
func (w *Workspace) Close() error {
	w.cancel()
	w.wg.Wait()

	if c, ok := w.adapter.(*remote.Client); ok {
		_ = c.Close()
	}
	return w.db.Close()
}
