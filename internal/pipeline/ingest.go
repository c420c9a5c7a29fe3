package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/trobanga/pacsbatch/internal/dimse"
	"github.com/trobanga/pacsbatch/internal/lib"
	"github.com/trobanga/pacsbatch/internal/metrics"
	"github.com/trobanga/pacsbatch/internal/services"
	"github.com/trobanga/pacsbatch/internal/ui"
)

const partSuffix = ".part"

var (
	sopClassUID    = dimse.NewTag(0x0008, 0x0016)
	sopInstanceUID = dimse.NewTag(0x0008, 0x0018)
)

// IngestOptions configures the storage listener and its placement workers
type IngestOptions struct {
	Listen     dimse.ListenConfig
	StagingDir string
	Layout     Layout
	Workers    int
	Decompress bool
	// Anonymizer de-identifies each payload before placement, nil disables it
	Anonymizer *services.Anonymizer
	// Out receives the drain progress and the throughput report, nil discards them
	Out io.Writer
}

// IngestReport summarizes a stopped ingest pipeline. Bytes is the total size received.
type IngestReport struct {
	Received int64
	Bytes    int64
	Placed   int64
	Failed   int64
	Elapsed  time.Duration
	Summary  string
}

type stagedPayload struct {
	path    string
	dataset *dimse.Dataset
}

// Ingest receives inbound transfers on the provider's network goroutine, stages each one
// and hands it to placement workers. The store handler only writes the staged file.
type Ingest struct {
	provider   dimse.Provider
	codec      dimse.Codec
	listen     dimse.ListenConfig
	stagingDir string
	layout     Layout
	workers    int
	decompress bool
	anonymizer *services.Anonymizer
	out        io.Writer
	metrics    *metrics.Metrics
	logger     *lib.Logger

	queue      *Queue[stagedPayload]
	throughput *ui.ThroughputCalculator
	placed     atomic.Int64
	failed     atomic.Int64
	drain      atomic.Pointer[ui.ProgressBar]

	// mu is held for reading by store handlers and for writing while stopping
	mu       sync.RWMutex
	running  bool
	stopping bool
	server   dimse.Server
	group    *errgroup.Group
}

// NewIngest creates a stopped ingest pipeline. An Ingest can be started once.
func NewIngest(provider dimse.Provider, opts IngestOptions, m *metrics.Metrics, logger *lib.Logger) *Ingest {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	listen := opts.Listen
	if len(listen.TransferSyntaxes) == 0 {
		listen.TransferSyntaxes = dimse.SupportedTransferSyntaxes
	}
	return &Ingest{
		provider:   provider,
		codec:      provider.Codec(),
		listen:     listen,
		stagingDir: opts.StagingDir,
		layout:     opts.Layout,
		workers:    workers,
		decompress: opts.Decompress,
		anonymizer: opts.Anonymizer,
		out:        out,
		metrics:    m,
		logger:     logger,
		queue:      NewQueue[stagedPayload](),
	}
}

// Start creates the staging directory, launches the placement workers and opens the listener.
// Placement keeps running when ctx is cancelled; only Stop ends it.
func (i *Ingest) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.running || i.stopping {
		return errors.New("ingest already started")
	}

	if err := os.MkdirAll(i.stagingDir, 0755); err != nil {
		return lib.ErrIngestIO(i.stagingDir, err)
	}
	i.cleanStalePartials()

	i.throughput = ui.NewThroughputCalculator()
	workCtx := context.WithoutCancel(ctx)
	g, gctx := errgroup.WithContext(workCtx)
	for w := 0; w < i.workers; w++ {
		g.Go(func() error {
			i.work(gctx)
			return nil
		})
	}
	i.group = g

	server, err := i.provider.Listen(ctx, i.listen, dimse.Handlers{
		OnStore:  i.HandleStore,
		OnVerify: i.HandleVerify,
	})
	if err != nil {
		i.queue.Close()
		_ = g.Wait()
		return lib.WrapError(lib.CategorySession, "failed to start storage listener", err,
			fmt.Sprintf("Check that port %d is free", i.listen.Port))
	}
	i.server = server
	i.running = true

	i.logger.Info("Storage listener started", "ae_title", i.listen.AETitle, "port", i.listen.Port, "workers", i.workers)
	return nil
}

// HandleVerify answers inbound verification requests
func (i *Ingest) HandleVerify() uint16 {
	return dimse.StatusSuccess
}

// HandleStore stages one inbound payload and queues it for placement.
// It never panics or blocks on placement; failures are answered with a local failure status.
func (i *Ingest) HandleStore(ev dimse.StoreEvent) uint16 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if !i.running || i.stopping {
		return dimse.StatusRefused
	}

	ds, err := ev.Dataset()
	if err == nil {
		err = requireIdentity(ds)
	}
	if err != nil {
		i.logger.Warn("Rejected inbound payload", "error", lib.ErrIngestDecode(err))
		i.metrics.IngestFile("rejected")
		return dimse.StatusCannotUnderstand
	}

	staged := filepath.Join(i.stagingDir, uuid.New().String()+FileExtension)
	n, err := writeStaged(staged, ev)
	if err != nil {
		i.logger.Warn("Failed to stage inbound payload", "error", lib.ErrIngestIO(staged, err))
		i.metrics.IngestFile("failed")
		if isIOError(err) {
			return dimse.StatusOutOfResourcesIO
		}
		return dimse.StatusOutOfResources
	}

	i.throughput.Record(n)
	i.queue.Push(stagedPayload{path: staged, dataset: ds})
	i.metrics.IngestFile("stored")
	i.metrics.SetQueueDepth(i.queue.Len())
	return dimse.StatusSuccess
}

// Pending returns the number of staged payloads waiting for a placement worker
func (i *Ingest) Pending() int {
	return i.queue.Len()
}

// Stop refuses further transfers, drains the queue, closes the listener and reports
// throughput. The staging directory is removed when nothing is left in it.
func (i *Ingest) Stop() (IngestReport, error) {
	i.mu.Lock()
	if !i.running || i.stopping {
		i.mu.Unlock()
		return IngestReport{}, errors.New("ingest is not running")
	}
	i.stopping = true
	i.mu.Unlock()

	i.queue.Close()
	var bar *ui.ProgressBar
	if pending := int64(i.queue.Len()); pending > 0 {
		bar = ui.NewProgressBarWithWriter(pending, "Storing received files", i.out)
		i.drain.Store(bar)
	}
	_ = i.group.Wait()
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(i.out)
	}
	i.metrics.SetQueueDepth(0)

	var shutdownErr error
	if err := i.server.Shutdown(); err != nil {
		shutdownErr = lib.WrapError(lib.CategorySession, "failed to stop storage listener", err)
	}

	report := IngestReport{
		Received: i.throughput.Items(),
		Bytes:    i.throughput.Bytes(),
		Placed:   i.placed.Load(),
		Failed:   i.failed.Load(),
		Elapsed:  i.throughput.GetElapsedTime(),
		Summary:  i.throughput.Summary(),
	}
	fmt.Fprintf(i.out, "Stopping local storage server: %s\n", report.Summary)
	i.logger.Info("Storage listener stopped", "received", report.Received, "placed", report.Placed, "failed", report.Failed)

	i.removeStagingIfEmpty()

	i.mu.Lock()
	i.running = false
	i.mu.Unlock()
	return report, shutdownErr
}

func (i *Ingest) work(ctx context.Context) {
	for {
		item, ok := i.queue.Pop(ctx)
		if !ok {
			return
		}
		i.metrics.SetQueueDepth(i.queue.Len())

		if err := i.place(ctx, item); err != nil {
			i.failed.Add(1)
			i.metrics.IngestFile("failed")
			i.logger.Warn("Failed to place payload, leaving it staged", "path", item.path, "error", err)
		} else {
			i.placed.Add(1)
			i.metrics.IngestFile("placed")
		}
		_ = i.drain.Load().Add(1)
	}
}

func requireIdentity(ds *dimse.Dataset) error {
	if ds == nil {
		return errors.New("empty dataset")
	}
	for _, tag := range []dimse.Tag{sopClassUID, sopInstanceUID} {
		if v, ok := ds.Value(tag); !ok || v == "" {
			return fmt.Errorf("missing %s", dimse.KeywordForTag(tag))
		}
	}
	return nil
}

// writeStaged writes the payload next to path and renames it into place once complete
func writeStaged(path string, ev dimse.StoreEvent) (int64, error) {
	part := path + partSuffix
	f, err := os.Create(part)
	if err != nil {
		return 0, err
	}

	w := bufio.NewWriter(f)
	n, err := ev.WriteTo(w)
	if err == nil {
		err = w.Flush()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(part, path)
	}
	if err != nil {
		_ = os.Remove(part)
		return 0, err
	}
	return n, nil
}

func isIOError(err error) bool {
	var pathErr *fs.PathError
	var linkErr *os.LinkError
	return errors.As(err, &pathErr) || errors.As(err, &linkErr)
}

// cleanStalePartials removes partial writes left by an interrupted process
func (i *Ingest) cleanStalePartials() {
	parts, _ := filepath.Glob(filepath.Join(i.stagingDir, "*"+partSuffix))
	for _, p := range parts {
		i.logger.Debug("Removing stale partial file from previous run", "file", filepath.Base(p))
		_ = os.Remove(p)
	}
}

func (i *Ingest) removeStagingIfEmpty() {
	entries, err := os.ReadDir(i.stagingDir)
	if err != nil || len(entries) > 0 {
		return
	}
	if err := os.Remove(i.stagingDir); err != nil {
		i.logger.Debug("Failed to remove staging directory", "dir", i.stagingDir, "error", err)
	}
}
