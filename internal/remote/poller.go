package remote

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Actief-IT-Services/aits-print-server/internal/config"
	"github.com/Actief-IT-Services/aits-print-server/internal/printer"
)

// statusAttempts bounds retries of the completion callback. The job
// itself is already resolved locally at that point, so giving up is
// safe; the ERP will re-observe the job on its own schedule.
const statusAttempts = 3

var statusRetryDelay = 2 * time.Second

// Source is the remote-side contract the poller needs. *Client
// implements it; tests substitute fakes.
type Source interface {
	FetchPending(ctx context.Context, serverID int64) ([]RemoteJob, error)
	Claim(ctx context.Context, jobID int64) (bool, error)
	UpdateStatus(ctx context.Context, jobID int64, status, errorMessage string) error
	Heartbeat(ctx context.Context, serverName string, printers []printer.Info) error
	Register(ctx context.Context, serverName string, printers []printer.Info) (int64, error)
	DownloadContent(ctx context.Context, url string) ([]byte, error)
}

// Invoker is the shared printer-invocation path. The queue implements
// it, so remote jobs run under the same per-job timeout as local ones.
type Invoker interface {
	Invoke(ctx context.Context, req printer.Request) error
}

// Poller reconciles with the remote job source: it claims jobs the ERP
// has queued for this server, prints them through the local backend,
// and reports outcomes back. Remote jobs bypass the durable store; the
// remote claim is the sole de-duplication mechanism.
type Poller struct {
	source  Source
	invoker Invoker
	backend printer.Backend
	cfg     config.RemoteConfig
	logger  *slog.Logger

	serverName string
	serverID   int64
	cycle      int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewPoller(source Source, invoker Invoker, backend printer.Backend, cfg config.RemoteConfig, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "print-server"
	}
	return &Poller{
		source:     source,
		invoker:    invoker,
		backend:    backend,
		cfg:        cfg,
		logger:     logger.With("component", "remote"),
		serverName: name,
		serverID:   cfg.ServerID,
	}
}

// Start launches the reconciliation loop. It is a no-op when already
// running.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.run(loopCtx)
	p.logger.Info("remote polling started", "url", p.cfg.URL, "interval", p.cfg.PollInterval.String())
}

// Stop signals the loop and waits for the current cycle to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done
	p.logger.Info("remote polling stopped")
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	p.register(ctx)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runCycle(ctx)
		}
	}
}

// register announces the server once at startup when no server id is
// configured. Failure is non-fatal; unscoped fetches still work.
func (p *Poller) register(ctx context.Context) {
	if p.serverID > 0 {
		return
	}
	id, err := p.source.Register(ctx, p.serverName, p.localPrinters(ctx))
	if err != nil {
		p.logger.Warn("server registration failed", "error", err)
		return
	}
	p.serverID = id
	p.logger.Info("registered with remote", "server_id", id)
}

// runCycle performs one reconciliation pass. Every remote call is
// contained here; a bad cycle logs and waits for the next tick.
func (p *Poller) runCycle(ctx context.Context) {
	p.cycle++
	if p.cycle%p.cfg.HeartbeatCycles == 0 {
		if err := p.source.Heartbeat(ctx, p.serverName, p.localPrinters(ctx)); err != nil {
			p.logger.Warn("heartbeat failed", "error", err)
		}
	}

	jobs, err := p.source.FetchPending(ctx, p.serverID)
	if err != nil {
		p.logger.Warn("failed to fetch remote jobs", "error", err)
		return
	}
	if len(jobs) == 0 {
		return
	}
	p.logger.Info("remote jobs pending", "count", len(jobs))

	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		p.processJob(ctx, job)
	}
}

// processJob handles one remote job: claim, fetch content, print,
// report. The ordering is load-bearing — the claim must land before any
// content fetch, and the print must finish before the status callback.
func (p *Poller) processJob(ctx context.Context, job RemoteJob) {
	claimed, err := p.source.Claim(ctx, job.ID)
	if err != nil {
		p.logger.Warn("claim failed", "remote_job_id", job.ID, "error", err)
		return
	}
	if !claimed {
		// Another server owns it. No print, no callback.
		p.logger.Debug("remote job already claimed elsewhere", "remote_job_id", job.ID)
		return
	}

	if err := p.printRemote(ctx, job); err != nil {
		p.logger.Error("remote job failed", "remote_job_id", job.ID, "error", err)
		p.reportStatus(ctx, job.ID, "failed", err.Error())
		return
	}

	p.logger.Info("remote job completed", "remote_job_id", job.ID)
	p.reportStatus(ctx, job.ID, "completed", "")
}

func (p *Poller) printRemote(ctx context.Context, job RemoteJob) error {
	content, err := p.resolveContent(ctx, job)
	if err != nil {
		return err
	}

	printerName := job.PrinterName
	if printerName == "" {
		printerName = p.firstLocalPrinter(ctx)
		if printerName == "" {
			return fmt.Errorf("no printer available")
		}
	}

	return p.invoker.Invoke(ctx, printer.Request{
		PrinterName:  printerName,
		DocumentName: documentName(job),
		Payload:      content,
		Copies:       1,
		Options:      job.Options,
	})
}

// resolveContent prefers the content URL over inline base64.
func (p *Poller) resolveContent(ctx context.Context, job RemoteJob) ([]byte, error) {
	if job.ContentURL != "" {
		return p.source.DownloadContent(ctx, job.ContentURL)
	}
	if job.Content != "" {
		data, err := base64.StdEncoding.DecodeString(job.Content)
		if err != nil {
			return nil, fmt.Errorf("invalid inline content: %w", err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("no document data")
}

// reportStatus pushes the outcome back with bounded retries. The local
// side of the job is already settled, so exhausting the retries only
// costs the ERP a stale status.
func (p *Poller) reportStatus(ctx context.Context, jobID int64, status, errorMessage string) {
	var lastErr error
	for attempt := 1; attempt <= statusAttempts; attempt++ {
		lastErr = p.source.UpdateStatus(ctx, jobID, status, errorMessage)
		if lastErr == nil {
			return
		}
		if attempt < statusAttempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(statusRetryDelay):
			}
		}
	}
	p.logger.Error("status callback abandoned", "remote_job_id", jobID, "status", status, "error", lastErr)
}

func (p *Poller) localPrinters(ctx context.Context) []printer.Info {
	printers, err := p.backend.ListPrinters(ctx)
	if err != nil {
		p.logger.Warn("failed to list local printers", "error", err)
		return []printer.Info{}
	}
	return printers
}

func (p *Poller) firstLocalPrinter(ctx context.Context) string {
	printers := p.localPrinters(ctx)
	for _, info := range printers {
		if info.IsDefault {
			return info.Name
		}
	}
	if len(printers) > 0 {
		return printers[0].Name
	}
	return ""
}

func documentName(job RemoteJob) string {
	if job.Name != "" {
		return job.Name
	}
	suffix := ".pdf"
	if job.ContentType == "raw" || job.ContentType == "text" {
		suffix = ".txt"
	}
	return fmt.Sprintf("remote-job-%d%s", job.ID, suffix)
}
