package remote

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Actief-IT-Services/aits-print-server/internal/config"
	"github.com/Actief-IT-Services/aits-print-server/internal/printer"
)

// fakeSource scripts the remote side and records the call order, so
// specs can assert the claim-fetch-print-report sequence.
type fakeSource struct {
	mu    sync.Mutex
	calls []string

	jobs       []RemoteJob
	fetchErr   error
	claimOK    bool
	claimErr   error
	content    []byte
	contentErr error

	statusErr     error
	statusUpdates []string

	heartbeatErr error
	heartbeats   int
}

func (f *fakeSource) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeSource) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSource) FetchPending(ctx context.Context, serverID int64) ([]RemoteJob, error) {
	f.record("fetch")
	return f.jobs, f.fetchErr
}

func (f *fakeSource) Claim(ctx context.Context, jobID int64) (bool, error) {
	f.record(fmt.Sprintf("claim:%d", jobID))
	return f.claimOK, f.claimErr
}

func (f *fakeSource) UpdateStatus(ctx context.Context, jobID int64, status, errorMessage string) error {
	f.record(fmt.Sprintf("status:%d:%s", jobID, status))
	f.mu.Lock()
	f.statusUpdates = append(f.statusUpdates, fmt.Sprintf("%d:%s:%s", jobID, status, errorMessage))
	f.mu.Unlock()
	return f.statusErr
}

func (f *fakeSource) Heartbeat(ctx context.Context, serverName string, printers []printer.Info) error {
	f.record("heartbeat")
	f.mu.Lock()
	f.heartbeats++
	f.mu.Unlock()
	return f.heartbeatErr
}

func (f *fakeSource) Register(ctx context.Context, serverName string, printers []printer.Info) (int64, error) {
	f.record("register")
	return 42, nil
}

func (f *fakeSource) DownloadContent(ctx context.Context, url string) ([]byte, error) {
	f.record("download:" + url)
	return f.content, f.contentErr
}

type fakeInvoker struct {
	mu       sync.Mutex
	requests []printer.Request
	err      error
}

func (f *fakeInvoker) Invoke(ctx context.Context, req printer.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.requests = append(f.requests, req)
	return nil
}

func (f *fakeInvoker) invoked() []printer.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]printer.Request(nil), f.requests...)
}

type listBackend struct {
	printers []printer.Info
}

func (b *listBackend) ListPrinters(ctx context.Context) ([]printer.Info, error) {
	return b.printers, nil
}

func (b *listBackend) Print(ctx context.Context, req printer.Request) error {
	return nil
}

var _ = Describe("Poller", func() {
	var (
		ctx     context.Context
		source  *fakeSource
		invoker *fakeInvoker
		backend *listBackend
		poller  *Poller
	)

	inlineJob := func(id int64, printerName string) RemoteJob {
		return RemoteJob{
			ID:          id,
			PrinterName: printerName,
			Content:     base64.StdEncoding.EncodeToString([]byte("document bytes")),
			ContentType: "pdf",
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		statusRetryDelay = time.Millisecond

		source = &fakeSource{claimOK: true}
		invoker = &fakeInvoker{}
		backend = &listBackend{printers: []printer.Info{
			{Name: "FrontDesk", State: "idle", AcceptingJobs: true},
			{Name: "Warehouse", State: "idle", AcceptingJobs: true},
		}}

		poller = NewPoller(source, invoker, backend, config.RemoteConfig{
			Enabled:         true,
			URL:             "https://erp.example.com",
			PollInterval:    10 * time.Millisecond,
			HeartbeatCycles: 3,
			ServerID:        7,
		}, nil)
	})

	Describe("claiming", func() {
		It("prints and reports a claimed job", func() {
			source.jobs = []RemoteJob{inlineJob(11, "FrontDesk")}

			poller.runCycle(ctx)

			Expect(invoker.invoked()).To(HaveLen(1))
			Expect(invoker.invoked()[0].PrinterName).To(Equal("FrontDesk"))
			Expect(invoker.invoked()[0].Payload).To(Equal([]byte("document bytes")))
			Expect(source.statusUpdates).To(Equal([]string{"11:completed:"}))
		})

		It("neither prints nor reports when the claim is refused", func() {
			source.jobs = []RemoteJob{inlineJob(12, "FrontDesk")}
			source.claimOK = false

			poller.runCycle(ctx)

			Expect(invoker.invoked()).To(BeEmpty())
			Expect(source.statusUpdates).To(BeEmpty())
		})

		It("skips the job when the claim call errors", func() {
			source.jobs = []RemoteJob{inlineJob(13, "FrontDesk")}
			source.claimErr = errors.New("connection reset")

			poller.runCycle(ctx)

			Expect(invoker.invoked()).To(BeEmpty())
			Expect(source.statusUpdates).To(BeEmpty())
		})

		It("claims before fetching content", func() {
			source.jobs = []RemoteJob{{ID: 14, PrinterName: "FrontDesk", ContentURL: "https://erp.example.com/doc/14"}}
			source.content = []byte("downloaded")

			poller.runCycle(ctx)

			calls := source.recorded()
			Expect(calls).To(ContainElement("claim:14"))
			claimIdx, downloadIdx := -1, -1
			for i, call := range calls {
				switch call {
				case "claim:14":
					claimIdx = i
				case "download:https://erp.example.com/doc/14":
					downloadIdx = i
				}
			}
			Expect(claimIdx).To(BeNumerically(">=", 0))
			Expect(downloadIdx).To(BeNumerically(">", claimIdx))
		})
	})

	Describe("content resolution", func() {
		It("downloads when a content URL is present", func() {
			source.jobs = []RemoteJob{{ID: 20, PrinterName: "FrontDesk", ContentURL: "https://erp.example.com/doc/20"}}
			source.content = []byte("remote document")

			poller.runCycle(ctx)

			Expect(invoker.invoked()).To(HaveLen(1))
			Expect(invoker.invoked()[0].Payload).To(Equal([]byte("remote document")))
		})

		It("fails a job carrying no content at all", func() {
			source.jobs = []RemoteJob{{ID: 21, PrinterName: "FrontDesk"}}

			poller.runCycle(ctx)

			Expect(invoker.invoked()).To(BeEmpty())
			Expect(source.statusUpdates).To(HaveLen(1))
			Expect(source.statusUpdates[0]).To(ContainSubstring("21:failed:no document data"))
		})

		It("fails a job with undecodable inline content", func() {
			source.jobs = []RemoteJob{{ID: 22, PrinterName: "FrontDesk", Content: "not-base64!!"}}

			poller.runCycle(ctx)

			Expect(invoker.invoked()).To(BeEmpty())
			Expect(source.statusUpdates).To(HaveLen(1))
			Expect(source.statusUpdates[0]).To(ContainSubstring("22:failed:"))
		})
	})

	Describe("printer selection", func() {
		It("uses the first local printer when the job names none", func() {
			source.jobs = []RemoteJob{inlineJob(30, "")}

			poller.runCycle(ctx)

			Expect(invoker.invoked()).To(HaveLen(1))
			Expect(invoker.invoked()[0].PrinterName).To(Equal("FrontDesk"))
		})

		It("prefers the spooler default over enumeration order", func() {
			backend.printers = []printer.Info{
				{Name: "FrontDesk", State: "idle"},
				{Name: "Warehouse", State: "idle", IsDefault: true},
			}
			source.jobs = []RemoteJob{inlineJob(31, "")}

			poller.runCycle(ctx)

			Expect(invoker.invoked()).To(HaveLen(1))
			Expect(invoker.invoked()[0].PrinterName).To(Equal("Warehouse"))
		})

		It("fails the job when no local printer exists", func() {
			backend.printers = nil
			source.jobs = []RemoteJob{inlineJob(32, "")}

			poller.runCycle(ctx)

			Expect(invoker.invoked()).To(BeEmpty())
			Expect(source.statusUpdates).To(HaveLen(1))
			Expect(source.statusUpdates[0]).To(ContainSubstring("32:failed:no printer available"))
		})
	})

	Describe("reporting", func() {
		It("reports a print failure with the error text", func() {
			source.jobs = []RemoteJob{inlineJob(40, "FrontDesk")}
			invoker.err = errors.New("spooler rejected document")

			poller.runCycle(ctx)

			Expect(source.statusUpdates).To(HaveLen(1))
			Expect(source.statusUpdates[0]).To(ContainSubstring("40:failed:spooler rejected document"))
		})

		It("bounds callback retries", func() {
			source.jobs = []RemoteJob{inlineJob(41, "FrontDesk")}
			source.statusErr = errors.New("gateway timeout")

			poller.runCycle(ctx)

			// The job printed; only the callback kept failing.
			Expect(invoker.invoked()).To(HaveLen(1))
			Expect(source.statusUpdates).To(HaveLen(statusAttempts))
		})
	})

	Describe("cycles", func() {
		It("emits a heartbeat every Nth cycle", func() {
			for i := 0; i < 6; i++ {
				poller.runCycle(ctx)
			}
			Expect(source.heartbeats).To(Equal(2))
		})

		It("keeps polling after a heartbeat failure", func() {
			source.heartbeatErr = errors.New("unreachable")
			source.jobs = []RemoteJob{inlineJob(50, "FrontDesk")}

			for i := 0; i < 3; i++ {
				poller.runCycle(ctx)
			}

			Expect(invoker.invoked()).NotTo(BeEmpty())
		})

		It("treats a fetch failure as an empty cycle", func() {
			source.fetchErr = errors.New("connection refused")

			poller.runCycle(ctx)

			Expect(invoker.invoked()).To(BeEmpty())
			Expect(source.statusUpdates).To(BeEmpty())
		})
	})
})
