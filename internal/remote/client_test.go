package remote

import (
	"context"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Client", func() {
	var (
		ctx      context.Context
		server   *httptest.Server
		client   *Client
		requests []*http.Request
		respond  func(w http.ResponseWriter, r *http.Request)
	)

	BeforeEach(func() {
		ctx = context.Background()
		requests = nil
		respond = func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"success": true}`))
		}
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests = append(requests, r.Clone(r.Context()))
			respond(w, r)
		}))
		client = NewClient(server.URL+"/", "production", "secret-key")
	})

	AfterEach(func() {
		server.Close()
	})

	It("sends the bearer key and database header on every call", func() {
		Expect(client.Ping(ctx)).To(Succeed())

		Expect(requests).To(HaveLen(1))
		Expect(requests[0].URL.Path).To(Equal("/api/v1/print/ping"))
		Expect(requests[0].Header.Get("Authorization")).To(Equal("Bearer secret-key"))
		Expect(requests[0].Header.Get("DATABASE")).To(Equal("production"))
	})

	Describe("FetchPending", func() {
		It("scopes the query to the server id and decodes the jobs", func() {
			respond = func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"jobs": [{"id": 5, "printer_name": "FrontDesk", "content_type": "pdf"}]}`))
			}

			jobs, err := client.FetchPending(ctx, 7)
			Expect(err).NotTo(HaveOccurred())
			Expect(jobs).To(HaveLen(1))
			Expect(jobs[0].ID).To(Equal(int64(5)))
			Expect(jobs[0].PrinterName).To(Equal("FrontDesk"))

			Expect(requests[0].URL.RawQuery).To(Equal("server_id=7"))
		})

		It("omits the scope when unregistered", func() {
			respond = func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"jobs": []}`))
			}

			jobs, err := client.FetchPending(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(jobs).To(BeEmpty())
			Expect(requests[0].URL.RawQuery).To(BeEmpty())
		})

		It("surfaces an auth failure distinctly", func() {
			respond = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			}

			_, err := client.FetchPending(ctx, 7)
			Expect(err).To(MatchError(ContainSubstring("authentication failed")))
		})
	})

	Describe("Claim", func() {
		It("returns the remote verdict without error", func() {
			respond = func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"success": false}`))
			}

			claimed, err := client.Claim(ctx, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(claimed).To(BeFalse())
			Expect(requests[0].URL.Path).To(Equal("/api/v1/print/jobs/claim"))
			Expect(requests[0].Method).To(Equal(http.MethodPost))
		})
	})

	Describe("Register", func() {
		It("returns the assigned server id", func() {
			respond = func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"success": true, "server_id": 42}`))
			}

			id, err := client.Register(ctx, "print-host", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal(int64(42)))
		})

		It("errors when the remote rejects the registration", func() {
			respond = func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"success": false}`))
			}

			_, err := client.Register(ctx, "print-host", nil)
			Expect(err).To(MatchError(ContainSubstring("rejected")))
		})
	})

	Describe("DownloadContent", func() {
		It("authenticates downloads from the remote origin", func() {
			respond = func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("pdf bytes"))
			}

			data, err := client.DownloadContent(ctx, server.URL+"/web/content/99")
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("pdf bytes")))
			Expect(requests[0].Header.Get("Authorization")).To(Equal("Bearer secret-key"))
		})

		It("errors on a non-200 response", func() {
			respond = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			}

			_, err := client.DownloadContent(ctx, server.URL+"/web/content/99")
			Expect(err).To(MatchError(ContainSubstring("404")))
		})
	})
})
