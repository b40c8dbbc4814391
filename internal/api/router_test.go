package api_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/gin-gonic/gin"

	"github.com/Actief-IT-Services/aits-print-server/internal/api"
	"github.com/Actief-IT-Services/aits-print-server/internal/api/middleware"
	"github.com/Actief-IT-Services/aits-print-server/internal/config"
	"github.com/Actief-IT-Services/aits-print-server/internal/core"
	"github.com/Actief-IT-Services/aits-print-server/internal/printer"
	"github.com/Actief-IT-Services/aits-print-server/internal/store"
)

var _ = Describe("Router", func() {
	var (
		ctx    context.Context
		st     store.Backend
		queue  *core.Queue
		router *gin.Engine
		dir    string
	)

	newRouter := func(apiKeys []string) *gin.Engine {
		auth, err := middleware.NewAuth(config.AuthConfig{APIKeys: apiKeys, TokenTTL: time.Hour})
		Expect(err).NotTo(HaveOccurred())
		return api.NewRouter(queue, printer.NewNullBackend(), auth, nil, nil)
	}

	submitBody := func(printerName, documentName string) []byte {
		body, err := json.Marshal(map[string]interface{}{
			"printer_name":  printerName,
			"document_name": documentName,
			"content":       base64.StdEncoding.EncodeToString([]byte("%PDF-1.4")),
			"copies":        2,
		})
		Expect(err).NotTo(HaveOccurred())
		return body
	}

	do := func(router *gin.Engine, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
		var req *http.Request
		if body != nil {
			req = httptest.NewRequest(method, path, bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
		} else {
			req = httptest.NewRequest(method, path, nil)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		dir, err = os.MkdirTemp("", "api_test_*")
		Expect(err).NotTo(HaveOccurred())

		st, err = store.Open("sqlite", filepath.Join(dir, "jobs.db"))
		Expect(err).NotTo(HaveOccurred())

		queue = core.NewQueue(st, printer.NewNullBackend(), nil, config.QueueConfig{
			PollInterval:  time.Second,
			BatchSize:     10,
			MaxRetries:    3,
			RetentionDays: 7,
			PrintTimeout:  time.Second,
		}, nil)
		router = newRouter(nil)
	})

	AfterEach(func() {
		st.Close()
		os.RemoveAll(dir)
	})

	Describe("POST /api/v1/print", func() {
		It("accepts a job and returns its id", func() {
			rec := do(router, http.MethodPost, "/api/v1/print", submitBody("LaserJet", "invoice.pdf"), nil)
			Expect(rec.Code).To(Equal(http.StatusCreated))

			var resp struct {
				Success bool   `json:"success"`
				JobID   string `json:"job_id"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Success).To(BeTrue())
			Expect(resp.JobID).NotTo(BeEmpty())

			job, err := st.Get(ctx, resp.JobID)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.Status).To(Equal(store.JobStatusPending))
			Expect(job.Copies).To(Equal(2))
		})

		It("rejects content that is not base64", func() {
			body, _ := json.Marshal(map[string]interface{}{
				"printer_name":  "LaserJet",
				"document_name": "doc.pdf",
				"content":       "not base64 at all!!!",
			})
			rec := do(router, http.MethodPost, "/api/v1/print", body, nil)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(ContainSubstring(`"success":false`))
		})

		It("rejects a submission without a document name", func() {
			body, _ := json.Marshal(map[string]interface{}{
				"printer_name": "LaserJet",
				"content":      base64.StdEncoding.EncodeToString([]byte("x")),
			})
			rec := do(router, http.MethodPost, "/api/v1/print", body, nil)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /api/v1/jobs", func() {
		It("lists jobs and honors the status filter", func() {
			rec := do(router, http.MethodPost, "/api/v1/print", submitBody("LaserJet", "a.pdf"), nil)
			Expect(rec.Code).To(Equal(http.StatusCreated))

			rec = do(router, http.MethodGet, "/api/v1/jobs?status=pending", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp struct {
				Jobs  []map[string]interface{} `json:"jobs"`
				Count int                      `json:"count"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Count).To(Equal(1))

			rec = do(router, http.MethodGet, "/api/v1/jobs?status=completed", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Count).To(Equal(0))
		})

		It("rejects an unknown status filter", func() {
			rec := do(router, http.MethodGet, "/api/v1/jobs?status=bogus", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /api/v1/jobs/:id", func() {
		It("returns 404 for a missing job", func() {
			rec := do(router, http.MethodGet, "/api/v1/jobs/no-such-id", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("POST /api/v1/jobs/:id/cancel", func() {
		It("cancels a pending job", func() {
			rec := do(router, http.MethodPost, "/api/v1/print", submitBody("LaserJet", "a.pdf"), nil)
			var created struct {
				JobID string `json:"job_id"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &created)).To(Succeed())

			rec = do(router, http.MethodPost, fmt.Sprintf("/api/v1/jobs/%s/cancel", created.JobID), nil, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			job, err := st.Get(ctx, created.JobID)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.Status).To(Equal(store.JobStatusCancelled))
		})

		It("returns 404 for a missing job and 409 for a non-cancellable one", func() {
			rec := do(router, http.MethodPost, "/api/v1/jobs/missing/cancel", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusNotFound))

			rec = do(router, http.MethodPost, "/api/v1/print", submitBody("LaserJet", "a.pdf"), nil)
			var created struct {
				JobID string `json:"job_id"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &created)).To(Succeed())

			claimed, err := st.MarkProcessing(ctx, created.JobID)
			Expect(err).NotTo(HaveOccurred())
			Expect(claimed).To(BeTrue())

			rec = do(router, http.MethodPost, fmt.Sprintf("/api/v1/jobs/%s/cancel", created.JobID), nil, nil)
			Expect(rec.Code).To(Equal(http.StatusConflict))
		})
	})

	Describe("GET /api/v1/stats", func() {
		It("reports per-status counts and uptime", func() {
			rec := do(router, http.MethodPost, "/api/v1/print", submitBody("LaserJet", "a.pdf"), nil)
			Expect(rec.Code).To(Equal(http.StatusCreated))

			rec = do(router, http.MethodGet, "/api/v1/stats", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp struct {
				Stats struct {
					Pending       int   `json:"pending"`
					Total         int   `json:"total"`
					UptimeSeconds int64 `json:"uptime_seconds"`
				} `json:"stats"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Stats.Pending).To(Equal(1))
			Expect(resp.Stats.Total).To(Equal(1))
		})
	})

	Describe("GET /health", func() {
		It("responds without authentication", func() {
			router = newRouter([]string{"topsecret"})
			rec := do(router, http.MethodGet, "/health", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			router = newRouter([]string{"topsecret"})
		})

		It("rejects requests without credentials", func() {
			rec := do(router, http.MethodGet, "/api/v1/jobs", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(rec.Body.String()).To(ContainSubstring(`"success":false`))
		})

		It("accepts the configured api key", func() {
			rec := do(router, http.MethodGet, "/api/v1/jobs", nil, map[string]string{"X-API-Key": "topsecret"})
			Expect(rec.Code).To(Equal(http.StatusOK))
		})

		It("rejects a wrong key", func() {
			rec := do(router, http.MethodGet, "/api/v1/jobs", nil, map[string]string{"X-API-Key": "wrong"})
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})

		It("exchanges a key for a token and accepts that token", func() {
			rec := do(router, http.MethodPost, "/api/v1/auth/token", nil, map[string]string{"X-API-Key": "topsecret"})
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp struct {
				Success bool   `json:"success"`
				Token   string `json:"token"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Success).To(BeTrue())
			Expect(resp.Token).NotTo(BeEmpty())

			rec = do(router, http.MethodGet, "/api/v1/jobs", nil, map[string]string{"Authorization": "Bearer " + resp.Token})
			Expect(rec.Code).To(Equal(http.StatusOK))
		})

		It("refuses to issue a token for a bad key", func() {
			rec := do(router, http.MethodPost, "/api/v1/auth/token", nil, map[string]string{"X-API-Key": "wrong"})
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("GET /api/v1/printers", func() {
		It("returns the backend inventory", func() {
			rec := do(router, http.MethodGet, "/api/v1/printers", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp struct {
				Success  bool                     `json:"success"`
				Printers []map[string]interface{} `json:"printers"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Success).To(BeTrue())
			Expect(resp.Printers).To(BeEmpty())
		})

		It("returns 404 for an unknown printer", func() {
			rec := do(router, http.MethodGet, "/api/v1/printers/Nope", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})
})
