package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Actief-IT-Services/aits-print-server/internal/printer"
)

type PrinterHandler struct {
	backend printer.Backend
}

func NewPrinterHandler(backend printer.Backend) *PrinterHandler {
	return &PrinterHandler{backend: backend}
}

// ListPrinters enumerates printers straight from the spooler; nothing
// is cached, so the response reflects the state at call time.
func (h *PrinterHandler) ListPrinters(c *gin.Context) {
	printers, err := h.backend.ListPrinters(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to list printers"})
		return
	}
	if printers == nil {
		printers = []printer.Info{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "printers": printers, "count": len(printers)})
}

func (h *PrinterHandler) GetPrinter(c *gin.Context) {
	name := c.Param("name")

	printers, err := h.backend.ListPrinters(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to list printers"})
		return
	}
	for _, info := range printers {
		if info.Name == name {
			c.JSON(http.StatusOK, gin.H{"success": true, "printer": info})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "printer not found"})
}

// Health is unauthenticated so load balancers and the ERP can probe it.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
