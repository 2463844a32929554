package api

import (
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
)

// handleEnvironmentHead implements HEAD /environments/{id}/: existence
// check only, no body, but carries Content-Length and Content-Type as
// if the archive had been fetched.
func (s *Server) handleEnvironmentHead(c *gin.Context) {
	id := c.Param("id")
	path, ok := s.store.Get(id)
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.Header("Content-Length", strconv.FormatInt(info.Size(), 10))
	c.Header("Content-Type", "application/gzip")
	c.Status(http.StatusOK)
}

// handleEnvironmentGet implements GET /environments/{id}/: streams the
// stored gzip tar archive verbatim.
func (s *Server) handleEnvironmentGet(c *gin.Context) {
	id := c.Param("id")
	path, ok := s.store.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "environment " + id + " not found"})
		return
	}
	c.Header("Content-Type", "application/gzip")
	c.File(path)
}

// handleFileHead implements HEAD /files/{id}/{path...}: existence check
// of a single member inside the stored archive, reporting its size via
// Content-Length.
func (s *Server) handleFileHead(c *gin.Context) {
	id := c.Param("id")
	innerPath := trimLeadingSlash(c.Param("path"))
	data, err := s.store.ExtractFile(id, innerPath)
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.Header("Content-Length", strconv.Itoa(len(data)))
	c.Status(http.StatusOK)
}

// handleFileGet implements GET /files/{id}/{path...}: returns a single
// file extracted from the stored archive.
func (s *Server) handleFileGet(c *gin.Context) {
	id := c.Param("id")
	innerPath := trimLeadingSlash(c.Param("path"))
	data, err := s.store.ExtractFile(id, innerPath)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

func trimLeadingSlash(p string) string {
	for len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	return p
}
