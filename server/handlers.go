// Package server - Handler fuer Summaries und Checkpoints
// Beinhaltet: RunsHandler, TagsHandler, ScalarsHandler, CheckpointsHandler
package server

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ollama/estimator/checkpoint"
	"github.com/ollama/estimator/summary"
)

// CheckpointInfo describes one retained checkpoint.
type CheckpointInfo struct {
	Path     string    `json:"path"`
	Step     int64     `json:"step"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// CheckpointsResponse is returned by GET /api/checkpoints.
type CheckpointsResponse struct {
	Latest      string           `json:"latest,omitempty"`
	Checkpoints []CheckpointInfo `json:"checkpoints"`
}

// withReader opens the summary database for one request. A work dir
// without summaries is answered with empty.
func (s *Server) withReader(c *gin.Context, empty any, fn func(*summary.Reader)) {
	r, err := summary.Open(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		c.JSON(http.StatusOK, empty)
		return
	} else if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer r.Close()

	fn(r)
}

// RunsHandler listet alle Summary-Runs
func (s *Server) RunsHandler(c *gin.Context) {
	s.withReader(c, gin.H{"runs": []summary.Run{}}, func(r *summary.Reader) {
		runs, err := r.Runs(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if runs == nil {
			runs = []summary.Run{}
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs})
	})
}

// TagsHandler listet die Tags eines Runs
func (s *Server) TagsHandler(c *gin.Context) {
	s.withReader(c, gin.H{"tags": []string{}}, func(r *summary.Reader) {
		tags, err := r.Tags(c.Request.Context(), c.Param("run"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if tags == nil {
			tags = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"tags": tags})
	})
}

// ScalarsHandler gibt die Werte eines Runs zurueck, optional nach Tag gefiltert
func (s *Server) ScalarsHandler(c *gin.Context) {
	run := c.Query("run")
	if run == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "run is required"})
		return
	}

	s.withReader(c, gin.H{"scalars": []summary.Scalar{}}, func(r *summary.Reader) {
		scalars, err := r.Scalars(c.Request.Context(), run, c.Query("tag"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if scalars == nil {
			scalars = []summary.Scalar{}
		}
		c.JSON(http.StatusOK, gin.H{"scalars": scalars})
	})
}

// CheckpointsHandler listet die aufbewahrten Checkpoints
func (s *Server) CheckpointsHandler(c *gin.Context) {
	resp := CheckpointsResponse{Checkpoints: []CheckpointInfo{}}
	resp.Latest, _ = checkpoint.Latest(s.dir)

	for _, path := range checkpoint.List(s.dir) {
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		step, _ := checkpoint.StepFromPath(path)
		resp.Checkpoints = append(resp.Checkpoints, CheckpointInfo{
			Path:     path,
			Step:     step,
			Size:     fi.Size(),
			Modified: fi.ModTime(),
		})
	}

	c.JSON(http.StatusOK, resp)
}
