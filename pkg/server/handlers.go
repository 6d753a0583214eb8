package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	root "github.com/soundprediction/go-behaviorgraph"
	"github.com/soundprediction/go-behaviorgraph/pkg/checkpoint"
	"github.com/soundprediction/go-behaviorgraph/pkg/graph"
)

// trainBody mirrors the CLI train request.
type trainBody struct {
	GraphData      *graph.Payload `json:"graphData" binding:"required"`
	Epochs         *int           `json:"epochs"`
	LearningRate   *float64       `json:"learningRate"`
	HiddenChannels *int           `json:"hiddenChannels"`
	NumLayers      *int           `json:"numLayers"`
	Seed           int64          `json:"seed"`
}

// inferBody mirrors the CLI infer request.
type inferBody struct {
	GraphData     *graph.Payload `json:"graphData" binding:"required"`
	MinConfidence *float64       `json:"minConfidence"`
	TopK          *int           `json:"topK"`
	DuckDBPath    string         `json:"duckdbPath"`
}

// embedBody mirrors the CLI embed request.
type embedBody struct {
	GraphData  *graph.Payload `json:"graphData" binding:"required"`
	DuckDBPath string         `json:"duckdbPath"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "behaviorgraph",
	})
}

func (s *Server) handleReady(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ready",
		"service": "behaviorgraph",
	})
}

func (s *Server) handleTrain(c *gin.Context) {
	var body trainBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts := root.TrainOptions{
		Epochs:         s.cfg.Training.Epochs,
		LearningRate:   s.cfg.Training.LearningRate,
		HiddenChannels: s.cfg.Training.HiddenChannels,
		NumLayers:      s.cfg.Training.NumLayers,
		Seed:           body.Seed,
	}
	if body.Epochs != nil {
		opts.Epochs = *body.Epochs
	}
	if body.LearningRate != nil {
		opts.LearningRate = *body.LearningRate
	}
	if body.HiddenChannels != nil {
		opts.HiddenChannels = *body.HiddenChannels
	}
	if body.NumLayers != nil {
		opts.NumLayers = *body.NumLayers
	}

	s.mu.Lock()
	result, err := s.detector.Train(c.Request.Context(), body.GraphData, opts)
	s.mu.Unlock()
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleInfer(c *gin.Context) {
	var body inferBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts := root.InferOptions{
		MinConfidence: 0.75,
		TopK:          10,
		DuckDBPath:    body.DuckDBPath,
	}
	if body.MinConfidence != nil {
		opts.MinConfidence = *body.MinConfidence
	}
	if body.TopK != nil {
		opts.TopK = *body.TopK
	}

	s.mu.Lock()
	result, err := s.detector.DetectPatterns(c.Request.Context(), body.GraphData, opts)
	s.mu.Unlock()
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleEmbed(c *gin.Context) {
	var body embedBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	result, err := s.detector.ExportEmbeddings(c.Request.Context(), body.GraphData, root.EmbedOptions{
		DuckDBPath: body.DuckDBPath,
	})
	s.mu.Unlock()
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// statusFor maps the error taxonomy onto HTTP codes: payload problems are
// the caller's fault, everything else is internal.
func statusFor(err error) int {
	var schemaErr *graph.SchemaError
	var constructionErr *graph.ConstructionError
	var mismatchErr *checkpoint.MismatchError
	switch {
	case errors.As(err, &schemaErr), errors.As(err, &constructionErr):
		return http.StatusBadRequest
	case errors.As(err, &mismatchErr):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
