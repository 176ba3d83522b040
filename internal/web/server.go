// Package web serves the QA dashboard and its JSON API.
package web

import (
	"context"
	"embed"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voice-qa-go/internal/actionable"
	"voice-qa-go/internal/analysis"
	"voice-qa-go/internal/logger"
	"voice-qa-go/internal/metrics"
	"voice-qa-go/internal/processor"
	"voice-qa-go/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

type Runner interface {
	ProcessCall(ctx context.Context, req processor.Request) (processor.Outcome, error)
}

// Assistant answers follow-up questions about saved calls.
type Assistant interface {
	Summarize(ctx context.Context, analysisText string) ([]analysis.SummaryPoint, error)
	AnswerQuestion(ctx context.Context, transcript, question, base, outputDir string) (analysis.Answer, error)
}

type Options struct {
	OutputDir      string
	MaxUploadBytes int64
	Speakers       int
}

type Server struct {
	runner    Runner
	store     store.Store
	assistant Assistant
	hub       *Hub
	opts      Options
	log       *logger.Logger

	// busy admits one pipeline run at a time.
	busy sync.Mutex

	mu   sync.Mutex
	last *processor.Outcome
}

func NewServer(r Runner, s store.Store, a Assistant, hub *Hub, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 200 << 20
	}
	if opts.Speakers <= 0 {
		opts.Speakers = 2
	}
	return &Server{
		runner:    r,
		store:     s,
		assistant: a,
		hub:       hub,
		opts:      opts,
		log:       logger.New().WithComponent("web"),
	}
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"band": actionable.Band,
		"fmtTime": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Local().Format("2006-01-02 15:04:05")
		},
	}
}

// Router builds the gin engine with every route mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.log, metrics.DefaultMetrics))
	r.MaxMultipartMemory = 32 << 20
	r.SetHTMLTemplate(template.Must(template.New("").Funcs(templateFuncs()).ParseFS(templateFS, "templates/*.html")))

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if s.hub != nil {
		r.GET("/ws/progress", func(c *gin.Context) { s.hub.ServeWS(c.Writer, c.Request) })
	}

	r.GET("/", s.dashboard)
	r.POST("/calls", s.processCall)
	r.GET("/calls", s.history)
	r.GET("/history.xlsx", s.exportHistory)

	call := r.Group("/calls/:id")
	{
		call.GET("", s.details)
		call.POST("/delete", s.deleteCall)
		call.POST("/question", s.askQuestion)
		call.GET("/transcript.txt", s.downloadTranscript)
		call.GET("/analysis.txt", s.downloadAnalysis)
		call.GET("/scorecard.csv", s.downloadScorecardCSV)
		call.GET("/scorecard.xlsx", s.downloadScorecardXLSX)
	}

	r.POST("/scorecards", s.uploadScorecard)
	r.GET("/scorecards/template.csv", s.scorecardTemplate)

	api := r.Group("/api")
	{
		api.POST("/calls", s.processCallJSON)
		api.GET("/calls", s.listCallsJSON)
		api.GET("/calls/:id", s.getCallJSON)
		api.GET("/calls/:id/summary", s.summaryJSON)
		api.GET("/scorecards/latest", s.latestScorecardJSON)
	}
	return r
}

func (s *Server) setLast(o processor.Outcome) {
	s.mu.Lock()
	s.last = &o
	s.mu.Unlock()
}

func (s *Server) lastOutcome() *processor.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Server) isBusy() bool {
	if s.busy.TryLock() {
		s.busy.Unlock()
		return false
	}
	return true
}
