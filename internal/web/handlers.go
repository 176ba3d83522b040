package web

import (
	"bytes"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"voice-qa-go/internal/aggregator"
	"voice-qa-go/internal/analysis"
	"voice-qa-go/internal/pipeline"
	"voice-qa-go/internal/processor"
	"voice-qa-go/internal/scorecard"
	"voice-qa-go/internal/types"
)

var errBusy = errors.New("a call is already being processed; try again when it finishes")

type page struct {
	Title           string
	Busy            bool
	Speakers        int
	Outcome         *processor.Outcome
	LatestScorecard *types.Scorecard

	Count   int
	Latest  *types.CallSummary
	Calls   []types.CallSummary
	Insight *aggregator.Insight

	Call   *types.CallRecord
	Answer *analysis.Answer
	Error  string
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, types.ErrPrecondition):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrDuplicate), errors.Is(err, errBusy):
		return http.StatusConflict
	case errors.Is(err, types.ErrUpstream), errors.Is(err, types.ErrMalformedOutput):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) indexPage(c *gin.Context) page {
	p := page{Title: "Process call", Busy: s.isBusy(), Speakers: s.opts.Speakers, Outcome: s.lastOutcome()}
	if sc, err := s.store.LatestScorecard(c.Request.Context()); err == nil {
		p.LatestScorecard = &sc
	}
	return p
}

func (s *Server) dashboard(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", s.indexPage(c))
}

func (s *Server) processCall(c *gin.Context) {
	out, err := s.runUpload(c)
	status := statusFor(err)
	if err != nil && out.RunID == "" {
		// rejected before the pipeline ran
		out = processor.Outcome{Status: processor.StatusFailed, Stage: pipeline.StageValidate, Error: err.Error()}
	}
	p := s.indexPage(c)
	p.Outcome = &out
	c.HTML(status, "index.html", p)
}

func (s *Server) processCallJSON(c *gin.Context) {
	out, err := s.runUpload(c)
	if err != nil && out.RunID == "" {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(statusFor(err), out)
}

// runUpload takes the busy lock, stores the upload, resolves the scorecard
// and runs the pipeline. A zero RunID in the outcome means the request was
// rejected before the pipeline started.
func (s *Server) runUpload(c *gin.Context) (processor.Outcome, error) {
	if !s.busy.TryLock() {
		return processor.Outcome{}, errBusy
	}
	defer s.busy.Unlock()

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadBytes)
	fh, err := c.FormFile("audio")
	if err != nil {
		return processor.Outcome{}, fmt.Errorf("audio file is required: %v: %w", err, types.ErrPrecondition)
	}

	criteria, err := s.resolveCriteria(c)
	if err != nil {
		return processor.Outcome{}, err
	}

	speakers := s.opts.Speakers
	if v := c.PostForm("speakers"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return processor.Outcome{}, fmt.Errorf("speakers must be a positive integer: %w", types.ErrPrecondition)
		}
		speakers = n
	}

	name := filepath.Base(fh.Filename)
	path := filepath.Join(s.opts.OutputDir, "uploads", uuid.New().String(), name)
	if err := c.SaveUploadedFile(fh, path); err != nil {
		return processor.Outcome{}, fmt.Errorf("store upload: %w", err)
	}

	out, err := s.runner.ProcessCall(c.Request.Context(), processor.Request{
		Filename:  name,
		AudioPath: path,
		Criteria:  criteria,
		Speakers:  speakers,
	})
	s.setLast(out)
	return out, err
}

// resolveCriteria prefers an uploaded scorecard, then the latest saved one
// when use_latest is set. No scorecard means the call is not graded.
func (s *Server) resolveCriteria(c *gin.Context) ([]string, error) {
	if fh, err := c.FormFile("scorecard"); err == nil {
		sc, err := s.saveScorecard(c, fh)
		if err != nil {
			return nil, err
		}
		return scorecard.Criteria(sc.Items), nil
	}
	if c.PostForm("use_latest") == "1" {
		sc, err := s.store.LatestScorecard(c.Request.Context())
		if err != nil {
			return nil, fmt.Errorf("no saved scorecard: %v: %w", err, types.ErrPrecondition)
		}
		return scorecard.Criteria(sc.Items), nil
	}
	return nil, nil
}

func (s *Server) saveScorecard(c *gin.Context, fh *multipart.FileHeader) (types.Scorecard, error) {
	f, err := fh.Open()
	if err != nil {
		return types.Scorecard{}, fmt.Errorf("open scorecard: %w", err)
	}
	defer f.Close()
	items, err := scorecard.Load(fh.Filename, f)
	if err != nil {
		return types.Scorecard{}, err
	}
	base := strings.TrimSuffix(filepath.Base(fh.Filename), filepath.Ext(fh.Filename))
	version := base + "-" + time.Now().UTC().Format("20060102150405")
	if err := s.store.SaveScorecard(c.Request.Context(), version, items); err != nil {
		return types.Scorecard{}, err
	}
	return types.Scorecard{Version: version, Items: items}, nil
}

func (s *Server) uploadScorecard(c *gin.Context) {
	fh, err := c.FormFile("scorecard")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scorecard file is required"})
		return
	}
	sc, err := s.saveScorecard(c, fh)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, sc)
}

func (s *Server) scorecardTemplate(c *gin.Context) {
	c.Header("Content-Disposition", `attachment; filename="scorecard_template.csv"`)
	c.Data(http.StatusOK, "text/csv", scorecard.TemplateCSV())
}

func (s *Server) latestScorecardJSON(c *gin.Context) {
	sc, err := s.store.LatestScorecard(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sc)
}

func (s *Server) history(c *gin.Context) {
	ctx := c.Request.Context()
	calls, err := s.store.ListCalls(ctx)
	if err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	records := make([]types.CallRecord, 0, len(calls))
	for _, cs := range calls {
		rec, err := s.store.GetCall(ctx, cs.ID)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	ins := aggregator.Aggregate(records)
	p := page{Title: "History", Calls: calls, Count: len(calls), Insight: &ins}
	if len(calls) > 0 {
		p.Latest = &calls[0]
	}
	c.HTML(http.StatusOK, "history.html", p)
}

func (s *Server) exportHistory(c *gin.Context) {
	calls, err := s.store.ListCalls(c.Request.Context())
	if err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	var buf bytes.Buffer
	if err := scorecard.WriteHistoryXLSX(&buf, calls); err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	c.Header("Content-Disposition", `attachment; filename="call_history.xlsx"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// loadCall resolves :id, writing the error response itself on failure.
func (s *Server) loadCall(c *gin.Context) (types.CallRecord, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.String(http.StatusBadRequest, "invalid call id")
		return types.CallRecord{}, false
	}
	rec, err := s.store.GetCall(c.Request.Context(), id)
	if err != nil {
		c.String(statusFor(err), err.Error())
		return types.CallRecord{}, false
	}
	return rec, true
}

func (s *Server) details(c *gin.Context) {
	rec, ok := s.loadCall(c)
	if !ok {
		return
	}
	c.HTML(http.StatusOK, "details.html", page{Title: fmt.Sprintf("Call #%d", rec.ID), Call: &rec})
}

func (s *Server) deleteCall(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.String(http.StatusBadRequest, "invalid call id")
		return
	}
	deleted, err := s.store.DeleteCall(c.Request.Context(), id)
	if err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	if !deleted {
		c.String(http.StatusNotFound, "call not found")
		return
	}
	c.Redirect(http.StatusSeeOther, "/calls")
}

func (s *Server) askQuestion(c *gin.Context) {
	rec, ok := s.loadCall(c)
	if !ok {
		return
	}
	p := page{Title: fmt.Sprintf("Call #%d", rec.ID), Call: &rec}
	q := strings.TrimSpace(c.PostForm("question"))
	if q == "" {
		p.Error = "question is required"
		c.HTML(http.StatusBadRequest, "details.html", p)
		return
	}
	ans, err := s.assistant.AnswerQuestion(c.Request.Context(), rec.Transcript, q,
		fmt.Sprintf("call_%d", rec.ID), filepath.Join(s.opts.OutputDir, "questions"))
	if err != nil {
		p.Error = err.Error()
		c.HTML(statusFor(err), "details.html", p)
		return
	}
	p.Answer = &ans
	c.HTML(http.StatusOK, "details.html", p)
}

func attachment(c *gin.Context, name, contentType string, data []byte) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, contentType, data)
}

func (s *Server) downloadTranscript(c *gin.Context) {
	if rec, ok := s.loadCall(c); ok {
		attachment(c, fmt.Sprintf("transcript_%d.txt", rec.ID), "text/plain; charset=utf-8", []byte(rec.Transcript))
	}
}

func (s *Server) downloadAnalysis(c *gin.Context) {
	if rec, ok := s.loadCall(c); ok {
		attachment(c, fmt.Sprintf("analysis_%d.txt", rec.ID), "text/plain; charset=utf-8", []byte(rec.Analysis))
	}
}

func (s *Server) downloadScorecardCSV(c *gin.Context) {
	rec, ok := s.loadCall(c)
	if !ok {
		return
	}
	if rec.Grades == nil {
		c.String(http.StatusNotFound, "call was not graded")
		return
	}
	var buf bytes.Buffer
	if err := scorecard.WriteCSV(&buf, rec.Grades.Grades); err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	attachment(c, fmt.Sprintf("scorecard_%d.csv", rec.ID), "text/csv", buf.Bytes())
}

func (s *Server) downloadScorecardXLSX(c *gin.Context) {
	rec, ok := s.loadCall(c)
	if !ok {
		return
	}
	if rec.Grades == nil {
		c.String(http.StatusNotFound, "call was not graded")
		return
	}
	var buf bytes.Buffer
	if err := scorecard.WriteXLSX(&buf, *rec.Grades); err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	attachment(c, fmt.Sprintf("scorecard_%d.xlsx", rec.ID),
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func (s *Server) listCallsJSON(c *gin.Context) {
	calls, err := s.store.ListCalls(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if calls == nil {
		calls = []types.CallSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"total": len(calls), "calls": calls})
}

func (s *Server) getCallJSON(c *gin.Context) {
	if rec, ok := s.loadCall(c); ok {
		c.JSON(http.StatusOK, rec)
	}
}

func (s *Server) summaryJSON(c *gin.Context) {
	rec, ok := s.loadCall(c)
	if !ok {
		return
	}
	points, err := s.assistant.Summarize(c.Request.Context(), rec.Analysis)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": rec.ID, "points": points})
}
