package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"voice-qa-go/internal/logger"
	"voice-qa-go/internal/types"
)

const jobPath = "/speech-to-text-translate/job/v1"

var errJobPending = errors.New("job still pending")

// SarvamProvider drives the batch speech job API:
// create job, upload audio, start, poll status, download output.
type SarvamProvider struct {
	BaseURL      string
	APIKey       string
	Model        string
	PollInterval time.Duration
	PollTimeout  time.Duration
	HTTP         *http.Client
	log          *logger.Logger
}

type SarvamOptions struct {
	BaseURL      string
	APIKey       string
	Model        string
	PollInterval time.Duration
	PollTimeout  time.Duration
	HTTPTimeout  time.Duration
}

func NewSarvamProvider(o SarvamOptions) *SarvamProvider {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 10 * time.Minute
	}
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = 60 * time.Second
	}
	return &SarvamProvider{
		BaseURL:      strings.TrimRight(o.BaseURL, "/"),
		APIKey:       o.APIKey,
		Model:        o.Model,
		PollInterval: o.PollInterval,
		PollTimeout:  o.PollTimeout,
		HTTP:         &http.Client{Timeout: o.HTTPTimeout},
		log:          logger.New().WithComponent("transcription-sarvam"),
	}
}

func (p *SarvamProvider) Name() string { return "sarvam" }

// defaults fills zero fields so a provider built as a struct literal works.
func (p *SarvamProvider) defaults() {
	if p.PollInterval <= 0 {
		p.PollInterval = 5 * time.Second
	}
	if p.PollTimeout <= 0 {
		p.PollTimeout = 10 * time.Minute
	}
	if p.HTTP == nil {
		p.HTTP = &http.Client{Timeout: 60 * time.Second}
	}
	if p.log == nil {
		p.log = logger.New().WithComponent("transcription-sarvam")
	}
	p.BaseURL = strings.TrimRight(p.BaseURL, "/")
}

type createJobRequest struct {
	JobParameters jobParameters `json:"job_parameters"`
}

type jobParameters struct {
	Model           string `json:"model,omitempty"`
	WithDiarization bool   `json:"with_diarization"`
	NumSpeakers     int    `json:"num_speakers,omitempty"`
}

type jobResponse struct {
	JobID        string `json:"job_id"`
	JobState     string `json:"job_state"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type filesRequest struct {
	JobID string   `json:"job_id"`
	Files []string `json:"files"`
}

type fileURL struct {
	FileURL string `json:"file_url"`
}

type uploadResponse struct {
	UploadURLs map[string]fileURL `json:"upload_urls"`
}

type downloadResponse struct {
	DownloadURLs map[string]fileURL `json:"download_urls"`
}

func (p *SarvamProvider) Transcribe(ctx context.Context, seg types.AudioSegment, speakers int) (SegmentResult, error) {
	p.defaults()
	log := p.log.WithField("segment", seg.Index)
	name := filepath.Base(seg.Path)

	jobID, err := p.createJob(ctx, speakers)
	if err != nil {
		return SegmentResult{}, err
	}
	log = log.WithField("job_id", jobID)

	if err := p.upload(ctx, jobID, seg.Path); err != nil {
		return SegmentResult{}, err
	}
	if err := p.start(ctx, jobID); err != nil {
		return SegmentResult{}, err
	}
	log.Info("transcription job started")

	if err := p.poll(ctx, jobID); err != nil {
		return SegmentResult{}, err
	}

	raw, err := p.download(ctx, jobID, name+".json")
	if err != nil {
		return SegmentResult{}, err
	}
	utts, err := parseDiarized(raw)
	if err != nil {
		return SegmentResult{JobID: jobID, Raw: raw}, fmt.Errorf("job %s: %w", jobID, err)
	}
	log.WithField("utterances", len(utts)).Info("transcription job completed")
	return SegmentResult{JobID: jobID, Utterances: utts, Raw: raw}, nil
}

func (p *SarvamProvider) createJob(ctx context.Context, speakers int) (string, error) {
	body := createJobRequest{JobParameters: jobParameters{
		Model:           p.Model,
		WithDiarization: true,
		NumSpeakers:     speakers,
	}}
	var resp jobResponse
	if err := p.doJSON(ctx, http.MethodPost, p.BaseURL+jobPath, body, &resp); err != nil {
		return "", fmt.Errorf("create transcription job: %w", err)
	}
	if resp.JobID == "" {
		return "", fmt.Errorf("create transcription job: empty job id: %w", types.ErrUpstream)
	}
	return resp.JobID, nil
}

func (p *SarvamProvider) upload(ctx context.Context, jobID, path string) error {
	name := filepath.Base(path)
	var resp uploadResponse
	if err := p.doJSON(ctx, http.MethodPost, p.BaseURL+jobPath+"/upload-files", filesRequest{JobID: jobID, Files: []string{name}}, &resp); err != nil {
		return fmt.Errorf("request upload url for job %s: %w", jobID, err)
	}
	target, ok := resp.UploadURLs[name]
	if !ok || target.FileURL == "" {
		return fmt.Errorf("no upload url for %s in job %s: %w", name, jobID, types.ErrUpstream)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open segment: %v: %w", err, types.ErrPrecondition)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat segment: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target.FileURL, f)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.ContentLength = st.Size()
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("x-ms-blob-type", "BlockBlob")
	resp2, err := p.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("upload segment for job %s: %v: %w", jobID, err, types.ErrUpstream)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode >= 300 {
		b, _ := io.ReadAll(resp2.Body)
		return fmt.Errorf("upload segment for job %s: status %d: %s: %w", jobID, resp2.StatusCode, string(b), types.ErrUpstream)
	}
	return nil
}

func (p *SarvamProvider) start(ctx context.Context, jobID string) error {
	var resp jobResponse
	if err := p.doJSON(ctx, http.MethodPost, p.BaseURL+jobPath+"/"+jobID+"/start", nil, &resp); err != nil {
		return fmt.Errorf("start job %s: %w", jobID, err)
	}
	return nil
}

// poll checks job status every PollInterval until the job succeeds, fails,
// or PollTimeout elapses. Transport errors end polling immediately.
func (p *SarvamProvider) poll(ctx context.Context, jobID string) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.PollInterval
	bo.MaxInterval = p.PollInterval
	bo.Multiplier = 1
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = p.PollTimeout

	var last string
	op := func() error {
		var s jobResponse
		if err := p.doJSON(ctx, http.MethodGet, p.BaseURL+jobPath+"/"+jobID+"/status", nil, &s); err != nil {
			return backoff.Permanent(err)
		}
		last = normalizeState(s.JobState)
		switch last {
		case StateSucceeded:
			return nil
		case StateFailed:
			msg := s.ErrorMessage
			if msg == "" {
				msg = "no error message"
			}
			return backoff.Permanent(fmt.Errorf("transcription job %s failed: %s: %w", jobID, msg, types.ErrUpstream))
		default:
			return errJobPending
		}
	}
	notify := func(_ error, next time.Duration) {
		p.log.WithField("job_id", jobID).WithField("state", last).WithField("next_poll", next.String()).Debug("job not finished")
	}

	err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errJobPending):
		return fmt.Errorf("transcription job %s not finished after %s (last state %s): %w", jobID, p.PollTimeout, last, types.ErrUpstream)
	default:
		return fmt.Errorf("poll job %s: %w", jobID, err)
	}
}

func (p *SarvamProvider) download(ctx context.Context, jobID, outputName string) ([]byte, error) {
	var resp downloadResponse
	if err := p.doJSON(ctx, http.MethodPost, p.BaseURL+jobPath+"/download-files", filesRequest{JobID: jobID, Files: []string{outputName}}, &resp); err != nil {
		return nil, fmt.Errorf("request download url for job %s: %w", jobID, err)
	}
	target, ok := resp.DownloadURLs[outputName]
	if !ok || target.FileURL == "" {
		return nil, fmt.Errorf("no output %s for job %s: %w", outputName, jobID, types.ErrUpstream)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.FileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	r, err := p.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download output for job %s: %v: %w", jobID, err, types.ErrUpstream)
	}
	defer r.Body.Close()
	b, _ := io.ReadAll(r.Body)
	if r.StatusCode >= 300 {
		return nil, fmt.Errorf("download failed for job %s: status %d: %s: %w", jobID, r.StatusCode, string(b), types.ErrUpstream)
	}
	return b, nil
}

// doJSON performs a single request; non-2xx responses are upstream errors.
func (p *SarvamProvider) doJSON(ctx context.Context, method, url string, body, target any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("api-subscription-key", p.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%v: %w", err, types.ErrUpstream)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(b)), types.ErrUpstream)
	}
	if target == nil || len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, target); err != nil {
		return fmt.Errorf("json decode error: %v body=%s: %w", err, string(b), types.ErrUpstream)
	}
	return nil
}
