// Package assistant wraps the generative model used for class summaries and
// exam proctoring. Both operations degrade to fixed fallback answers instead of
// returning errors.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	SummaryUnavailable = "Unable to generate summary at this time."
	SummaryEmpty       = "No summary generated."

	ReasonAnalysisFailed = "Analysis failed"
	ReasonAnalysisError  = "Error during analysis"

	summaryTemperature = 0.3
)

// Request is one generation call.
type Request struct {
	SystemInstruction string
	Prompt            string
	Image             []byte
	ImageMIMEType     string
	Temperature       *float32
	// ResponseSchema asks for JSON matching the schema.
	ResponseSchema *genai.Schema
}

// Backend generates text for a request.
type Backend interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Verdict is the proctoring result for one webcam frame.
type Verdict struct {
	Suspicious bool   `json:"suspicious"`
	Reason     string `json:"reason"`
}

// Assistant produces class summaries and proctoring verdicts.
type Assistant struct {
	backend Backend
	logger  *zap.Logger
}

// New creates an assistant over backend.
func New(backend Backend, logger *zap.Logger) *Assistant {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assistant{backend: backend, logger: logger}
}

// Summarize turns a class transcript into a Markdown summary.
func (a *Assistant) Summarize(ctx context.Context, transcript string) string {
	temp := float32(summaryTemperature)
	text, err := a.backend.Generate(ctx, Request{
		SystemInstruction: "Format the output using Markdown.",
		Prompt:            summaryPrompt(transcript),
		Temperature:       &temp,
	})
	if err != nil {
		a.logger.Error("generate class summary", zap.Error(err))
		return SummaryUnavailable
	}
	if strings.TrimSpace(text) == "" {
		return SummaryEmpty
	}
	return text
}

func summaryPrompt(transcript string) string {
	return fmt.Sprintf(`You are an expert educational assistant.
Summarize the following live class transcript into a concise "Class Summary PDF" format.

Structure the output with:
1. Key Topics Covered (Bullet points)
2. Important Dates mentioned
3. Homework/Action Items

Transcript:
%q`, transcript)
}

const proctoringPrompt = `Analyze this webcam frame for an online exam proctoring system. Return JSON. ` +
	`Is the user suspicious (looking away, multiple people, no person)? { "suspicious": boolean, "reason": string }`

var verdictSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"suspicious": {Type: genai.TypeBoolean},
		"reason":     {Type: genai.TypeString},
	},
}

// Analyze inspects a JPEG webcam frame. Failures are never suspicious.
func (a *Assistant) Analyze(ctx context.Context, jpeg []byte) Verdict {
	text, err := a.backend.Generate(ctx, Request{
		Prompt:         proctoringPrompt,
		Image:          jpeg,
		ImageMIMEType:  "image/jpeg",
		ResponseSchema: verdictSchema,
	})
	if err != nil {
		a.logger.Error("proctoring analysis", zap.Error(err))
		return Verdict{Suspicious: false, Reason: ReasonAnalysisError}
	}
	if strings.TrimSpace(text) == "" {
		return Verdict{Suspicious: false, Reason: ReasonAnalysisFailed}
	}
	var v Verdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		a.logger.Warn("proctoring response is not json", zap.Error(err))
		return Verdict{Suspicious: false, Reason: ReasonAnalysisError}
	}
	return v
}
