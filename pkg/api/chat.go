package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cadwin95/Text2SQLAgent/pkg/agent"
	"github.com/cadwin95/Text2SQLAgent/pkg/events"
)

// ChatMessage is one OpenAI-style conversation message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest is the accepted subset of the OpenAI chat body.
// Sampling parameters are tolerated but ignored; the agent controls its
// own model calls.
type ChatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// ChatCompletionResponse is the non-streaming response in OpenAI shape.
// XAgent carries the aggregate run payload the standard shape cannot hold.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	XAgent  any          `json:"x_agent,omitempty"`
}

// ChatChoice is one completion choice.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// chatCompletions serves POST /v1/chat/completions. The last user message
// is the utterance; stream=true replays the run's event stream as SSE
// frames, stream=false blocks until the run finishes.
func (s *Server) chatCompletions(c *gin.Context) {
	var req ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	utterance := lastUserMessage(req.Messages)
	if utterance == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no user message found"})
		return
	}

	if req.Stream {
		s.streamCompletion(c, utterance)
		return
	}
	s.blockingCompletion(c, utterance)
}

func (s *Server) streamCompletion(c *gin.Context, utterance string) {
	runID, stream, err := s.runner.Start(c.Request.Context(), utterance)
	if err != nil {
		// The stream contract still holds when no run could start: the
		// client sees a terminal error event, then done, then [DONE].
		setSSEHeaders(c.Writer)
		writeSSE(c.Writer, events.Error("server busy"))
		writeSSE(c.Writer, events.Done())
		fmt.Fprint(c.Writer, "data: [DONE]\n\n")
		return
	}

	c.Header("X-Run-Id", runID)
	setSSEHeaders(c.Writer)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		// Drain so the run can finish; without a flusher SSE cannot work.
		for range stream {
		}
		return
	}

	clientGone := c.Request.Context().Done()
	disconnected := false
	for ev := range stream {
		if !disconnected {
			select {
			case <-clientGone:
				// Closing the request context cancels the run; keep
				// draining until the producer closes the stream.
				disconnected = true
				continue
			default:
			}
			writeSSE(c.Writer, ev)
			flusher.Flush()
		}
	}

	if !disconnected {
		fmt.Fprint(c.Writer, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

func (s *Server) blockingCompletion(c *gin.Context, utterance string) {
	runID, stream, err := s.runner.Start(c.Request.Context(), utterance)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("X-Run-Id", runID)

	result, failure := collectRun(stream)
	if result == nil {
		if failure == "" {
			failure = "run produced no result"
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": failure})
		return
	}

	c.JSON(http.StatusOK, ChatCompletionResponse{
		ID:      "chatcmpl-" + runID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   s.model,
		Choices: []ChatChoice{{
			Index:        0,
			Message:      ChatMessage{Role: "assistant", Content: result.Answer},
			FinishReason: "stop",
		}},
		XAgent: result,
	})
}

// listModels serves GET /v1/models with the one configured model.
func (s *Server) listModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data": []gin.H{{
			"id":       s.model,
			"object":   "model",
			"created":  s.started.Unix(),
			"owned_by": "system",
		}},
	})
}

// collectRun drains a run's stream and returns the final result, or the
// terminal error message when the run failed.
func collectRun(stream <-chan events.StreamEvent) (*agent.RunResult, string) {
	var result *agent.RunResult
	var failure string
	for ev := range stream {
		switch ev.Type {
		case events.TypeResult:
			if r, ok := ev.Final.(agent.RunResult); ok {
				result = &r
			}
		case events.TypeError:
			failure = ev.Message
		}
	}
	return result, failure
}

// lastUserMessage returns the most recent non-empty user message.
func lastUserMessage(messages []ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			if content := strings.TrimSpace(messages[i].Content); content != "" {
				return content
			}
		}
	}
	return ""
}

func setSSEHeaders(w http.ResponseWriter) {
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
}

// writeSSE writes one event as a single SSE data frame. StreamEvent JSON
// never contains newlines, so no line splitting is needed.
func writeSSE(w http.ResponseWriter, ev events.StreamEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		payload = []byte(`{"type":"error","message":"event encoding failed"}`)
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}
