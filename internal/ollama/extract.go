package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// SongExtractor pulls two song names out of a chat message.
type SongExtractor struct {
	client *Client
}

// NewSongExtractor creates an extractor backed by an Ollama client.
func NewSongExtractor(client *Client) *SongExtractor {
	return &SongExtractor{client: client}
}

const extractSystemPrompt = `Extract two song names from the user's message.
Return ONLY a JSON object with this format:
{"song1": "song name 1", "song2": "song name 2"}

Keep artist names next to the title when given. Drop filler words.

Examples:
"mix snowman by sia and 1998 by sleepy hallow" -> {"song1": "snowman sia", "song2": "1998 sleepy hallow"}
"bad guy and french lessons" -> {"song1": "bad guy billie eilish", "song2": "french lessons"}

If the message does not name two songs, return {"song1": "", "song2": ""}.

/no_think`

type songPair struct {
	Song1 string `json:"song1"`
	Song2 string `json:"song2"`
}

// ExtractSongs returns the two song names found in text.
func (e *SongExtractor) ExtractSongs(ctx context.Context, text string) (string, string, error) {
	raw, err := e.client.GenerateJSON(ctx, extractSystemPrompt, text)
	if err != nil {
		return "", "", err
	}

	var pair songPair
	if err := json.Unmarshal([]byte(cleanResponse(raw)), &pair); err != nil {
		return "", "", fmt.Errorf("parse llm output %q: %w", raw, err)
	}

	song1, song2 := strings.TrimSpace(pair.Song1), strings.TrimSpace(pair.Song2)
	if song1 == "" || song2 == "" {
		return "", "", fmt.Errorf("llm found no song pair in %q", text)
	}
	return song1, song2, nil
}

// cleanResponse strips common LLM artifacts around a JSON object.
func cleanResponse(s string) string {
	s = strings.TrimSpace(s)

	// Strip thinking tags (Qwen 3 thinking mode leakage)
	if idx := strings.Index(s, "</think>"); idx >= 0 {
		s = strings.TrimSpace(s[idx+len("</think>"):])
	}

	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		s = s[start : end+1]
	}
	return s
}
