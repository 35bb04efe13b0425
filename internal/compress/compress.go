// Package compress bounds the chat history sent to the upstream model.
//
// The most recent messages are kept verbatim, an older band is shortened
// to a marked prefix, and everything older is dropped. The result always
// opens with a user turn.
package compress

import (
	"github.com/ashureev/unfolding/internal/domain"
)

const (
	// Marker prefixes every shortened message.
	Marker = "[earlier in conversation]"

	// SessionStarted is the content of the synthetic opening user turn.
	SessionStarted = "[Session started]"

	ellipsis = "…"
)

// Options controls the window sizes.
type Options struct {
	// Verbatim is the number of trailing messages kept unchanged.
	Verbatim int
	// Compressed is the number of messages before the verbatim tail that
	// are kept as shortened prefixes.
	Compressed int
	// MaxKept caps verbatim plus compressed messages. The compressed band
	// shrinks first.
	MaxKept int
	// PrefixRunes is the length a compressed message is cut to.
	PrefixRunes int
}

// DefaultOptions returns the production window sizes.
func DefaultOptions() Options {
	return Options{
		Verbatim:    10,
		Compressed:  10,
		MaxKept:     30,
		PrefixRunes: 200,
	}
}

// Result is a compressed history. OriginalCount always equals the number
// of verbatim messages plus CompressedCount plus DroppedCount; the
// synthetic opening turn is not counted.
type Result struct {
	Messages        []domain.Message
	OriginalCount   int
	VerbatimCount   int
	CompressedCount int
	DroppedCount    int
	Prepended       bool
}

// Compress applies opts to history, which must be ordered oldest first.
// history is not modified.
func Compress(history []domain.Message, opts Options) Result {
	n := len(history)
	res := Result{Messages: []domain.Message{}, OriginalCount: n}
	if n == 0 {
		return res
	}

	maxKept := max(opts.MaxKept, 0)
	verbatim := min(max(opts.Verbatim, 0), n, maxKept)
	compressed := min(max(opts.Compressed, 0), n-verbatim, maxKept-verbatim)
	dropped := n - verbatim - compressed

	res.VerbatimCount = verbatim
	res.CompressedCount = compressed
	res.DroppedCount = dropped

	kept := make([]domain.Message, 0, verbatim+compressed+1)
	for _, m := range history[dropped : dropped+compressed] {
		kept = append(kept, shorten(m, opts.PrefixRunes))
	}
	kept = append(kept, history[dropped+compressed:]...)

	if len(kept) > 0 && kept[0].Role != domain.RoleUser {
		kept = append([]domain.Message{{
			SessionID: kept[0].SessionID,
			Role:      domain.RoleUser,
			Content:   SessionStarted,
			CreatedAt: kept[0].CreatedAt,
		}}, kept...)
		res.Prepended = true
	}

	res.Messages = kept
	return res
}

// shorten returns a copy of m cut to limit runes, marked, without tool
// calls.
func shorten(m domain.Message, limit int) domain.Message {
	out := m
	out.ToolCalls = nil
	out.TokenCount = nil
	out.Content = Marker + " " + truncateRunes(m.Content, limit)
	return out
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + ellipsis
}
