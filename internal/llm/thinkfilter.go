package llm

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// ThinkFilter removes <think>...</think> spans from a stream of text
// fragments. Markers may be split across fragments; a partial marker at the
// end of a fragment is held back until the next one decides it.
type ThinkFilter struct {
	inside  bool
	pending string
}

// Write consumes a fragment and returns the text that is safe to emit.
func (f *ThinkFilter) Write(fragment string) string {
	buf := f.pending + fragment
	f.pending = ""

	var out strings.Builder
	for {
		if f.inside {
			if i := strings.Index(buf, thinkClose); i >= 0 {
				buf = buf[i+len(thinkClose):]
				f.inside = false
				continue
			}
			// Thinking text is dropped; only a possible marker start is kept.
			f.pending = buf[len(buf)-partialSuffix(buf, thinkClose):]
			return out.String()
		}

		if i := strings.Index(buf, thinkOpen); i >= 0 {
			out.WriteString(buf[:i])
			buf = buf[i+len(thinkOpen):]
			f.inside = true
			continue
		}
		keep := partialSuffix(buf, thinkOpen)
		out.WriteString(buf[:len(buf)-keep])
		f.pending = buf[len(buf)-keep:]
		return out.String()
	}
}

// Flush ends the stream. Held-back text outside a span was not a marker after
// all and is returned; an unterminated span is discarded.
func (f *ThinkFilter) Flush() string {
	out := ""
	if !f.inside {
		out = f.pending
	}
	f.pending = ""
	f.inside = false
	return out
}

// Inside reports whether the filter is within a thinking span.
func (f *ThinkFilter) Inside() bool {
	return f.inside
}

// partialSuffix returns the length of the longest suffix of s that is a
// proper prefix of marker.
func partialSuffix(s, marker string) int {
	for n := min(len(s), len(marker)-1); n > 0; n-- {
		if strings.HasSuffix(s, marker[:n]) {
			return n
		}
	}
	return 0
}

// StripThink removes thinking spans from a complete string.
func StripThink(s string) string {
	var f ThinkFilter
	return strings.TrimSpace(f.Write(s) + f.Flush())
}

// FilterStream applies a ThinkFilter to a content channel.
func FilterStream(in <-chan string) <-chan string {
	out := make(chan string, cap(in))
	go func() {
		defer close(out)
		var f ThinkFilter
		for fragment := range in {
			if s := f.Write(fragment); s != "" {
				out <- s
			}
		}
		if s := f.Flush(); s != "" {
			out <- s
		}
	}()
	return out
}

// Collect drains a streaming completion into one string with thinking spans removed.
func Collect(contentCh <-chan string, errCh <-chan error) (string, error) {
	var sb strings.Builder
	for s := range FilterStream(contentCh) {
		sb.WriteString(s)
	}
	if err := <-errCh; err != nil {
		return "", err
	}
	return strings.TrimSpace(sb.String()), nil
}
